package hl7

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Acknowledgment outcome codes carried in MSA-1.
const (
	AckAccept = "AA" // application accept
	AckError  = "AE" // application error
	AckReject = "AR" // application reject
)

// unknownControlID is echoed in MSA-2 when the triggering message could not
// be parsed far enough to recover its control identifier.
const unknownControlID = "UNKNOWN"

// GenerateACK builds an acknowledgment for the given incoming message. The
// ACK carries a freshly generated control identifier of its own and echoes
// the original control identifier in MSA-2. text, when non-empty, is placed
// in MSA-3 as a human-readable reason.
func GenerateACK(incoming *Message, code string, text string) *Message {
	ref := ackRef{
		controlID:    unknownControlID,
		version:      "2.5",
		sendingApp:   "HL7BRIDGE",
		receivingApp: "",
	}
	if incoming != nil {
		ref.controlID = incoming.ControlID
		if ref.controlID == "" {
			ref.controlID = unknownControlID
		}
		if incoming.Version != "" {
			ref.version = incoming.Version
		}
		// Swap sender and receiver.
		ref.sendingApp = incoming.ReceivingApp
		ref.sendingFac = incoming.ReceivingFac
		ref.receivingApp = incoming.SendingApp
		ref.receivingFac = incoming.SendingFac
		if parts := strings.SplitN(incoming.Type, "^", 2); len(parts) == 2 {
			ref.trigger = parts[1]
		}
	}
	return buildAck(ref, code, text)
}

// GenerateNAK builds a negative acknowledgment (application error) for the
// given incoming message.
func GenerateNAK(incoming *Message, text string) *Message {
	return GenerateACK(incoming, AckError, text)
}

// GenerateParseNAK builds a negative acknowledgment for a frame that failed
// to parse; the echoed control identifier is "UNKNOWN".
func GenerateParseNAK(text string) *Message {
	return GenerateACK(nil, AckError, text)
}

type ackRef struct {
	controlID    string
	version      string
	trigger      string
	sendingApp   string
	sendingFac   string
	receivingApp string
	receivingFac string
}

func buildAck(ref ackRef, code, text string) *Message {
	d := DefaultDelimiters()
	now := time.Now().UTC()
	timestamp := now.Format("20060102150405")
	controlID := "ACK-" + uuid.NewString()

	msgType := "ACK"
	if ref.trigger != "" {
		msgType = "ACK^" + ref.trigger
	}

	msh := Segment{Name: headerSegmentName, d: d}
	msh.Fields = []Field{
		rawField(string(d.Field)),
		rawField(d.EncodingCharacters()),
		rawField(Escape(ref.sendingApp, d)),   // MSH-3
		rawField(Escape(ref.sendingFac, d)),   // MSH-4
		rawField(Escape(ref.receivingApp, d)), // MSH-5
		rawField(Escape(ref.receivingFac, d)), // MSH-6
		rawField(timestamp),                   // MSH-7
		rawField(""),                          // MSH-8
		rawField(msgType),                     // MSH-9
		rawField(controlID),                   // MSH-10
		rawField("P"),                         // MSH-11
		rawField(ref.version),                 // MSH-12
	}

	msa := Segment{Name: "MSA", d: d}
	msa.Fields = []Field{
		rawField(code),                     // MSA-1
		rawField(Escape(ref.controlID, d)), // MSA-2
	}
	if text != "" {
		msa.Fields = append(msa.Fields, rawField(Escape(text, d))) // MSA-3
	}

	ack := &Message{
		Type:         msgType,
		ControlID:    controlID,
		Version:      ref.version,
		Timestamp:    now,
		SendingApp:   ref.sendingApp,
		SendingFac:   ref.sendingFac,
		ReceivingApp: ref.receivingApp,
		ReceivingFac: ref.receivingFac,
		Delimiters:   d,
		Segments:     []Segment{msh, msa},
	}
	return ack
}

func rawField(v string) Field {
	return Field{Repetitions: []string{v}}
}
