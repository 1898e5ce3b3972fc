package mllp

import (
	"github.com/hl7bridge/hl7bridge/internal/hl7"
)

// Payload is the outbound message variant: either an already-parsed Message
// or raw wire text. It is resolved into wire bytes and a control identifier
// exactly once, at the send boundary.
type Payload struct {
	msg *hl7.Message
	raw string
}

// MessagePayload wraps a parsed message for sending.
func MessagePayload(m *hl7.Message) Payload {
	return Payload{msg: m}
}

// RawPayload wraps raw HL7v2 text for sending.
func RawPayload(text string) Payload {
	return Payload{raw: text}
}

// resolve returns the wire text and the control identifier the response
// acknowledgment must echo.
func (p Payload) resolve() ([]byte, string, error) {
	if p.msg != nil {
		return hl7.Serialize(p.msg), p.msg.ControlID, nil
	}
	m, err := hl7.Parse([]byte(p.raw))
	if err != nil {
		return nil, "", wrapError(CodeConfiguration, "raw payload is not valid HL7", err)
	}
	return []byte(p.raw), m.ControlID, nil
}
