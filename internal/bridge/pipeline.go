// Package bridge glues the transport, codec and transformer together: every
// well-formed HL7 message received over MLLP is converted to a FHIR
// transaction bundle and handed to a sink, and optionally forwarded
// downstream unchanged.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hl7bridge/hl7bridge/internal/hl7"
	"github.com/hl7bridge/hl7bridge/internal/mllp"
	"github.com/hl7bridge/hl7bridge/internal/platform/fhir"
	"github.com/hl7bridge/hl7bridge/internal/transform"
)

const publishTimeout = 30 * time.Second

// Pipeline implements mllp.Handler. Message events are processed inline, so
// per-connection ordering holds end to end.
type Pipeline struct {
	log       zerolog.Logger
	sink      BundleSink
	forwarder *mllp.Connector
}

// NewPipeline wires a pipeline. forwarder may be nil when no downstream
// target is configured.
func NewPipeline(log zerolog.Logger, sink BundleSink, forwarder *mllp.Connector) *Pipeline {
	return &Pipeline{log: log, sink: sink, forwarder: forwarder}
}

// Convert maps one parsed HL7 message to a FHIR transaction bundle.
// Unsupported message types return an error.
func Convert(msg *hl7.Message) (*fhir.Bundle, error) {
	switch {
	case strings.HasPrefix(msg.Type, "ADT"):
		adm, err := hl7.ParseAdmission(msg)
		if err != nil {
			return nil, err
		}
		return transform.Admission(adm)
	case strings.HasPrefix(msg.Type, "ORM"):
		om, err := hl7.ParseOrder(msg)
		if err != nil {
			return nil, err
		}
		return transform.Orders(om)
	case strings.HasPrefix(msg.Type, "ORU"):
		rm, err := hl7.ParseResult(msg)
		if err != nil {
			return nil, err
		}
		return transform.Results(rm)
	default:
		return nil, fmt.Errorf("bridge: unsupported message type %q", msg.Type)
	}
}

// OnMessage converts the message, publishes the bundle and acknowledges.
// A failed conversion or publish is answered with an application error so
// the sender can park the message; the connection stays up either way.
func (p *Pipeline) OnMessage(msg *hl7.Message, respond mllp.Responder) {
	log := p.log.With().
		Str("type", msg.Type).
		Str("control_id", msg.ControlID).
		Logger()

	bundle, err := Convert(msg)
	if err != nil {
		log.Error().Err(err).Msg("message rejected")
		if rerr := respond(hl7.GenerateNAK(msg, err.Error())); rerr != nil {
			log.Error().Err(rerr).Msg("write nak")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.sink.Publish(ctx, bundle); err != nil {
		log.Error().Err(err).Msg("publish failed")
		if rerr := respond(hl7.GenerateNAK(msg, "publish failed")); rerr != nil {
			log.Error().Err(rerr).Msg("write nak")
		}
		return
	}

	if err := respond(hl7.GenerateACK(msg, hl7.AckAccept, "")); err != nil {
		log.Error().Err(err).Msg("write ack")
	}
	log.Info().Int("entries", len(bundle.Entry)).Msg("message bridged")

	if p.forwarder != nil {
		p.forward(ctx, msg, log)
	}
}

// forward relays the original message downstream. Forwarding is best-effort
// relative to the inbound ACK: the sender has already been answered.
func (p *Pipeline) forward(ctx context.Context, msg *hl7.Message, log zerolog.Logger) {
	if _, err := p.forwarder.Send(ctx, mllp.MessagePayload(msg)); err != nil {
		log.Error().Err(err).Str("code", string(mllp.CodeOf(err))).Msg("forward failed")
		return
	}
	log.Debug().Msg("message forwarded")
}

func (p *Pipeline) OnError(remote string, err error) {
	p.log.Warn().Str("remote", remote).Err(err).Msg("transport error")
}

func (p *Pipeline) OnConnect(remote string) {
	p.log.Info().Str("remote", remote).Msg("peer connected")
}

func (p *Pipeline) OnClose(remote string) {
	p.log.Info().Str("remote", remote).Msg("peer disconnected")
}
