package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hl7bridge/hl7bridge/internal/platform/fhir"
)

// BundleSink receives the FHIR transaction bundles produced by the pipeline.
// The bridge does not persist resources itself; a sink hands the bundle to
// whatever system does.
type BundleSink interface {
	Publish(ctx context.Context, bundle *fhir.Bundle) error
}

// LogSink writes each bundle to the log as a single JSON document. It is the
// default sink in development.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Publish(_ context.Context, bundle *fhir.Bundle) error {
	body, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("bridge: marshal bundle: %w", err)
	}
	s.Logger.Info().
		Str("bundle_id", bundle.ID).
		Int("entries", len(bundle.Entry)).
		RawJSON("bundle", body).
		Msg("bundle published")
	return nil
}

// FuncSink adapts a function to the BundleSink interface.
type FuncSink func(ctx context.Context, bundle *fhir.Bundle) error

func (f FuncSink) Publish(ctx context.Context, bundle *fhir.Bundle) error {
	return f(ctx, bundle)
}
