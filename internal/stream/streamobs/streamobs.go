package streamobs

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/logger"
	"broker-streaming/internal/trace"
	"broker-streaming/internal/types"
)

// observableStreamer wraps a Streamer with observability (logging & tracing)
type observableStreamer struct {
	provider string
	streamer interfaces.Streamer
}

// Compile-time interface check
var _ interfaces.Streamer = (*observableStreamer)(nil)

// Wrap wraps a streamer with observability middleware
func Wrap(provider string, streamer interfaces.Streamer) interfaces.Streamer {
	return &observableStreamer{
		provider: provider,
		streamer: streamer,
	}
}

// Stream runs the session with a span and start/stop logs. Message and
// error sinks are counted on the way through.
func (ob *observableStreamer) Stream(ctx context.Context, cfg types.StreamConfig) error {
	ctx, span := trace.StartSpan(ctx, "stream.Stream",
		attribute.String("provider", ob.provider),
		attribute.Int("instruments", len(cfg.Instruments)),
	)
	defer span.End()

	var messages, failures int64
	if onMessage := cfg.OnMessage; onMessage != nil {
		cfg.OnMessage = func(m types.Message) {
			messages++
			onMessage(m)
		}
	}
	onError := cfg.OnError
	cfg.OnError = func(err error) {
		failures++
		logger.WarnSkip(ctx, 1, "Stream attempt failed", "provider", ob.provider, "attempt", failures, "error", err)
		if onError != nil {
			onError(err)
		}
	}

	logger.InfoSkip(ctx, 1, "Starting stream",
		"provider", ob.provider,
		"instruments", len(cfg.Instruments),
		"reconnect", cfg.Reconnect,
		"max_retries", cfg.MaxRetries,
	)
	start := time.Now()

	err := ob.streamer.Stream(ctx, cfg)
	span.SetAttributes(attribute.Int64("messages", messages), attribute.Int64("failures", failures))

	switch {
	case err == nil:
		logger.InfoSkip(ctx, 1, "Stream ended", "provider", ob.provider, "messages", messages, "duration", time.Since(start).String())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.InfoSkip(ctx, 1, "Stream cancelled", "provider", ob.provider, "messages", messages, "duration", time.Since(start).String())
	default:
		trace.Fail(span, err)
		logger.ErrorWithErrSkip(ctx, 1, "Stream stopped", err, "provider", ob.provider, "messages", messages, "failures", failures)
	}
	return err
}
