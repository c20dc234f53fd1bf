package authobs

import (
	"context"
	"time"

	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/logger"
	"broker-streaming/internal/trace"
	"broker-streaming/internal/types"

	"go.opentelemetry.io/otel/attribute"
)

// observableGenerator wraps a TokenGenerator with observability (logging & tracing)
type observableGenerator struct {
	provider  string
	generator interfaces.TokenGenerator
}

// Compile-time interface check
var _ interfaces.TokenGenerator = (*observableGenerator)(nil)

// Wrap wraps a token generator with observability middleware
func Wrap(provider string, generator interfaces.TokenGenerator) interfaces.TokenGenerator {
	return &observableGenerator{
		provider:  provider,
		generator: generator,
	}
}

// GenerateToken runs the login ceremony with observability
func (og *observableGenerator) GenerateToken(ctx context.Context) (*types.TokenBundle, error) {
	ctx, span := trace.StartSpan(ctx, "auth.GenerateToken", attribute.String("provider", og.provider))
	defer span.End()

	logger.InfoSkip(ctx, 1, "Generating access token", "provider", og.provider)
	start := time.Now()

	bundle, err := og.generator.GenerateToken(ctx)
	if err != nil {
		trace.Fail(span, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to generate access token", err,
			"provider", og.provider,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Access token generated",
		"provider", og.provider,
		"access_token", logger.Mask(bundle.AccessToken),
		"has_refresh_token", bundle.RefreshToken != "",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return bundle, nil
}
