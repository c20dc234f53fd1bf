package interfaces

import (
	"context"

	"broker-streaming/internal/types"
)

// Streamer runs a market-data session until ctx ends or it fails terminally
type Streamer interface {
	Stream(ctx context.Context, cfg types.StreamConfig) error
}

// Subscriber knows a provider's feed endpoint and handshake frames.
// Subscribe must not perform I/O.
type Subscriber interface {
	Endpoint() string
	Subscribe(creds types.CredentialSet, cfg types.StreamConfig) ([]any, error)
}

// MessageSink receives decoded frames
type MessageSink interface {
	Publish(ctx context.Context, msg types.Message) error
	Close() error
}
