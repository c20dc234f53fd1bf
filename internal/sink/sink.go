// Package sink delivers decoded feed messages somewhere outside the process.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/logger"
	"broker-streaming/internal/types"
)

// Printer writes one JSON document per line
type Printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var _ interfaces.MessageSink = (*Printer)(nil)

func NewPrinter(w io.Writer) *Printer {
	return &Printer{enc: json.NewEncoder(w)}
}

func (p *Printer) Publish(_ context.Context, msg types.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (p *Printer) Close() error { return nil }

// natsConn is the slice of *nats.Conn the publisher uses
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher fans messages out to a core NATS subject, fire-and-forget
type NATSPublisher struct {
	nc      natsConn
	subject string
}

var _ interfaces.MessageSink = (*NATSPublisher)(nil)

// Subject is the subject a provider's ticks are published on
func Subject(prefix, provider string) string {
	return prefix + "." + provider
}

// ConnectNATS dials url and publishes on Subject(prefix, provider)
func ConnectNATS(ctx context.Context, url, prefix, provider string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("broker-streaming-"+provider),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(ctx, "NATS disconnected, attempting reconnect", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	logger.Info(ctx, "Connected to NATS", "url", nc.ConnectedUrl(), "subject", Subject(prefix, provider))
	return newNATSPublisher(nc, Subject(prefix, provider)), nil
}

func newNATSPublisher(nc natsConn, subject string) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject}
}

func (p *NATSPublisher) Publish(_ context.Context, msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish to %s failed: %w", p.subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// Fanout publishes every message to all sinks and reports the first error
type Fanout []interfaces.MessageSink

var _ interfaces.MessageSink = Fanout(nil)

func (f Fanout) Publish(ctx context.Context, msg types.Message) error {
	var first error
	for _, s := range f {
		if err := s.Publish(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f Fanout) Close() error {
	var first error
	for _, s := range f {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
