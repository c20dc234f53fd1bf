package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"broker-streaming/internal/types"
)

var errClosed = errors.New("transport closed")

// fakeTransport replays frames then returns end; a nil end blocks until Close
type fakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	end     error
	sent    [][]byte
	sendErr error
	closes  int
	closed  chan struct{}
}

func newFakeTransport(end error, frames ...string) *fakeTransport {
	t := &fakeTransport{end: end, closed: make(chan struct{})}
	for _, f := range frames {
		t.frames = append(t.frames, []byte(f))
	}
	return t
}

func (t *fakeTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	if len(t.frames) > 0 {
		f := t.frames[0]
		t.frames = t.frames[1:]
		t.mu.Unlock()
		return f, nil
	}
	end := t.end
	t.mu.Unlock()

	if end != nil {
		return nil, end
	}
	<-t.closed
	return nil, errClosed
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	if t.closes == 1 {
		close(t.closed)
	}
	return nil
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

func (t *fakeTransport) sentFrames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.sent))
	for _, s := range t.sent {
		out = append(out, string(s))
	}
	return out
}

// dialResult is one scripted outcome of Dial
type dialResult struct {
	transport *fakeTransport
	err       error
}

type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
	urls    []string
	headers []http.Header
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	d.headers = append(d.headers, header.Clone())
	if len(d.results) == 0 {
		return nil, errors.New("no scripted dial result")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.transport, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recordingSleeper records requested delays without sleeping
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// stubSubscriber returns fixed frames
type stubSubscriber struct {
	frames []any
	err    error
}

func (s stubSubscriber) Endpoint() string { return "wss://feed.test/ws" }

func (s stubSubscriber) Subscribe(_ types.CredentialSet, _ types.StreamConfig) ([]any, error) {
	return s.frames, s.err
}
