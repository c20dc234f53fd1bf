package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// defaultHandshakeTimeout bounds the websocket upgrade only; reads have no deadline
	defaultHandshakeTimeout = 10 * time.Second

	// defaultReadLimit caps a single inbound frame
	defaultReadLimit = 4 << 20

	closeGracePeriod = time.Second
)

// Dialer opens a transport to a feed endpoint
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Transport, error)
}

// Transport is one live feed connection. Receive returns io.EOF when the
// peer closes cleanly.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// WebsocketDialer is the production Dialer backed by gorilla/websocket
type WebsocketDialer struct {
	dialer websocket.Dialer
}

var _ Dialer = (*WebsocketDialer)(nil)

func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Transport, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed: HTTP %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	conn.SetReadLimit(defaultReadLimit)
	return &websocketTransport{conn: conn}, nil
}

// websocketTransport serializes data writes; gorilla allows one concurrent
// writer, while Close and WriteControl may run alongside anything.
type websocketTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
	err     error
}

func (t *websocketTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

func (t *websocketTransport) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return data, nil
}

func (t *websocketTransport) Close() error {
	t.once.Do(func() {
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)

		if err := t.conn.Close(); err != nil && !errors.Is(err, io.EOF) {
			t.err = err
		}
	})
	return t.err
}
