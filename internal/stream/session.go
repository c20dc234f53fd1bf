package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/logger"
	"broker-streaming/internal/types"
)

const userAgent = "streaming-client/1.0"

// State is the lifecycle position of a Session
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribing
	Listening
	Reconnecting
	Terminated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Listening:
		return "listening"
	case Reconnecting:
		return "reconnecting"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Session
type Option func(*Session)

// WithDialer replaces the websocket dialer
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithSleeper replaces the backoff sleep
func WithSleeper(sleep Sleeper) Option {
	return func(s *Session) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithStateObserver is called on every state transition
func WithStateObserver(fn func(from, to State)) Option {
	return func(s *Session) {
		s.observe = fn
	}
}

// Session owns at most one live transport to a provider feed. Connect and
// disconnect are serialized by mu; running admits one Stream call at a time.
type Session struct {
	provider string
	sub      interfaces.Subscriber
	creds    *types.CredentialSet
	dialer   Dialer
	sleep    Sleeper
	observe  func(from, to State)

	running sync.Mutex

	mu     sync.Mutex
	handle Transport
	state  State
}

var _ interfaces.Streamer = (*Session)(nil)

// New builds a session; creds is read on every attempt so a token written
// back by a login is picked up.
func New(provider string, sub interfaces.Subscriber, creds *types.CredentialSet, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		sub:      sub,
		creds:    creds,
		dialer:   NewWebsocketDialer(),
		sleep:    sleepContext,
		state:    Disconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	if from == to {
		return
	}
	if s.observe != nil {
		s.observe(from, to)
	}
}

// Stream connects, subscribes and delivers messages until the peer closes
// cleanly, ctx is done, or the reconnect policy gives up. A second call
// while one is in flight fails with a configuration error.
func (s *Session) Stream(ctx context.Context, cfg types.StreamConfig) error {
	if !s.running.TryLock() {
		return &types.ConfigError{Provider: s.provider, Reason: "stream already running"}
	}
	defer s.running.Unlock()

	frames, err := s.handshake(cfg)
	if err != nil {
		s.setState(Terminated)
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.disconnect()
	})
	defer stop()

	retries := 0
	for {
		err := s.attempt(ctx, frames, cfg)
		if ctxErr := ctx.Err(); ctxErr != nil {
			_ = s.disconnect()
			s.setState(Terminated)
			return ctxErr
		}
		if err == nil {
			s.setState(Disconnected)
			logger.Info(ctx, "Stream closed by provider", "provider", s.provider)
			if cfg.OnDisconnect != nil {
				cfg.OnDisconnect()
			}
			return nil
		}

		s.setState(Reconnecting)
		if cfg.OnError != nil {
			cfg.OnError(err)
		}
		if !cfg.Reconnect || retries >= cfg.MaxRetries {
			s.setState(Terminated)
			return &types.StreamingError{Provider: s.provider, Attempts: retries + 1, Err: err}
		}

		delay := Backoff(cfg.RetryBackoff, retries)
		logger.Warn(ctx, "Stream failed, reconnecting",
			"provider", s.provider,
			"retry", retries+1,
			"max_retries", cfg.MaxRetries,
			"delay", delay.String(),
			"error", err,
		)
		if err := s.sleep(ctx, delay); err != nil {
			_ = s.disconnect()
			s.setState(Terminated)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		retries++
	}
}

// maxBackoffShift caps the exponent so the delay never wraps around
const maxBackoffShift = 30

// Backoff is base * 2^retry, saturating at the largest Duration
func Backoff(base time.Duration, retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry > maxBackoffShift {
		retry = maxBackoffShift
	}
	if base > time.Duration(math.MaxInt64>>uint(retry)) {
		return time.Duration(math.MaxInt64)
	}
	return base << uint(retry)
}

// handshake derives and encodes the subscribe frames without any I/O
func (s *Session) handshake(cfg types.StreamConfig) ([][]byte, error) {
	frames, err := s.sub.Subscribe(*s.creds, cfg)
	if err != nil {
		return nil, err
	}
	encoded := make([][]byte, 0, len(frames))
	for _, frame := range frames {
		b, err := json.Marshal(frame)
		if err != nil {
			return nil, &types.ConfigError{Provider: s.provider, Reason: fmt.Sprintf("unencodable subscribe frame: %v", err)}
		}
		encoded = append(encoded, b)
	}
	return encoded, nil
}

// attempt runs one connect-subscribe-listen cycle. It returns nil on a clean
// close and always leaves the session without a handle.
func (s *Session) attempt(ctx context.Context, frames [][]byte, cfg types.StreamConfig) error {
	defer s.disconnect()

	s.setState(Connecting)
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}

	s.setState(Subscribing)
	for _, frame := range frames {
		if err := conn.Send(ctx, frame); err != nil {
			return &types.TransportError{Provider: s.provider, Step: "subscribe", Err: err}
		}
	}

	s.setState(Listening)
	logger.Info(ctx, "Streaming market data", "provider", s.provider, "instruments", len(cfg.Instruments))
	for {
		data, err := conn.Receive(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &types.TransportError{Provider: s.provider, Step: "receive", Err: err}
		}
		if cfg.OnMessage != nil {
			cfg.OnMessage(Decode(data))
		}
	}
}

// connect dials unless a live handle already exists
func (s *Session) connect(ctx context.Context) (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return s.handle, nil
	}

	header := http.Header{}
	header.Set("User-Agent", userAgent)
	if token := s.creds.AccessToken; token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, err := s.dialer.Dial(ctx, s.sub.Endpoint(), header)
	if err != nil {
		return nil, &types.TransportError{Provider: s.provider, Step: "connect", Err: err}
	}
	s.handle = conn
	logger.Debug(ctx, "Connected to feed", "provider", s.provider, "endpoint", s.sub.Endpoint())
	return conn, nil
}

// disconnect closes the live handle; without one it does nothing
func (s *Session) disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return nil
	}
	conn := s.handle
	s.handle = nil
	return conn.Close()
}

// Close releases the live transport, if any
func (s *Session) Close() error {
	return s.disconnect()
}

// Decode turns one frame into a Message. Non-JSON payloads are kept under
// "raw" and JSON values that are not objects under "data".
func Decode(data []byte) types.Message {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return types.Message{"raw": string(data)}
	}
	if obj, ok := v.(map[string]any); ok {
		return types.Message(obj)
	}
	return types.Message{"data": v}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
