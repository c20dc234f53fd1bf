package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"broker-streaming/internal/api"
	"broker-streaming/internal/logger"
	"broker-streaming/internal/totp"
	"broker-streaming/internal/types"
)

// Option configures a login ceremony
type Option func(*options)

type options struct {
	transport http.RoundTripper
	now       func() time.Time
	timeout   time.Duration
}

// WithTransport routes every request of the ceremony through rt
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithClock sets the time source used for TOTP codes
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTimeout overrides the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		now:     time.Now,
		timeout: api.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// session opens the scoped HTTP client for one ceremony; callers must Close it
func (o options) session(headers map[string]string) *api.Client {
	return api.NewClient(
		api.WithTimeout(o.timeout),
		api.WithTransport(o.transport),
		api.WithHeaders(headers),
		api.WithLogging(true),
	)
}

// ceremony carries the provider name through each step so failures are
// reported uniformly.
type ceremony struct {
	provider string
	client   *api.Client
	opts     options
}

// do runs one step inside its own span, timed by an OperationTimer
func (c *ceremony) do(ctx context.Context, step string, req *api.Request) (*api.Response, error) {
	op := logger.StartOperation(ctx, "auth."+step, "provider", c.provider, "step", step)
	resp, err := c.client.Do(req.WithContext(op.GetContext()))
	if err != nil {
		err = c.transportError(step, err)
		op.EndWithError(err)
		return nil, err
	}
	op.End("status", resp.StatusCode)
	return resp, nil
}

func (c *ceremony) transportError(step string, err error) error {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		return &types.TransportError{Provider: c.provider, Step: step, StatusCode: statusErr.StatusCode, Err: err}
	}
	return &types.TransportError{Provider: c.provider, Step: step, Err: err}
}

func (c *ceremony) missing(step, field string) error {
	return &types.ProtocolError{Provider: c.provider, Step: step, Field: field}
}

// otp returns the current TOTP code. A missing secret is reported as a
// protocol error against step.
func (c *ceremony) otp(step, secret string) (string, error) {
	code, err := totp.Generate(secret, c.opts.now())
	if errors.Is(err, totp.ErrNoSecret) {
		return "", c.missing(step, "totp_secret")
	}
	if err != nil {
		return "", &types.ConfigError{Provider: c.provider, Reason: fmt.Sprintf("invalid totp_secret: %v", err)}
	}
	return code, nil
}

// requireFields reports every blank field at once
func requireFields(provider string, fields ...types.Field) error {
	if missing := types.MissingFields(fields...); len(missing) > 0 {
		return &types.ConfigError{Provider: provider, Missing: missing}
	}
	return nil
}

func baseFields(creds *types.CredentialSet) []types.Field {
	return []types.Field{
		{Name: "api_key", Value: creds.APIKey},
		{Name: "api_secret", Value: creds.APISecret},
	}
}

// stringField returns a non-empty string or number stored under key
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

// objectField returns the nested object under key, or an empty map
func objectField(m map[string]any, key string) map[string]any {
	if nested, ok := m[key].(map[string]any); ok {
		return nested
	}
	return map[string]any{}
}

func intField(m map[string]any, key string) *int {
	switch v := m[key].(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return &n
		}
	}
	return nil
}
