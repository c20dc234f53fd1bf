package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfig    = errors.New("configuration error")
	ErrProtocol  = errors.New("protocol error")
	ErrTransport = errors.New("transport error")
	ErrStreaming = errors.New("streaming stopped")
)

// ConfigError is raised before any network call when required input is
// missing or unusable.
type ConfigError struct {
	Provider string
	Missing  []string
	Reason   string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Provider != "" {
		b.WriteString(" (" + e.Provider + ")")
	}
	if len(e.Missing) > 0 {
		b.WriteString(": missing " + strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	return b.String()
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// ProtocolError means a provider response lacked an expected field
type ProtocolError struct {
	Provider string
	Step     string
	Field    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s %s: response missing %s", e.Provider, e.Step, e.Field)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// TransportError covers non-success HTTP statuses and connection failures
type TransportError struct {
	Provider   string
	Step       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Provider, e.Step, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: HTTP %d", e.Provider, e.Step, e.StatusCode)
	default:
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Step, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// StreamingError is terminal: the reconnect policy is exhausted or disabled
type StreamingError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *StreamingError) Error() string {
	return fmt.Sprintf("%s: streaming stopped after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *StreamingError) Unwrap() error { return e.Err }

func (e *StreamingError) Is(target error) bool { return target == ErrStreaming }

// Field names a required input for MissingFields
type Field struct {
	Name  string
	Value string
}

// MissingFields returns the names whose values are blank, in input order.
func MissingFields(fields ...Field) []string {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}
