// Package provider maps broker names to their login ceremony and feed
// subscriber.
package provider

import (
	"fmt"
	"sort"
	"strings"

	"broker-streaming/internal/auth"
	"broker-streaming/internal/auth/authobs"
	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/stream"
	"broker-streaming/internal/stream/streamobs"
	"broker-streaming/internal/types"
)

const (
	Dhan    = "dhan"
	Upstox  = "upstox"
	Zerodha = "zerodha"
)

type authConstructor func(*types.CredentialSet, ...auth.Option) interfaces.TokenGenerator

type entry struct {
	newAuth    authConstructor
	subscriber interfaces.Subscriber
}

var registry = map[string]entry{
	Dhan: {
		newAuth: func(c *types.CredentialSet, opts ...auth.Option) interfaces.TokenGenerator {
			return auth.NewDhan(c, opts...)
		},
		subscriber: stream.DhanSubscriber{},
	},
	Upstox: {
		newAuth: func(c *types.CredentialSet, opts ...auth.Option) interfaces.TokenGenerator {
			return auth.NewUpstox(c, opts...)
		},
		subscriber: stream.UpstoxSubscriber{},
	},
	Zerodha: {
		newAuth: func(c *types.CredentialSet, opts ...auth.Option) interfaces.TokenGenerator {
			return auth.NewZerodha(c, opts...)
		},
		subscriber: stream.ZerodhaSubscriber{},
	},
}

// Normalize lowercases and trims a provider name
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func lookup(name string) (string, entry, error) {
	key := Normalize(name)
	e, ok := registry[key]
	if !ok {
		return "", entry{}, &types.ConfigError{Reason: fmt.Sprintf("unsupported provider %q", name)}
	}
	return key, e, nil
}

// Supported reports whether name resolves to a known provider
func Supported(name string) bool {
	_, ok := registry[Normalize(name)]
	return ok
}

// Names lists the supported providers in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewAuthenticator returns the observed login ceremony for name
func NewAuthenticator(name string, creds *types.CredentialSet, opts ...auth.Option) (interfaces.TokenGenerator, error) {
	key, e, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return authobs.Wrap(key, e.newAuth(creds, opts...)), nil
}

// NewStreamer returns the observed streaming session for name
func NewStreamer(name string, creds *types.CredentialSet, opts ...stream.Option) (interfaces.Streamer, error) {
	key, e, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return streamobs.Wrap(key, stream.New(key, e.subscriber, creds, opts...)), nil
}
