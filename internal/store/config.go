package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"broker-streaming/internal/provider"
	"broker-streaming/internal/types"
)

// Config is a streaming profile: which broker, how to log in and what to
// subscribe to.
type Config struct {
	Provider    string              `yaml:"provider"`
	Exchange    string              `yaml:"exchange"`
	Credentials types.CredentialSet `yaml:"credentials"`
	Instruments []types.Instrument  `yaml:"instruments"`
	Stream      struct {
		Reconnect    *bool         `yaml:"reconnect"`
		MaxRetries   *int          `yaml:"max_retries"`
		RetryBackoff time.Duration `yaml:"retry_backoff"`
		Mode         string        `yaml:"mode"`
	} `yaml:"stream"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

// envOverrides maps environment variables onto credential fields
var envOverrides = []struct {
	key   string
	field func(*types.CredentialSet) *string
}{
	{"BROKER_API_KEY", func(c *types.CredentialSet) *string { return &c.APIKey }},
	{"BROKER_API_SECRET", func(c *types.CredentialSet) *string { return &c.APISecret }},
	{"BROKER_CLIENT_ID", func(c *types.CredentialSet) *string { return &c.ClientID }},
	{"BROKER_REDIRECT_URI", func(c *types.CredentialSet) *string { return &c.RedirectURI }},
	{"BROKER_USERNAME", func(c *types.CredentialSet) *string { return &c.Username }},
	{"BROKER_PASSWORD", func(c *types.CredentialSet) *string { return &c.Password }},
	{"BROKER_TOTP_SECRET", func(c *types.CredentialSet) *string { return &c.TOTPSecret }},
}

func (c *Config) Validate() error {
	if c.Provider != "" && !provider.Supported(c.Provider) {
		return fmt.Errorf("invalid provider '%s': must be one of %s", c.Provider, strings.Join(provider.Names(), ", "))
	}
	if c.Stream.MaxRetries != nil && *c.Stream.MaxRetries < 0 {
		return fmt.Errorf("stream.max_retries must be >= 0, got %d", *c.Stream.MaxRetries)
	}
	if c.Stream.RetryBackoff < 0 {
		return fmt.Errorf("stream.retry_backoff must be >= 0, got %s", c.Stream.RetryBackoff)
	}
	for i, inst := range c.Instruments {
		if inst.Symbol == "" && inst.Token == "" {
			return fmt.Errorf("instruments[%d] needs a symbol or a token", i)
		}
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		return errors.New("nats.subject_prefix cannot be empty when nats.url is set")
	}
	return nil
}

// Default returns a profile with only defaults and environment overrides
func Default() *Config {
	var c Config
	c.applyDefaults()
	c.ApplyEnv()
	return &c
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	c.applyDefaults()
	c.ApplyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

func (c *Config) applyDefaults() {
	c.Provider = provider.Normalize(c.Provider)
	if c.Stream.Reconnect == nil {
		on := true
		c.Stream.Reconnect = &on
	}
	if c.Stream.MaxRetries == nil {
		n := types.DefaultMaxRetries
		c.Stream.MaxRetries = &n
	}
	if c.Stream.RetryBackoff == 0 {
		c.Stream.RetryBackoff = types.DefaultRetryBackoff
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "marketdata"
	}
}

// ApplyEnv overwrites credential fields with non-empty BROKER_* variables
func (c *Config) ApplyEnv() {
	for _, o := range envOverrides {
		if v := os.Getenv(o.key); v != "" {
			*o.field(&c.Credentials) = v
		}
	}
}

// StreamConfig builds the session config for this profile
func (c *Config) StreamConfig(instruments []types.Instrument, onMessage func(types.Message)) types.StreamConfig {
	cfg := types.DefaultStreamConfig(instruments, onMessage)
	if c.Stream.Reconnect != nil {
		cfg.Reconnect = *c.Stream.Reconnect
	}
	if c.Stream.MaxRetries != nil {
		cfg.MaxRetries = *c.Stream.MaxRetries
	}
	cfg.RetryBackoff = c.Stream.RetryBackoff
	cfg.Mode = c.Stream.Mode
	return cfg
}

// BuildInstruments turns command line symbols into instruments. With
// useToken each symbol is also the raw token; otherwise exchange, when
// set, applies to every symbol.
func BuildInstruments(symbols []string, exchange string, useToken bool) []types.Instrument {
	instruments := make([]types.Instrument, 0, len(symbols))
	for _, symbol := range symbols {
		inst := types.Instrument{Symbol: symbol}
		if useToken {
			inst.Token = symbol
		} else if exchange != "" {
			inst.Exchange = exchange
		}
		instruments = append(instruments, inst)
	}
	return instruments
}
