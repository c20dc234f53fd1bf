package types

import "time"

const (
	DefaultMaxRetries   = 5
	DefaultRetryBackoff = 2 * time.Second
)

// CredentialSet carries everything a provider login or stream needs.
// AccessToken and RefreshToken are filled in by a successful login.
type CredentialSet struct {
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	ClientID    string `yaml:"client_id"`
	RedirectURI string `yaml:"redirect_uri"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TOTPSecret  string `yaml:"totp_secret"`

	AccessToken  string `yaml:"-"`
	RefreshToken string `yaml:"-"`
}

// TokenBundle is the result of one successful login ceremony
type TokenBundle struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresIn    *int           `json:"expires_in,omitempty"`
	Meta         map[string]any `json:"meta"`
}

// Instrument is one subscription target. Token, when set, takes
// precedence over Symbol and Exchange.
type Instrument struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Exchange string `json:"exchange,omitempty" yaml:"exchange"`
	Token    string `json:"token,omitempty" yaml:"token"`
}

// Message is one decoded inbound frame
type Message map[string]any

// StreamConfig drives exactly one Stream call
type StreamConfig struct {
	Instruments  []Instrument
	OnMessage    func(Message)
	OnError      func(error)
	OnDisconnect func()

	Reconnect    bool
	MaxRetries   int
	RetryBackoff time.Duration

	// Mode selects the feed depth; empty uses the provider default.
	Mode string
}

func DefaultStreamConfig(instruments []Instrument, onMessage func(Message)) StreamConfig {
	return StreamConfig{
		Instruments:  instruments,
		OnMessage:    onMessage,
		Reconnect:    true,
		MaxRetries:   DefaultMaxRetries,
		RetryBackoff: DefaultRetryBackoff,
	}
}
