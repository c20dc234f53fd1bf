package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"broker-streaming/internal/api"
	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/logger"
	"broker-streaming/internal/types"
)

const (
	ZerodhaLoginURL   = "https://kite.zerodha.com/api/login"
	ZerodhaTwoFAURL   = "https://kite.zerodha.com/api/twofa"
	ZerodhaSessionURL = "https://api.kite.trade/session/token"

	kiteVersion = "3"
)

// Zerodha drives the Kite web login and exchanges the request token for a
// Kite Connect session.
type Zerodha struct {
	creds *types.CredentialSet
	opts  options
}

var _ interfaces.TokenGenerator = (*Zerodha)(nil)

func NewZerodha(creds *types.CredentialSet, opts ...Option) *Zerodha {
	return &Zerodha{creds: creds, opts: newOptions(opts)}
}

// kiteEnvelope is the {"status": ..., "data": ...} wrapper Kite uses
type kiteEnvelope struct {
	Status string                  `json:"status"`
	Data   kiteconnect.UserSession `json:"data"`
}

func (z *Zerodha) GenerateToken(ctx context.Context) (*types.TokenBundle, error) {
	creds := z.creds
	fields := append(baseFields(creds),
		types.Field{Name: "username", Value: creds.Username},
		types.Field{Name: "password", Value: creds.Password},
	)
	if err := requireFields("zerodha", fields...); err != nil {
		return nil, err
	}

	client := z.opts.session(api.BrowserHeaders())
	defer client.Close()
	c := &ceremony{provider: "zerodha", client: client, opts: z.opts}

	resp, err := c.do(ctx, "login", api.NewRequest(http.MethodPost, ZerodhaLoginURL).WithForm(url.Values{
		"user_id":  {creds.Username},
		"password": {creds.Password},
	}))
	if err != nil {
		return nil, err
	}
	requestID := stringField(objectField(resp.JSONMap(), "data"), "request_id")
	if requestID == "" {
		return nil, c.missing("login", "request_id")
	}

	code, err := c.otp("twofa", creds.TOTPSecret)
	if err != nil {
		return nil, err
	}

	resp, err = c.do(ctx, "twofa", api.NewRequest(http.MethodPost, ZerodhaTwoFAURL).WithForm(url.Values{
		"user_id":     {creds.Username},
		"request_id":  {requestID},
		"twofa_type":  {"app"},
		"twofa_value": {code},
	}))
	if err != nil {
		return nil, err
	}
	requestToken := stringField(objectField(resp.JSONMap(), "data"), "request_token")
	if requestToken == "" {
		return nil, c.missing("twofa", "request_token")
	}

	resp, err = c.do(ctx, "session", api.NewRequest(http.MethodPost, ZerodhaSessionURL).
		WithHeader("X-Kite-Version", kiteVersion).
		WithForm(url.Values{
			"api_key":       {creds.APIKey},
			"request_token": {requestToken},
			"checksum":      {Checksum(creds.APIKey, requestToken, creds.APISecret)},
		}))
	if err != nil {
		return nil, err
	}

	payload := resp.JSONMap()
	data := objectField(payload, "data")

	// the typed decode rejects fields such as an unparseable login_time;
	// the raw object still carries the token then
	var envelope kiteEnvelope
	accessToken := ""
	if err := resp.ParseJSON(&envelope); err == nil {
		accessToken = envelope.Data.AccessToken
	} else {
		logger.Debug(ctx, "Kite session did not decode", "provider", c.provider, "error", err)
	}
	if accessToken == "" {
		accessToken = stringField(data, "access_token")
	}
	if accessToken == "" {
		return nil, c.missing("session", "data.access_token")
	}

	bundle := &types.TokenBundle{
		AccessToken: accessToken,
		ExpiresIn:   intField(data, "expires_in"),
		Meta:        payload,
	}
	creds.AccessToken = bundle.AccessToken
	return bundle, nil
}

// Checksum is the Kite Connect session checksum: hex SHA-256 of
// api_key + request_token + api_secret.
func Checksum(apiKey, requestToken, apiSecret string) string {
	sum := sha256.Sum256([]byte(apiKey + requestToken + apiSecret))
	return hex.EncodeToString(sum[:])
}
