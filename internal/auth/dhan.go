package auth

import (
	"context"
	"net/http"

	"broker-streaming/internal/api"
	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/types"
)

const (
	DhanLoginURL = "https://api.dhan.co/login"
	DhanOTPURL   = "https://api.dhan.co/verify"
	DhanTokenURL = "https://api.dhan.co/token"
)

// Dhan drives the DhanHQ login: credentials, TOTP verification, then
// the authorization code exchange.
type Dhan struct {
	creds *types.CredentialSet
	opts  options
}

var _ interfaces.TokenGenerator = (*Dhan)(nil)

func NewDhan(creds *types.CredentialSet, opts ...Option) *Dhan {
	return &Dhan{creds: creds, opts: newOptions(opts)}
}

func (d *Dhan) GenerateToken(ctx context.Context) (*types.TokenBundle, error) {
	creds := d.creds
	fields := append(baseFields(creds),
		types.Field{Name: "client_id", Value: creds.ClientID},
		types.Field{Name: "username", Value: creds.Username},
		types.Field{Name: "password", Value: creds.Password},
	)
	if err := requireFields("dhan", fields...); err != nil {
		return nil, err
	}

	client := d.opts.session(nil)
	defer client.Close()
	c := &ceremony{provider: "dhan", client: client, opts: d.opts}

	resp, err := c.do(ctx, "login", api.NewRequest(http.MethodPost, DhanLoginURL).WithBody(map[string]string{
		"client_id": creds.ClientID,
		"email":     creds.Username,
		"password":  creds.Password,
	}))
	if err != nil {
		return nil, err
	}
	requestID := stringField(resp.JSONMap(), "request_id")
	if requestID == "" {
		return nil, c.missing("login", "request_id")
	}

	code, err := c.otp("otp", creds.TOTPSecret)
	if err != nil {
		return nil, err
	}

	resp, err = c.do(ctx, "otp", api.NewRequest(http.MethodPost, DhanOTPURL).WithBody(map[string]string{
		"client_id":  creds.ClientID,
		"request_id": requestID,
		"otp":        code,
	}))
	if err != nil {
		return nil, err
	}
	authCode := stringField(resp.JSONMap(), "authorization_code")
	if authCode == "" {
		return nil, c.missing("otp", "authorization_code")
	}

	resp, err = c.do(ctx, "token", api.NewRequest(http.MethodPost, DhanTokenURL).WithBody(map[string]string{
		"client_id":     creds.ClientID,
		"client_secret": creds.APISecret,
		"grant_type":    "authorization_code",
		"code":          authCode,
	}))
	if err != nil {
		return nil, err
	}
	payload := resp.JSONMap()
	accessToken := stringField(payload, "access_token")
	if accessToken == "" {
		return nil, c.missing("token", "access_token")
	}

	bundle := &types.TokenBundle{
		AccessToken:  accessToken,
		RefreshToken: stringField(payload, "refresh_token"),
		ExpiresIn:    intField(payload, "expires_in"),
		Meta:         payload,
	}
	creds.AccessToken = bundle.AccessToken
	creds.RefreshToken = bundle.RefreshToken
	return bundle, nil
}
