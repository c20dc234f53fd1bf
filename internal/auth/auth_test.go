package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broker-streaming/internal/api"
	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/types"
)

func dhanCreds() *types.CredentialSet {
	return &types.CredentialSet{
		APIKey:     "key",
		APISecret:  "secret",
		ClientID:   "C1",
		Username:   "trader@example.com",
		Password:   "pw",
		TOTPSecret: rfcSecret,
	}
}

func TestPreconditionsIssueNoRequests(t *testing.T) {
	tests := []struct {
		name    string
		gen     func(*types.CredentialSet, *scriptedTransport) interfaces.TokenGenerator
		creds   types.CredentialSet
		missing []string
	}{
		{
			name: "dhan without client id",
			gen: func(c *types.CredentialSet, rt *scriptedTransport) interfaces.TokenGenerator {
				return NewDhan(c, WithTransport(rt))
			},
			creds:   types.CredentialSet{APIKey: "k", APISecret: "s", Username: "u", Password: "p"},
			missing: []string{"client_id"},
		},
		{
			name: "upstox without redirect uri and password",
			gen: func(c *types.CredentialSet, rt *scriptedTransport) interfaces.TokenGenerator {
				return NewUpstox(c, WithTransport(rt))
			},
			creds:   types.CredentialSet{APIKey: "k", APISecret: "s", Username: "u"},
			missing: []string{"password", "redirect_uri"},
		},
		{
			name: "zerodha without api secret",
			gen: func(c *types.CredentialSet, rt *scriptedTransport) interfaces.TokenGenerator {
				return NewZerodha(c, WithTransport(rt))
			},
			creds:   types.CredentialSet{APIKey: "k", Username: "u", Password: "p"},
			missing: []string{"api_secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newScriptedTransport()
			creds := tt.creds

			bundle, err := tt.gen(&creds, rt).GenerateToken(context.Background())
			require.Error(t, err)
			assert.Nil(t, bundle)
			assert.True(t, errors.Is(err, types.ErrConfig))

			var cfgErr *types.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.missing, cfgErr.Missing)
			assert.Empty(t, rt.recorded())
		})
	}
}

func TestDhanCeremony(t *testing.T) {
	rt := newScriptedTransport().
		on(http.MethodPost, DhanLoginURL, 200, `{"request_id":"R1"}`).
		on(http.MethodPost, DhanOTPURL, 200, `{"authorization_code":"AC"}`).
		on(http.MethodPost, DhanTokenURL, 200, `{"access_token":"AT","refresh_token":"RT","expires_in":3600}`)
	creds := dhanCreds()

	bundle, err := NewDhan(creds, WithTransport(rt), WithClock(fixedClock())).GenerateToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "AT", bundle.AccessToken)
	assert.Equal(t, "RT", bundle.RefreshToken)
	require.NotNil(t, bundle.ExpiresIn)
	assert.Equal(t, 3600, *bundle.ExpiresIn)
	assert.Equal(t, "AT", bundle.Meta["access_token"])
	assert.Equal(t, "AT", creds.AccessToken)
	assert.Equal(t, "RT", creds.RefreshToken)

	reqs := rt.recorded()
	require.Len(t, reqs, 3)
	assert.Equal(t, map[string]string{"client_id": "C1", "email": "trader@example.com", "password": "pw"}, reqs[0].JSON(t))
	assert.Equal(t, map[string]string{"client_id": "C1", "request_id": "R1", "otp": rfcCode}, reqs[1].JSON(t))
	assert.Equal(t, map[string]string{
		"client_id":     "C1",
		"client_secret": "secret",
		"grant_type":    "authorization_code",
		"code":          "AC",
	}, reqs[2].JSON(t))
}

func TestDhanMissingAuthorizationCodeStops(t *testing.T) {
	rt := newScriptedTransport().
		on(http.MethodPost, DhanLoginURL, 200, `{"request_id":"R1"}`).
		on(http.MethodPost, DhanOTPURL, 200, `{}`).
		on(http.MethodPost, DhanTokenURL, 200, `{"access_token":"AT"}`)
	creds := dhanCreds()

	_, err := NewDhan(creds, WithTransport(rt), WithClock(fixedClock())).GenerateToken(context.Background())
	require.Error(t, err)

	var protoErr *types.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "authorization_code", protoErr.Field)
	assert.Len(t, rt.recorded(), 2)
	assert.Empty(t, creds.AccessToken)
}

func TestDhanMissingTOTPSecretAfterLogin(t *testing.T) {
	rt := newScriptedTransport().
		on(http.MethodPost, DhanLoginURL, 200, `{"request_id":"R1"}`)
	creds := dhanCreds()
	creds.TOTPSecret = ""

	_, err := NewDhan(creds, WithTransport(rt)).GenerateToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrProtocol))
	assert.Contains(t, err.Error(), "totp_secret")
	assert.Len(t, rt.recorded(), 1)
}

func TestDhanHTTPErrorIsTransportError(t *testing.T) {
	rt := newScriptedTransport().
		on(http.MethodPost, DhanLoginURL, 401, `{"message":"invalid credentials"}`)

	_, err := NewDhan(dhanCreds(), WithTransport(rt)).GenerateToken(context.Background())
	require.Error(t, err)

	var trErr *types.TransportError
	require.True(t, errors.As(err, &trErr))
	assert.Equal(t, 401, trErr.StatusCode)
	assert.Equal(t, "login", trErr.Step)
	assert.Len(t, rt.recorded(), 1)
}

func upstoxCreds(totpSecret string) *types.CredentialSet {
	return &types.CredentialSet{
		APIKey:      "K",
		APISecret:   "S",
		Username:    "u",
		Password:    "p",
		RedirectURI: "https://cb",
		TOTPSecret:  totpSecret,
	}
}

func TestUpstoxCeremonyWithCookieCSRF(t *testing.T) {
	rt := newScriptedTransport().
		on(http.MethodGet, UpstoxAuthorizeURL, 200, `<html></html>`, map[string]string{
			"Set-Cookie":   "upstox_csrftoken=tok; Path=/",
			"Content-Type": "text/html",
		}).
		on(http.MethodPost, UpstoxLoginURL, 200, `{}`).
		on(http.MethodPost, UpstoxOTPURL, 200, `{}`).
		on(http.MethodPost, UpstoxAuthorizeURL, 302, ``, map[string]string{"Location": "https://cb?code=XYZ"}).
		on(http.MethodPost, UpstoxTokenURL, 200, `{"access_token":"UAT"}`)
	creds := upstoxCreds(rfcSecret)

	bundle, err := NewUpstox(creds, WithTransport(rt), WithClock(fixedClock())).GenerateToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "UAT", bundle.AccessToken)
	assert.Equal(t, "UAT", creds.AccessToken)
	assert.Nil(t, bundle.ExpiresIn)

	reqs := rt.recorded()
	require.Len(t, reqs, 5)

	authorize := reqs[0].URL.Query()
	assert.Equal(t, "K", authorize.Get("client_id"))
	assert.Equal(t, "code", authorize.Get("response_type"))
	assert.Equal(t, "https://cb", authorize.Get("redirect_uri"))

	assert.Equal(t, "tok", reqs[1].Header.Get("x-csrf-token"))
	assert.Equal(t, map[string]string{"user_id": "u", "password": "p"}, reqs[1].JSON(t))
	assert.Equal(t, map[string]string{"user_id": "u", "otp": rfcCode}, reqs[2].JSON(t))

	consent := reqs[3].Form(t)
	assert.Equal(t, "marketdata", consent.Get("scope"))
	assert.Equal(t, "DAY", consent.Get("duration"))
	assert.Equal(t, "K", reqs[3].URL.Query().Get("client_id"))

	assert.Equal(t, map[string]string{
		"code":          "XYZ",
		"client_id":     "K",
		"client_secret": "S",
		"redirect_uri":  "https://cb",
		"grant_type":    "authorization_code",
	}, reqs[4].JSON(t))
}

func TestUpstoxSkipsOTPWithoutSecretAndUsesMetaCSRF(t *testing.T) {
	page := `<html><head><meta name="csrf-token" content="meta-tok"></head><body></body></html>`
	rt := newScriptedTransport().
		on(http.MethodGet, UpstoxAuthorizeURL, 200, page, map[string]string{"Content-Type": "text/html"}).
		on(http.MethodPost, UpstoxLoginURL, 200, `{}`).
		on(http.MethodPost, UpstoxAuthorizeURL, 302, ``, map[string]string{"Location": "https://cb?code=XYZ"}).
		on(http.MethodPost, UpstoxTokenURL, 200, `{"access_token":"UAT","refresh_token":"URT"}`)
	creds := upstoxCreds("")

	bundle, err := NewUpstox(creds, WithTransport(rt)).GenerateToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "URT", creds.RefreshToken)
	assert.Equal(t, "URT", bundle.RefreshToken)

	assert.Equal(t, []string{
		"GET api.upstox.com/index/oauth/authorize",
		"POST api.upstox.com/v2/login",
		"POST api.upstox.com/index/oauth/authorize",
		"POST api.upstox.com/v2/login/authorization/token",
	}, rt.paths())
	assert.Equal(t, "meta-tok", rt.recorded()[1].Header.Get("x-csrf-token"))
}

func TestUpstoxMissingCSRFIsProtocolError(t *testing.T) {
	rt := newScriptedTransport().
		on(http.MethodGet, UpstoxAuthorizeURL, 200, `<html></html>`, map[string]string{"Content-Type": "text/html"})

	_, err := NewUpstox(upstoxCreds(""), WithTransport(rt)).GenerateToken(context.Background())

	var protoErr *types.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "csrf_token", protoErr.Field)
	assert.Len(t, rt.recorded(), 1)
}

func TestUpstoxConsentWithoutCodeIsProtocolError(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		field   string
	}{
		{name: "no location", headers: nil, field: "location"},
		{name: "no code", headers: map[string]string{"Location": "https://cb?error=denied"}, field: "code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newScriptedTransport().
				on(http.MethodGet, UpstoxAuthorizeURL, 200, ``, map[string]string{"Set-Cookie": "upstox_csrftoken=tok"}).
				on(http.MethodPost, UpstoxLoginURL, 200, `{}`).
				on(http.MethodPost, UpstoxAuthorizeURL, 200, ``, tt.headers).
				on(http.MethodPost, UpstoxTokenURL, 200, `{"access_token":"UAT"}`)

			_, err := NewUpstox(upstoxCreds(""), WithTransport(rt)).GenerateToken(context.Background())

			var protoErr *types.ProtocolError
			require.True(t, errors.As(err, &protoErr))
			assert.Equal(t, tt.field, protoErr.Field)
			assert.Len(t, rt.recorded(), 3)
		})
	}
}

func TestExtractCSRFPrefersCookie(t *testing.T) {
	resp := &api.Response{
		Body:    []byte(`<meta name="csrf-token" content="meta">`),
		Cookies: []*http.Cookie{{Name: "upstox_csrftoken", Value: "cookie"}},
	}
	assert.Equal(t, "cookie", ExtractCSRF(resp))

	resp.Cookies = nil
	assert.Equal(t, "meta", ExtractCSRF(resp))

	resp.Body = []byte(`<html></html>`)
	assert.Equal(t, "", ExtractCSRF(resp))
}

func zerodhaCreds() *types.CredentialSet {
	return &types.CredentialSet{
		APIKey:     "K",
		APISecret:  "S",
		Username:   "AB1234",
		Password:   "pw",
		TOTPSecret: rfcSecret,
	}
}

func TestZerodhaCeremony(t *testing.T) {
	rt := newScriptedTransport().
		on(http.MethodPost, ZerodhaLoginURL, 200, `{"status":"success","data":{"request_id":"RID"}}`).
		on(http.MethodPost, ZerodhaTwoFAURL, 200, `{"status":"success","data":{"request_token":"T"}}`).
		on(http.MethodPost, ZerodhaSessionURL, 200, `{"status":"success","data":{"user_id":"AB1234","access_token":"ZAT","public_token":"P"}}`)
	creds := zerodhaCreds()

	bundle, err := NewZerodha(creds, WithTransport(rt), WithClock(fixedClock())).GenerateToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ZAT", bundle.AccessToken)
	assert.Empty(t, bundle.RefreshToken)
	assert.Equal(t, "ZAT", creds.AccessToken)
	assert.Empty(t, creds.RefreshToken)
	assert.Equal(t, "success", bundle.Meta["status"])

	reqs := rt.recorded()
	require.Len(t, reqs, 3)

	login := reqs[0].Form(t)
	assert.Equal(t, "AB1234", login.Get("user_id"))
	assert.Equal(t, "pw", login.Get("password"))

	twofa := reqs[1].Form(t)
	assert.Equal(t, "RID", twofa.Get("request_id"))
	assert.Equal(t, "app", twofa.Get("twofa_type"))
	assert.Equal(t, rfcCode, twofa.Get("twofa_value"))

	session := reqs[2].Form(t)
	assert.Equal(t, "K", session.Get("api_key"))
	assert.Equal(t, "T", session.Get("request_token"))
	assert.Equal(t, Checksum("K", "T", "S"), session.Get("checksum"))
	assert.Equal(t, "3", reqs[2].Header.Get("X-Kite-Version"))
}

func TestZerodhaMissingRequestTokenStops(t *testing.T) {
	rt := newScriptedTransport().
		on(http.MethodPost, ZerodhaLoginURL, 200, `{"data":{"request_id":"RID"}}`).
		on(http.MethodPost, ZerodhaTwoFAURL, 200, `{"data":{}}`).
		on(http.MethodPost, ZerodhaSessionURL, 200, `{"data":{"access_token":"ZAT"}}`)

	_, err := NewZerodha(zerodhaCreds(), WithTransport(rt), WithClock(fixedClock())).GenerateToken(context.Background())

	var protoErr *types.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "request_token", protoErr.Field)
	assert.Len(t, rt.recorded(), 2)
}

func TestZerodhaSessionTokenSurvivesUndecodableFields(t *testing.T) {
	rt := newScriptedTransport().
		on(http.MethodPost, ZerodhaLoginURL, 200, `{"data":{"request_id":"RID"}}`).
		on(http.MethodPost, ZerodhaTwoFAURL, 200, `{"data":{"request_token":"T"}}`).
		on(http.MethodPost, ZerodhaSessionURL, 200, `{"status":"success","data":{"access_token":"ZAT","login_time":"yesterday"}}`)
	creds := zerodhaCreds()

	bundle, err := NewZerodha(creds, WithTransport(rt), WithClock(fixedClock())).GenerateToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ZAT", bundle.AccessToken)
	assert.Equal(t, "ZAT", creds.AccessToken)
}

func TestZerodhaSessionWithoutTokenIsProtocolError(t *testing.T) {
	rt := newScriptedTransport().
		on(http.MethodPost, ZerodhaLoginURL, 200, `{"data":{"request_id":"RID"}}`).
		on(http.MethodPost, ZerodhaTwoFAURL, 200, `{"data":{"request_token":"T"}}`).
		on(http.MethodPost, ZerodhaSessionURL, 200, `{"status":"success","data":{"user_id":"AB1234"}}`)

	_, err := NewZerodha(zerodhaCreds(), WithTransport(rt), WithClock(fixedClock())).GenerateToken(context.Background())

	var protoErr *types.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "session", protoErr.Step)
	assert.Equal(t, "data.access_token", protoErr.Field)
}

func TestRedirectOutsideConsentIsTransportError(t *testing.T) {
	rt := newScriptedTransport().
		on(http.MethodPost, DhanLoginURL, 302, ``, map[string]string{"Location": "https://dhan.co/maintenance"})

	_, err := NewDhan(dhanCreds(), WithTransport(rt), WithClock(fixedClock())).GenerateToken(context.Background())

	assert.True(t, errors.Is(err, types.ErrTransport))
	var trErr *types.TransportError
	require.True(t, errors.As(err, &trErr))
	assert.Equal(t, "login", trErr.Step)
	assert.Equal(t, http.StatusFound, trErr.StatusCode)
	assert.Len(t, rt.recorded(), 1)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, "05c69774246b930c9b53833ecb46789a510a8a16856503e0f1926f9a9bcf9d41", Checksum("K", "T", "S"))
	assert.NotEqual(t, Checksum("K", "T", "S"), Checksum("K", "T", "s"))
}
