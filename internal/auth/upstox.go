package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"broker-streaming/internal/api"
	"broker-streaming/internal/interfaces"
	"broker-streaming/internal/types"
)

const (
	UpstoxAuthorizeURL = "https://api.upstox.com/index/oauth/authorize"
	UpstoxLoginURL     = "https://api.upstox.com/v2/login"
	UpstoxOTPURL       = "https://api.upstox.com/v2/login/otp/verification"
	UpstoxTokenURL     = "https://api.upstox.com/v2/login/authorization/token"

	upstoxCSRFCookie = "upstox_csrftoken"
)

// Upstox drives the OAuth authorize page login and the code exchange
type Upstox struct {
	creds *types.CredentialSet
	opts  options
}

var _ interfaces.TokenGenerator = (*Upstox)(nil)

func NewUpstox(creds *types.CredentialSet, opts ...Option) *Upstox {
	return &Upstox{creds: creds, opts: newOptions(opts)}
}

func (u *Upstox) GenerateToken(ctx context.Context) (*types.TokenBundle, error) {
	creds := u.creds
	fields := append(baseFields(creds),
		types.Field{Name: "username", Value: creds.Username},
		types.Field{Name: "password", Value: creds.Password},
		types.Field{Name: "redirect_uri", Value: creds.RedirectURI},
	)
	if err := requireFields("upstox", fields...); err != nil {
		return nil, err
	}

	client := u.opts.session(api.BrowserHeaders())
	defer client.Close()
	c := &ceremony{provider: "upstox", client: client, opts: u.opts}

	params := url.Values{
		"client_id":     {creds.APIKey},
		"response_type": {"code"},
		"redirect_uri":  {creds.RedirectURI},
	}

	resp, err := c.do(ctx, "authorize", api.NewRequest(http.MethodGet, UpstoxAuthorizeURL).WithQuery(params))
	if err != nil {
		return nil, err
	}
	csrf := ExtractCSRF(resp)
	if csrf == "" {
		return nil, c.missing("authorize", "csrf_token")
	}

	_, err = c.do(ctx, "login", api.NewRequest(http.MethodPost, UpstoxLoginURL).
		WithHeader("x-csrf-token", csrf).
		WithBody(map[string]string{
			"user_id":  creds.Username,
			"password": creds.Password,
		}))
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(creds.TOTPSecret) != "" {
		code, err := c.otp("otp", creds.TOTPSecret)
		if err != nil {
			return nil, err
		}
		_, err = c.do(ctx, "otp", api.NewRequest(http.MethodPost, UpstoxOTPURL).
			WithHeader("x-csrf-token", csrf).
			WithBody(map[string]string{
				"user_id": creds.Username,
				"otp":     code,
			}))
		if err != nil {
			return nil, err
		}
	}

	resp, err = c.do(ctx, "consent", api.NewRequest(http.MethodPost, UpstoxAuthorizeURL).
		WithQuery(params).
		WithHeader("x-csrf-token", csrf).
		WithForm(url.Values{
			"scope":    {"marketdata"},
			"duration": {"DAY"},
		}).
		AllowRedirect())
	if err != nil {
		return nil, err
	}
	location := resp.Headers.Get("Location")
	if location == "" {
		return nil, c.missing("consent", "location")
	}
	authCode := authorizationCode(location)
	if authCode == "" {
		return nil, c.missing("consent", "code")
	}

	resp, err = c.do(ctx, "token", api.NewRequest(http.MethodPost, UpstoxTokenURL).WithBody(map[string]string{
		"code":          authCode,
		"client_id":     creds.APIKey,
		"client_secret": creds.APISecret,
		"redirect_uri":  creds.RedirectURI,
		"grant_type":    "authorization_code",
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

// ExtractCSRF reads the CSRF token from the upstox_csrftoken cookie, falling
// back to the csrf-token meta tag of the authorize page.
func ExtractCSRF(resp *api.Response) string {
	if token := resp.Cookie(upstoxCSRFCookie); token != "" {
		return token
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return ""
	}
	token, _ := doc.Find(`meta[name="csrf-token"]`).First().Attr("content")
	return strings.TrimSpace(token)
}

// authorizationCode pulls the code query parameter out of a redirect target,
// which may be relative.
func authorizationCode(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Query().Get("code")
}
