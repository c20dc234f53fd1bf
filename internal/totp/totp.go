// Package totp derives the time-based one-time codes brokers ask for as a
// second login factor.
package totp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

var ErrNoSecret = errors.New("totp secret not configured")

// Generate returns the 6 digit RFC 6238 code for secret at t.
// Secrets are base32; spaces and lowercase are tolerated.
func Generate(secret string, t time.Time) (string, error) {
	secret = normalize(secret)
	if secret == "" {
		return "", ErrNoSecret
	}
	code, err := totp.GenerateCode(secret, t)
	if err != nil {
		return "", fmt.Errorf("failed to generate totp: %w", err)
	}
	return code, nil
}

func normalize(secret string) string {
	secret = strings.ReplaceAll(secret, " ", "")
	return strings.ToUpper(strings.TrimSpace(secret))
}
