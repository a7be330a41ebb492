package otp

import (
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
)

// ErrInvalidSecret indicates the shared secret is not valid base32.
var ErrInvalidSecret = errors.New("otp secret is not valid base32")

// Provider derives time-based one-time codes from a shared secret.
// It is a pure function of (secret, time) and has no side effects.
type Provider struct {
	secret string
}

func NewProvider(secret string) *Provider {
	return &Provider{secret: secret}
}

// CurrentCode returns the 6-digit code for the 30-second step containing at.
func (p *Provider) CurrentCode(at time.Time) (string, error) {
	code, err := totp.GenerateCode(p.secret, at)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return code, nil
}
