package credential

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of access-token claims useful for diagnostics.
type Claims struct {
	ClientID  string
	Scope     string
	Audience  []string
	Issuer    string
	TokenUse  string
	ExpiresAt time.Time
}

// DecodeClaims parses a JWT without verifying its signature. It must only be
// used for display.
func DecodeClaims(token string) (*Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), mc); err != nil {
		return nil, fmt.Errorf("decode token claims: %w", err)
	}

	c := &Claims{}
	c.ClientID, _ = mc["client_id"].(string)
	c.Scope, _ = mc["scope"].(string)
	c.TokenUse, _ = mc["token_use"].(string)
	c.Issuer, _ = mc.GetIssuer()
	if aud, err := mc.GetAudience(); err == nil {
		c.Audience = aud
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}
