// Package credential acquires short-lived machine tokens for the tool
// gateway using the OAuth 2.0 client-credentials grant.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTimeout bounds a token request when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 4 << 10

// ErrMissingAccessToken is reported when the endpoint answers with a
// success status but no access_token.
var ErrMissingAccessToken = errors.New("token response missing access_token")

// Config describes one client-credentials exchange.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	// Scope is a space separated list of scopes
	Scope   string
	Timeout time.Duration

	// HTTPClient optionally supplies the base transport
	HTTPClient *http.Client
}

// Token is a freshly acquired access token. It is never cached.
type Token struct {
	AccessToken string
	TokenType   string
	Expiry      time.Time
}

// String keeps the raw token out of logs.
func (t *Token) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s (expires %s)", t.TokenType, redact(t.AccessToken), t.Expiry.Format(time.RFC3339))
}

// TokenAcquisitionError describes a failed exchange. StatusCode is zero when
// no HTTP response was received.
type TokenAcquisitionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenAcquisitionError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		return fmt.Sprintf("token acquisition failed: status %d: %s", e.StatusCode, abbreviate(e.Body, 200))
	}
	return fmt.Sprintf("token acquisition failed: %v", e.Err)
}

func (e *TokenAcquisitionError) Unwrap() error {
	return e.Err
}

// Acquire performs a single client-credentials exchange. Credentials are
// sent with HTTP Basic authentication and the scope in the form body.
// Only a 200 response carrying access_token is a success. There are no
// retries.
func Acquire(ctx context.Context, cfg Config) (*Token, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TokenURL == "" {
		return nil, &TokenAcquisitionError{Err: errors.New("token URL is empty")}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var base http.RoundTripper
	if cfg.HTTPClient != nil {
		base = cfg.HTTPClient.Transport
	}
	capture := newCaptureRoundTripper(newBasicAuthRoundTripper(cfg.ClientID, cfg.ClientSecret, base), maxErrorBody)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: capture,
		Timeout:   cfg.Timeout,
	})

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       strings.Fields(cfg.Scope),
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	tok, err := cc.Token(ctx)
	if err != nil {
		return nil, newAcquisitionError(err, capture)
	}
	if status, body, ok := capture.Last(); ok && status != http.StatusOK {
		return nil, &TokenAcquisitionError{
			StatusCode: status,
			Body:       body,
			Err:        fmt.Errorf("unexpected status %d", status),
		}
	}

	return &Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		Expiry:      tok.Expiry,
	}, nil
}

func newAcquisitionError(err error, capture *captureRoundTripper) *TokenAcquisitionError {
	te := &TokenAcquisitionError{Err: err}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		te.StatusCode = re.Response.StatusCode
		te.Body = abbreviate(string(re.Body), maxErrorBody)
		return te
	}

	if status, body, ok := capture.Last(); ok {
		te.StatusCode = status
		te.Body = body
		if status >= 200 && status <= 299 && strings.Contains(err.Error(), "missing access_token") {
			te.Err = fmt.Errorf("%w: %v", ErrMissingAccessToken, err)
		}
	}
	return te
}

func redact(s string) string {
	const keep = 6
	if len(s) <= keep {
		return strings.Repeat("*", len(s))
	}
	return s[:keep] + "..."
}

func abbreviate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
