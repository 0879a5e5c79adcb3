package credential

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// captureRoundTripper records the status and a bounded copy of the body of
// the last response so failures can be reported with their payload.
type captureRoundTripper struct {
	transport http.RoundTripper
	limit     int64

	mu     sync.Mutex
	seen   bool
	status int
	body   []byte
}

func newCaptureRoundTripper(base http.RoundTripper, limit int64) *captureRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &captureRoundTripper{transport: base, limit: limit}
}

// RoundTrip implements the http.RoundTripper interface
func (rt *captureRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Read the whole body so the caller still sees it, keep only the prefix
	data, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))

	kept := data
	if int64(len(kept)) > rt.limit {
		kept = kept[:rt.limit]
	}

	rt.mu.Lock()
	rt.seen = true
	rt.status = resp.StatusCode
	rt.body = append([]byte(nil), kept...)
	rt.mu.Unlock()

	if readErr != nil {
		return nil, readErr
	}
	return resp, nil
}

// Last returns the most recent response status and body prefix.
func (rt *captureRoundTripper) Last() (int, string, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.status, string(rt.body), rt.seen
}

// basicAuthRoundTripper sets the Basic credentials from the raw client ID
// and secret. The oauth2 package form-escapes both before encoding, which
// changes secrets containing characters such as + / =.
type basicAuthRoundTripper struct {
	transport    http.RoundTripper
	clientID     string
	clientSecret string
}

func newBasicAuthRoundTripper(clientID, clientSecret string, base http.RoundTripper) *basicAuthRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &basicAuthRoundTripper{transport: base, clientID: clientID, clientSecret: clientSecret}
}

// RoundTrip implements the http.RoundTripper interface
func (rt *basicAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clonedReq := req.Clone(req.Context())
	clonedReq.SetBasicAuth(rt.clientID, rt.clientSecret)
	return rt.transport.RoundTrip(clonedReq)
}
