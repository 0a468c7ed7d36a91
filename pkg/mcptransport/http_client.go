package mcptransport

import (
	"net/http"
	"sync"
)

const (
	sessionIDHeader    = "Mcp-Session-Id"
	connectionIDHeader = "X-Connection-ID"
)

// sessionIDTracker remembers the most recent Mcp-Session-Id handed out by a
// server so it can be echoed on later requests.
type sessionIDTracker struct {
	mu    sync.RWMutex
	value string
}

func (s *sessionIDTracker) Set(value string) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

func (s *sessionIDTracker) Value() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// headerDecorator stamps configured headers, the tracked session id and an
// optional Authorization value onto every outbound request.
type headerDecorator struct {
	next         http.RoundTripper
	headers      map[string]string
	tracker      *sessionIDTracker
	authProvider AuthProvider
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the caller's request.
	req = req.Clone(req.Context())
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	if d.tracker != nil {
		if id := d.tracker.Value(); id != "" {
			req.Header.Set(sessionIDHeader, id)
		}
	}
	if d.authProvider != nil && req.Header.Get("Authorization") == "" {
		token, err := d.authProvider(req.Context())
		if err != nil {
			return nil, &TransportError{Op: "authorize", Err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", token)
		}
	}
	resp, err := d.next.RoundTrip(req)
	if err == nil && d.tracker != nil {
		if id := resp.Header.Get(sessionIDHeader); id != "" {
			d.tracker.Set(id)
		}
	}
	return resp, err
}

func decorateHTTPClient(cfg *HTTPConfig, tracker *sessionIDTracker) *http.Client {
	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:         next,
		headers:      cloneStringMap(cfg.Headers),
		tracker:      tracker,
		authProvider: cfg.AuthProvider,
	}
	return &clone
}
