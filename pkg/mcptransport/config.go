package mcptransport

import (
	"context"
	"net/http"
)

// Kind names a transport binding.
type Kind string

const (
	KindHTTP     Kind = "http"
	KindHTTPPost Kind = "http-post"
	KindStdio    Kind = "stdio"
)

// ParseKind maps the textual names used in configuration files to a Kind.
// "sse" is accepted as an alias for the event-stream binding and "httpPost"
// for the stateless one.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "http", "sse", "":
		return KindHTTP, true
	case "http-post", "httpPost", "post":
		return KindHTTPPost, true
	case "stdio":
		return KindStdio, true
	}
	return "", false
}

// Config is implemented by *HTTPConfig and *StdioConfig.
type Config interface {
	Kind() Kind
	clone() Config
}

// AuthProvider supplies an Authorization header value (for example
// "Bearer <token>") for outbound HTTP requests.
type AuthProvider func(context.Context) (string, error)

// HTTPConfig configures both HTTP bindings. Stateless selects the POST-only
// binding instead of the event-stream one.
type HTTPConfig struct {
	Endpoint  string
	Headers   map[string]string
	Stateless bool

	// HTTPClient overrides http.DefaultClient.
	HTTPClient *http.Client
	// AuthProvider is consulted when no Authorization header is configured.
	AuthProvider AuthProvider
}

func (c *HTTPConfig) Kind() Kind {
	if c.Stateless {
		return KindHTTPPost
	}
	return KindHTTP
}

func (c *HTTPConfig) clone() Config {
	cp := *c
	cp.Headers = cloneStringMap(c.Headers)
	return &cp
}

// StdioConfig configures the subprocess binding. Env is merged over the
// parent environment.
type StdioConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
}

func (c *StdioConfig) Kind() Kind { return KindStdio }

func (c *StdioConfig) clone() Config {
	cp := *c
	cp.Args = append([]string(nil), c.Args...)
	cp.Env = cloneStringMap(c.Env)
	return &cp
}

// Clone returns a deep copy of cfg, or nil for a nil cfg.
func Clone(cfg Config) Config {
	if cfg == nil {
		return nil
	}
	return cfg.clone()
}

// KindOf returns the binding kind of cfg, or "" when cfg is nil.
func KindOf(cfg Config) Kind {
	if cfg == nil {
		return ""
	}
	return cfg.Kind()
}

// IsHTTP reports whether cfg is an *HTTPConfig (either HTTP binding).
func IsHTTP(cfg Config) bool {
	_, ok := cfg.(*HTTPConfig)
	return ok
}

// IsStdio reports whether cfg is a *StdioConfig.
func IsStdio(cfg Config) bool {
	_, ok := cfg.(*StdioConfig)
	return ok
}

// AsHTTP narrows cfg to *HTTPConfig.
func AsHTTP(cfg Config) (*HTTPConfig, bool) {
	c, ok := cfg.(*HTTPConfig)
	return c, ok
}

// AsStdio narrows cfg to *StdioConfig.
func AsStdio(cfg Config) (*StdioConfig, bool) {
	c, ok := cfg.(*StdioConfig)
	return c, ok
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
