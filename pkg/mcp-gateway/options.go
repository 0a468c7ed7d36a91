package mcpgateway

import (
	"errors"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
)

// Options configure a Gateway.
type Options struct {
	// Implementation is advertised to downstream clients.
	Implementation *mcp.Implementation
	// Addr is the ListenAndServe address. Defaults to ":8700".
	Addr string
	// Path mounts the Streamable endpoint. Defaults to "/mcp".
	Path string
	// Namespace names upstream features. Defaults to ServerPrefixNamespace.
	Namespace NamespaceStrategy
	// Concurrency bounds fleet-wide syncs. Zero uses the fleet default.
	Concurrency int
	Streamable  mcp.StreamableHTTPOptions
	Logger      *slog.Logger
	// SyncTimeout bounds every sync. Defaults to 30s.
	SyncTimeout time.Duration

	// CORS wraps the whole handler when set.
	CORS *cors.Options

	// TokenVerifier enables bearer authentication on the MCP endpoint and
	// serves /.well-known/oauth-protected-resource.
	TokenVerifier auth.TokenVerifier
	TokenOptions  *auth.RequireBearerTokenOptions
	// AuthorizationServer is advertised in the protected resource metadata.
	AuthorizationServer string
}

func (o *Options) withDefaults() (Options, error) {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.TokenVerifier == nil && (opts.TokenOptions != nil || opts.AuthorizationServer != "") {
		return opts, errors.New("mcpgateway: token options require a TokenVerifier")
	}
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{Name: "mcp-fleet-gateway", Title: "MCP Fleet Gateway", Version: "1.0.0"}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = ":8700"
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	if opts.Path[0] != '/' {
		opts.Path = "/" + opts.Path
	}
	if opts.Namespace == nil {
		opts.Namespace = ServerPrefixNamespace{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	return opts, nil
}
