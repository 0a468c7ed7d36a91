package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpclient"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
)

// ProtectedResourcePath serves OAuth protected resource metadata when a
// TokenVerifier is configured.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

// Gateway exposes a fleet as one Streamable MCP server.
type Gateway struct {
	fleet    *mcpmgr.Manager
	opts     Options
	features *featureIndex

	server  *mcp.Server
	mux     *http.ServeMux
	handler http.Handler

	serverMu sync.Mutex

	httpMu     sync.Mutex
	httpServer *http.Server

	watchMu sync.Mutex
	watches map[string]watch
}

// watch is a notification subscription on one upstream client.
type watch struct {
	client *mcpclient.Client
	stop   func()
}

// snapshot is everything a server offers.
type snapshot struct {
	tools     []*mcp.Tool
	prompts   []*mcp.Prompt
	resources []*mcp.Resource
}

// NewGateway builds a Gateway over fleet and runs an initial sync. Servers
// that fail to sync are logged and skipped.
func NewGateway(fleet *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if fleet == nil {
		return nil, errors.New("mcpgateway: fleet manager is required")
	}
	options, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		fleet:    fleet,
		opts:     options,
		features: newFeatureIndex(options.Namespace),
		mux:      http.NewServeMux(),
		watches:  make(map[string]watch),
	}
	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:           true,
		HasPrompts:         true,
		HasResources:       true,
		SubscribeHandler:   g.subscribe,
		UnsubscribeHandler: g.unsubscribe,
	})
	g.mount(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return g.server }, &options.Streamable))

	if err := g.SyncAll(context.Background()); err != nil {
		return nil, err
	}
	return g, nil
}

// Handler serves the MCP endpoint and every route added to ServeMux.
func (g *Gateway) Handler() http.Handler { return g.handler }

// ServeMux returns the mux behind Handler so callers can add routes.
func (g *Gateway) ServeMux() *http.ServeMux { return g.mux }

func (g *Gateway) mount(stream http.Handler) {
	var endpoint http.Handler = stream
	if g.opts.TokenVerifier != nil {
		endpoint = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(stream)
		g.mux.Handle(ProtectedResourcePath, cors.AllowAll().Handler(http.HandlerFunc(g.serveResourceMetadata)))
	}
	g.mux.Handle(g.opts.Path, endpoint)
	if !strings.HasSuffix(g.opts.Path, "/") {
		g.mux.Handle(g.opts.Path+"/", endpoint)
	}
	g.handler = g.mux
	if g.opts.CORS != nil {
		g.handler = cors.New(*g.opts.CORS).Handler(g.mux)
	}
}

type resourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

func (g *Gateway) serveResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	meta := resourceMetadata{
		Resource:               scheme + "://" + r.Host + g.opts.Path,
		BearerMethodsSupported: []string{"header"},
	}
	if g.opts.AuthorizationServer != "" {
		meta.AuthorizationServers = []string{g.opts.AuthorizationServer}
	}
	if g.opts.TokenOptions != nil {
		meta.ScopesSupported = g.opts.TokenOptions.Scopes
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(meta)
}

// ListenAndServe serves Handler on Options.Addr until ctx ends.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpMu.Lock()
	if g.httpServer != nil {
		addr := g.httpServer.Addr
		g.httpMu.Unlock()
		return fmt.Errorf("mcpgateway: already serving on %s", addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.handler}
	g.httpServer = srv
	g.httpMu.Unlock()
	defer func() {
		g.httpMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops ListenAndServe and drops every upstream subscription.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.watchMu.Lock()
	for name, w := range g.watches {
		w.stop()
		delete(g.watches, name)
	}
	g.watchMu.Unlock()

	g.httpMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// SyncAll refreshes every fleet server concurrently. The error is non-nil
// only when the fan-out itself fails.
func (g *Gateway) SyncAll(ctx context.Context) error {
	names := g.fleet.ServerNames()
	if len(names) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	results, err := mcpmgr.Fanout(ctx, g.fleet, names, listSnapshot, &mcpmgr.FanoutOptions{Concurrency: g.opts.Concurrency})
	if err != nil {
		return err
	}
	for _, name := range names {
		res := results[name]
		if !res.OK {
			g.opts.Logger.Warn("skipping server in gateway sync", "server", name, "error", res.Error)
			continue
		}
		g.apply(name, res.Data)
		g.watch(ctx, name)
	}
	return nil
}

// SyncServer refreshes one server.
func (g *Gateway) SyncServer(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SyncTimeout)
	defer cancel()
	snap, err := mcpmgr.WithClient(ctx, g.fleet, name, listSnapshot)
	if err != nil {
		return err
	}
	g.apply(name, snap)
	g.watch(ctx, name)
	return nil
}

// AttachServer adds desc to the fleet and syncs it.
func (g *Gateway) AttachServer(ctx context.Context, desc mcpmgr.ServerDescriptor) error {
	if err := g.fleet.AddServer(desc); err != nil {
		return err
	}
	return g.SyncServer(ctx, desc.Name)
}

// DetachServer stops exposing name and removes it from the fleet.
func (g *Gateway) DetachServer(ctx context.Context, name string) error {
	g.unwatch(name)
	tools, prompts, resources := g.features.Forget(name)
	g.serverMu.Lock()
	g.server.RemoveTools(tools...)
	g.server.RemovePrompts(prompts...)
	g.server.RemoveResources(resources...)
	g.serverMu.Unlock()
	return g.fleet.RemoveServer(ctx, name)
}

func listSnapshot(ctx context.Context, c *mcpclient.Client) (snapshot, error) {
	var (
		s   snapshot
		err error
	)
	if s.tools, err = optional(c.ListTools(ctx)); err != nil {
		return s, err
	}
	if s.prompts, err = optional(c.ListPrompts(ctx)); err != nil {
		return s, err
	}
	s.resources, err = optional(c.ListResources(ctx))
	return s, err
}

// optional treats a method the server does not implement as an empty list.
func optional[T any](items []T, err error) ([]T, error) {
	if mcpclient.IsMethodNotFound(err) {
		return nil, nil
	}
	return items, err
}

func (g *Gateway) apply(name string, snap snapshot) {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()

	removed, tools := g.features.UpdateTools(name, snap.tools)
	g.server.RemoveTools(removed...)
	for _, reg := range tools {
		g.server.AddTool(reg.Feature, g.toolHandler(reg.Target))
	}
	removed, prompts := g.features.UpdatePrompts(name, snap.prompts)
	g.server.RemovePrompts(removed...)
	for _, reg := range prompts {
		g.server.AddPrompt(reg.Feature, g.promptHandler(reg.Target))
	}
	removed, resources := g.features.UpdateResources(name, snap.resources)
	g.server.RemoveResources(removed...)
	for _, reg := range resources {
		g.server.AddResource(reg.Feature, g.resourceHandler(reg.Target))
	}
	g.opts.Logger.Debug("gateway synced server", "server", name,
		"tools", len(tools), "prompts", len(prompts), "resources", len(resources))
}

func (g *Gateway) toolHandler(t target) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args any
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			args = req.Params.Arguments
		}
		return g.fleet.CallTool(ctx, t.Server, t.Native, args)
	}
}

func (g *Gateway) promptHandler(t target) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return g.fleet.GetPrompt(ctx, t.Server, t.Native, args)
	}
}

func (g *Gateway) resourceHandler(t target) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		res, err := g.fleet.ReadResource(ctx, t.Server, t.Native)
		if err != nil {
			return nil, err
		}
		out := *res
		out.Contents = make([]*mcp.ResourceContents, 0, len(res.Contents))
		for _, c := range res.Contents {
			if c == nil {
				continue
			}
			cp := *c
			if cp.URI == t.Native {
				cp.URI = t.Exposed
			}
			out.Contents = append(out.Contents, &cp)
		}
		return &out, nil
	}
}

func (g *Gateway) subscribe(ctx context.Context, req *mcp.SubscribeRequest) error {
	t, err := g.resourceTarget(req.Params)
	if err != nil {
		return err
	}
	return g.fleet.Do(ctx, t.Server, func(ctx context.Context, c *mcpclient.Client) error {
		return c.SubscribeResource(ctx, t.Native)
	})
}

func (g *Gateway) unsubscribe(ctx context.Context, req *mcp.UnsubscribeRequest) error {
	var params *mcp.SubscribeParams
	if req.Params != nil {
		params = &mcp.SubscribeParams{URI: req.Params.URI}
	}
	t, err := g.resourceTarget(params)
	if err != nil {
		return err
	}
	return g.fleet.Do(ctx, t.Server, func(ctx context.Context, c *mcpclient.Client) error {
		return c.UnsubscribeResource(ctx, t.Native)
	})
}

func (g *Gateway) resourceTarget(params *mcp.SubscribeParams) (target, error) {
	if params == nil {
		return target{}, errors.New("mcpgateway: missing resource uri")
	}
	t, ok := g.features.Resource(params.URI)
	if !ok {
		return target{}, fmt.Errorf("mcpgateway: unknown resource %q", params.URI)
	}
	return t, nil
}

// watch subscribes to list-change and resource-update notifications of
// name's current client. A replaced client gets a fresh subscription.
func (g *Gateway) watch(ctx context.Context, name string) {
	if !g.fleet.Connected(name) {
		return
	}
	client, err := g.fleet.Client(ctx, name)
	if err != nil {
		return
	}
	g.watchMu.Lock()
	defer g.watchMu.Unlock()
	if w, ok := g.watches[name]; ok {
		if w.client == client {
			return
		}
		w.stop()
	}
	stop := client.OnNotification(func(msg *mcptransport.Message) { g.notified(name, msg) })
	g.watches[name] = watch{client: client, stop: stop}
}

func (g *Gateway) unwatch(name string) {
	g.watchMu.Lock()
	defer g.watchMu.Unlock()
	if w, ok := g.watches[name]; ok {
		w.stop()
		delete(g.watches, name)
	}
}

// notified runs on the upstream reader, so work is handed to a goroutine.
func (g *Gateway) notified(name string, msg *mcptransport.Message) {
	switch msg.Method {
	case "notifications/tools/list_changed",
		"notifications/prompts/list_changed",
		"notifications/resources/list_changed":
		go func() {
			if err := g.SyncServer(context.Background(), name); err != nil {
				g.opts.Logger.Warn("gateway resync failed", "server", name, "error", err)
			}
		}()
	case "notifications/resources/updated":
		var params struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return
		}
		exposed, ok := g.features.ExposedResource(name, params.URI)
		if !ok {
			return
		}
		go func() {
			if err := g.server.ResourceUpdated(context.Background(), &mcp.ResourceUpdatedNotificationParams{URI: exposed}); err != nil {
				g.opts.Logger.Warn("forward resource update failed", "server", name, "error", err)
			}
		}()
	}
}
