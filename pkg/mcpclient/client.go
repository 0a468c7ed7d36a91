package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
)

// ProtocolVersion is the MCP revision advertised during the handshake.
const ProtocolVersion = "2024-11-05"

// State is the lifecycle position of a Client.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options configures a Client.
type Options struct {
	// Transport selects and configures the session binding.
	Transport mcptransport.Config
	// TransportOptions tunes timeouts and tracing of the session.
	TransportOptions *mcptransport.Options
	// ClientName defaults to "mcp-client".
	ClientName string
	// ClientVersion defaults to "1.0.0".
	ClientVersion string
	// Roots are advertised to the server and returned by ListRoots.
	Roots  []*mcp.Root
	Logger *slog.Logger
	// SessionFactory overrides mcptransport.New.
	SessionFactory mcptransport.Factory
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.ClientName == "" {
		out.ClientName = "mcp-client"
	}
	if out.ClientVersion == "" {
		out.ClientVersion = "1.0.0"
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.SessionFactory == nil {
		out.SessionFactory = mcptransport.New
	}
	out.Roots = append([]*mcp.Root(nil), out.Roots...)
	return out
}

// Info is a snapshot of what the client learned about its server.
type Info struct {
	ServerInfo   *mcp.Implementation     `json:"serverInfo,omitempty"`
	Capabilities *mcp.ServerCapabilities `json:"capabilities,omitempty"`
	Initialized  bool                    `json:"initialized"`
	Transport    mcptransport.Kind       `json:"transportType,omitempty"`
	// Handshake is false when the server skipped or rejected initialize.
	Handshake bool `json:"handshake"`
}

// Client speaks MCP to one server over one session.
type Client struct {
	opts Options
	log  *slog.Logger
	hub  *mcptransport.NotificationHub

	initMu sync.Mutex

	mu           sync.RWMutex
	state        State
	session      mcptransport.Session
	unsubscribe  func()
	serverInfo   *mcp.Implementation
	capabilities *mcp.ServerCapabilities
	handshake    bool
}

// New returns an uninitialized client.
func New(opts *Options) *Client {
	o := opts.withDefaults()
	return &Client{
		opts: o,
		log:  o.Logger.With("transport", string(mcptransport.KindOf(o.Transport))),
		hub:  mcptransport.NewNotificationHub(),
	}
}

// Initialize connects the session and performs the handshake. Rejected or
// failed handshakes fall back to placeholder server info and still succeed.
// Calling Initialize on an initialized client returns the cached info.
func (c *Client) Initialize(ctx context.Context) (Info, error) {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateInitialized:
		c.mu.Unlock()
		return c.ServerInfo(), nil
	case StateClosed:
		c.mu.Unlock()
		return Info{}, fmt.Errorf("mcpclient: client closed")
	}
	if c.opts.Transport == nil {
		c.mu.Unlock()
		return Info{}, fmt.Errorf("mcpclient: unsupported transport type: no transport configured")
	}
	c.state = StateInitializing
	c.mu.Unlock()

	session, err := c.opts.SessionFactory(c.opts.Transport, c.opts.TransportOptions)
	if err != nil {
		c.setState(StateUninitialized)
		return Info{}, err
	}
	if err := session.Connect(ctx); err != nil {
		_ = session.Close()
		c.setState(StateUninitialized)
		return Info{}, err
	}
	unsubscribe := session.OnNotification(c.hub.Dispatch)

	info, caps, ok := c.handshakeWith(ctx, session)
	if err := ctx.Err(); err != nil {
		unsubscribe()
		_ = session.Close()
		c.setState(StateUninitialized)
		return Info{}, err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		// Close raced with Initialize.
		c.mu.Unlock()
		unsubscribe()
		_ = session.Close()
		return Info{}, fmt.Errorf("mcpclient: client closed")
	}
	c.session = session
	c.unsubscribe = unsubscribe
	c.serverInfo = info
	c.capabilities = caps
	c.handshake = ok
	c.state = StateInitialized
	c.mu.Unlock()

	c.log.Debug("client initialized", "server_name", info.Name, "server_version", info.Version, "handshake", ok)
	return c.ServerInfo(), nil
}

type initializeParams struct {
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    clientCapabilities  `json:"capabilities"`
	ClientInfo      *mcp.Implementation `json:"clientInfo"`
}

type clientCapabilities struct {
	Roots    rootsCapability `json:"roots"`
	Sampling struct{}        `json:"sampling"`
}

type rootsCapability struct {
	ListChanged bool `json:"listChanged"`
}

func placeholderInfo() (*mcp.Implementation, *mcp.ServerCapabilities) {
	return &mcp.Implementation{Name: "unknown", Version: "unknown"}, &mcp.ServerCapabilities{}
}

// handshakeWith sends initialize and, on success, notifications/initialized.
// It never fails; ok reports whether the server completed the handshake.
func (c *Client) handshakeWith(ctx context.Context, session mcptransport.Session) (*mcp.Implementation, *mcp.ServerCapabilities, bool) {
	req, err := mcptransport.NewRequest("initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    clientCapabilities{Roots: rootsCapability{ListChanged: true}},
		ClientInfo:      &mcp.Implementation{Name: c.opts.ClientName, Version: c.opts.ClientVersion},
	})
	if err != nil {
		c.log.Warn("initialize handshake failed, continuing without it", "error", err)
		info, caps := placeholderInfo()
		return info, caps, false
	}
	resp, err := session.Send(ctx, req)
	switch {
	case err != nil:
		c.log.Warn("initialize handshake failed, continuing without it", "error", err)
	case resp.Error != nil && methodUnavailable(resp.Error.Code, resp.Error.Message):
		c.log.Warn("server does not support initialize, continuing without handshake")
	case resp.Error != nil:
		c.log.Warn("initialize handshake failed, continuing without it", "error", newProtocolError("initialize", resp.Error))
	default:
		var result mcp.InitializeResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			c.log.Warn("initialize handshake returned malformed result, continuing without it", "error", err)
			break
		}
		info, caps := placeholderInfo()
		if result.ServerInfo != nil {
			info = result.ServerInfo
		}
		if result.Capabilities != nil {
			caps = result.Capabilities
		}
		note, _ := mcptransport.NewNotification("notifications/initialized", nil)
		if err := session.Notify(ctx, note); err != nil {
			c.log.Warn("failed to send initialized notification", "error", err)
		}
		return info, caps, true
	}
	info, caps := placeholderInfo()
	return info, caps, false
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ServerInfo returns the cached handshake outcome without a round trip.
func (c *Client) ServerInfo() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		ServerInfo:   c.serverInfo,
		Capabilities: c.capabilities,
		Initialized:  c.state == StateInitialized,
		Transport:    mcptransport.KindOf(c.opts.Transport),
		Handshake:    c.handshake,
	}
}

// OnNotification registers h for server-initiated messages. Handlers may be
// registered before Initialize. The returned func removes h.
func (c *Client) OnNotification(h mcptransport.NotificationHandler) func() {
	return c.hub.Subscribe(h)
}

// Close closes the session. Further operations fail with a
// NotInitializedError.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	session, unsubscribe := c.session, c.unsubscribe
	c.session = nil
	c.unsubscribe = nil
	c.state = StateClosed
	c.mu.Unlock()

	c.hub.Clear()
	if unsubscribe != nil {
		unsubscribe()
	}
	if session == nil {
		return nil
	}
	return session.Close()
}

func (c *Client) ready(method string) (mcptransport.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateInitialized || c.session == nil {
		return nil, &NotInitializedError{Method: method, State: c.state}
	}
	return c.session, nil
}

// call issues one request and decodes its result into out when out is not
// nil.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	session, err := c.ready(method)
	if err != nil {
		return err
	}
	req, err := mcptransport.NewRequest(method, params)
	if err != nil {
		return err
	}
	resp, err := session.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	if resp.Error != nil {
		return newProtocolError(method, resp.Error)
	}
	if out == nil || len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s failed: decode result: %w", method, err)
	}
	return nil
}

// ListTools returns the server's tools, or an empty slice.
func (c *Client) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var res struct {
		Tools []*mcp.Tool `json:"tools"`
	}
	if err := c.call(ctx, "tools/list", nil, &res); err != nil {
		return nil, err
	}
	if res.Tools == nil {
		res.Tools = []*mcp.Tool{}
	}
	return res.Tools, nil
}

// CallTool invokes a tool. A nil args is sent as an empty object.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	params := struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
	}{Name: name, Arguments: args}
	res := new(mcp.CallToolResult)
	if err := c.call(ctx, "tools/call", params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListResources returns the server's resources, or an empty slice.
func (c *Client) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	var res struct {
		Resources []*mcp.Resource `json:"resources"`
	}
	if err := c.call(ctx, "resources/list", nil, &res); err != nil {
		return nil, err
	}
	if res.Resources == nil {
		res.Resources = []*mcp.Resource{}
	}
	return res.Resources, nil
}

// ReadResource fetches the contents of uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	res := new(mcp.ReadResourceResult)
	if err := c.call(ctx, "resources/read", &mcp.ReadResourceParams{URI: uri}, res); err != nil {
		return nil, err
	}
	if res.Contents == nil {
		res.Contents = []*mcp.ResourceContents{}
	}
	return res, nil
}

// SubscribeResource asks the server to send update notifications for uri.
func (c *Client) SubscribeResource(ctx context.Context, uri string) error {
	return c.call(ctx, "resources/subscribe", &mcp.SubscribeParams{URI: uri}, nil)
}

// UnsubscribeResource cancels a SubscribeResource.
func (c *Client) UnsubscribeResource(ctx context.Context, uri string) error {
	return c.call(ctx, "resources/unsubscribe", &mcp.UnsubscribeParams{URI: uri}, nil)
}

// ListPrompts returns the server's prompts, or an empty slice.
func (c *Client) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	var res struct {
		Prompts []*mcp.Prompt `json:"prompts"`
	}
	if err := c.call(ctx, "prompts/list", nil, &res); err != nil {
		return nil, err
	}
	if res.Prompts == nil {
		res.Prompts = []*mcp.Prompt{}
	}
	return res.Prompts, nil
}

// GetPrompt renders a prompt with args.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	if args == nil {
		args = map[string]string{}
	}
	res := new(mcp.GetPromptResult)
	if err := c.call(ctx, "prompts/get", &mcp.GetPromptParams{Name: name, Arguments: args}, res); err != nil {
		return nil, err
	}
	if res.Messages == nil {
		res.Messages = []*mcp.PromptMessage{}
	}
	return res, nil
}

// ListRoots returns the configured roots. It makes no round trip.
func (c *Client) ListRoots() ([]*mcp.Root, error) {
	if _, err := c.ready("roots/list"); err != nil {
		return nil, err
	}
	return append([]*mcp.Root{}, c.opts.Roots...), nil
}

// CreateMessage asks the server to sample a completion.
func (c *Client) CreateMessage(ctx context.Context, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error) {
	if params == nil {
		return nil, errors.New("mcpclient: sampling/createMessage: params are required")
	}
	res := new(mcp.CreateMessageResult)
	if err := c.call(ctx, "sampling/createMessage", params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// SetLoggingLevel sets the minimum level of log notifications the server
// sends.
func (c *Client) SetLoggingLevel(ctx context.Context, level mcp.LoggingLevel) error {
	return c.call(ctx, "logging/setLevel", &mcp.SetLoggingLevelParams{Level: level}, nil)
}
