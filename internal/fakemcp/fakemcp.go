// Package fakemcp provides in-memory MCP servers and sessions for tests that
// exercise clients and fleets without real transports.
package fakemcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
)

// Server answers the standard MCP methods from static data.
type Server struct {
	Info         mcp.Implementation
	Capabilities mcp.ServerCapabilities
	Tools        []*mcp.Tool
	Resources    []*mcp.Resource
	Prompts      []*mcp.Prompt

	// NoHandshake makes initialize fail with method-not-found.
	NoHandshake bool
	// ConnectErr fails Session.Connect.
	ConnectErr error

	mu       sync.Mutex
	failures map[string]error
	calls    map[string]int
}

// FailMethod makes every request for method fail at the transport level with
// err. A nil err clears the failure.
func (s *Server) FailMethod(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures == nil {
		s.failures = make(map[string]error)
	}
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// Calls reports how many requests for method reached the server.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Handle implements the request dispatch used by Session.
func (s *Server) Handle(_ context.Context, msg *mcptransport.Message) (*mcptransport.Message, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[msg.Method]++
	failure := s.failures[msg.Method]
	s.mu.Unlock()
	if failure != nil {
		return nil, failure
	}

	switch msg.Method {
	case "initialize":
		if s.NoHandshake {
			return ErrorReply(msg, mcptransport.CodeMethodNotFound, "Method not found")
		}
		info := s.Info
		if info.Name == "" {
			info = mcp.Implementation{Name: "fake", Version: "0.0.1"}
		}
		caps := s.Capabilities
		return Reply(msg, &mcp.InitializeResult{
			ProtocolVersion: "2024-11-05",
			ServerInfo:      &info,
			Capabilities:    &caps,
		})
	case "tools/list":
		return Reply(msg, map[string]any{"tools": nonNil(s.Tools)})
	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		_ = json.Unmarshal(msg.Params, &p)
		for _, tool := range s.Tools {
			if tool.Name == p.Name {
				text, _ := json.Marshal(p.Arguments)
				return Reply(msg, &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: p.Name + ":" + string(text)}},
				})
			}
		}
		return ErrorReply(msg, mcptransport.CodeInvalidParams, "unknown tool "+p.Name)
	case "resources/list":
		return Reply(msg, map[string]any{"resources": nonNil(s.Resources)})
	case "resources/read":
		var p struct {
			URI string `json:"uri"`
		}
		_ = json.Unmarshal(msg.Params, &p)
		return Reply(msg, &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{URI: p.URI, MIMEType: "text/plain", Text: "contents of " + p.URI}},
		})
	case "resources/subscribe", "resources/unsubscribe", "logging/setLevel":
		return Reply(msg, map[string]any{})
	case "prompts/list":
		return Reply(msg, map[string]any{"prompts": nonNil(s.Prompts)})
	case "prompts/get":
		var p struct {
			Name      string            `json:"name"`
			Arguments map[string]string `json:"arguments"`
		}
		_ = json.Unmarshal(msg.Params, &p)
		return Reply(msg, &mcp.GetPromptResult{
			Description: p.Name,
			Messages: []*mcp.PromptMessage{{
				Role:    "user",
				Content: &mcp.TextContent{Text: "prompt " + p.Name + " for " + p.Arguments["who"]},
			}},
		})
	case "sampling/createMessage":
		return Reply(msg, &mcp.CreateMessageResult{
			Model:   "fake-model",
			Role:    "assistant",
			Content: &mcp.TextContent{Text: "sampled"},
		})
	}
	return ErrorReply(msg, mcptransport.CodeMethodNotFound, "Method not found: "+msg.Method)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// Reply builds a success response to req.
func Reply(req *mcptransport.Message, result any) (*mcptransport.Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &mcptransport.Message{JSONRPC: mcptransport.Version, ID: req.ID, Result: raw}, nil
}

// ErrorReply builds an error response to req.
func ErrorReply(req *mcptransport.Message, code int, message string) (*mcptransport.Message, error) {
	return &mcptransport.Message{
		JSONRPC: mcptransport.Version,
		ID:      req.ID,
		Error:   &mcptransport.WireError{Code: code, Message: message},
	}, nil
}

// Session is an in-memory mcptransport.Session backed by a Server.
type Session struct {
	server *Server
	kind   mcptransport.Kind
	hub    *mcptransport.NotificationHub

	mu        sync.Mutex
	seq       int
	connected bool
	closed    bool
	methods   []string
	notified  []string
}

// NewSession returns an unconnected session for server.
func NewSession(server *Server, kind mcptransport.Kind) *Session {
	if kind == "" {
		kind = mcptransport.KindStdio
	}
	return &Session{server: server, kind: kind, hub: mcptransport.NewNotificationHub()}
}

func (s *Session) Kind() mcptransport.Kind { return s.kind }

func (s *Session) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return mcptransport.ErrClosed
	}
	if s.server.ConnectErr != nil {
		return s.server.ConnectErr
	}
	s.connected = true
	return nil
}

func (s *Session) Send(ctx context.Context, msg *mcptransport.Message) (*mcptransport.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, mcptransport.ErrClosed
	}
	if !s.connected {
		s.mu.Unlock()
		return nil, mcptransport.ErrNotConnected
	}
	out := *msg
	if !out.HasID() {
		s.seq++
		out.ID = mcptransport.IntID(int64(s.seq))
	}
	s.methods = append(s.methods, out.Method)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.server.Handle(ctx, &out)
}

func (s *Session) Notify(_ context.Context, msg *mcptransport.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return mcptransport.ErrClosed
	}
	s.notified = append(s.notified, msg.Method)
	return nil
}

func (s *Session) OnNotification(h mcptransport.NotificationHandler) func() {
	return s.hub.Subscribe(h)
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.connected = false
	s.mu.Unlock()
	s.hub.Clear()
	return nil
}

// Push delivers a server-initiated message to the registered handlers.
func (s *Session) Push(msg *mcptransport.Message) { s.hub.Dispatch(msg) }

// Methods lists the request methods sent so far.
func (s *Session) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

// Notified lists the notification methods sent so far.
func (s *Session) Notified() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notified...)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Fleet maps transport configs to fake servers, keyed by HTTP endpoint or
// stdio command.
type Fleet struct {
	mu       sync.Mutex
	servers  map[string]*Server
	sessions map[string][]*Session
	configs  map[string][]mcptransport.Config
}

// NewFleet returns an empty Fleet.
func NewFleet() *Fleet {
	return &Fleet{
		servers:  make(map[string]*Server),
		sessions: make(map[string][]*Session),
		configs:  make(map[string][]mcptransport.Config),
	}
}

// Add registers server under key.
func (f *Fleet) Add(key string, server *Server) *Server {
	f.mu.Lock()
	f.servers[key] = server
	f.mu.Unlock()
	return server
}

// Factory is an mcptransport.Factory.
func (f *Fleet) Factory(cfg mcptransport.Config, _ *mcptransport.Options) (mcptransport.Session, error) {
	key := Key(cfg)
	f.mu.Lock()
	defer f.mu.Unlock()
	server, ok := f.servers[key]
	if !ok {
		return nil, errors.New("fakemcp: no server for " + key)
	}
	s := NewSession(server, mcptransport.KindOf(cfg))
	f.sessions[key] = append(f.sessions[key], s)
	f.configs[key] = append(f.configs[key], cfg)
	return s, nil
}

// Sessions returns every session created for key.
func (f *Fleet) Sessions(key string) []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions[key]...)
}

// LastConfig returns the most recent config the factory saw for key.
func (f *Fleet) LastConfig(key string) mcptransport.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfgs := f.configs[key]
	if len(cfgs) == 0 {
		return nil
	}
	return cfgs[len(cfgs)-1]
}

// Key returns the lookup key for cfg.
func Key(cfg mcptransport.Config) string {
	switch c := cfg.(type) {
	case *mcptransport.HTTPConfig:
		return c.Endpoint
	case *mcptransport.StdioConfig:
		return c.Command
	}
	return ""
}
