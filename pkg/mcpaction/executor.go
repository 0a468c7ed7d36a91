package mcpaction

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-fleet-go/pkg/discovery"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpclient"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
)

// Operation is a top-level request handled by Execute.
type Operation string

const (
	OpListServers           Operation = "List Servers"
	OpGetServerCapabilities Operation = "Get Server Capabilities"
	OpUseServer             Operation = "Use Server"
	OpConnectRemoteURL      Operation = "Connect to Remote URL"
	OpCloseConnection       Operation = "Close Connection"
	OpCloseAllConnections   Operation = "Close All Connections"
	OpFleet                 Operation = "Fleet"
)

// Operations lists the recognized operations.
func Operations() []Operation {
	return []Operation{
		OpListServers, OpGetServerCapabilities, OpUseServer, OpConnectRemoteURL,
		OpCloseConnection, OpCloseAllConnections, OpFleet,
	}
}

// Run holds the live clients of one logical workflow run. It is owned by
// the caller and safe for concurrent use.
type Run struct {
	ID string

	mu      sync.Mutex
	clients map[string]*mcpclient.Client
}

// NewRun returns an empty Run with a random ID.
func NewRun() *Run {
	return &Run{ID: uuid.NewString(), clients: make(map[string]*mcpclient.Client)}
}

func (r *Run) get(name string) *mcpclient.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[name]
}

func (r *Run) put(name string, c *mcpclient.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients == nil {
		r.clients = make(map[string]*mcpclient.Client)
	}
	r.clients[name] = c
}

func (r *Run) take(name string) *mcpclient.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.clients[name]
	delete(r.clients, name)
	return c
}

// Names lists the servers with a live client, sorted.
func (r *Run) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every client and returns the names it closed.
func (r *Run) Close() []string {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*mcpclient.Client)
	r.mu.Unlock()

	names := make([]string, 0, len(clients))
	for name, c := range clients {
		_ = c.Close()
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// ClientName is advertised by single-server clients. Defaults to
	// "mcp-fleet-client".
	ClientName string
	// Fleet configures the lazily built Manager. Its ClientName defaults to
	// "mcp-fleet-manager".
	Fleet  mcpmgr.ManagerOptions
	Logger *slog.Logger
	// SessionFactory overrides mcptransport.New for single-server clients.
	// Set Fleet.SessionFactory for the fleet.
	SessionFactory mcptransport.Factory
}

// Executor dispatches Params to the handler of their operation. It owns a
// Discoverer and a Manager that is built on first fleet use.
type Executor struct {
	discoverer *discovery.Discoverer
	opts       ExecutorOptions
	log        *slog.Logger

	mu      sync.Mutex
	manager *mcpmgr.Manager
}

// NewExecutor returns an Executor backed by d. A nil d uses a Discoverer
// reading the real environment.
func NewExecutor(d *discovery.Discoverer, opts *ExecutorOptions) *Executor {
	var o ExecutorOptions
	if opts != nil {
		o = *opts
	}
	if o.ClientName == "" {
		o.ClientName = "mcp-fleet-client"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Fleet.Logger == nil {
		o.Fleet.Logger = o.Logger
	}
	if d == nil {
		d = &discovery.Discoverer{Logger: o.Logger}
	}
	return &Executor{discoverer: d, opts: o, log: o.Logger}
}

type operationFunc func(e *Executor, ctx context.Context, run *Run, p Params) (Output, error)

var operationTable = map[Operation]operationFunc{
	OpListServers:           (*Executor).listServers,
	OpGetServerCapabilities: (*Executor).serverCapabilities,
	OpUseServer:             (*Executor).useServer,
	OpConnectRemoteURL:      (*Executor).connectRemote,
	OpCloseConnection:       (*Executor).closeConnection,
	OpCloseAllConnections:   (*Executor).closeAll,
	OpFleet:                 (*Executor).fleet,
}

// Execute runs p against run. Failures are reported in the Output rather
// than as an error. An empty operation lists servers.
func (e *Executor) Execute(ctx context.Context, run *Run, p Params) Output {
	if run == nil {
		run = NewRun()
	}
	if p.Operation == "" {
		p.Operation = OpListServers
	}
	out, err := e.Do(ctx, run, p)
	if err != nil {
		e.log.Error("MCP operation failed", "operation", string(p.Operation), "run", run.ID, "error", err)
		return Output{Success: false, Error: err.Error()}
	}
	return out
}

// Do is Execute with the failure returned as an error.
func (e *Executor) Do(ctx context.Context, run *Run, p Params) (Output, error) {
	fn, ok := operationTable[p.Operation]
	if !ok {
		op := string(p.Operation)
		if op == "" {
			op = "undefined"
		}
		return Output{}, fmt.Errorf("Unknown operation: %s", op)
	}
	if _, err := e.discover(ctx, p); err != nil {
		return Output{}, err
	}
	return fn(e, ctx, run, p)
}

func (e *Executor) discover(ctx context.Context, p Params) ([]mcpmgr.ServerDescriptor, error) {
	return e.discoverer.DiscoverAll(ctx, splitList(p.BaseURLs))
}

func (e *Executor) listServers(_ context.Context, _ *Run, _ Params) (Output, error) {
	servers := e.discoverer.Servers()
	listing := make([]ServerListing, 0, len(servers))
	for _, desc := range servers {
		found, _ := e.discoverer.Server(desc.Name)
		listing = append(listing, ServerListing{Name: desc.Name, Transport: string(desc.Kind()), From: found.Source})
	}
	return Output{Success: true, Servers: listing, Count: intPtr(len(listing))}, nil
}

func (e *Executor) newClient(desc mcpmgr.ServerDescriptor, extraHeaders map[string]string) *mcpclient.Client {
	cfg := mcptransport.Clone(desc.Transport)
	if h, ok := mcptransport.AsHTTP(cfg); ok && len(extraHeaders) > 0 {
		if h.Headers == nil {
			h.Headers = make(map[string]string, len(extraHeaders))
		}
		maps.Copy(h.Headers, extraHeaders)
	}
	return mcpclient.New(&mcpclient.Options{
		Transport:  cfg,
		ClientName: e.opts.ClientName,
		Roots:      desc.Roots,
		Logger:     e.log.With("server", desc.Name),
		TransportOptions: &mcptransport.Options{
			Server: desc.Name,
			Logger: e.log.With("server", desc.Name),
		},
		SessionFactory: e.opts.SessionFactory,
	})
}

func (e *Executor) serverCapabilities(ctx context.Context, _ *Run, p Params) (Output, error) {
	if p.ServerName == "" {
		return Output{}, requiredFor("serverName", OpGetServerCapabilities)
	}
	found, ok := e.discoverer.Server(p.ServerName)
	if !ok {
		return Output{}, fmt.Errorf("Server %q not found", p.ServerName)
	}
	client := e.newClient(found.ServerDescriptor, nil)
	defer client.Close()
	if _, err := client.Initialize(ctx); err != nil {
		return Output{}, err
	}

	var (
		caps   Capabilities
		counts [3]int
		g      errgroup.Group
	)
	g.Go(func() error {
		tools, err := client.ListTools(ctx)
		if err != nil {
			caps.Tools = []any{}
			return nil
		}
		caps.Tools, counts[0] = tools, len(tools)
		return nil
	})
	g.Go(func() error {
		resources, err := client.ListResources(ctx)
		if err != nil {
			caps.Resources = []any{}
			return nil
		}
		caps.Resources, counts[1] = resources, len(resources)
		return nil
	})
	g.Go(func() error {
		prompts, err := client.ListPrompts(ctx)
		if err != nil {
			caps.Prompts = []any{}
			return nil
		}
		caps.Prompts, counts[2] = prompts, len(prompts)
		return nil
	})
	_ = g.Wait()

	info := client.ServerInfo()
	return Output{
		Success:       true,
		ServerName:    p.ServerName,
		ServerInfo:    &info,
		Capabilities:  &caps,
		ToolCount:     intPtr(counts[0]),
		ResourceCount: intPtr(counts[1]),
		PromptCount:   intPtr(counts[2]),
	}, nil
}

func (e *Executor) useServer(ctx context.Context, run *Run, p Params) (Output, error) {
	if p.ServerName == "" {
		return Output{}, requiredFor("serverName", OpUseServer)
	}
	if p.Action == "" {
		return Output{}, requiredFor("action", OpUseServer)
	}
	found, ok := e.discoverer.Server(p.ServerName)
	if !ok {
		return Output{}, fmt.Errorf("Server %q not found even after discovery. Check mcp.json configuration.", p.ServerName)
	}
	return e.perform(ctx, run, found.ServerDescriptor, nil, p)
}

// RemoteName derives the registry name for an ad hoc server URL:
// "remote-" + host + path with every "/" replaced by "-".
func RemoteName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q", rawURL)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return "remote-" + u.Host + strings.ReplaceAll(path, "/", "-"), nil
}

func (e *Executor) connectRemote(ctx context.Context, run *Run, p Params) (Output, error) {
	if p.ServerURL == "" {
		return Output{}, requiredFor("serverUrl", OpConnectRemoteURL)
	}
	if p.Action == "" {
		return Output{}, requiredFor("action", OpConnectRemoteURL)
	}
	name, err := RemoteName(p.ServerURL)
	if err != nil {
		return Output{}, err
	}
	var headers map[string]string
	if p.AuthToken != "" {
		headers = map[string]string{"Authorization": "Bearer " + p.AuthToken}
	}
	desc := mcpmgr.ServerDescriptor{
		Name:      name,
		Transport: &mcptransport.HTTPConfig{Endpoint: p.ServerURL},
	}
	return e.perform(ctx, run, desc, headers, p)
}

// perform reuses or creates the run's client for desc and runs the action.
// A failed action closes and forgets the client.
func (e *Executor) perform(ctx context.Context, run *Run, desc mcpmgr.ServerDescriptor, headers map[string]string, p Params) (Output, error) {
	client := run.get(desc.Name)
	if client == nil {
		client = e.newClient(desc, headers)
		if _, err := client.Initialize(ctx); err != nil {
			_ = client.Close()
			return Output{}, err
		}
		run.put(desc.Name, client)
		e.log.Debug("created MCP connection", "server", desc.Name, "run", run.ID)
	}

	result, err := Perform(ctx, client, p.Action, p)
	if err != nil {
		e.log.Warn("MCP action failed, closing connection", "server", desc.Name, "action", string(p.Action), "error", err)
		if c := run.take(desc.Name); c != nil {
			_ = c.Close()
		}
		return Output{}, err
	}
	info := client.ServerInfo()
	return Output{Success: true, Result: result, ServerInfo: &info}, nil
}

func (e *Executor) closeConnection(_ context.Context, run *Run, p Params) (Output, error) {
	if p.ServerName == "" {
		return Output{}, requiredFor("serverName", OpCloseConnection)
	}
	client := run.take(p.ServerName)
	if client == nil {
		return Output{Success: false, Message: "No active connection found for " + p.ServerName}, nil
	}
	if err := client.Close(); err != nil {
		e.log.Debug("error closing MCP connection", "server", p.ServerName, "error", err)
	}
	return Output{Success: true, Message: "Connection to " + p.ServerName + " closed"}, nil
}

func (e *Executor) closeAll(_ context.Context, run *Run, _ Params) (Output, error) {
	closed := run.Close()
	return Output{Success: true, ClosedConnections: closed, Count: intPtr(len(closed))}, nil
}

// Manager returns the fleet manager, building it from the discovered servers
// on first use.
func (e *Executor) Manager() (*mcpmgr.Manager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.manager != nil {
		return e.manager, nil
	}
	m, err := mcpmgr.NewManager(e.discoverer.Servers(), &e.opts.Fleet)
	if err != nil {
		return nil, err
	}
	e.manager = m
	return m, nil
}

func (e *Executor) fleet(ctx context.Context, _ *Run, p Params) (Output, error) {
	fn, err := lookupFleetAction(p.FleetAction)
	if err != nil {
		return Output{}, err
	}
	m, err := e.Manager()
	if err != nil {
		return Output{}, err
	}

	targets := splitList(p.ServerNames)
	if len(targets) == 0 && p.ServerURL != "" {
		targets = []string{p.ServerURL}
	}
	for _, target := range targets {
		if !isURL(target) || m.HasServer(target) {
			continue
		}
		if err := m.AddServer(mcpmgr.ServerDescriptor{
			Name:      target,
			Transport: &mcptransport.HTTPConfig{Endpoint: target},
		}); err != nil {
			return Output{}, err
		}
	}
	// Servers discovered after the manager was built join the fleet.
	for _, desc := range e.discoverer.Servers() {
		if !m.HasServer(desc.Name) {
			if err := m.AddServer(desc); err != nil {
				return Output{}, err
			}
		}
	}
	if len(targets) == 0 {
		targets = m.ServerNames()
	}

	res, err := fn(ctx, m, targets, p)
	if err != nil {
		return Output{}, err
	}
	return Output{Success: true, Result: res.results, Summary: &res.summary, Targets: targets}, nil
}

// Close closes the fleet's connections. Runs are closed by their owners.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	m := e.manager
	e.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.DisconnectAll(ctx)
}
