package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpclient"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
	"github.com/vikashloomba/mcp-fleet-go/pkg/resilience"
)

// ServerStatus is an introspection snapshot of one registered server.
type ServerStatus struct {
	Name      string            `json:"name"`
	Transport mcptransport.Kind `json:"transport"`
	Connected bool              `json:"connected"`
	Health    Health            `json:"health"`
	// Client is the live client's self-reported info; nil when not
	// connected.
	Client *mcpclient.Info `json:"client,omitempty"`
	// Failures is the circuit's consecutive failure count.
	Failures  int       `json:"failures"`
	OpenUntil time.Time `json:"openUntil,omitempty"`
}

// Manager orchestrates MCP clients for a registry of servers.
type Manager struct {
	mu sync.RWMutex

	options ManagerOptions
	log     *slog.Logger
	metrics *fleetMetrics

	states map[string]*managedState
}

type managedState struct {
	desc    ServerDescriptor
	backoff *resilience.Backoff
	circuit *resilience.CircuitBreaker
	health  Health

	client *mcpclient.Client

	connecting bool
	connectCh  chan struct{}
}

// NewManager constructs a Manager with an initial set of servers. Callers can
// provide nil options to fall back to the defaults.
func NewManager(servers []ServerDescriptor, opts *ManagerOptions) (*Manager, error) {
	options := opts.normalized()
	metrics, err := newFleetMetrics(options.Metrics)
	if err != nil {
		return nil, fmt.Errorf("mcpmgr: register metrics: %w", err)
	}
	m := &Manager{
		options: options,
		log:     options.Logger,
		metrics: metrics,
		states:  make(map[string]*managedState),
	}
	for _, desc := range servers {
		if err := m.AddServer(desc); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) newState(desc ServerDescriptor) *managedState {
	return &managedState{
		desc:    desc.clone(),
		backoff: resilience.NewBackoff(m.options.Backoff),
		circuit: resilience.NewCircuitBreaker(m.options.Circuit),
		health:  Health{Status: HealthUnknown},
	}
}

// AddServer registers desc, replacing any server with the same name. A
// replaced server's live client is closed and its resilience state is reset.
func (m *Manager) AddServer(desc ServerDescriptor) error {
	if desc.Name == "" {
		return errors.New("mcpmgr: Server needs a name")
	}
	if desc.Transport == nil {
		return fmt.Errorf("mcpmgr: server %q has no transport", desc.Name)
	}
	m.mu.Lock()
	var stale *mcpclient.Client
	if old, ok := m.states[desc.Name]; ok {
		stale = old.client
		old.client = nil
	}
	m.states[desc.Name] = m.newState(desc)
	m.mu.Unlock()

	if stale != nil {
		m.closeClient(desc.Name, stale)
	}
	return nil
}

// RemoveServer disconnects name and drops it from the registry.
func (m *Manager) RemoveServer(ctx context.Context, name string) error {
	err := m.Disconnect(ctx, name)
	m.mu.Lock()
	delete(m.states, name)
	m.mu.Unlock()
	m.metrics.forget(name)
	return err
}

// HasServer reports whether name is registered.
func (m *Manager) HasServer(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.states[name]
	return ok
}

// ServerNames returns the registered names in lexical order.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.states))
	for name := range m.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry returns copies of the registered descriptors ordered by name.
func (m *Manager) Registry() []ServerDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerDescriptor, 0, len(m.states))
	for _, state := range m.states {
		out = append(out, state.desc.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ServerInfo returns a snapshot for name.
func (m *Manager) ServerInfo(name string) (ServerStatus, bool) {
	m.mu.RLock()
	state, ok := m.states[name]
	if !ok {
		m.mu.RUnlock()
		return ServerStatus{}, false
	}
	status := ServerStatus{
		Name:      name,
		Transport: state.desc.Kind(),
		Connected: state.client != nil,
		Health:    state.health,
	}
	client := state.client
	m.mu.RUnlock()

	if client != nil {
		info := client.ServerInfo()
		status.Client = &info
	}
	status.Failures = state.circuit.Failures()
	status.OpenUntil = state.circuit.OpenUntil()
	return status, true
}

// Connected reports whether name currently has a live client.
func (m *Manager) Connected(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[name]
	return ok && state.client != nil
}

// Client returns the live client for name, connecting it first when needed.
// It bypasses the circuit breaker; prefer WithClient for operations.
func (m *Manager) Client(ctx context.Context, name string) (*mcpclient.Client, error) {
	return m.connect(ctx, name)
}

// connect returns the live client for name or establishes one. Concurrent
// callers share a single connection attempt.
func (m *Manager) connect(ctx context.Context, name string) (*mcpclient.Client, error) {
	for {
		m.mu.Lock()
		state, ok := m.states[name]
		if !ok {
			m.mu.Unlock()
			return nil, &UnknownServerError{Server: name}
		}
		if state.client != nil {
			client := state.client
			m.mu.Unlock()
			return client, nil
		}
		if state.connecting {
			ch := state.connectCh
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ch:
				continue
			}
		}
		state.connecting = true
		state.connectCh = make(chan struct{})
		desc := state.desc
		m.mu.Unlock()

		client, err := m.dial(ctx, desc)

		m.mu.Lock()
		state.connecting = false
		close(state.connectCh)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		if m.states[name] != state {
			m.mu.Unlock()
			m.closeClient(name, client)
			return nil, fmt.Errorf("mcpmgr: server %q was replaced while connecting", name)
		}
		info := client.ServerInfo()
		state.client = client
		state.backoff.Reset()
		state.circuit.RecordSuccess()
		state.health = Health{
			Status:       HealthUp,
			LastCheck:    time.Now(),
			ServerInfo:   info.ServerInfo,
			Capabilities: info.Capabilities,
		}
		m.mu.Unlock()

		m.log.Info("connected to MCP server", "server", name, "transport", string(desc.Kind()), "handshake", info.Handshake)
		return client, nil
	}
}

func (m *Manager) dial(ctx context.Context, desc ServerDescriptor) (*mcpclient.Client, error) {
	topts := m.options.Transport
	topts.Server = desc.Name
	if topts.Logger == nil {
		topts.Logger = m.log.With("server", desc.Name)
	}
	if m.options.RPCLogger != nil {
		topts.RPCLogger = m.options.RPCLogger
	}
	client := mcpclient.New(&mcpclient.Options{
		Transport:        m.transportFor(desc),
		TransportOptions: &topts,
		ClientName:       m.options.ClientName,
		ClientVersion:    m.options.ClientVersion,
		Roots:            desc.Roots,
		Logger:           m.log.With("server", desc.Name),
		SessionFactory:   m.options.SessionFactory,
	})
	if _, err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// transportFor overlays fleet-wide headers or environment under the
// descriptor's own values.
func (m *Manager) transportFor(desc ServerDescriptor) mcptransport.Config {
	cfg := mcptransport.Clone(desc.Transport)
	switch c := cfg.(type) {
	case *mcptransport.HTTPConfig:
		c.Headers = overlay(m.options.HTTPHeaders, c.Headers)
	case *mcptransport.StdioConfig:
		c.Env = overlay(m.options.Env, c.Env)
	}
	return cfg
}

func overlay(base, override map[string]string) map[string]string {
	if len(base) == 0 {
		return override
	}
	out := make(map[string]string, len(base)+len(override))
	maps.Copy(out, base)
	maps.Copy(out, override)
	return out
}

// Disconnect closes the live client for name, if any. Close errors are logged
// and swallowed; only ctx expiry is reported.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	client := m.detach(name)
	if client == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	go func() {
		m.closeClient(name, client)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (m *Manager) detach(name string) *mcpclient.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[name]
	if !ok || state.client == nil {
		return nil
	}
	client := state.client
	state.client = nil
	return client
}

func (m *Manager) closeClient(name string, client *mcpclient.Client) {
	if err := client.Close(); err != nil {
		m.log.Debug("error closing MCP client", "server", name, "error", err)
	}
}

// DisconnectAll closes every live client concurrently.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range m.ServerNames() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Disconnect(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (m *Manager) state(name string) (*managedState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[name]
	return state, ok
}

// WithClient runs op against name's client. An open circuit fails fast with a
// *CircuitOpenError. On failure the circuit records it, the client is
// disconnected, and the call sleeps for the server's next backoff delay
// before returning op's error unchanged.
func WithClient[T any](ctx context.Context, m *Manager, name string, op func(context.Context, *mcpclient.Client) (T, error)) (T, error) {
	var zero T
	state, ok := m.state(name)
	if !ok {
		return zero, &UnknownServerError{Server: name}
	}
	if !state.circuit.CanAttempt() {
		m.metrics.rejected(name)
		return zero, &CircuitOpenError{Server: name, Until: state.circuit.OpenUntil()}
	}

	start := time.Now()
	client, err := m.connect(ctx, name)
	if err == nil {
		var out T
		out, err = op(ctx, client)
		if err == nil {
			state.circuit.RecordSuccess()
			m.metrics.observe(name, start, nil)
			return out, nil
		}
	}
	m.metrics.observe(name, start, err)

	opened := state.circuit.RecordFailure()
	if client := m.detach(name); client != nil {
		m.closeClient(name, client)
	}
	delay := state.backoff.NextDelay()
	m.log.Warn("MCP server operation failed", "server", name, "error", err, "delay", delay, "circuit_opened", opened)
	sleep(ctx, delay)
	return zero, err
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Do runs op against name with the same bookkeeping as WithClient.
func (m *Manager) Do(ctx context.Context, name string, op func(context.Context, *mcpclient.Client) error) error {
	_, err := WithClient(ctx, m, name, func(ctx context.Context, c *mcpclient.Client) (struct{}, error) {
		return struct{}{}, op(ctx, c)
	})
	return err
}

// ListTools lists one server's tools.
func (m *Manager) ListTools(ctx context.Context, name string) ([]*mcp.Tool, error) {
	return WithClient(ctx, m, name, func(ctx context.Context, c *mcpclient.Client) ([]*mcp.Tool, error) {
		return c.ListTools(ctx)
	})
}

// CallTool invokes tool on one server.
func (m *Manager) CallTool(ctx context.Context, name, tool string, args any) (*mcp.CallToolResult, error) {
	return WithClient(ctx, m, name, func(ctx context.Context, c *mcpclient.Client) (*mcp.CallToolResult, error) {
		return c.CallTool(ctx, tool, args)
	})
}

// GetPrompt renders prompt on one server.
func (m *Manager) GetPrompt(ctx context.Context, name, prompt string, args map[string]string) (*mcp.GetPromptResult, error) {
	return WithClient(ctx, m, name, func(ctx context.Context, c *mcpclient.Client) (*mcp.GetPromptResult, error) {
		return c.GetPrompt(ctx, prompt, args)
	})
}

// ReadResource reads uri from one server.
func (m *Manager) ReadResource(ctx context.Context, name, uri string) (*mcp.ReadResourceResult, error) {
	return WithClient(ctx, m, name, func(ctx context.Context, c *mcpclient.Client) (*mcp.ReadResourceResult, error) {
		return c.ReadResource(ctx, uri)
	})
}
