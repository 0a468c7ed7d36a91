package mcpmgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-fleet-go/internal/fakemcp"
	"github.com/vikashloomba/mcp-fleet-go/internal/mcptest"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpclient"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
	"github.com/vikashloomba/mcp-fleet-go/pkg/resilience"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noDelay keeps failure paths fast.
var noDelay = resilience.BackoffOptions{Base: time.Millisecond, Max: time.Millisecond, Jitter: -1}

func stdioDesc(name string) ServerDescriptor {
	return ServerDescriptor{Name: name, Transport: &mcptransport.StdioConfig{Command: name}}
}

func newFakeManager(t *testing.T, fleet *fakemcp.Fleet, opts *ManagerOptions, servers ...ServerDescriptor) *Manager {
	t.Helper()
	o := ManagerOptions{}
	if opts != nil {
		o = *opts
	}
	o.SessionFactory = fleet.Factory
	o.Logger = quietLogger()
	if o.Backoff == (resilience.BackoffOptions{}) {
		o.Backoff = noDelay
	}
	m, err := NewManager(servers, &o)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.DisconnectAll(context.Background()) })
	return m
}

func TestAddServerValidation(t *testing.T) {
	t.Parallel()

	m, err := NewManager(nil, &ManagerOptions{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.AddServer(ServerDescriptor{Transport: &mcptransport.StdioConfig{Command: "x"}}); err == nil || err.Error() != "mcpmgr: Server needs a name" {
		t.Fatalf("AddServer without name = %v", err)
	}
	if err := m.AddServer(ServerDescriptor{Name: "bare"}); err == nil {
		t.Fatal("AddServer without transport succeeded")
	}
	if _, err := NewManager([]ServerDescriptor{{}}, nil); err == nil {
		t.Fatal("NewManager accepted a nameless descriptor")
	}
}

func TestRegistryAccessors(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	m := newFakeManager(t, fleet, nil, stdioDesc("beta"), stdioDesc("alpha"))

	names := m.ServerNames()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("ServerNames = %v", names)
	}
	if !m.HasServer("alpha") || m.HasServer("gamma") {
		t.Fatal("HasServer mismatch")
	}
	status, ok := m.ServerInfo("alpha")
	if !ok {
		t.Fatal("ServerInfo(alpha) missing")
	}
	if status.Connected || status.Health.Status != HealthUnknown || status.Client != nil {
		t.Fatalf("fresh status = %+v", status)
	}
	if status.Transport != mcptransport.KindStdio {
		t.Fatalf("transport = %q", status.Transport)
	}
	if _, ok := m.ServerInfo("gamma"); ok {
		t.Fatal("ServerInfo(gamma) found")
	}
}

func TestLazyConnectRecordsHealth(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("alpha", &fakemcp.Server{
		Info:  mcp.Implementation{Name: "alpha-server", Version: "1.2.3"},
		Tools: []*mcp.Tool{{Name: "search"}},
	})
	m := newFakeManager(t, fleet, nil, stdioDesc("alpha"))

	if len(fleet.Sessions("alpha")) != 0 {
		t.Fatal("session created before first use")
	}
	tools, err := m.ListTools(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("tools = %v", tools)
	}
	if _, err := m.CallTool(context.Background(), "alpha", "search", map[string]any{"q": "go"}); err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if n := len(fleet.Sessions("alpha")); n != 1 {
		t.Fatalf("sessions = %d, want 1", n)
	}

	status, _ := m.ServerInfo("alpha")
	if !status.Connected || status.Health.Status != HealthUp {
		t.Fatalf("status = %+v", status)
	}
	if status.Health.ServerInfo.Name != "alpha-server" || status.Health.LastCheck.IsZero() {
		t.Fatalf("health = %+v", status.Health)
	}
	if status.Client == nil || !status.Client.Initialized {
		t.Fatalf("client info = %+v", status.Client)
	}
}

func TestConcurrentCallersShareOneConnection(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("alpha", &fakemcp.Server{})
	m := newFakeManager(t, fleet, nil, stdioDesc("alpha"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.ListTools(context.Background(), "alpha"); err != nil {
				t.Errorf("ListTools: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := len(fleet.Sessions("alpha")); n != 1 {
		t.Fatalf("sessions = %d, want 1", n)
	}
}

func TestFanoutToleratesErrors(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("a", &fakemcp.Server{Tools: []*mcp.Tool{{Name: "t1"}}})
	broken := fleet.Add("b", &fakemcp.Server{})
	broken.FailMethod("tools/list", errors.New("pipe closed"))
	m := newFakeManager(t, fleet, nil, stdioDesc("a"), stdioDesc("b"))

	res, err := m.ListToolsAcross(context.Background(), []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("ListToolsAcross: %v", err)
	}
	if !res["a"].OK || len(res["a"].Data) != 1 || res["a"].Data[0].Name != "t1" {
		t.Fatalf("a = %+v", res["a"])
	}
	if res["b"].OK || !strings.Contains(res["b"].Error, "pipe closed") {
		t.Fatalf("b = %+v", res["b"])
	}
	if status, _ := m.ServerInfo("b"); status.Failures != 1 || status.Connected {
		t.Fatalf("b status = %+v, want one failure and disconnected", status)
	}
	if status, _ := m.ServerInfo("a"); status.Failures != 0 || !status.Connected {
		t.Fatalf("a status = %+v", status)
	}
	if s := res.Summary(); s != (Summary{Total: 2, Successful: 1, Failed: 1}) {
		t.Fatalf("summary = %+v", s)
	}
}

func TestFanoutDefaultsToAllServers(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	for _, name := range []string{"a", "b", "c"} {
		fleet.Add(name, &fakemcp.Server{Prompts: []*mcp.Prompt{{Name: name + "-prompt"}}})
	}
	m := newFakeManager(t, fleet, nil, stdioDesc("a"), stdioDesc("b"), stdioDesc("c"))

	res, err := m.ListPromptsAcross(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("ListPromptsAcross: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("results = %v", res)
	}
	for name, r := range res {
		if !r.OK || r.Data[0].Name != name+"-prompt" {
			t.Fatalf("%s = %+v", name, r)
		}
	}
}

func TestFanoutUnknownServer(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	m := newFakeManager(t, fleet, nil)
	res, err := m.ListResourcesAcross(context.Background(), []string{"ghost"}, nil)
	if err != nil {
		t.Fatalf("ListResourcesAcross: %v", err)
	}
	var unknown *UnknownServerError
	if res["ghost"].OK || !errors.As(res["ghost"].Err, &unknown) {
		t.Fatalf("ghost = %+v", res["ghost"])
	}
}

func TestFanoutFailFast(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("a", &fakemcp.Server{})
	broken := fleet.Add("b", &fakemcp.Server{})
	boom := errors.New("boom")
	broken.FailMethod("resources/list", boom)
	m := newFakeManager(t, fleet, nil, stdioDesc("a"), stdioDesc("b"))

	res, err := m.ListResourcesAcross(context.Background(), nil, &FanoutOptions{FailFast: true})
	if err == nil {
		t.Fatal("FailFast fan-out returned no error")
	}
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "b") {
		t.Fatalf("err = %v", err)
	}
	if res != nil {
		t.Fatalf("results = %v, want nil", res)
	}
}

func TestFanoutFailFastReturnsBeforeSlowServers(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("a", &fakemcp.Server{Info: mcp.Implementation{Name: "fast", Version: "1"}})
	fleet.Add("b", &fakemcp.Server{Info: mcp.Implementation{Name: "slow", Version: "1"}})
	m := newFakeManager(t, fleet, nil, stdioDesc("a"), stdioDesc("b"))

	boom := errors.New("boom")
	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	res, err := Fanout(context.Background(), m, []string{"a", "b"}, func(ctx context.Context, c *mcpclient.Client) (int, error) {
		if c.ServerInfo().ServerInfo.Name == "slow" {
			select {
			case <-release:
			case <-time.After(2 * time.Second):
			}
			return 1, nil
		}
		return 0, boom
	}, &FanoutOptions{FailFast: true})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("FailFast fan-out took %v, waited for the slow server", elapsed)
	}
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "mcpmgr: a:") {
		t.Fatalf("err = %v", err)
	}
	if res != nil {
		t.Fatalf("results = %v, want nil", res)
	}
}

func TestFanoutEmptySelection(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("a", &fakemcp.Server{})
	m := newFakeManager(t, fleet, nil, stdioDesc("a"))

	called := false
	res, err := Fanout(context.Background(), m, nil, func(ctx context.Context, c *mcpclient.Client) (int, error) {
		called = true
		return 1, nil
	}, nil)
	if err != nil {
		t.Fatalf("Fanout: %v", err)
	}
	if res == nil || len(res) != 0 || called {
		t.Fatalf("results = %v, called = %v; want empty and untouched", res, called)
	}
	if len(fleet.Sessions("a")) != 0 {
		t.Fatalf("empty selection connected to a")
	}
}

func TestFanoutHonorsConcurrency(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	var names []string
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		fleet.Add(name, &fakemcp.Server{})
		names = append(names, name)
	}
	var descs []ServerDescriptor
	for _, name := range names {
		descs = append(descs, stdioDesc(name))
	}
	m := newFakeManager(t, fleet, nil, descs...)

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	res, err := Fanout(context.Background(), m, names, func(ctx context.Context, c *mcpclient.Client) (int, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return 1, nil
	}, &FanoutOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("Fanout: %v", err)
	}
	if res.Summary().Successful != 5 {
		t.Fatalf("summary = %+v", res.Summary())
	}
	if peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCircuitOpensAndRecovers(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	fleet := fakemcp.NewFleet()
	server := fleet.Add("flaky", &fakemcp.Server{})
	server.FailMethod("tools/list", errors.New("down"))
	m := newFakeManager(t, fleet, &ManagerOptions{
		Circuit: resilience.CircuitOptions{FailureThreshold: 2, Cooldown: time.Minute, Now: clock.Now},
	}, stdioDesc("flaky"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := m.ListTools(ctx, "flaky"); err == nil {
			t.Fatalf("attempt %d succeeded", i)
		}
	}
	calls := server.Calls("tools/list")

	_, err := m.ListTools(ctx, "flaky")
	var open *CircuitOpenError
	if !errors.As(err, &open) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want CircuitOpenError", err)
	}
	if err.Error() != "Circuit open for flaky, skipping until cooldown" {
		t.Fatalf("message = %q", err.Error())
	}
	if server.Calls("tools/list") != calls {
		t.Fatal("open circuit still reached the server")
	}

	server.FailMethod("tools/list", nil)
	clock.Advance(time.Minute)
	if _, err := m.ListTools(ctx, "flaky"); err != nil {
		t.Fatalf("after cooldown: %v", err)
	}
}

func TestFailureReconnectsFromScratch(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	server := fleet.Add("alpha", &fakemcp.Server{})
	m := newFakeManager(t, fleet, nil, stdioDesc("alpha"))
	ctx := context.Background()

	if _, err := m.ListTools(ctx, "alpha"); err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	server.FailMethod("prompts/list", errors.New("broken"))
	if err := m.Do(ctx, "alpha", func(ctx context.Context, c *mcpclient.Client) error {
		_, err := c.ListPrompts(ctx)
		return err
	}); err == nil {
		t.Fatal("Do succeeded")
	}
	sessions := fleet.Sessions("alpha")
	if len(sessions) != 1 || !sessions[0].Closed() {
		t.Fatal("failed client was not closed")
	}
	if m.Connected("alpha") {
		t.Fatal("failed client still registered")
	}
	if _, err := m.ListTools(ctx, "alpha"); err != nil {
		t.Fatalf("ListTools after failure: %v", err)
	}
	if n := len(fleet.Sessions("alpha")); n != 2 {
		t.Fatalf("sessions = %d, want 2", n)
	}
}

func TestFailureWaitsForBackoff(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("slow", &fakemcp.Server{ConnectErr: errors.New("refused")})
	m := newFakeManager(t, fleet, &ManagerOptions{
		Backoff: resilience.BackoffOptions{Base: 40 * time.Millisecond, Max: time.Second, Jitter: -1},
	}, stdioDesc("slow"))

	start := time.Now()
	_, err := m.ListTools(context.Background(), "slow")
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("err = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("error surfaced after %v, want >= 40ms", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start = time.Now()
	if _, err := m.ListTools(ctx, "slow"); err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("canceled call waited %v", elapsed)
	}
}

func TestFleetHeadersAndEnvMerge(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("https://mcp.example/sse", &fakemcp.Server{})
	fleet.Add("local", &fakemcp.Server{})
	m := newFakeManager(t, fleet, &ManagerOptions{
		HTTPHeaders: map[string]string{"Authorization": "Bearer fleet", "X-Fleet": "1"},
		Env:         map[string]string{"MODE": "fleet", "SHARED": "yes"},
	},
		ServerDescriptor{Name: "remote", Transport: &mcptransport.HTTPConfig{
			Endpoint: "https://mcp.example/sse",
			Headers:  map[string]string{"Authorization": "Bearer server"},
		}},
		ServerDescriptor{Name: "local", Transport: &mcptransport.StdioConfig{
			Command: "local",
			Env:     map[string]string{"MODE": "server"},
		}},
	)
	ctx := context.Background()
	for _, name := range []string{"remote", "local"} {
		if _, err := m.ListTools(ctx, name); err != nil {
			t.Fatalf("ListTools(%s): %v", name, err)
		}
	}

	httpCfg, _ := mcptransport.AsHTTP(fleet.LastConfig("https://mcp.example/sse"))
	if httpCfg.Headers["Authorization"] != "Bearer server" || httpCfg.Headers["X-Fleet"] != "1" {
		t.Fatalf("headers = %v", httpCfg.Headers)
	}
	stdioCfg, _ := mcptransport.AsStdio(fleet.LastConfig("local"))
	if stdioCfg.Env["MODE"] != "server" || stdioCfg.Env["SHARED"] != "yes" {
		t.Fatalf("env = %v", stdioCfg.Env)
	}
	desc := m.Registry()[0]
	if c, _ := AsStdio(desc); c.Env["SHARED"] != "" {
		t.Fatalf("registry descriptor was modified: %v", c.Env)
	}
}

func TestRemoveAndReplaceServer(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("alpha", &fakemcp.Server{})
	fleet.Add("alpha-v2", &fakemcp.Server{})
	m := newFakeManager(t, fleet, nil, stdioDesc("alpha"))
	ctx := context.Background()

	if _, err := m.ListTools(ctx, "alpha"); err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if err := m.AddServer(ServerDescriptor{Name: "alpha", Transport: &mcptransport.StdioConfig{Command: "alpha-v2"}}); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	if !fleet.Sessions("alpha")[0].Closed() {
		t.Fatal("replaced server's client left open")
	}
	if status, _ := m.ServerInfo("alpha"); status.Connected || status.Health.Status != HealthUnknown {
		t.Fatalf("replaced status = %+v", status)
	}
	if _, err := m.ListTools(ctx, "alpha"); err != nil {
		t.Fatalf("ListTools after replace: %v", err)
	}
	if n := len(fleet.Sessions("alpha-v2")); n != 1 {
		t.Fatalf("alpha-v2 sessions = %d", n)
	}

	if err := m.RemoveServer(ctx, "alpha"); err != nil {
		t.Fatalf("RemoveServer: %v", err)
	}
	if !fleet.Sessions("alpha-v2")[0].Closed() {
		t.Fatal("removed server's client left open")
	}
	if m.HasServer("alpha") {
		t.Fatal("server still registered")
	}
	var unknown *UnknownServerError
	if _, err := m.ListTools(ctx, "alpha"); !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownServerError", err)
	}
}

func TestDisconnectAll(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("a", &fakemcp.Server{})
	fleet.Add("b", &fakemcp.Server{})
	m := newFakeManager(t, fleet, nil, stdioDesc("a"), stdioDesc("b"))
	ctx := context.Background()

	if _, err := m.ListToolsAcross(ctx, nil, nil); err != nil {
		t.Fatalf("ListToolsAcross: %v", err)
	}
	if err := m.DisconnectAll(ctx); err != nil {
		t.Fatalf("DisconnectAll: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if m.Connected(name) || !fleet.Sessions(name)[0].Closed() {
			t.Fatalf("%s still connected", name)
		}
	}
	if err := m.Disconnect(ctx, "a"); err != nil {
		t.Fatalf("Disconnect of idle server: %v", err)
	}
}

func TestHealthCheckAndCallToolAcross(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("a", &fakemcp.Server{Info: mcp.Implementation{Name: "a-srv", Version: "1"}, Tools: []*mcp.Tool{{Name: "ping"}}})
	fleet.Add("b", &fakemcp.Server{NoHandshake: true, Tools: []*mcp.Tool{{Name: "ping"}}})
	fleet.Add("c", &fakemcp.Server{ConnectErr: errors.New("no route")})
	m := newFakeManager(t, fleet, nil, stdioDesc("a"), stdioDesc("b"), stdioDesc("c"))
	ctx := context.Background()

	health := m.HealthCheck(ctx, nil, 0)
	if !health["a"].OK || health["a"].Data.ServerInfo.Name != "a-srv" || !health["a"].Data.Initialized {
		t.Fatalf("a = %+v", health["a"])
	}
	if !health["b"].OK || health["b"].Data.ServerInfo.Name != "unknown" {
		t.Fatalf("b = %+v", health["b"])
	}
	if health["c"].OK || !strings.Contains(health["c"].Error, "no route") {
		t.Fatalf("c = %+v", health["c"])
	}

	calls, err := m.CallToolAcross(ctx, []string{"a", "b"}, "ping", map[string]any{"n": 1}, nil)
	if err != nil {
		t.Fatalf("CallToolAcross: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		r := calls[name]
		if !r.OK || r.Data.Content[0].(*mcp.TextContent).Text != `ping:{"n":1}` {
			t.Fatalf("%s = %+v", name, r)
		}
	}
}

func TestSingleServerHelpers(t *testing.T) {
	t.Parallel()

	fleet := fakemcp.NewFleet()
	fleet.Add("alpha", &fakemcp.Server{})
	m := newFakeManager(t, fleet, nil, stdioDesc("alpha"))
	ctx := context.Background()

	prompt, err := m.GetPrompt(ctx, "alpha", "greet", map[string]string{"who": "bob"})
	if err != nil || prompt.Messages[0].Content.(*mcp.TextContent).Text != "prompt greet for bob" {
		t.Fatalf("GetPrompt = %+v, %v", prompt, err)
	}
	read, err := m.ReadResource(ctx, "alpha", "mem://x")
	if err != nil || read.Contents[0].URI != "mem://x" {
		t.Fatalf("ReadResource = %+v, %v", read, err)
	}
	client, err := m.Client(ctx, "alpha")
	if err != nil || client.State() != mcpclient.StateInitialized {
		t.Fatalf("Client = %v, %v", client, err)
	}
}

func TestStdioFleetEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns subprocesses")
	}
	t.Parallel()

	command, args, env := mcptest.Command(mcptest.ModeEcho)
	var descs []ServerDescriptor
	for _, name := range []string{"echo-1", "echo-2"} {
		descs = append(descs, ServerDescriptor{
			Name:      name,
			Transport: &mcptransport.StdioConfig{Command: command, Args: args, Env: env},
		})
	}
	m, err := NewManager(descs, &ManagerOptions{Logger: quietLogger(), Backoff: noDelay})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.DisconnectAll(context.Background())

	res, err := m.ListToolsAcross(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("ListToolsAcross: %v", err)
	}
	for _, name := range []string{"echo-1", "echo-2"} {
		r, ok := res[name]
		if !ok || !r.OK || r.Data == nil || len(r.Data) != 0 {
			t.Fatalf("%s = %+v", name, r)
		}
		status, _ := m.ServerInfo(name)
		if status.Health.Status != HealthUp {
			t.Fatalf("%s health = %+v", name, status.Health)
		}
	}
}
