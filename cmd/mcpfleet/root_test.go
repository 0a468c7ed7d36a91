package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-fleet-go/internal/fakemcp"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
)

const fleetConfig = `servers:
  - name: alpha
    transport: {type: stdio, command: alpha-cmd}
  - name: beta
    command: beta-cmd
  - name: remote
    transport: {type: http, endpoint: "https://mcp.example.com/mcp"}
`

func run(t *testing.T, fleet *fakemcp.Fleet, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	if err := os.WriteFile(path, []byte(fleetConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a := &app{
		dir:           dir,
		lookupEnv:     func(string) (string, bool) { return "", false },
		userConfigDir: func() (string, error) { return "", errors.New("none") },
		factory:       fleet.Factory,
	}
	cmd := newRootCommand(a)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", path}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newFleet() *fakemcp.Fleet {
	f := fakemcp.NewFleet()
	f.Add("alpha-cmd", &fakemcp.Server{
		Info:  mcp.Implementation{Name: "alpha-server", Version: "2.0.0"},
		Tools: []*mcp.Tool{{Name: "add", Description: "Adds numbers.\nMore text."}},
	})
	f.Add("beta-cmd", &fakemcp.Server{Tools: []*mcp.Tool{{Name: "add"}, {Name: "sub"}}})
	f.Add("https://mcp.example.com/mcp", &fakemcp.Server{ConnectErr: errors.New("unreachable")})
	return f
}

func TestServersCommand(t *testing.T) {
	out, err := run(t, newFleet(), "servers")
	if err != nil {
		t.Fatalf("servers: %v", err)
	}
	for _, want := range []string{"NAME", "alpha", "stdio", "remote", "http", "environment variable: MCP_CONFIG_PATH"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestToolsCommandReportsFailures(t *testing.T) {
	out, err := run(t, newFleet(), "tools")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	for _, want := range []string{"alpha: ok", "Adds numbers.", "beta: ok", "remote: FAILED", "3 servers, 2 succeeded, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "More text.") {
		t.Errorf("description not truncated:\n%s", out)
	}
}

func TestCallCommandJSON(t *testing.T) {
	out, err := run(t, newFleet(), "--json", "call", "add", "alpha", "beta", "--args", `{"x":2}`)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var got struct {
		Results map[string]struct {
			OK   bool                `json:"ok"`
			Data *mcp.CallToolResult `json:"data"`
		} `json:"results"`
		Summary struct {
			Total      int `json:"total"`
			Successful int `json:"successful"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %s: %v", out, err)
	}
	if got.Summary.Total != 2 || got.Summary.Successful != 2 {
		t.Fatalf("summary = %+v", got.Summary)
	}
	if text := got.Results["beta"].Data.Content[0].(*mcp.TextContent).Text; text != `add:{"x":2}` {
		t.Fatalf("beta text = %q", text)
	}
}

func TestCallCommandRejectsBadArgs(t *testing.T) {
	if _, err := run(t, newFleet(), "call", "add", "--args", "{nope"); err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("err = %v", err)
	}
	if _, err := run(t, newFleet(), "call"); err == nil {
		t.Fatal("call without a tool succeeded")
	}
}

func TestHealthCommandSendsHeaders(t *testing.T) {
	fleet := newFleet()
	out, err := run(t, fleet, "health", "alpha", "remote", "--header", "X-Team: fleet")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "alpha-server 2.0.0") || !strings.Contains(out, "remote: FAILED") {
		t.Fatalf("output:\n%s", out)
	}
	cfg, ok := mcptransport.AsHTTP(fleet.LastConfig("https://mcp.example.com/mcp"))
	if !ok || cfg.Headers["X-Team"] != "fleet" {
		t.Fatalf("remote config = %+v", cfg)
	}
}

func TestParseHeaders(t *testing.T) {
	a := &app{headers: []string{"Authorization: Bearer t", "X-A:b"}}
	h, err := a.parseHeaders()
	if err != nil || h["Authorization"] != "Bearer t" || h["X-A"] != "b" {
		t.Fatalf("headers = %v, %v", h, err)
	}
	a.headers = []string{"no-colon"}
	if _, err := a.parseHeaders(); err == nil {
		t.Fatal("accepted a header without a colon")
	}
}
