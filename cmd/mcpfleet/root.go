package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-fleet-go/pkg/discovery"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
)

// app carries the persistent flags and the seams tests replace.
type app struct {
	configPath  string
	concurrency int
	baseURLs    []string
	headers     []string
	json        bool
	verbose     bool

	// The remaining fields default to the process environment.
	dir           string
	lookupEnv     func(string) (string, bool)
	userConfigDir func() (string, error)
	factory       mcptransport.Factory

	logger *slog.Logger
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcpfleet",
		Short: "Discover MCP servers and operate on them as a fleet",
		Long: `mcpfleet discovers MCP servers from mcp.json files, the MCP_SERVERS
environment variable and .well-known endpoints, then lists, calls and
health-checks them concurrently with per-server circuit breaking.

Run 'mcpfleet serve' to expose the whole fleet as one Streamable MCP endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to an mcp.json or mcp.yaml file (overrides "+discovery.EnvConfigPath+")")
	flags.IntVar(&a.concurrency, "concurrency", 20, "Maximum servers contacted at once")
	flags.StringSliceVar(&a.baseURLs, "base-url", nil, "Base URL to query for /.well-known/mcp.json (repeatable)")
	flags.StringArrayVar(&a.headers, "header", nil, `HTTP header sent to every HTTP server, as "Name: value" (repeatable)`)
	flags.BoolVar(&a.json, "json", false, "Output in JSON format")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(
		newServersCmd(a),
		newToolsCmd(a),
		newCallCmd(a),
		newHealthCmd(a),
		newServeCmd(a),
	)
	return cmd
}

func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

func (a *app) discoverer() *discovery.Discoverer {
	lookup := a.lookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if a.configPath != "" {
		base := lookup
		lookup = func(key string) (string, bool) {
			if key == discovery.EnvConfigPath {
				return a.configPath, true
			}
			return base(key)
		}
	}
	return &discovery.Discoverer{Logger: a.log(), Dir: a.dir, LookupEnv: lookup, UserConfigDir: a.userConfigDir}
}

func (a *app) parseHeaders() (map[string]string, error) {
	if len(a.headers) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(a.headers))
	for _, h := range a.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out, nil
}

// fleet discovers servers and builds a manager over them.
func (a *app) fleet(ctx context.Context) (*mcpmgr.Manager, error) {
	headers, err := a.parseHeaders()
	if err != nil {
		return nil, err
	}
	servers, err := a.discoverer().DiscoverAll(ctx, a.baseURLs)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no MCP servers found; create mcp.json or set %s", discovery.EnvServers)
	}
	return mcpmgr.NewManager(servers, &mcpmgr.ManagerOptions{
		Concurrency:    a.concurrency,
		HTTPHeaders:    headers,
		Logger:         a.log(),
		SessionFactory: a.factory,
	})
}

func (a *app) withFleet(ctx context.Context, fn func(*mcpmgr.Manager) error) error {
	m, err := a.fleet(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.DisconnectAll(context.Background()); err != nil {
			a.log().Debug("disconnect failed", "error", err)
		}
	}()
	return fn(m)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
