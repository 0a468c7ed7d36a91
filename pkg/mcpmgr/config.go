package mcpmgr

import (
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
	"github.com/vikashloomba/mcp-fleet-go/pkg/resilience"
)

// ServerDescriptor describes one remote MCP server. Transport is either an
// *mcptransport.HTTPConfig or an *mcptransport.StdioConfig.
type ServerDescriptor struct {
	Name      string
	Transport mcptransport.Config
	// Roots are advertised to the server during the handshake.
	Roots []*mcp.Root
}

// Kind reports the descriptor's transport binding.
func (d ServerDescriptor) Kind() mcptransport.Kind { return mcptransport.KindOf(d.Transport) }

func (d ServerDescriptor) clone() ServerDescriptor {
	out := d
	out.Transport = mcptransport.Clone(d.Transport)
	out.Roots = append([]*mcp.Root(nil), d.Roots...)
	return out
}

// HealthStatus is the last known reachability of a server.
type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthUp      HealthStatus = "up"
)

// Health is the snapshot recorded whenever a connection is established.
type Health struct {
	Status       HealthStatus            `json:"status"`
	LastCheck    time.Time               `json:"lastCheck,omitempty"`
	ServerInfo   *mcp.Implementation     `json:"serverInfo,omitempty"`
	Capabilities *mcp.ServerCapabilities `json:"serverCapabilities,omitempty"`
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// Concurrency caps in-flight servers per fan-out. Defaults to 20.
	Concurrency int
	// ClientName is advertised during the handshake. Defaults to
	// "mcp-fleet-manager".
	ClientName string
	// ClientVersion defaults to "1.0.0".
	ClientVersion string
	// HTTPHeaders are sent to every HTTP server. Per-server headers win.
	HTTPHeaders map[string]string
	// Env is merged into every stdio server's environment. Per-server
	// values win.
	Env map[string]string

	Backoff resilience.BackoffOptions
	Circuit resilience.CircuitOptions
	// Transport carries session timeouts. Server and Logger are filled in
	// per server.
	Transport mcptransport.Options
	// RPCLogger observes every JSON-RPC message of every server.
	RPCLogger mcptransport.RPCLogger
	Logger    *slog.Logger
	// Metrics, when set, receives the fleet collectors.
	Metrics prometheus.Registerer
	// SessionFactory overrides mcptransport.New.
	SessionFactory mcptransport.Factory
}

func (o *ManagerOptions) normalized() ManagerOptions {
	var out ManagerOptions
	if o != nil {
		out = *o
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 20
	}
	if out.ClientName == "" {
		out.ClientName = "mcp-fleet-manager"
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
	return out
}
