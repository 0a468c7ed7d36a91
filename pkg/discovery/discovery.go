package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
)

const (
	// EnvConfigPath names an explicit configuration file.
	EnvConfigPath = "MCP_CONFIG_PATH"
	// EnvServers holds a JSON array of server entries.
	EnvServers = "MCP_SERVERS"

	wellKnownPath = "/.well-known/mcp.json"
)

// Discovered is a descriptor together with the source that defined it.
type Discovered struct {
	mcpmgr.ServerDescriptor
	Source string
}

// Discoverer collects server descriptors. The zero value reads the real
// environment and file system.
type Discoverer struct {
	Logger *slog.Logger
	// HTTPClient fetches well-known documents. Defaults to a client with
	// WellKnownTimeout.
	HTTPClient *http.Client
	// WellKnownTimeout bounds each well-known fetch. Defaults to 5s.
	WellKnownTimeout time.Duration
	// Dir resolves the relative paths ./mcp.json and ./.vscode/mcp.json.
	// Defaults to the working directory.
	Dir string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// UserConfigDir defaults to os.UserConfigDir.
	UserConfigDir func() (string, error)

	mu    sync.RWMutex
	found []Discovered
}

func (d *Discoverer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Discoverer) lookup() expander {
	if d.LookupEnv != nil {
		return d.LookupEnv
	}
	return os.LookupEnv
}

// DiscoverAll replaces the previous results with a fresh scan of every
// source. Unreadable or malformed sources are logged and skipped; the error
// is non-nil only when ctx ends first.
func (d *Discoverer) DiscoverAll(ctx context.Context, baseURLs []string) ([]mcpmgr.ServerDescriptor, error) {
	var (
		found []Discovered
		seen  = map[string]string{}
	)
	add := func(entries []serverEntry, source string) {
		for _, entry := range entries {
			d.add(&found, seen, entry, source)
		}
	}
	lookup := d.lookup()

	if path, ok := lookup(EnvConfigPath); ok && path != "" {
		add(d.readFile(path), "environment variable: "+EnvConfigPath+": "+path)
	}
	for _, name := range []string{"mcp.json", "mcp.yaml", "mcp.yml"} {
		path := d.resolve(name)
		add(d.readFile(path), "current directory: "+path)
	}
	if dir, err := d.userConfigDir(); err == nil {
		path := filepath.Join(dir, "mcp", "mcp.json")
		add(d.readFile(path), "user config: "+path)
	} else {
		d.logger().Debug("no user config directory", "error", err)
	}
	vscode := d.resolve(filepath.Join(".vscode", "mcp.json"))
	add(d.readFile(vscode), "VSCode workspace: "+vscode)
	add(d.readEnv(), "environment variable: "+EnvServers)

	for _, base := range baseURLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		add(d.fetchWellKnown(ctx, base), ".well-known: "+base)
	}

	d.mu.Lock()
	d.found = found
	d.mu.Unlock()
	return d.Servers(), nil
}

func (d *Discoverer) add(found *[]Discovered, seen map[string]string, entry serverEntry, source string) {
	log := d.logger()
	if entry.Name == "" {
		log.Warn("skipping MCP server without name", "source", source)
		return
	}
	if first, dup := seen[entry.Name]; dup {
		log.Debug("duplicate MCP server, keeping first", "server", entry.Name, "source", source, "first", first)
		return
	}
	desc, ok := entry.descriptor(d.lookup())
	if !ok {
		log.Warn("skipping MCP server without transport", "server", entry.Name, "source", source)
		return
	}
	seen[entry.Name] = source
	*found = append(*found, Discovered{ServerDescriptor: desc, Source: source})
	log.Info("discovered MCP server", "server", entry.Name, "source", source, "transport", string(desc.Kind()))
}

func (d *Discoverer) resolve(name string) string {
	if d.Dir == "" {
		return name
	}
	return filepath.Join(d.Dir, name)
}

func (d *Discoverer) userConfigDir() (string, error) {
	if d.UserConfigDir != nil {
		return d.UserConfigDir()
	}
	return os.UserConfigDir()
}

// readFile returns the entries in path. A missing file is silent.
func (d *Discoverer) readFile(path string) []serverEntry {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger().Warn("error reading MCP config", "path", path, "error", err)
		}
		return nil
	}
	doc, err := parseDocument(path, data)
	if err != nil {
		d.logger().Warn("error reading MCP config", "path", path, "error", err)
		return nil
	}
	return doc.Servers
}

func (d *Discoverer) readEnv() []serverEntry {
	raw, ok := d.lookup()(EnvServers)
	if !ok || raw == "" {
		return nil
	}
	var entries []serverEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		d.logger().Warn("error parsing "+EnvServers, "error", err)
		return nil
	}
	return entries
}

func (d *Discoverer) fetchWellKnown(ctx context.Context, base string) []serverEntry {
	log := d.logger()
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		log.Warn("error fetching .well-known", "base_url", base, "error", fmt.Errorf("invalid base URL %q", base))
		return nil
	}
	target := u.ResolveReference(&url.URL{Path: wellKnownPath}).String()

	timeout := d.WellKnownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		log.Warn("error fetching .well-known", "base_url", base, "error", err)
		return nil
	}
	req.Header.Set("Accept", "application/json")
	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Warn("error fetching .well-known", "base_url", base, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug("no .well-known document", "base_url", base, "status", resp.StatusCode)
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Warn("error fetching .well-known", "base_url", base, "error", err)
		return nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn("error fetching .well-known", "base_url", base, "error", err)
		return nil
	}
	return doc.Servers
}

// Servers returns copies of the descriptors from the last DiscoverAll, in
// discovery order.
func (d *Discoverer) Servers() []mcpmgr.ServerDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]mcpmgr.ServerDescriptor, 0, len(d.found))
	for _, f := range d.found {
		out = append(out, copyDescriptor(f.ServerDescriptor))
	}
	return out
}

// Server returns the descriptor named name and the source that defined it.
func (d *Discoverer) Server(name string) (Discovered, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, f := range d.found {
		if f.Name == name {
			f.ServerDescriptor = copyDescriptor(f.ServerDescriptor)
			return f, true
		}
	}
	return Discovered{}, false
}

// ServersByTransport returns the descriptors using kind.
func (d *Discoverer) ServersByTransport(kind mcptransport.Kind) []mcpmgr.ServerDescriptor {
	var out []mcpmgr.ServerDescriptor
	for _, desc := range d.Servers() {
		if desc.Kind() == kind {
			out = append(out, desc)
		}
	}
	return out
}

func copyDescriptor(desc mcpmgr.ServerDescriptor) mcpmgr.ServerDescriptor {
	desc.Transport = mcptransport.Clone(desc.Transport)
	return desc
}
