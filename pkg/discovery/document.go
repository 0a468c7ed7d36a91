package discovery

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"
)

// document is the top-level shape shared by files, MCP_SERVERS and
// well-known endpoints.
type document struct {
	Servers []serverEntry `json:"servers" yaml:"servers"`
}

// serverEntry accepts both the nested transport format and the legacy flat
// one.
type serverEntry struct {
	Name      string          `json:"name" yaml:"name"`
	Transport *transportEntry `json:"transport,omitempty" yaml:"transport,omitempty"`
	Roots     []rootEntry     `json:"roots,omitempty" yaml:"roots,omitempty"`

	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	Endpoint string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	URL      string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type transportEntry struct {
	Type string `json:"type" yaml:"type"`

	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	RequestInit *struct {
		Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	} `json:"requestInit,omitempty" yaml:"requestInit,omitempty"`
}

type rootEntry struct {
	URI  string `json:"uri" yaml:"uri"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// parseDocument decodes data as YAML when path ends in .yaml or .yml and as
// JSON otherwise.
func parseDocument(path string, data []byte) (document, error) {
	var doc document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return document{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return document{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return doc, nil
}

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// expander replaces ${VAR} with the variable's value. Unset or empty
// variables leave the placeholder untouched.
type expander func(string) (string, bool)

func (lookup expander) expand(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
		return match
	})
}

func (lookup expander) expandMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = lookup.expand(v)
	}
	return out
}

// descriptor converts an entry. ok is false when the entry names no usable
// transport.
func (e serverEntry) descriptor(lookup expander) (mcpmgr.ServerDescriptor, bool) {
	desc := mcpmgr.ServerDescriptor{Name: e.Name}
	for _, r := range e.Roots {
		desc.Roots = append(desc.Roots, &mcp.Root{URI: r.URI, Name: r.Name})
	}

	if t := e.Transport; t != nil && t.Type != "" {
		if kind, known := mcptransport.ParseKind(t.Type); known && kind == mcptransport.KindStdio {
			desc.Transport = &mcptransport.StdioConfig{
				Command: t.Command,
				Args:    append([]string{}, t.Args...),
				Dir:     t.Cwd,
				Env:     lookup.expandMap(t.Env),
			}
		} else if known {
			headers := t.Headers
			if t.RequestInit != nil && t.RequestInit.Headers != nil {
				headers = t.RequestInit.Headers
			}
			desc.Transport = &mcptransport.HTTPConfig{
				Endpoint:  lookup.expand(t.Endpoint),
				Headers:   lookup.expandMap(headers),
				Stateless: kind == mcptransport.KindHTTPPost,
			}
		}
	}

	if desc.Transport == nil {
		switch {
		case e.Command != "":
			desc.Transport = &mcptransport.StdioConfig{
				Command: e.Command,
				Args:    append([]string{}, e.Args...),
				Dir:     e.Cwd,
				Env:     lookup.expandMap(e.Env),
			}
		case e.Endpoint != "" || e.URL != "":
			endpoint := e.Endpoint
			if endpoint == "" {
				endpoint = e.URL
			}
			desc.Transport = &mcptransport.HTTPConfig{
				Endpoint: lookup.expand(endpoint),
				Headers:  lookup.expandMap(e.Headers),
			}
		}
	}
	return desc, desc.Transport != nil
}
