package mcpgateway

import (
	"maps"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	metaKeyServer     = "mcpgateway.server"
	metaKeyNativeName = "mcpgateway.native_name"
	metaKeyNativeURI  = "mcpgateway.native_uri"
)

// target locates the upstream feature behind an exposed name or URI.
type target struct {
	Exposed string
	Server  string
	Native  string
}

// registration pairs a feature rewritten for the gateway with its target.
type registration[F any] struct {
	Feature F
	Target  target
}

// catalog tracks one kind of feature per server.
type catalog struct {
	byExposed map[string]target
	byServer  map[string][]string
	byNative  map[string]string
}

func newCatalog() catalog {
	return catalog{
		byExposed: make(map[string]target),
		byServer:  make(map[string][]string),
		byNative:  make(map[string]string),
	}
}

func nativeKey(server, native string) string { return server + "\x00" + native }

// drop forgets every entry of server and returns the exposed names.
func (c catalog) drop(server string) []string {
	names := c.byServer[server]
	for _, name := range names {
		if t, ok := c.byExposed[name]; ok {
			delete(c.byNative, nativeKey(t.Server, t.Native))
		}
		delete(c.byExposed, name)
	}
	delete(c.byServer, server)
	return names
}

func (c catalog) put(t target) {
	c.byExposed[t.Exposed] = t
	c.byNative[nativeKey(t.Server, t.Native)] = t.Exposed
	c.byServer[t.Server] = append(c.byServer[t.Server], t.Exposed)
}

// replace swaps server's entries for features. native extracts the upstream
// identifier and rewrite returns the gateway copy for an exposed identifier.
func replace[F any](c catalog, server string, features []F, native func(F) string, expose func(server, native string) string, rewrite func(F, target) F) ([]string, []registration[F]) {
	removed := c.drop(server)
	added := make([]registration[F], 0, len(features))
	for _, f := range features {
		n := native(f)
		t := target{Exposed: expose(server, n), Server: server, Native: n}
		c.put(t)
		added = append(added, registration[F]{Feature: rewrite(f, t), Target: t})
	}
	return removed, added
}

// featureIndex maps gateway names to upstream features for every server.
type featureIndex struct {
	ns NamespaceStrategy

	mu        sync.RWMutex
	tools     catalog
	prompts   catalog
	resources catalog
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:        ns,
		tools:     newCatalog(),
		prompts:   newCatalog(),
		resources: newCatalog(),
	}
}

func (f *featureIndex) UpdateTools(server string, tools []*mcp.Tool) ([]string, []registration[*mcp.Tool]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return replace(f.tools, server, nonNil(tools),
		func(t *mcp.Tool) string { return t.Name },
		f.ns.ToolName,
		func(t *mcp.Tool, tg target) *mcp.Tool {
			cp := *t
			cp.Name = tg.Exposed
			if cp.InputSchema == nil {
				cp.InputSchema = map[string]any{"type": "object"}
			}
			cp.Meta = withOrigin(t.Meta, tg, metaKeyNativeName)
			return &cp
		})
}

func (f *featureIndex) UpdatePrompts(server string, prompts []*mcp.Prompt) ([]string, []registration[*mcp.Prompt]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return replace(f.prompts, server, nonNil(prompts),
		func(p *mcp.Prompt) string { return p.Name },
		f.ns.PromptName,
		func(p *mcp.Prompt, tg target) *mcp.Prompt {
			cp := *p
			cp.Name = tg.Exposed
			cp.Meta = withOrigin(p.Meta, tg, metaKeyNativeName)
			return &cp
		})
}

func (f *featureIndex) UpdateResources(server string, resources []*mcp.Resource) ([]string, []registration[*mcp.Resource]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return replace(f.resources, server, nonNil(resources),
		func(r *mcp.Resource) string { return r.URI },
		f.ns.ResourceURI,
		func(r *mcp.Resource, tg target) *mcp.Resource {
			cp := *r
			cp.URI = tg.Exposed
			cp.Meta = withOrigin(r.Meta, tg, metaKeyNativeURI)
			return &cp
		})
}

// Forget drops every feature of server and returns what the gateway must
// unregister.
func (f *featureIndex) Forget(server string) (tools, prompts, resources []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tools.drop(server), f.prompts.drop(server), f.resources.drop(server)
}

func (f *featureIndex) Tool(name string) (target, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools.byExposed[name]
	return t, ok
}

func (f *featureIndex) Resource(uri string) (target, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.resources.byExposed[uri]
	return t, ok
}

// ExposedResource returns the gateway URI of server's native resource uri.
func (f *featureIndex) ExposedResource(server, uri string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	exposed, ok := f.resources.byNative[nativeKey(server, uri)]
	return exposed, ok
}

func nonNil[F any](in []*F) []*F {
	out := make([]*F, 0, len(in))
	for _, f := range in {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

func withOrigin(meta mcp.Meta, t target, key string) mcp.Meta {
	out := maps.Clone(meta)
	if out == nil {
		out = make(mcp.Meta, 2)
	}
	out[metaKeyServer] = t.Server
	out[key] = t.Native
	return out
}
