package mcpgateway

import (
	"net/url"
	"strings"
)

// NamespaceStrategy maps upstream identifiers to the names the gateway
// exposes. Results must be unique per (server, name) pair.
type NamespaceStrategy interface {
	ToolName(server, tool string) string
	PromptName(server, prompt string) string
	ResourceURI(server, uri string) string
	// NativeResourceURI reverses ResourceURI for server.
	NativeResourceURI(server, exposed string) (string, bool)
}

// ServerPrefixNamespace exposes "<server><sep><name>" for tools and prompts
// and "mcpgateway+<server>/resources::<uri>" for resources. Separator
// defaults to "__".
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) sep() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(server, tool string) string {
	return server + s.sep() + tool
}

func (s ServerPrefixNamespace) PromptName(server, prompt string) string {
	return server + s.sep() + prompt
}

func (s ServerPrefixNamespace) ResourceURI(server, uri string) string {
	return resourcePrefix(server) + uri
}

func (s ServerPrefixNamespace) NativeResourceURI(server, exposed string) (string, bool) {
	return strings.CutPrefix(exposed, resourcePrefix(server))
}

func resourcePrefix(server string) string {
	return "mcpgateway+" + url.PathEscape(server) + "/resources::"
}
