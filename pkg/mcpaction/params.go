package mcpaction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpclient"
	"github.com/vikashloomba/mcp-fleet-go/pkg/mcpmgr"
)

// Params selects an operation and carries its arguments. Argument fields
// that hold JSON (ToolArgs, PromptArgs) are JSON strings.
type Params struct {
	Operation Operation `json:"operation"`

	ServerName string `json:"serverName,omitempty"`
	ServerURL  string `json:"serverUrl,omitempty"`
	AuthToken  string `json:"authToken,omitempty"`
	// BaseURLs lists well-known discovery endpoints as a JSON array or a
	// comma-separated string.
	BaseURLs string `json:"baseUrls,omitempty"`

	Action      Action `json:"action,omitempty"`
	ToolName    string `json:"toolName,omitempty"`
	ToolArgs    string `json:"toolArgs,omitempty"`
	ResourceURI string `json:"resourceUri,omitempty"`
	PromptName  string `json:"promptName,omitempty"`
	PromptArgs  string `json:"promptArgs,omitempty"`

	FleetAction FleetAction `json:"fleetAction,omitempty"`
	// ServerNames targets a fleet action, as a JSON array or a
	// comma-separated string. Entries that are http(s) URLs are added to the
	// fleet as ad hoc servers.
	ServerNames string `json:"serverNames,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
}

// ServerListing is one row of the List Servers output.
type ServerListing struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	From      string `json:"from"`
}

// Capabilities groups what a server offers.
type Capabilities struct {
	Tools     any `json:"tools"`
	Resources any `json:"resources"`
	Prompts   any `json:"prompts"`
}

// Output is the uniform result of Execute. Only the fields relevant to the
// operation are set.
type Output struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`

	Servers []ServerListing `json:"servers,omitempty"`
	Count   *int            `json:"count,omitempty"`

	ServerName    string          `json:"serverName,omitempty"`
	Capabilities  *Capabilities   `json:"capabilities,omitempty"`
	ToolCount     *int            `json:"toolCount,omitempty"`
	ResourceCount *int            `json:"resourceCount,omitempty"`
	PromptCount   *int            `json:"promptCount,omitempty"`
	ServerInfo    *mcpclient.Info `json:"serverInfo,omitempty"`

	Result any `json:"result,omitempty"`

	Summary *mcpmgr.Summary `json:"summary,omitempty"`
	Targets []string        `json:"targets,omitempty"`

	ClosedConnections []string `json:"closedConnections,omitempty"`
}

func intPtr(n int) *int { return &n }

// splitList accepts a JSON array of strings or a comma-separated list.
func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out
	}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// toolArguments validates a JSON argument string. Empty means {}.
func toolArguments(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("toolArgs is not valid JSON: %q", raw)
	}
	return json.RawMessage(raw), nil
}

// promptArguments decodes a JSON object into prompt arguments, rendering
// non-string values as their JSON text.
func promptArguments(raw string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("promptArgs must be a JSON object: %w", err)
	}
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}
