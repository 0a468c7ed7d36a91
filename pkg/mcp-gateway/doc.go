// Package mcpgateway serves a single Streamable MCP endpoint that mirrors the
// tools, prompts and resources of every server in an mcpmgr fleet. Feature
// names are rewritten through a NamespaceStrategy and calls are routed back
// through the fleet, so circuit breaking and backoff apply to gateway traffic
// as well.
package mcpgateway
