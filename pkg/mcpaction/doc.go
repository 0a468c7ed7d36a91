// Package mcpaction exposes MCP client and fleet capabilities as named,
// string-selected operations for workflow engines and other callers that
// receive their instructions as data.
//
// The recognized operations, actions and fleet actions are closed sets; each
// is dispatched through a table of handlers. Live connections belong to a
// caller-owned Run, so two workflow runs never share a client.
package mcpaction
