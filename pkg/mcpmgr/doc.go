// Package mcpmgr runs Model Context Protocol operations across a fleet of
// servers from a single Go process. It keeps a registry of ServerDescriptor
// values and, for each one, a lazily connected mcpclient.Client guarded by a
// circuit breaker and an exponential backoff.
//
// # Core entry points
//
//   - Manager owns the registry. Construct it with NewManager, then use
//     AddServer / RemoveServer to change membership and Disconnect /
//     DisconnectAll to drop live connections.
//   - WithClient runs one closure against one server. A failure is counted
//     against the server's circuit, the connection is torn down, and the
//     call waits for the server's next backoff delay before returning the
//     original error.
//   - Fanout runs a closure against many servers with bounded concurrency
//     and returns a Result per server. ListToolsAcross, ListResourcesAcross,
//     ListPromptsAcross, CallToolAcross and HealthCheck wrap it for the
//     common MCP methods.
//
// When inspecting descriptors returned from Registry or ServerInfo, use the
// helper guards and narrowers (IsStdio/IsHTTP and AsStdio/AsHTTP) or
// TransportOf to branch on the concrete transport.
package mcpmgr
