// Package mcptransport turns a physical channel into a message-oriented
// JSON-RPC 2.0 duplex for MCP clients.
//
// Three bindings implement the Session contract:
//
//   - the event-stream HTTP binding keeps a GET stream open for responses and
//     notifications and POSTs requests to the sibling /messages path;
//   - the stateless POST binding sends every request as its own HTTP POST and
//     reads the response from the reply body;
//   - the stdio binding spawns a child process and exchanges newline-delimited
//     JSON over its stdin and stdout.
//
// Use New with an *HTTPConfig or *StdioConfig to obtain a Session. Every
// binding correlates responses by id, assigns ids to requests that lack one,
// and fails outstanding requests once the session is closed.
package mcptransport
