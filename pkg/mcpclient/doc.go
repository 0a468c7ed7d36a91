// Package mcpclient implements a Model Context Protocol client on top of a
// single mcptransport.Session.
//
// A Client moves through uninitialized, initializing, initialized and closed.
// Initialize connects the session and attempts the protocol handshake; a
// server that rejects or never answers the handshake is still usable and is
// reported with placeholder server info. Typed operations (ListTools,
// CallTool, ReadResource, GetPrompt, ...) require the initialized state and
// return the decoded go-sdk result types.
package mcpclient
