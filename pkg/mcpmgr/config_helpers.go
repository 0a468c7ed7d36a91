package mcpmgr

import "github.com/vikashloomba/mcp-fleet-go/pkg/mcptransport"

// Helpers for narrowing a ServerDescriptor's transport without a type switch
// at every call site.

// ConfigTransport identifies the transport family of a descriptor.
type ConfigTransport string

const (
	TransportStdio ConfigTransport = "stdio"
	TransportHTTP  ConfigTransport = "http"
)

// TransportOf returns the transport family for d. Both HTTP bindings report
// TransportHTTP. It returns an empty string when no transport is set.
func TransportOf(d ServerDescriptor) ConfigTransport {
	switch {
	case mcptransport.IsStdio(d.Transport):
		return TransportStdio
	case mcptransport.IsHTTP(d.Transport):
		return TransportHTTP
	}
	return ""
}

// IsStdio reports whether d launches a subprocess.
func IsStdio(d ServerDescriptor) bool { return mcptransport.IsStdio(d.Transport) }

// IsHTTP reports whether d is reached over either HTTP binding.
func IsHTTP(d ServerDescriptor) bool { return mcptransport.IsHTTP(d.Transport) }

// AsStdio narrows d's transport, returning (nil, false) when it does not
// match.
func AsStdio(d ServerDescriptor) (*mcptransport.StdioConfig, bool) {
	return mcptransport.AsStdio(d.Transport)
}

// AsHTTP narrows d's transport, returning (nil, false) when it does not
// match.
func AsHTTP(d ServerDescriptor) (*mcptransport.HTTPConfig, bool) {
	return mcptransport.AsHTTP(d.Transport)
}
