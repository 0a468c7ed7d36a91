// Package discovery finds MCP server descriptors in configuration files,
// environment variables and well-known HTTP endpoints.
//
// Sources are consulted in a fixed order and the first source to define a
// name wins:
//
//  1. the file named by MCP_CONFIG_PATH
//  2. ./mcp.json (or ./mcp.yaml, ./mcp.yml)
//  3. <user config dir>/mcp/mcp.json
//  4. ./.vscode/mcp.json
//  5. the MCP_SERVERS environment variable (a JSON array)
//  6. <base URL>/.well-known/mcp.json for each base URL
//
// Every document has the shape {"servers": [...]}.
package discovery
