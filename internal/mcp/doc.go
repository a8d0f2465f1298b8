// Package mcp bridges external Model Context Protocol servers into the
// runtime's tool.Registry, using the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk/mcp) for the wire protocol.
// Every tool an MCP server advertises becomes an ordinary tool.Tool,
// indistinguishable to the Execution Loop and the Policy Engine
// from a built-in one.
//
// # Transports
//
// A server connection is one of three TransportType values:
// TransportTypeStdio and TransportTypeLocal both spawn a subprocess
// (stdio vs. direct exec), TransportTypeRemote speaks HTTP to an
// already-running server.
//
// # Usage
//
//	client := mcp.NewClient()
//	err := client.AddServer(ctx, "search", &mcp.Config{
//	    Enabled: true,
//	    Type:    mcp.TransportTypeStdio,
//	    Command: []string{"python", "-m", "my_mcp_server"},
//	    Timeout: 5000,
//	})
//	mcp.RegisterMCPTools(client, toolRegistry)
//
// RegisterMCPTools wraps every tool currently exposed by client's
// connected servers in an MCPToolWrapper and adds it to registry under
// a "<server>_<tool>" ID, so a naming collision between two servers'
// tools, or between a server's tool and a built-in, can't happen
// silently.
//
// # Status and lifecycle
//
// client.Status() reports each configured server's connection state
// (including StatusFailed with the error that caused it); a server
// that fails to connect is not fatal to the caller; see
// cmd/agentrt/commands/run.go's connectMCPServers, which logs and
// skips it. client.Close() tears down every transport when the task
// finishes.
package mcp
