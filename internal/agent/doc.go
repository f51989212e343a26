// Package agent holds the interactive and programmatic surfaces built on top
// of the OAuth state machine.
//
// # Key Components
//
//   - Session: a state machine bound to a reserved loopback callback address
//   - Sessions: a per-server cache of sessions built from configuration
//   - Client: an MCP client that proves stored tokens against a server
//   - REPL: the guided-mode prompt that steps through the flow
//   - MCPServer: exposes the quick and guided flows as MCP tools
//
// Rendering helpers print the flow state as a step table so the CLI, the REPL
// and the MCP tools show the same picture.
package agent
