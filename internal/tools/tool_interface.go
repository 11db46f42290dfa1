// Package tools provides the MCP tool implementations for the kintone REST API.
package tools

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool defines the interface that all MCP tools must implement.
type Tool interface {
	// Name returns the unique identifier for this tool
	Name() string

	// Description returns a human-readable description of what this tool does
	Description() string

	// InputSchema returns the JSON Schema for the tool's input parameters
	InputSchema() interface{}

	// Execute runs the tool with the given arguments. Failures the caller
	// should see are returned as a result with IsError set; the error return
	// is reserved for failures of the tool machinery itself.
	Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error)

	// Annotations returns optional hints about tool behavior for LLMs.
	Annotations() *mcp.ToolAnnotations

	// DefaultTimeout returns the per-request timeout used when the caller
	// leaves request_timeout blank. Returns 0 to use the configured default.
	DefaultTimeout() time.Duration
}
