package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
)

// NewToolResultError creates a new tool result with an error message
func NewToolResultError(message string) *mcp.CallToolResult {
	// Ensure message is never empty
	if message == "" {
		message = "An unknown error occurred"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: message,
			},
		},
		IsError: true,
	}
}

// ErrorResult converts err into a terminal result carrying exactly one
// user-facing text message.
func ErrorResult(err error) *mcp.CallToolResult {
	return NewToolResultError(client.Classify(err).Message)
}
