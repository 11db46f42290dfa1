package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// sessionContextKey is the context key for the caller's MCP session.
const sessionContextKey contextKey = "mcp_session"

// WithSession adds the calling MCP session to the context so tools can send
// log and page notifications while they run.
func WithSession(ctx context.Context, ss *mcp.ServerSession) context.Context {
	if ss == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey, ss)
}

// SessionFromContext returns the session stored by WithSession, or nil.
func SessionFromContext(ctx context.Context) *mcp.ServerSession {
	ss, _ := ctx.Value(sessionContextKey).(*mcp.ServerSession)
	return ss
}

const progressTokenContextKey contextKey = "mcp_progress_token"

// WithProgressToken adds the progress token of the current tool call to the
// context. A nil token leaves ctx unchanged.
func WithProgressToken(ctx context.Context, token any) context.Context {
	if token == nil {
		return ctx
	}
	return context.WithValue(ctx, progressTokenContextKey, token)
}

// ProgressTokenFromContext returns the token stored by WithProgressToken, or nil.
func ProgressTokenFromContext(ctx context.Context) any {
	return ctx.Value(progressTokenContextKey)
}
