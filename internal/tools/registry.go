package tools

import (
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	"github.com/tareqmamari/kintone-mcp-server/internal/query"
)

// GetAllTools returns all available MCP tools. observer receives pagination
// metrics from kintone_query and may be nil.
func GetAllTools(c *client.Client, cfg *config.Config, observer query.Observer, logger *zap.Logger) []Tool {
	queryTool := NewQueryRecordsTool(c, cfg, logger)
	if observer != nil {
		queryTool.SetPageObserver(observer)
	}

	return []Tool{
		// Record tools
		queryTool,
		NewAddRecordTool(c, cfg, logger),
		NewUpdateRecordTool(c, cfg, logger),
		NewUpsertRecordsTool(c, cfg, logger),

		// Schema and comment tools
		NewGetFieldsTool(c, cfg, logger),
		NewGetRecordCommentsTool(c, cfg, logger),
		NewAddRecordCommentTool(c, cfg, logger),

		// File tools
		NewUploadFileTool(c, cfg, logger),
		NewDownloadFileTool(c, cfg, logger),

		// Transformation tools
		NewFlattenJSONTool(cfg, logger),
	}
}
