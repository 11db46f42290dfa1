// Package prompts provides pre-built prompts for common kintone workflows.
package prompts

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// PromptDefinition represents a prompt with its metadata and handler
type PromptDefinition struct {
	Prompt  *mcp.Prompt
	Handler mcp.PromptHandler
}

// Registry holds all registered prompts
type Registry struct {
	logger  *zap.Logger
	prompts []*PromptDefinition
}

// NewRegistry creates a new prompt registry with all available prompts
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{logger: logger}
	r.prompts = []*PromptDefinition{
		r.exploreAppPrompt(),
		r.searchRecordsPrompt(),
		r.reviewDiscussionPrompt(),
		r.exportSubtablePrompt(),
	}
	return r
}

// GetPrompts returns all registered prompt definitions
func (r *Registry) GetPrompts() []*PromptDefinition {
	return r.prompts
}

func createPromptResult(description, content string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: content},
			},
		},
	}
}

func getStringArg(req *mcp.GetPromptRequest, key, defaultVal string) string {
	if req == nil || req.Params == nil {
		return defaultVal
	}
	if val, ok := req.Params.Arguments[key]; ok && val != "" {
		return val
	}
	return defaultVal
}

func appArgument() *mcp.PromptArgument {
	return &mcp.PromptArgument{
		Name:        "app_id",
		Description: "kintone app ID",
		Required:    true,
	}
}

func (r *Registry) exploreAppPrompt() *PromptDefinition {
	return &PromptDefinition{
		Prompt: &mcp.Prompt{
			Name:        "explore_app",
			Title:       "Explore a kintone App",
			Description: "Learn an app's fields, then sample a few records",
			Arguments:   []*mcp.PromptArgument{appArgument()},
		},
		Handler: func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			appID := getStringArg(req, "app_id", "<app_id>")

			content := fmt.Sprintf(`Let's get to know kintone app %[1]s.

1. Run kintone_get_fields with kintone_app_id %[1]s to list field codes and types.
   Add detail_level true if you need required/unique flags or choice options.
2. Run kintone_query with kintone_app_id %[1]s and query "order by $id desc limit 5"
   to look at the five newest records.
3. Summarize what the app tracks, which fields look like keys or statuses,
   and which fields are subtables.

Use field codes (not labels) in every later query.`, appID)

			return createPromptResult("Explore a kintone app", content), nil
		},
	}
}

func (r *Registry) searchRecordsPrompt() *PromptDefinition {
	return &PromptDefinition{
		Prompt: &mcp.Prompt{
			Name:        "search_records",
			Title:       "Search Records",
			Description: "Build a kintone query from a plain-language condition and fetch every match",
			Arguments: []*mcp.PromptArgument{
				appArgument(),
				{
					Name:        "condition",
					Description: "What to look for, in plain language",
					Required:    true,
				},
				{
					Name:        "fields",
					Description: "Comma-separated field codes to return (optional)",
				},
			},
		},
		Handler: func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			appID := getStringArg(req, "app_id", "<app_id>")
			condition := getStringArg(req, "condition", "<condition>")
			fields := getStringArg(req, "fields", "")

			fieldsStep := "Leave fields empty to return every field."
			if fields != "" {
				fieldsStep = fmt.Sprintf("Pass fields %q so only those columns come back.", fields)
			}

			content := fmt.Sprintf(`Find records in kintone app %s matching: %s

1. Run kintone_get_fields to confirm the field codes and types involved.
2. Write a kintone query. Use = / != / like for text, in (...) for drop-downs
   and statuses, and >, <, >=, <= for numbers and dates. Wrap strings in "double quotes".
3. Run kintone_query with that query. %s
   Omit limit to fetch every matching record; the server pages through them.
4. Report the total from the summary and highlight notable records.`, appID, condition, fieldsStep)

			return createPromptResult("Search kintone records", content), nil
		},
	}
}

func (r *Registry) reviewDiscussionPrompt() *PromptDefinition {
	return &PromptDefinition{
		Prompt: &mcp.Prompt{
			Name:        "review_record_discussion",
			Title:       "Review Record Discussion",
			Description: "Read a record together with its comment thread",
			Arguments: []*mcp.PromptArgument{
				appArgument(),
				{
					Name:        "record_id",
					Description: "Record ID",
					Required:    true,
				},
			},
		},
		Handler: func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			appID := getStringArg(req, "app_id", "<app_id>")
			recordID := getStringArg(req, "record_id", "<record_id>")

			content := fmt.Sprintf(`Review record %[2]s in kintone app %[1]s.

1. Run kintone_query with kintone_app_id %[1]s and query "$id = %[2]s".
2. Run kintone_get_record_comments with kintone_app_id %[1]s and record_id %[2]s.
   Comments come back oldest first; pass order "desc" and limit 10 for only the latest.
3. Summarize the record, the discussion so far, open questions and who was mentioned.`, appID, recordID)

			return createPromptResult("Review a record and its comments", content), nil
		},
	}
}

func (r *Registry) exportSubtablePrompt() *PromptDefinition {
	return &PromptDefinition{
		Prompt: &mcp.Prompt{
			Name:        "export_subtable",
			Title:       "Export Subtable Rows",
			Description: "Fetch records and flatten one subtable into plain rows",
			Arguments: []*mcp.PromptArgument{
				appArgument(),
				{
					Name:        "subtable_code",
					Description: "Field code of the subtable",
					Required:    true,
				},
				{
					Name:        "query",
					Description: "kintone query selecting the parent records (optional)",
				},
			},
		},
		Handler: func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			appID := getStringArg(req, "app_id", "<app_id>")
			subtable := getStringArg(req, "subtable_code", "<subtable_code>")
			query := getStringArg(req, "query", "")

			queryStep := "with no query to take every record"
			if query != "" {
				queryStep = fmt.Sprintf("with query %q", query)
			}

			content := fmt.Sprintf(`Export the %[2]s subtable of kintone app %[1]s as flat rows.

1. Run kintone_query on app %[1]s %[3]s.
2. Pass the JSON part of the result as records_json to kintone_flatten_json
   with subtable_field_code %[2]q. Add fields (for example "$id") to copy parent
   columns onto every row.
3. Optionally add a jq expression to reshape or aggregate the rows.`, appID, subtable, queryStep)

			return createPromptResult("Export subtable rows", content), nil
		},
	}
}
