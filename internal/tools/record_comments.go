package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/client"
	"github.com/tareqmamari/kintone-mcp-server/internal/config"
	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// Comment parameter messages.
const (
	MsgRecordIDInvalid = "record_id には正の整数を指定してください。"
	MsgOrderInvalid    = "order には asc または desc を指定してください。"
	MsgOffsetInvalid   = "offset には 0 以上の整数を指定してください。"
	MsgLimitInvalid    = "limit には正の整数を指定してください。"
)

// CommentMeta describes how a comment listing was fetched.
type CommentMeta struct {
	Mode           string      `json:"mode"`
	PageSize       int         `json:"page_size"`
	UsedPages      int         `json:"used_pages"`
	OffsetStart    int         `json:"offset_start"`
	Order          string      `json:"order"`
	RequestedLimit *int        `json:"requested_limit,omitempty"`
	Older          bool        `json:"older"`
	Newer          bool        `json:"newer"`
	TotalCount     int         `json:"total_count"`
	FirstID        interface{} `json:"first_id"`
	LastID         interface{} `json:"last_id"`
	Warning        string      `json:"warning,omitempty"`
}

// commentsRequest is a validated comment listing request.
type commentsRequest struct {
	record int64
	order  string
	offset int
	limit  int // 0 fetches every comment
}

// GetRecordCommentsTool lists the comments of one record.
type GetRecordCommentsTool struct {
	*BaseTool
}

// NewGetRecordCommentsTool creates a new tool instance
func NewGetRecordCommentsTool(c *client.Client, cfg *config.Config, logger *zap.Logger) *GetRecordCommentsTool {
	return &GetRecordCommentsTool{
		BaseTool: NewBaseTool(c, cfg, logger),
	}
}

// Name returns the tool name
func (t *GetRecordCommentsTool) Name() string {
	return "kintone_get_record_comments"
}

// Annotations returns tool hints for LLMs
func (t *GetRecordCommentsTool) Annotations() *mcp.ToolAnnotations {
	return ReadOnlyAnnotations("Get kintone Record Comments")
}

// DefaultTimeout returns the request timeout used when request_timeout is blank.
func (t *GetRecordCommentsTool) DefaultTimeout() time.Duration {
	return DefaultCommentsTimeout
}

// Description returns the tool description
func (t *GetRecordCommentsTool) Description() string {
	return `List the comments of a kintone record.

kintone returns at most 10 comments per request; this tool pages automatically.
- Leave limit blank to fetch every comment.
- Set limit to stop after that many comments.

Comments are returned sorted by comment id in the requested order, together with a meta object (pages used, older/newer flags, first and last id).`
}

// InputSchema returns the input schema
func (t *GetRecordCommentsTool) InputSchema() interface{} {
	return objectSchema(map[string]interface{}{
		"record_id": map[string]interface{}{
			"type":        []string{"integer", "string"},
			"description": "Record ID",
		},
		"order": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"asc", "desc"},
			"default":     "asc",
			"description": "Sort order by comment id",
		},
		"offset": map[string]interface{}{
			"type":        []string{"integer", "string"},
			"default":     0,
			"description": "Number of comments to skip",
		},
		"limit": map[string]interface{}{
			"type":        []string{"integer", "string"},
			"description": "Maximum number of comments. Blank fetches all.",
		},
	}, "kintone_app_id", "record_id")
}

// Execute executes the tool
func (t *GetRecordCommentsTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	creds, err := t.credentials(arguments, t.DefaultTimeout())
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	req, err := parseCommentsRequest(arguments)
	if err != nil {
		return t.fail(t.Name(), err), nil
	}

	out := NewOutput(ctx, t.Name(), t.logger)
	out.Log(ctx, "Received parameters", map[string]interface{}{
		"kintone_domain": creds.BaseURL,
		"kintone_app_id": creds.AppID,
		"record_id":      req.record,
		"order":          req.order,
		"offset":         req.offset,
		"limit":          optionalInt(req.limit > 0, req.limit),
		"full_fetch":     req.limit == 0,
	})

	api := t.api(creds)
	fetch := func(ctx context.Context, order string, offset, limit int) (*client.CommentsPage, error) {
		return api.GetComments(ctx, client.CommentsRequest{
			App:    creds.AppID,
			Record: req.record,
			Order:  order,
			Offset: offset,
			Limit:  limit,
		})
	}

	comments, meta, err := collectComments(ctx, fetch, req, t.cfg.CommentMaxPages)
	if err != nil {
		return t.fail(t.Name(), err), nil
	}
	if meta.Warning != "" {
		t.logger.Warn("Comment listing truncated",
			zap.Int64("record_id", req.record),
			zap.Int("pages", meta.UsedPages),
		)
	}

	listing := make([]interface{}, 0, len(comments)+1)
	for _, c := range comments {
		listing = append(listing, c)
	}
	if meta.Warning != "" {
		listing = append(listing, map[string]interface{}{"warning": meta.Warning})
	}

	out.JSON(map[string]interface{}{
		"comments": listing,
		"meta":     meta,
	})
	out.Text(commentSummary(meta))
	out.Log(ctx, "kintone get record comments response", map[string]interface{}{
		"comment_count": meta.TotalCount,
		"used_pages":    meta.UsedPages,
		"mode":          meta.Mode,
	})
	return out.Result(), nil
}

func parseCommentsRequest(arguments map[string]interface{}) (commentsRequest, error) {
	var req commentsRequest

	record, ok := ParsePositiveInt(arguments["record_id"])
	if !ok {
		return req, mcperrors.NewInvalidInput(MsgRecordIDInvalid)
	}
	req.record = record

	req.order = "asc"
	if v := arguments["order"]; !IsBlank(v) {
		s, _ := v.(string)
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "asc" && s != "desc" {
			return req, mcperrors.NewInvalidInput(MsgOrderInvalid)
		}
		req.order = s
	}

	if v := arguments["offset"]; !IsBlank(v) {
		offset, ok := ParseInt(v)
		if !ok || offset < 0 || offset > math.MaxInt {
			return req, mcperrors.NewInvalidInput(MsgOffsetInvalid)
		}
		req.offset = int(offset)
	}

	if v := arguments["limit"]; !IsBlank(v) {
		limit, ok := ParsePositiveInt(v)
		if !ok || limit > math.MaxInt {
			return req, mcperrors.NewInvalidInput(MsgLimitInvalid)
		}
		req.limit = int(limit)
	}
	return req, nil
}

type commentFetcher func(ctx context.Context, order string, offset, limit int) (*client.CommentsPage, error)

// CommentTruncationWarning is reported when a listing stops at the page ceiling.
func CommentTruncationWarning(pages int) string {
	return fmt.Sprintf("コメント取得を %d ページで打ち切りました。結果が欠けている可能性があります。", pages)
}

// collectComments pages through the comments of req.record. Without a limit
// it always pages in ascending order and re-sorts afterwards.
func collectComments(ctx context.Context, fetch commentFetcher, req commentsRequest, maxPages int) ([]map[string]interface{}, *CommentMeta, error) {
	if maxPages <= 0 {
		maxPages = config.Defaults().CommentMaxPages
	}
	pageSize := config.CommentsPageSize

	meta := &CommentMeta{
		Mode:        "all",
		PageSize:    pageSize,
		OffsetStart: req.offset,
		Order:       req.order,
	}
	apiOrder := "asc"
	if req.limit > 0 {
		meta.Mode = "limited"
		meta.RequestedLimit = &req.limit
		apiOrder = req.order
	}

	var comments []map[string]interface{}
	offset := req.offset
	for {
		if meta.UsedPages >= maxPages {
			meta.Warning = CommentTruncationWarning(maxPages)
			break
		}

		size := pageSize
		if req.limit > 0 {
			remaining := req.limit - len(comments)
			if remaining <= 0 {
				break
			}
			size = min(pageSize, remaining)
		}

		page, err := fetch(ctx, apiOrder, offset, size)
		if err != nil {
			return nil, nil, err
		}
		comments = append(comments, page.Comments...)
		meta.UsedPages++
		meta.Older, meta.Newer = page.Older, page.Newer

		hasMore := page.Newer
		if apiOrder == "desc" {
			hasMore = page.Older
		}
		if req.limit > 0 && len(comments) >= req.limit {
			break
		}
		if len(page.Comments) == 0 || !hasMore {
			break
		}
		offset += pageSize
	}

	SortComments(comments, req.order)
	if req.limit > 0 && len(comments) > req.limit {
		comments = comments[:req.limit]
	}
	if comments == nil {
		comments = []map[string]interface{}{}
	}

	meta.TotalCount = len(comments)
	if len(comments) > 0 {
		meta.FirstID = comments[0]["id"]
		meta.LastID = comments[len(comments)-1]["id"]
	}
	return comments, meta, nil
}

// SortComments orders comments by numeric id. Ids that are not integers keep
// their relative order after the numeric ones.
func SortComments(comments []map[string]interface{}, order string) {
	sort.SliceStable(comments, func(i, j int) bool {
		a, aok := ParseInt(comments[i]["id"])
		b, bok := ParseInt(comments[j]["id"])
		switch {
		case aok && bok:
			if order == "desc" {
				return a > b
			}
			return a < b
		default:
			return aok && !bok
		}
	})
}

func commentSummary(meta *CommentMeta) string {
	lines := []string{fmt.Sprintf("取得件数: %d 件", meta.TotalCount)}
	if meta.FirstID != nil || meta.LastID != nil {
		lines = append(lines, fmt.Sprintf("先頭ID: %v / 末尾ID: %v", meta.FirstID, meta.LastID))
	}
	if meta.Warning != "" {
		lines = append(lines, meta.Warning)
	}
	return strings.Join(lines, "\n")
}
