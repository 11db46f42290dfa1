package query

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
	"github.com/tareqmamari/kintone-mcp-server/internal/records"
	"github.com/tareqmamari/kintone-mcp-server/internal/tracing"
)

// Fetcher requests one page of records.
type Fetcher interface {
	FetchRecords(ctx context.Context, query string, fields []string) ([]records.Record, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, query string, fields []string) ([]records.Record, error)

// FetchRecords calls f.
func (f FetcherFunc) FetchRecords(ctx context.Context, query string, fields []string) ([]records.Record, error) {
	return f(ctx, query, fields)
}

// Observer is notified about fetched pages and truncated runs.
type Observer interface {
	ObservePage(strategy string, n int)
	ObserveTruncation()
}

// Page is one non-empty response of a run.
type Page struct {
	Number  int              `json:"page"`
	Offset  int              `json:"offset"`
	Cursor  *int64           `json:"cursor,omitempty"`
	Limit   int              `json:"limit"`
	Records []records.Record `json:"records"`
}

// PageFunc receives each page before the next one is requested.
type PageFunc func(ctx context.Context, page *Page) error

// Summary describes a finished run.
type Summary struct {
	TotalRecords       int      `json:"total_records"`
	RequestsMade       int      `json:"requests_made"`
	RequestLimit       int      `json:"request_limit"`
	InitialOffset      int      `json:"initial_offset"`
	FinalOffset        *int     `json:"final_offset"`
	UsedPagination     bool     `json:"used_pagination"`
	Fields             []string `json:"fields"`
	EffectiveQuery     *string  `json:"effective_query"`
	Pages              int      `json:"pages"`
	PaginationStrategy Strategy `json:"pagination_strategy"`
	UserDefinedLimit   *int     `json:"user_defined_limit,omitempty"`
	UserDefinedOffset  *int     `json:"user_defined_offset,omitempty"`
	LastRecordID       *int64   `json:"last_record_id,omitempty"`
	Truncated          bool     `json:"truncated,omitempty"`
	Warning            string   `json:"warning,omitempty"`
}

// TruncationWarning is the message attached to a run stopped after maxPages pages.
func TruncationWarning(maxPages int) string {
	return fmt.Sprintf("レコード取得を %d ページで打ち切りました。結果が欠けている可能性があります。", maxPages)
}

// Driver runs the page loop for a plan. Pages are requested strictly one
// after another; the next request is issued only after the PageFunc for the
// previous page has returned.
type Driver struct {
	fetcher  Fetcher
	observer Observer
	logger   *zap.Logger
}

// NewDriver creates a driver fetching pages through f.
func NewDriver(f Fetcher, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{fetcher: f, logger: logger}
}

// SetObserver attaches page metrics.
func (d *Driver) SetObserver(o Observer) {
	d.observer = o
}

// Run fetches pages until the result set is exhausted, the plan's page
// ceiling is reached or a request fails. Any failure ends the run with no
// summary.
func (d *Driver) Run(ctx context.Context, plan *Plan, onPage PageFunc) (*Summary, error) {
	summary := newSummary(plan)
	cursor := int64(0)
	offset := plan.InitialOffset

	for number := 1; ; number++ {
		q := plan.PageQuery(cursor, offset, number == 1)
		recs, err := d.fetch(ctx, plan, number, q)
		if err != nil {
			return nil, err
		}
		summary.RequestsMade++

		if len(recs) == 0 {
			break
		}
		summary.TotalRecords += len(recs)
		summary.Pages++
		if d.observer != nil {
			d.observer.ObservePage(string(plan.Strategy), len(recs))
		}

		page := &Page{Number: summary.Pages, Offset: offset, Limit: plan.Limit, Records: recs}
		if plan.UsesCursor() {
			lower := cursor
			page.Cursor = &lower
		}
		if onPage != nil {
			if err := onPage(ctx, page); err != nil {
				return nil, err
			}
		}

		if plan.UsesCursor() {
			id, ok := RecordID(recs[len(recs)-1])
			if !ok {
				return nil, mcperrors.NewCursorLost()
			}
			summary.LastRecordID = &id
			cursor = id
		}

		if !plan.Paginate || len(recs) < plan.Limit {
			break
		}
		if !plan.UsesCursor() {
			offset += plan.Limit
		}

		if summary.Pages >= plan.MaxPages {
			summary.Truncated = true
			summary.Warning = TruncationWarning(plan.MaxPages)
			if d.observer != nil {
				d.observer.ObserveTruncation()
			}
			d.logger.Warn("Page ceiling reached, returning partial result",
				zap.Int("max_pages", plan.MaxPages),
				zap.Int("total_records", summary.TotalRecords),
				zap.String("strategy", string(plan.Strategy)),
			)
			break
		}
	}

	if !plan.UsesCursor() {
		summary.FinalOffset = &offset
	}
	return summary, nil
}

func (d *Driver) fetch(ctx context.Context, plan *Plan, number int, q string) ([]records.Record, error) {
	ctx, span := tracing.PageSpan(ctx, string(plan.Strategy), number)
	defer span.End()

	d.logger.Debug("Fetching page",
		zap.Int("page", number),
		zap.String("strategy", string(plan.Strategy)),
		zap.String("query", q),
	)

	recs, err := d.fetcher.FetchRecords(ctx, q, plan.Fields)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	tracing.SetToolResult(span, "records", len(recs))
	return recs, nil
}

func newSummary(plan *Plan) *Summary {
	s := &Summary{
		RequestLimit:       plan.Limit,
		InitialOffset:      plan.InitialOffset,
		UsedPagination:     plan.Paginate,
		Fields:             plan.Fields,
		PaginationStrategy: plan.Strategy,
	}
	if plan.Query.Clean != "" {
		clean := plan.Query.Clean
		s.EffectiveQuery = &clean
	}
	if plan.Query.HasLimit {
		limit := plan.Query.Limit
		s.UserDefinedLimit = &limit
	}
	if plan.Query.HasOffset {
		offset := plan.Query.Offset
		s.UserDefinedOffset = &offset
	}
	return s
}

// RecordID reads the $id of rec, accepting a field wrapper or a bare value.
func RecordID(rec records.Record) (int64, bool) {
	switch v := records.ExtractValue(rec[RecordIDField]).(type) {
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return id, err == nil
	case json.Number:
		id, err := v.Int64()
		return id, err == nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
