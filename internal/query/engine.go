package query

import (
	"context"

	"go.uber.org/zap"
)

// Request is one kintone_query invocation after parameter validation.
type Request struct {
	Query  string
	Fields []string
	Mode   OutputMode
}

// Engine normalizes, plans, drives and shapes a query run.
type Engine struct {
	driver   *Driver
	pageSize int
	maxPages int
}

// NewEngine creates an engine. pageSize and maxPages fall back to
// MaxPageSize and DefaultMaxPages when not positive.
func NewEngine(driver *Driver, pageSize, maxPages int) *Engine {
	return &Engine{driver: driver, pageSize: pageSize, maxPages: maxPages}
}

// Execute runs req and writes its messages to emit. On error nothing but log
// messages has been emitted, except pages already streamed in json_stream
// mode.
func (e *Engine) Execute(ctx context.Context, req Request, emit Emitter) (*Summary, error) {
	n := Normalize(req.Query)
	if n.HasLimit || n.HasOffset {
		emit.Log(ctx, "Detected pagination parameters", map[string]interface{}{
			"limit":       optionalInt(n.HasLimit, n.Limit),
			"offset":      optionalInt(n.HasOffset, n.Offset),
			"output_mode": req.Mode.String(),
		})
	}

	plan, err := NewPlan(n, req.Fields, req.Mode, e.pageSize, e.maxPages)
	if err != nil {
		return nil, err
	}
	emit.Log(ctx, "Pagination mode", map[string]interface{}{
		"paginate":        plan.Paginate,
		"effective_limit": plan.Limit,
		"start_offset":    plan.InitialOffset,
		"output_mode":     req.Mode.String(),
		"strategy":        string(plan.Strategy),
	})

	shaper := NewShaper(req.Mode, req.Query, emit)
	summary, err := e.driver.Run(ctx, plan, shaper.OnPage)
	if err != nil {
		e.driver.logger.Warn("Query run failed", zap.Error(err), zap.String("strategy", string(plan.Strategy)))
		return nil, err
	}
	if err := shaper.Finish(summary); err != nil {
		return nil, err
	}

	emit.Log(ctx, "kintone query summary", map[string]interface{}{
		"total_records":       summary.TotalRecords,
		"requests_made":       summary.RequestsMade,
		"output_mode":         req.Mode.String(),
		"pagination_strategy": string(summary.PaginationStrategy),
	})
	return summary, nil
}

func optionalInt(ok bool, v int) interface{} {
	if !ok {
		return nil
	}
	return v
}
