package query

import (
	"fmt"
	"slices"
	"strings"

	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// MaxPageSize is the largest limit the records API accepts in one request.
const MaxPageSize = 500

// DefaultMaxPages bounds a paginated run when no ceiling is configured.
const DefaultMaxPages = 1000

// RecordIDField is the built-in record number field used as the cursor.
const RecordIDField = "$id"

// Strategy names how successive pages are requested.
type Strategy string

const (
	StrategyRecordID Strategy = "record_id"
	StrategyOffset   Strategy = "offset"
)

// OutputMode selects the shape of a query result.
type OutputMode int

const (
	ModeBoth OutputMode = iota
	ModeTextOnly
	ModeJSONStream
	ModeFlattenedJSON
)

// MsgInvalidOutputMode is returned for an unknown output_mode value.
const MsgInvalidOutputMode = "output_mode は「テキスト + JSON」,「テキストのみ」,「JSONをページごとに即時返却」,「フラット化したJSON」のいずれかを指定してください。"

var outputModeNames = map[OutputMode]string{
	ModeBoth:          "both",
	ModeTextOnly:      "text_only",
	ModeJSONStream:    "json_stream",
	ModeFlattenedJSON: "flattened_json",
}

func (m OutputMode) String() string {
	if name, ok := outputModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("OutputMode(%d)", int(m))
}

// OutputModeNames lists the accepted output_mode values.
func OutputModeNames() []string {
	return []string{"both", "text_only", "json_stream", "flattened_json"}
}

// ParseOutputMode reads an output_mode parameter. Blank selects ModeBoth.
func ParseOutputMode(s string) (OutputMode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return ModeBoth, nil
	}
	for mode, n := range outputModeNames {
		if n == name {
			return mode, nil
		}
	}
	return ModeBoth, mcperrors.NewInvalidInput(MsgInvalidOutputMode).
		WithDetails(map[string]interface{}{"output_mode": s, "allowed": OutputModeNames()})
}

// Plan is the pagination decision for one query run.
type Plan struct {
	Query         Normalized
	Mode          OutputMode
	Strategy      Strategy
	Paginate      bool
	Limit         int
	InitialOffset int
	Fields        []string
	MaxPages      int
}

// NewPlan chooses a strategy from a normalized query. A query-embedded limit
// means exactly one request with that limit; otherwise the run pages through
// everything, by $id cursor unless the query orders its results itself.
func NewPlan(n Normalized, fields []string, mode OutputMode, pageSize, maxPages int) (*Plan, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	p := &Plan{
		Query:         n,
		Mode:          mode,
		Paginate:      !n.HasLimit,
		InitialOffset: n.Offset,
		Fields:        WithRecordID(fields),
		MaxPages:      maxPages,
	}

	switch {
	case n.HasLimit:
		if n.Limit > MaxPageSize {
			return nil, mcperrors.NewLimitTooLarge(n.Limit)
		}
		p.Strategy = StrategyOffset
		p.Limit = n.Limit
	case n.HasOrderBy:
		p.Strategy = StrategyOffset
		p.Limit = pageSize
	default:
		p.Strategy = StrategyRecordID
		p.Limit = pageSize
	}
	return p, nil
}

// WithRecordID appends $id to a non-empty field list and drops duplicates,
// keeping first occurrences in order. An empty list means all fields and is
// returned as nil.
func WithRecordID(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields)+1)
	for _, f := range append(slices.Clone(fields), RecordIDField) {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// UsesCursor reports whether pages are requested by $id cursor.
func (p *Plan) UsesCursor() bool {
	return p.Strategy == StrategyRecordID
}

// PageQuery builds the query sent for one page. In cursor mode only the first
// page carries the caller's offset; later pages start after cursor.
func (p *Plan) PageQuery(cursor int64, offset int, first bool) string {
	if !p.UsesCursor() {
		return fmt.Sprintf("%s limit %d offset %d", WithMinRecordID(p.Query.Clean, 0), p.Limit, offset)
	}

	var b strings.Builder
	if p.Query.Clean != "" {
		fmt.Fprintf(&b, "(%s) and ", p.Query.Clean)
	}
	fmt.Fprintf(&b, "$id > %d order by $id asc limit %d", cursor, p.Limit)
	if first && p.InitialOffset > 0 {
		fmt.Fprintf(&b, " offset %d", p.InitialOffset)
	}
	return b.String()
}
