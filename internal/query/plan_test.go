package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

func TestNewPlanStrategy(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		wantStrategy Strategy
		wantPaginate bool
		wantLimit    int
	}{
		{name: "no limit no order", query: `status = "open"`, wantStrategy: StrategyRecordID, wantPaginate: true, wantLimit: 500},
		{name: "empty query", query: "", wantStrategy: StrategyRecordID, wantPaginate: true, wantLimit: 500},
		{name: "order by", query: "status = \"open\" order by name asc", wantStrategy: StrategyOffset, wantPaginate: true, wantLimit: 500},
		{name: "limit", query: `status = "open" limit 3`, wantStrategy: StrategyOffset, wantPaginate: false, wantLimit: 3},
		{name: "limit with order by", query: "order by name desc limit 50", wantStrategy: StrategyOffset, wantPaginate: false, wantLimit: 50},
		{name: "limit at cap", query: "limit 500", wantStrategy: StrategyOffset, wantPaginate: false, wantLimit: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewPlan(Normalize(tt.query), nil, ModeBoth, 500, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStrategy, plan.Strategy)
			assert.Equal(t, tt.wantPaginate, plan.Paginate)
			assert.Equal(t, tt.wantLimit, plan.Limit)
		})
	}
}

func TestNewPlanLimitTooLarge(t *testing.T) {
	_, err := NewPlan(Normalize("limit 501"), nil, ModeBoth, 500, 10)
	require.Error(t, err)

	var se *mcperrors.StructuredError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, mcperrors.CodeLimitTooLarge, se.Code)
}

func TestNewPlanDefaults(t *testing.T) {
	plan, err := NewPlan(Normalize(""), nil, ModeBoth, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, plan.Limit)
	assert.Equal(t, DefaultMaxPages, plan.MaxPages)

	plan, err = NewPlan(Normalize(""), nil, ModeBoth, 900, 5)
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, plan.Limit)
}

func TestWithRecordID(t *testing.T) {
	assert.Nil(t, WithRecordID(nil))
	assert.Nil(t, WithRecordID([]string{}))
	assert.Equal(t, []string{"title", "$id"}, WithRecordID([]string{"title"}))
	assert.Equal(t, []string{"b", "$id", "a"}, WithRecordID([]string{"b", "$id", "b", "a"}))

	in := []string{"x"}
	WithRecordID(in)
	assert.Equal(t, []string{"x"}, in)
}

func TestPageQuery(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		cursor int64
		offset int
		first  bool
		want   string
	}{
		{
			name:  "cursor first page",
			query: `status = "open"`,
			first: true,
			want:  `(status = "open") and $id > 0 order by $id asc limit 500`,
		},
		{
			name:   "cursor later page",
			query:  `status = "open"`,
			cursor: 600,
			want:   `(status = "open") and $id > 600 order by $id asc limit 500`,
		},
		{
			name:  "cursor without filter",
			query: "",
			first: true,
			want:  "$id > 0 order by $id asc limit 500",
		},
		{
			name:  "cursor honors offset on first page",
			query: "offset 20",
			first: true,
			want:  "$id > 0 order by $id asc limit 500 offset 20",
		},
		{
			name:   "cursor drops offset after first page",
			query:  "offset 20",
			cursor: 900,
			want:   "$id > 900 order by $id asc limit 500",
		},
		{
			name:   "offset mode keeps order",
			query:  "a = 1 order by name asc",
			offset: 1000,
			want:   "(a = 1) and $id > 0 order by name asc limit 500 offset 1000",
		},
		{
			name:  "single shot",
			query: `status = "open" limit 3 offset 6`,
			first: true,
			want:  `(status = "open") and $id > 0 limit 3 offset 6`,
		},
		{
			name:  "single shot without filter",
			query: "limit 10",
			first: true,
			want:  "$id > 0 limit 10 offset 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Normalize(tt.query)
			plan, err := NewPlan(n, nil, ModeBoth, 500, 10)
			require.NoError(t, err)
			offset := tt.offset
			if tt.first && !plan.UsesCursor() {
				offset = plan.InitialOffset
			}
			assert.Equal(t, tt.want, plan.PageQuery(tt.cursor, offset, tt.first))
		})
	}
}

func TestParseOutputMode(t *testing.T) {
	tests := []struct {
		in   string
		want OutputMode
	}{
		{in: "", want: ModeBoth},
		{in: "both", want: ModeBoth},
		{in: " TEXT_ONLY ", want: ModeTextOnly},
		{in: "json_stream", want: ModeJSONStream},
		{in: "flattened_json", want: ModeFlattenedJSON},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutputMode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseOutputMode("xml")
	require.Error(t, err)
	assert.Equal(t, MsgInvalidOutputMode, mcperrors.UserMessage(err))
}

func TestOutputModeString(t *testing.T) {
	for _, name := range OutputModeNames() {
		mode, err := ParseOutputMode(name)
		require.NoError(t, err)
		assert.Equal(t, name, mode.String())
	}
	assert.Equal(t, "OutputMode(42)", OutputMode(42).String())
}
