package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/kintone-mcp-server/internal/records"
)

type recordingEmitter struct {
	labels    []string
	texts     []string
	jsons     []interface{}
	streamed  []interface{}
	streamErr error
}

func (e *recordingEmitter) Log(_ context.Context, label string, _ map[string]interface{}) {
	e.labels = append(e.labels, label)
}

func (e *recordingEmitter) Text(text string) { e.texts = append(e.texts, text) }

func (e *recordingEmitter) JSON(v interface{}) { e.jsons = append(e.jsons, v) }

func (e *recordingEmitter) Stream(_ context.Context, v interface{}) error {
	if e.streamErr != nil {
		return e.streamErr
	}
	e.streamed = append(e.streamed, v)
	return nil
}

func (e *recordingEmitter) summary(t *testing.T, i int) *Summary {
	t.Helper()
	msg, ok := e.jsons[i].(map[string]interface{})
	require.True(t, ok)
	s, ok := msg["summary"].(*Summary)
	require.True(t, ok)
	return s
}

func (e *recordingEmitter) records(t *testing.T, i int) []records.Record {
	t.Helper()
	msg, ok := e.jsons[i].(map[string]interface{})
	require.True(t, ok)
	recs, ok := msg["records"].([]records.Record)
	require.True(t, ok)
	return recs
}

func newEngine(f Fetcher, pageSize, maxPages int) *Engine {
	return NewEngine(NewDriver(f, zap.NewNop()), pageSize, maxPages)
}

func TestExecuteNoMatch(t *testing.T) {
	emit := &recordingEmitter{}
	summary, err := newEngine(&scriptedFetcher{}, 500, 10).
		Execute(context.Background(), Request{Query: "", Mode: ModeBoth}, emit)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.TotalRecords)
	require.Len(t, emit.jsons, 1)
	assert.Equal(t, 0, emit.summary(t, 0).TotalRecords)
	assert.Empty(t, emit.records(t, 0))
	assert.Equal(t, []string{"'' に一致するレコードは見つかりませんでした。"}, emit.texts)
	assert.Equal(t, []string{"Pagination mode", "kintone query summary"}, emit.labels)
}

func TestExecuteBoth(t *testing.T) {
	emit := &recordingEmitter{}
	fetcher := &scriptedFetcher{pages: [][]records.Record{recordRange(1, 2)}}
	_, err := newEngine(fetcher, 500, 10).
		Execute(context.Background(), Request{Query: `title like "r" limit 2`, Mode: ModeBoth}, emit)
	require.NoError(t, err)

	assert.Equal(t, []string{"Detected pagination parameters", "Pagination mode", "kintone query summary"}, emit.labels)
	require.Len(t, emit.jsons, 1)
	recs := emit.records(t, 0)
	require.Len(t, recs, 2)
	assert.Equal(t, record(1), recs[0])

	require.Len(t, emit.texts, 1)
	assert.Equal(t, "取得したレコード件数: 2\n$id: 1\ntitle: r1\n---\n$id: 2\ntitle: r2", emit.texts[0])
}

func TestExecuteTextOnly(t *testing.T) {
	emit := &recordingEmitter{}
	fetcher := &scriptedFetcher{pages: [][]records.Record{recordRange(5, 1)}}
	_, err := newEngine(fetcher, 500, 10).
		Execute(context.Background(), Request{Query: "limit 1", Mode: ModeTextOnly}, emit)
	require.NoError(t, err)

	assert.Empty(t, emit.jsons)
	assert.Equal(t, []string{"取得したレコード件数: 1\n$id: 5\ntitle: r5"}, emit.texts)
}

func TestExecuteFlattened(t *testing.T) {
	rec := records.Record{
		"$id": map[string]interface{}{"type": "__ID__", "value": "1"},
		"lines": map[string]interface{}{"type": "SUBTABLE", "value": []interface{}{
			map[string]interface{}{"id": "3", "value": map[string]interface{}{
				"qty": map[string]interface{}{"type": "NUMBER", "value": "2"},
			}},
		}},
	}
	emit := &recordingEmitter{}
	fetcher := &scriptedFetcher{pages: [][]records.Record{{rec}}}
	_, err := newEngine(fetcher, 500, 10).
		Execute(context.Background(), Request{Mode: ModeFlattenedJSON}, emit)
	require.NoError(t, err)

	want := []records.Record{{
		"$id":   "1",
		"lines": []interface{}{map[string]interface{}{"id": "3", "qty": "2"}},
	}}
	assert.Equal(t, want, emit.records(t, 0))
	assert.Equal(t, []string{`[{"$id":"1","lines":[{"id":"3","qty":"2"}]}]`}, emit.texts)
}

func TestExecuteStream(t *testing.T) {
	emit := &recordingEmitter{}
	fetcher := &scriptedFetcher{pages: [][]records.Record{recordRange(1, 2), recordRange(3, 1)}}
	_, err := newEngine(fetcher, 2, 10).
		Execute(context.Background(), Request{Mode: ModeJSONStream}, emit)
	require.NoError(t, err)

	require.Len(t, emit.streamed, 2)
	first := emit.streamed[0].(*Page)
	assert.Equal(t, 1, first.Number)
	require.NotNil(t, first.Cursor)
	assert.Equal(t, int64(0), *first.Cursor)
	second := emit.streamed[1].(*Page)
	assert.Equal(t, int64(2), *second.Cursor)

	require.Len(t, emit.jsons, 1)
	msg := emit.jsons[0].(map[string]interface{})
	assert.NotContains(t, msg, "records")
	assert.Equal(t, 3, emit.summary(t, 0).TotalRecords)
	assert.Empty(t, emit.texts)
}

func TestExecuteStreamBackpressureError(t *testing.T) {
	emit := &recordingEmitter{streamErr: context.Canceled}
	fetcher := &scriptedFetcher{pages: [][]records.Record{recordRange(1, 2), recordRange(3, 2)}}
	_, err := newEngine(fetcher, 2, 10).
		Execute(context.Background(), Request{Mode: ModeJSONStream}, emit)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, fetcher.queries, 1)
	assert.Empty(t, emit.jsons)
}

func TestExecuteTruncatedReturnsPartialResult(t *testing.T) {
	next := 1
	fetcher := FetcherFunc(func(context.Context, string, []string) ([]records.Record, error) {
		page := recordRange(next, 2)
		next += 2
		return page, nil
	})

	emit := &recordingEmitter{}
	summary, err := newEngine(fetcher, 2, 2).Execute(context.Background(), Request{Mode: ModeBoth}, emit)
	require.NoError(t, err)
	assert.True(t, summary.Truncated)

	recs := emit.records(t, 0)
	require.Len(t, recs, 5)
	assert.Equal(t, records.Record{"warning": TruncationWarning(2)}, recs[4])
	require.Len(t, emit.texts, 1)
	assert.Contains(t, emit.texts[0], TruncationWarning(2))
}

// A failed page ends the run with no result messages; records from earlier
// pages are not returned.
func TestExecuteMidRunFailureDiscardsEarlierPages(t *testing.T) {
	boom := errors.New("page 2 failed")
	fetcher := &scriptedFetcher{
		pages:  [][]records.Record{recordRange(1, 2), recordRange(3, 2)},
		failAt: 2,
		err:    boom,
	}
	emit := &recordingEmitter{}
	summary, err := newEngine(fetcher, 2, 10).Execute(context.Background(), Request{Mode: ModeBoth}, emit)

	assert.ErrorIs(t, err, boom)
	assert.Nil(t, summary)
	assert.Empty(t, emit.jsons)
	assert.Empty(t, emit.texts)
	assert.Equal(t, []string{"Pagination mode"}, emit.labels)
}

func TestExecuteLimitTooLargeMakesNoRequest(t *testing.T) {
	fetcher := &scriptedFetcher{}
	emit := &recordingEmitter{}
	_, err := newEngine(fetcher, 500, 10).Execute(context.Background(), Request{Query: "limit 1000", Mode: ModeBoth}, emit)

	require.Error(t, err)
	assert.Empty(t, fetcher.queries)
	assert.Equal(t, []string{"Detected pagination parameters"}, emit.labels)
}
