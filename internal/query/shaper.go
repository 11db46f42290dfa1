package query

import (
	"context"
	"fmt"

	"github.com/tareqmamari/kintone-mcp-server/internal/records"
)

// Emitter receives the messages a run produces.
type Emitter interface {
	// Log reports a diagnostic with a label and structured data.
	Log(ctx context.Context, label string, data map[string]interface{})
	// Text adds a text message to the result.
	Text(text string)
	// JSON adds a JSON message to the result.
	JSON(v interface{})
	// Stream hands one page to the caller immediately and returns once it
	// has been accepted.
	Stream(ctx context.Context, v interface{}) error
}

// Shaper turns pages and a summary into output messages for one mode. Only
// json_stream hands each page out as it arrives.
type Shaper struct {
	mode      OutputMode
	rawQuery  string
	emit      Emitter
	raw       []records.Record
	flattened []records.Record
	blocks    [][]string
}

// NewShaper creates a shaper. rawQuery is quoted back when nothing matched.
func NewShaper(mode OutputMode, rawQuery string, emit Emitter) *Shaper {
	return &Shaper{mode: mode, rawQuery: rawQuery, emit: emit}
}

// OnPage is a PageFunc.
func (s *Shaper) OnPage(ctx context.Context, page *Page) error {
	switch s.mode {
	case ModeBoth:
		s.raw = append(s.raw, page.Records...)
		s.addBlocks(page.Records)
	case ModeTextOnly:
		s.addBlocks(page.Records)
	case ModeFlattenedJSON:
		for _, rec := range page.Records {
			s.flattened = append(s.flattened, records.FlattenRecord(rec))
		}
	case ModeJSONStream:
		return s.emit.Stream(ctx, page)
	default:
		return fmt.Errorf("unsupported output mode %s", s.mode)
	}
	return nil
}

func (s *Shaper) addBlocks(recs []records.Record) {
	for _, rec := range recs {
		if lines := records.RecordLines(rec); len(lines) > 0 {
			s.blocks = append(s.blocks, lines)
		}
	}
}

// Finish emits the final messages for summary.
func (s *Shaper) Finish(summary *Summary) error {
	switch s.mode {
	case ModeBoth:
		s.emit.JSON(map[string]interface{}{
			"summary": summary,
			"records": withWarning(s.raw, summary),
		})
		s.emit.Text(s.digest(summary))
	case ModeTextOnly:
		s.emit.Text(s.digest(summary))
	case ModeFlattenedJSON:
		flattened := withWarning(s.flattened, summary)
		s.emit.JSON(map[string]interface{}{
			"summary": summary,
			"records": flattened,
		})
		s.emit.Text(records.CompactJSON(flattened))
	case ModeJSONStream:
		s.emit.JSON(map[string]interface{}{"summary": summary})
	default:
		return fmt.Errorf("unsupported output mode %s", s.mode)
	}
	return nil
}

func (s *Shaper) digest(summary *Summary) string {
	var text string
	if summary.TotalRecords == 0 {
		text = records.NoMatch(s.rawQuery)
	} else {
		text = records.Digest(summary.TotalRecords, s.blocks)
	}
	if summary.Truncated {
		text += "\n" + summary.Warning
	}
	return text
}

// withWarning returns recs, never nil, with a {"warning": ...} entry
// appended when the run was truncated.
func withWarning(recs []records.Record, summary *Summary) []records.Record {
	out := make([]records.Record, 0, len(recs)+1)
	out = append(out, recs...)
	if summary.Truncated {
		out = append(out, records.Record{"warning": summary.Warning})
	}
	return out
}
