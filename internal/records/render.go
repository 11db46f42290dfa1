package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Unknown is shown for missing or empty field values.
const Unknown = "不明"

// Divider separates record blocks in a digest.
const Divider = "---"

// Clean strips kintone wrappers from v: {"value": x} becomes x, "type" and
// "id" keys are dropped, bare {"id": n} references and empty containers
// become "". Numbers and booleans always survive.
func Clean(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if _, hasID := val["id"]; hasID && len(val) == 1 {
			return ""
		}
		if inner, ok := val["value"]; ok {
			return Clean(inner)
		}
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if k == "type" || k == "id" {
				continue
			}
			if cleaned := Clean(item); keep(cleaned) {
				out[k] = cleaned
			}
		}
		if len(out) == 0 {
			return ""
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, item := range val {
			var cleaned interface{}
			if m, ok := item.(map[string]interface{}); ok && hasKeys(m, "id", "value") {
				cleaned = Clean(m["value"])
			} else {
				cleaned = Clean(item)
			}
			if keep(cleaned) {
				out = append(out, cleaned)
			}
		}
		if len(out) == 0 {
			return ""
		}
		return out
	default:
		return v
	}
}

func hasKeys(m map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

func keep(v interface{}) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

func isNumberOrBool(v interface{}) bool {
	switch v.(type) {
	case json.Number, float64, float32, int, int64, int32, uint, uint64, bool:
		return true
	}
	return false
}

// Render formats one field value for a text digest. A nil value, an empty
// string or an empty container renders as Unknown; 0 and false render as
// themselves.
func Render(field interface{}) string {
	if field == nil {
		return Unknown
	}
	cleaned := Clean(field)
	if isNumberOrBool(cleaned) {
		return scalarString(cleaned)
	}
	switch val := cleaned.(type) {
	case nil:
		return Unknown
	case string:
		if val == "" {
			return Unknown
		}
		return val
	case map[string]interface{}, []interface{}:
		return CompactJSON(val)
	default:
		return fmt.Sprint(val)
	}
}

// RenderField renders rec[code], or Unknown when the field is absent.
func RenderField(rec Record, code string) string {
	field, ok := rec[code]
	if !ok {
		return Unknown
	}
	return Render(field)
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// CompactJSON encodes v as compact JSON keeping non-ASCII and HTML
// characters as they are.
func CompactJSON(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// RecordLines returns "code: value" lines for rec in field-code order,
// skipping fields that render empty or as Unknown.
func RecordLines(rec Record) []string {
	codes := make([]string, 0, len(rec))
	for code := range rec {
		codes = append(codes, code)
	}
	slices.Sort(codes)

	lines := make([]string, 0, len(codes))
	for _, code := range codes {
		rendered := Render(rec[code])
		if rendered == "" || rendered == Unknown {
			continue
		}
		lines = append(lines, code+": "+rendered)
	}
	return lines
}

// Digest builds the text summary of a result: a count header followed by
// one block per record, blocks separated by Divider.
func Digest(total int, blocks [][]string) string {
	lines := []string{fmt.Sprintf("取得したレコード件数: %d", total)}
	for i, block := range blocks {
		if i > 0 {
			lines = append(lines, Divider)
		}
		lines = append(lines, block...)
	}
	return strings.Join(lines, "\n")
}

// NoMatch is the message for a query that returned no records.
func NoMatch(query string) string {
	return fmt.Sprintf("'%s' に一致するレコードは見つかりませんでした。", query)
}
