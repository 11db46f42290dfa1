package tools

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	mcperrors "github.com/tareqmamari/kintone-mcp-server/internal/errors"
)

// Parameter validation messages.
const (
	MsgTimeoutInvalid   = "request_timeout には正の数値を指定してください。"
	MsgTimeoutTooLarge  = "request_timeout は600秒以下で指定してください。"
	MsgFieldsWrongType  = "fields パラメータは文字列または配列で指定してください。"
	MsgFieldsBadJSON    = "fields は JSON 配列形式が正しくありません。"
	MsgFieldsNotArray   = "fields は配列形式で指定してください。"
	MsgFieldsNotStrings = "fields の各要素は文字列である必要があります。"
)

// MaxRequestTimeout is the largest accepted request_timeout.
const MaxRequestTimeout = 10 * time.Minute

// IsBlank reports whether a parameter counts as not given: absent, null or a
// whitespace-only string.
func IsBlank(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}

// GetStringParam safely gets a string parameter from arguments.
// It also handles numeric values and converts them to strings.
func GetStringParam(arguments map[string]interface{}, key string) (string, bool) {
	switch v := arguments[key].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// ParseInt reads an integer given as a JSON number or a decimal string.
// Floats at or beyond ±2^63 are rejected.
func ParseInt(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) || math.Abs(val) >= math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// ParsePositiveInt is ParseInt restricted to values above zero.
func ParsePositiveInt(v interface{}) (int64, bool) {
	n, ok := ParseInt(v)
	return n, ok && n > 0
}

// ParseTimeout reads request_timeout in seconds. A blank value selects def;
// values above MaxRequestTimeout are rejected.
func ParseTimeout(v interface{}, def time.Duration) (time.Duration, error) {
	if IsBlank(v) {
		return def, nil
	}

	var seconds float64
	switch val := v.(type) {
	case float64:
		seconds = val
	case int:
		seconds = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, mcperrors.NewInvalidInput(MsgTimeoutInvalid)
		}
		seconds = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, mcperrors.NewInvalidInput(MsgTimeoutInvalid)
		}
		seconds = f
	default:
		return 0, mcperrors.NewInvalidInput(MsgTimeoutInvalid)
	}

	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, mcperrors.NewInvalidInput(MsgTimeoutInvalid)
	}
	if seconds > MaxRequestTimeout.Seconds() {
		return 0, mcperrors.NewInvalidInput(MsgTimeoutTooLarge)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

var fieldSeparator = regexp.MustCompile(`[,\n]`)

// ParseFields reads a fields parameter given as a list, a JSON array string
// or a comma/newline separated string. Entries are trimmed and blanks dropped.
func ParseFields(v interface{}) ([]string, error) {
	var tokens []interface{}
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		tokens = val
	case []string:
		for _, s := range val {
			tokens = append(tokens, s)
		}
	case string:
		text := strings.TrimSpace(val)
		if text == "" {
			return nil, nil
		}
		if strings.HasPrefix(text, "[") {
			var parsed interface{}
			if err := json.Unmarshal([]byte(text), &parsed); err != nil {
				return nil, mcperrors.NewInvalidInput(MsgFieldsBadJSON)
			}
			list, ok := parsed.([]interface{})
			if !ok {
				return nil, mcperrors.NewInvalidInput(MsgFieldsNotArray)
			}
			tokens = list
		} else {
			for _, part := range fieldSeparator.Split(text, -1) {
				tokens = append(tokens, part)
			}
		}
	default:
		return nil, mcperrors.NewInvalidInput(MsgFieldsWrongType)
	}

	fields := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		s, ok := tok.(string)
		if !ok {
			return nil, mcperrors.NewInvalidInput(MsgFieldsNotStrings)
		}
		if s = strings.TrimSpace(s); s != "" {
			fields = append(fields, s)
		}
	}
	return fields, nil
}

// ParseFlag reads a boolean given as a bool, a number or a word such as
// "yes" or "0". ok is false for anything else.
func ParseFlag(v interface{}) (flag bool, ok bool) {
	switch val := v.(type) {
	case nil:
		return false, true
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "y":
			return true, true
		case "false", "0", "no", "n", "":
			return false, true
		}
	}
	return false, false
}
