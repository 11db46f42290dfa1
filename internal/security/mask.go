// Package security provides masking helpers for tokens and log payloads.
package security

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Masked replaces values of sensitive keys in sanitized log payloads.
const Masked = "***"

const (
	// MaxLogString is the rune length above which strings are shortened in logs.
	MaxLogString = 200
	// MaxLogItems is the element count above which lists and maps are shortened in logs.
	MaxLogItems = 20
)

// SensitiveKeys are parameter names whose values never reach a log line.
var SensitiveKeys = map[string]bool{
	"kintone_api_token": true,
}

// MaskAPIToken masks a comma-joined kintone API token list, keeping the
// first and last 4 characters of each token.
func MaskAPIToken(token string) string {
	if token == "" {
		return ""
	}
	parts := strings.Split(token, ",")
	for i, p := range parts {
		parts[i] = maskOne(strings.TrimSpace(p))
	}
	return strings.Join(parts, ",")
}

func maskOne(token string) string {
	if len(token) <= 8 {
		return Masked
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// MaskSensitiveHeaders masks sensitive values in HTTP headers
func MaskSensitiveHeaders(headers map[string][]string) map[string]string {
	masked := make(map[string]string)
	sensitiveHeaders := map[string]bool{ // pragma: allowlist secret
		"x-cybozu-api-token":     true,
		"x-cybozu-authorization": true,
		"authorization":          true,
		"cookie":                 true,
		"set-cookie":             true,
	}

	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			masked[key] = "***REDACTED***"
		} else if len(values) > 0 {
			masked[key] = values[0]
			if len(values) > 1 {
				masked[key] += "..."
			}
		}
	}

	return masked
}

var tokenPattern = regexp.MustCompile(`(?i)(x-cybozu-api-token|api[_-]?token|kintone_api_token)(["']?\s*[=:]\s*["']?)([^"'\s&,]+)`)

// MaskSensitiveData masks token assignments in free text such as error messages.
func MaskSensitiveData(data string) string {
	return tokenPattern.ReplaceAllString(data, "${1}${2}***REDACTED***")
}

// SanitizeError removes sensitive data from error messages
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return MaskSensitiveData(err.Error())
}

// SanitizeForLogging returns a copy of data safe for log output: sensitive
// keys are replaced with Masked, long strings and large collections are
// shortened.
func SanitizeForLogging(data map[string]any) map[string]any {
	if len(data) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if SensitiveKeys[k] {
			out[k] = Masked
			continue
		}
		out[k] = truncate(v)
	}
	return out
}

func truncate(v any) any {
	switch val := v.(type) {
	case string:
		if utf8.RuneCountInString(val) > MaxLogString {
			runes := []rune(val)
			return fmt.Sprintf("%s...(len=%d)", string(runes[:MaxLogString]), len(runes))
		}
		return val
	case []string:
		if len(val) > MaxLogItems {
			preview := make([]any, 0, MaxLogItems+1)
			for _, s := range val[:MaxLogItems] {
				preview = append(preview, s)
			}
			return append(preview, fmt.Sprintf("...(total=%d)", len(val)))
		}
		return val
	case []any:
		if len(val) > MaxLogItems {
			preview := make([]any, 0, MaxLogItems+1)
			preview = append(preview, val[:MaxLogItems]...)
			return append(preview, fmt.Sprintf("...(total=%d)", len(val)))
		}
		return val
	case map[string]any:
		if len(val) <= MaxLogItems {
			return val
		}
		trimmed := make(map[string]any, MaxLogItems+1)
		for _, k := range slices.Sorted(maps.Keys(val))[:MaxLogItems] {
			trimmed[k] = truncate(val[k])
		}
		trimmed["..."] = fmt.Sprintf("(total_keys=%d)", len(val))
		return trimmed
	default:
		return v
	}
}
