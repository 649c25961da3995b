// Package template expands {{ $json.path }} placeholders in prompt templates.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ConversationIDKey is the reserved placeholder bound to the run identifier.
const ConversationIDKey = "conversation_id"

var placeholderRe = regexp.MustCompile(`\{\{\s*\$json\.([a-zA-Z0-9_.]+)\s*\}\}`)

// Render replaces every placeholder in tmpl with the value found at its
// dotted path in data. Paths that do not resolve render as "null".
func Render(tmpl string, data map[string]any) string {
	return render(tmpl, data, "")
}

// RenderConversation is Render with the conversation_id placeholder bound to
// conversationID. The run identifier wins over a conversation_id key in data.
func RenderConversation(tmpl string, data map[string]any, conversationID string) string {
	return render(tmpl, data, conversationID)
}

func render(tmpl string, data map[string]any, conversationID string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		if conversationID != "" && path == ConversationIDKey {
			return conversationID
		}
		value, ok := Lookup(data, path)
		if !ok {
			return "null"
		}
		return Stringify(value)
	})
}

// Lookup walks data along a dot-separated path. Numeric segments index into
// slices. The boolean is false when any segment is missing.
func Lookup(data map[string]any, path string) (any, bool) {
	var current any = data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Stringify converts a resolved value to its template text. Containers are
// rendered as compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case json.Number:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
