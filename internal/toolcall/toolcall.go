// Package toolcall detects structured tool invocations in free-text model
// responses. Models emit tool calls in several incompatible shapes: the
// OpenAI tool_calls array, a flat {"tool": ..., "args": ...} object, and an
// "assistant" wrapper around either. Extract normalises all of them.
package toolcall

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Call is a single tool invocation extracted from a model response.
type Call struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// ParseError reports that a response could not be read as JSON at all.
// Callers treat it as "no tool call", never as a failure.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("response is not a tool call: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	fenceRe      = regexp.MustCompile("```json\\n?|\\n?```")
	namePrefixRe = regexp.MustCompile(`^tool[:.]`)
)

// Names under which some providers wrap the real call.
var wrapperNames = map[string]bool{
	"assistant": true,
	"chat":      true,
}

// StripCodeFences removes ```json and ``` markers from s.
func StripCodeFences(s string) string {
	return fenceRe.ReplaceAllString(s, "")
}

// Parse returns the tool calls in text, or nil when there are none.
func Parse(text string) []Call {
	calls, _ := Extract(text)
	return calls
}

// Extract returns the tool calls encoded in text. Text that is not JSON
// yields no calls and a *ParseError. JSON that does not look like a tool
// call yields no calls and no error.
func Extract(text string) (calls []Call, err error) {
	defer func() {
		if r := recover(); r != nil {
			calls = nil
			err = &ParseError{Err: fmt.Errorf("panic while extracting tool calls: %v", r)}
		}
	}()

	cleaned := strings.TrimSpace(StripCodeFences(text))
	if cleaned == "" {
		return nil, nil
	}

	var data any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, &ParseError{Err: err}
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return nil, nil
	}

	var raw []Call
	if list, ok := obj["tool_calls"].([]any); ok {
		raw = fromStandardList(list)
	} else if call, ok := fromObject(obj); ok {
		// An unwrapped call may itself carry a tool_calls array.
		if args, ok := call.Arguments.(map[string]any); ok {
			if list, ok := args["tool_calls"].([]any); ok {
				raw = fromStandardList(list)
			} else {
				raw = []Call{call}
			}
		} else {
			raw = []Call{call}
		}
	}

	for _, c := range raw {
		c = sanitize(c)
		if c.Name == "" {
			continue
		}
		calls = append(calls, c)
	}
	return calls, nil
}

func fromStandardList(list []any) []Call {
	var calls []Call
	for _, entry := range list {
		if call, ok := fromStandard(entry); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// fromStandard reads {"function": {"name", "arguments"}} or {"name", "arguments"}.
func fromStandard(entry any) (Call, bool) {
	tc, ok := entry.(map[string]any)
	if !ok {
		return Call{}, false
	}
	id, _ := tc["id"].(string)

	if fn := tc["function"]; truthy(fn) {
		fnMap, _ := fn.(map[string]any)
		name, _ := fnMap["name"].(string)
		return Call{ID: id, Name: name, Arguments: parseIfJSONString(fnMap["arguments"])}, true
	}

	if name, ok := tc["name"].(string); ok && name != "" {
		return Call{ID: id, Name: name, Arguments: parseIfJSONString(tc["arguments"])}, true
	}

	return Call{}, false
}

// fromObject reads the flat project format and unwraps assistant wrappers.
func fromObject(obj map[string]any) (Call, bool) {
	name, _ := firstTruthy(obj, "tool", "name").(string)
	if name == "" {
		return Call{}, false
	}

	if wrapperNames[name] {
		if inner, ok := firstTruthy(obj, "arguments", "args", "parameters").(map[string]any); ok {
			nestedName, _ := firstTruthy(inner, "tool", "name").(string)
			nestedArgs := firstTruthy(inner, "arguments", "args", "input", "parameters")
			if nestedArgs == nil {
				if q := inner["query"]; truthy(q) {
					nestedArgs = map[string]any{"query": q}
				}
			}
			if nestedName != "" && nestedName != name {
				if nestedArgs == nil {
					nestedArgs = inner
				}
				return Call{Name: nestedName, Arguments: nestedArgs}, true
			}
		}
	}

	args := firstTruthy(obj, "arguments", "args", "parameters", "input")
	if args == nil {
		if q := obj["query"]; truthy(q) {
			return Call{Name: name, Arguments: map[string]any{"query": q}}, true
		}
		rest := make(map[string]any, len(obj))
		for k, v := range obj {
			if k == "tool" || k == "name" {
				continue
			}
			rest[k] = v
		}
		args = rest
	}

	return Call{Name: name, Arguments: args}, true
}

func sanitize(c Call) Call {
	c.Name = strings.TrimSpace(namePrefixRe.ReplaceAllString(c.Name, ""))
	if s, ok := c.Arguments.(string); ok {
		c.Arguments = parseIfJSONString(s)
	}
	return c
}

func parseIfJSONString(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return s
	}
	return parsed
}

// firstTruthy returns the first value under keys that is not nil, false,
// zero or the empty string.
func firstTruthy(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v := obj[k]; truthy(v) {
			return v
		}
	}
	return nil
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	default:
		return true
	}
}
