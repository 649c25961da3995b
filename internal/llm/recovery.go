package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// recoveredHeader marks synthetic responses built from a failed generation.
const recoveredHeader = "X-Recovered-Generation"

// recoveringDoer sits between go-openai and the network. It adds the
// OpenRouter attribution headers and normalises provider error shapes:
// content hidden in a failed_generation field is turned into a regular
// completion, and every other failure becomes an *UpstreamError that keeps
// the status code and the raw payload.
type recoveringDoer struct {
	next    HTTPDoer
	referer string
	title   string
}

func (d *recoveringDoer) Do(req *http.Request) (*http.Response, error) {
	if d.referer != "" {
		req.Header.Set("HTTP-Referer", d.referer)
	}
	if d.title != "" {
		req.Header.Set("X-Title", d.title)
	}

	resp, err := d.next.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	if content, ok := failedGeneration(body, success); ok {
		slog.Warn("recovered content from failed generation",
			"status", resp.StatusCode,
			"chars", len(content),
		)
		return syntheticCompletion(req, content)
	}

	if !success {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if e := gjson.GetBytes(body, "error"); truthy(e) {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "provider returned error", Body: e.Raw}
	}

	if strings.HasSuffix(req.URL.Path, "/chat/completions") {
		choices := gjson.GetBytes(body, "choices")
		if !choices.IsArray() || len(choices.Array()) == 0 {
			return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "no choices returned", Body: string(body)}
		}
		if e := choices.Get("0.error"); truthy(e) {
			return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "provider returned choice error", Body: e.Raw}
		}
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// failedGeneration looks for raw model output the provider attached to an
// error. The choice-level location is only consulted on 2xx responses.
func failedGeneration(body []byte, success bool) (string, bool) {
	paths := []string{"error.metadata.raw.failed_generation"}
	if success {
		paths = append(paths, "choices.0.error.metadata.raw.failed_generation")
	}
	for _, p := range paths {
		r := gjson.GetBytes(body, p)
		if !truthy(r) {
			continue
		}
		if r.Type == gjson.String {
			return r.Str, true
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(r.Raw)); err != nil {
			return r.Raw, true
		}
		return buf.String(), true
	}
	return "", false
}

// truthy mirrors the loose checks providers' clients apply to optional
// fields: absent, null, false, 0 and "" all count as missing.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	default:
		return r.Exists()
	}
}

func syntheticCompletion(req *http.Request, content string) (*http.Response, error) {
	payload, err := json.Marshal(map[string]any{
		"object": "chat.completion",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message": map[string]any{
				"role":    RoleAssistant,
				"content": content,
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode recovered completion: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(recoveredHeader, "true")

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(payload)),
		ContentLength: int64(len(payload)),
		Request:       req,
	}, nil
}
