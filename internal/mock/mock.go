// Package mock provides tool mock registries for the execution engine: an
// in-memory map and a declarative mocks.yaml format.
package mock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/prompt-testing/internal/engine"
	"github.com/giantswarm/prompt-testing/internal/template"
)

// FileName is the conventional mocks file inside a prompt directory.
const FileName = "mocks.yaml"

// Map is a registry backed by a plain map. It must not be modified while an
// execution uses it.
type Map map[string]engine.MockFunc

// Lookup implements engine.MockRegistry.
func (m Map) Lookup(name string) (engine.MockFunc, bool) {
	fn, ok := m[name]
	return fn, ok
}

// Names returns the registered tool names, sorted.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Static returns a mock that always answers result.
func Static(result string) engine.MockFunc {
	return func(context.Context, any) (string, error) {
		return result, nil
	}
}

// Templated returns a mock rendering tmpl with the call arguments bound to
// $json. Non-object arguments are exposed as {{ $json.args }}.
func Templated(tmpl string) engine.MockFunc {
	return func(_ context.Context, args any) (string, error) {
		data, ok := args.(map[string]any)
		if !ok {
			data = map[string]any{"args": args}
		}
		return template.Render(tmpl, data), nil
	}
}

// Sequence returns a mock answering the responses in order. The last one
// repeats once the list is used up.
func Sequence(responses ...string) engine.MockFunc {
	var (
		mu   sync.Mutex
		next int
	)
	return func(context.Context, any) (string, error) {
		if len(responses) == 0 {
			return "", errors.New("empty response sequence")
		}
		mu.Lock()
		defer mu.Unlock()
		r := responses[min(next, len(responses)-1)]
		next++
		return r, nil
	}
}

// Failing returns a mock that always fails with message.
func Failing(message string) engine.MockFunc {
	return func(context.Context, any) (string, error) {
		return "", errors.New(message)
	}
}

type mocksFile struct {
	Tools map[string]toolMock `yaml:"tools"`
}

type toolMock struct {
	Response  *string  `yaml:"response"`
	Template  *string  `yaml:"template"`
	Responses []string `yaml:"responses"`
	Error     string   `yaml:"error"`
}

// Parse reads a mocks document:
//
//	tools:
//	  search:
//	    template: '{"results": [], "query": "{{ $json.query }}"}'
//	  weather:
//	    response: '{"temp": 21}'
//	  flaky:
//	    responses: ["busy", "ok"]
//
// Each tool sets exactly one of response, template, responses or error.
func Parse(data []byte) (Map, error) {
	var file mocksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse mocks: %w", err)
	}

	m := make(Map, len(file.Tools))
	for name, ts := range file.Tools {
		fn, err := ts.build()
		if err != nil {
			return nil, fmt.Errorf("mock %q: %w", name, err)
		}
		m[name] = fn
	}
	return m, nil
}

func (ts toolMock) build() (engine.MockFunc, error) {
	set := 0
	var fn engine.MockFunc
	if ts.Response != nil {
		set++
		fn = Static(*ts.Response)
	}
	if ts.Template != nil {
		set++
		fn = Templated(*ts.Template)
	}
	if len(ts.Responses) > 0 {
		set++
		fn = Sequence(ts.Responses...)
	}
	if ts.Error != "" {
		set++
		fn = Failing(ts.Error)
	}
	switch set {
	case 0:
		return nil, errors.New("one of response, template, responses or error is required")
	case 1:
		return fn, nil
	default:
		return nil, errors.New("only one of response, template, responses or error may be set")
	}
}

// LoadFile reads a mocks file. A missing file yields an empty registry.
func LoadFile(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Map{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mocks file: %w", err)
	}
	return Parse(data)
}
