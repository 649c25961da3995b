package testsuite

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed all:testdata
var embeddedSuites embed.FS

const (
	promptFile = "prompt.md"
	mocksFile  = "mocks.yaml"
)

var (
	// ErrSuiteNotFound is returned when no suite directory has the name.
	ErrSuiteNotFound = errors.New("suite not found")
	// ErrTestCaseNotFound is returned by Suite.TestCase for unknown ids.
	ErrTestCaseNotFound = errors.New("test case not found")
)

// Load loads a suite by prompt name, searching first in the external
// directory (if provided), then in the embedded suites.
func Load(name string, externalDir string) (*Suite, error) {
	fsys, err := suiteFS(name, externalDir)
	if err != nil {
		return nil, err
	}
	return loadFromFS(fsys, name)
}

// LoadPrompt loads only the prompt of a suite.
func LoadPrompt(name string, externalDir string) (*Prompt, error) {
	fsys, err := suiteFS(name, externalDir)
	if err != nil {
		return nil, err
	}
	return loadPromptFromFS(fsys, name)
}

// List returns the names of all available suites.
func List(externalDir string) ([]string, error) {
	seen := make(map[string]bool)
	var names []string

	entries, err := fs.ReadDir(embeddedSuites, "testdata")
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = true
				names = append(names, e.Name())
			}
		}
	}

	if externalDir != "" {
		entries, err := os.ReadDir(externalDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read suites directory %s: %w", externalDir, err)
		}
		for _, e := range entries {
			if !e.IsDir() || seen[e.Name()] {
				continue
			}
			if _, err := os.Stat(filepath.Join(externalDir, e.Name(), promptFile)); err != nil {
				continue
			}
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)
	return names, nil
}

// TestCase returns the test case with the given id.
func (s *Suite) TestCase(id string) (*TestCase, error) {
	for i := range s.TestCases {
		if s.TestCases[i].ID == id {
			return &s.TestCases[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q in suite %q", ErrTestCaseNotFound, id, s.Prompt.Name)
}

func suiteFS(name string, externalDir string) (fs.FS, error) {
	if externalDir != "" {
		dir := filepath.Join(externalDir, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir), nil
		}
	}

	// embed.FS always uses forward slashes.
	subFS, err := fs.Sub(embeddedSuites, path.Join("testdata", name))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrSuiteNotFound, name, err)
	}
	if _, err := fs.Stat(subFS, promptFile); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrSuiteNotFound, name)
	}
	return subFS, nil
}

func loadPromptFromFS(fsys fs.FS, name string) (*Prompt, error) {
	data, err := fs.ReadFile(fsys, promptFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s for suite %q: %w", promptFile, name, err)
	}
	return &Prompt{
		Name:        name,
		Description: headline(data),
		Content:     string(data),
	}, nil
}

func loadFromFS(fsys fs.FS, name string) (*Suite, error) {
	prompt, err := loadPromptFromFS(fsys, name)
	if err != nil {
		return nil, err
	}

	suite := &Suite{Prompt: *prompt}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list suite %q: %w", name, err)
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == mocksFile {
			continue
		}
		ext := path.Ext(e.Name())
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}

		tc, err := loadTestCase(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("suite %q: %w", name, err)
		}
		tc.PromptName = name
		suite.TestCases = append(suite.TestCases, *tc)
	}

	sort.Slice(suite.TestCases, func(i, j int) bool {
		return suite.TestCases[i].ID < suite.TestCases[j].ID
	})

	mocks, err := fs.ReadFile(fsys, mocksFile)
	switch {
	case err == nil:
		suite.Mocks = mocks
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s for suite %q: %w", mocksFile, name, err)
	}

	return suite, nil
}

func loadTestCase(fsys fs.FS, filename string) (*TestCase, error) {
	data, err := fs.ReadFile(fsys, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	var tc TestCase
	if path.Ext(filename) == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		err = dec.Decode(&tc)
	} else {
		err = yaml.Unmarshal(data, &tc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	if tc.ID == "" {
		tc.ID = strings.TrimSuffix(filename, path.Ext(filename))
	}
	if err := Validate(tc); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &tc, nil
}

// headline returns the text of the first markdown heading, if any.
func headline(data []byte) string {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if line != "" {
			return ""
		}
	}
	return ""
}
