package server

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateName rejects identifiers that could escape a suites directory when
// joined into a path.
func ValidateName(kind, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRequest, kind)
	}
	if strings.Contains(value, string(filepath.Separator)) || strings.Contains(value, "/") {
		return fmt.Errorf("%w: path separators are not allowed in %s %q", ErrInvalidRequest, kind, value)
	}
	if value == "." || value == ".." {
		return fmt.Errorf("%w: path traversal is not allowed in %s", ErrInvalidRequest, kind)
	}
	return nil
}
