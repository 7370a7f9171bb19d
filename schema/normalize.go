package schema

import (
	"fmt"
	"strings"
)

// ValidateTabName ensures a tab name can be used verbatim as a directory name
// inside a workspace root. Dot-prefixed names are reserved for staging.
func ValidateTabName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTabName)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidTabName, name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidTabName, name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidTabName, name)
	}
	return nil
}
