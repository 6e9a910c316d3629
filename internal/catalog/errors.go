package catalog

import (
	"fmt"
	"strings"
)

// EmptyServerListError is returned when no server is eligible for a selection
type EmptyServerListError struct {
	Reason string
}

func (e *EmptyServerListError) Error() string {
	return "no servers available: " + e.Reason
}

// MissingCacheError is returned when the cached server list is absent or unreadable
type MissingCacheError struct {
	Path string
	Err  error
}

func (e *MissingCacheError) Error() string {
	return fmt.Sprintf("server list cache at '%s' is missing: %v", e.Path, e.Err)
}

func (e *MissingCacheError) Unwrap() error {
	return e.Err
}

// ServerNotFoundError is returned when a valid servername is not in the catalog
type ServerNotFoundError struct {
	Name        string
	Suggestions []string
}

func (e *ServerNotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("server '%s' does not exist", e.Name)
	}
	return fmt.Sprintf("server '%s' does not exist, did you mean: %s", e.Name, strings.Join(e.Suggestions, ", "))
}
