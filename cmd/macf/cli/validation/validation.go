// Package validation provides input validation for IDs that end up in file
// paths or breadcrumbs. This package has no dependencies to avoid import
// cycles.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// pathSafeRegex matches alphanumeric characters, underscores, and hyphens only.
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// shortHexRegex matches lowercase hex strings (used for breadcrumb components).
var shortHexRegex = regexp.MustCompile(`^[a-f0-9]+$`)

// ValidateSessionID validates that a session ID doesn't contain path
// separators. Session IDs are used in log file paths.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid session ID %q: contains path separators", id)
	}
	return nil
}

// ValidatePromptUUID validates a prompt UUID. Empty is allowed (the hook may
// not carry one); "none" is the explicit absent marker.
func ValidatePromptUUID(id string) error {
	if id == "" || id == "none" {
		return nil
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid prompt UUID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

// ValidateToolUseID validates that a tool use ID contains only safe
// characters. Tool use IDs can be UUIDs or prefixed identifiers like
// "toolu_xxx".
func ValidateToolUseID(id string) error {
	if id == "" {
		return nil // Empty is allowed (optional field)
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid tool use ID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

// ValidateShortHex validates an n-character lowercase hex string.
func ValidateShortHex(s string, n int) error {
	if len(s) != n {
		return fmt.Errorf("invalid hex component %q: want %d characters, got %d", s, n, len(s))
	}
	if !shortHexRegex.MatchString(s) {
		return fmt.Errorf("invalid hex component %q: must be lowercase hex", s)
	}
	return nil
}

// ValidateEventName validates an event name (lower_snake, as stored in the
// event log).
var eventNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func ValidateEventName(name string) error {
	if !eventNameRegex.MatchString(name) {
		return fmt.Errorf("invalid event name %q: must be lower_snake", name)
	}
	return nil
}
