package packet

import (
	"fmt"
	"strings"
)

// Violation kinds. These are stable identifiers surfaced to API clients.
const (
	KindSchema       = "schema_violation"
	KindRequired     = "required_field_missing"
	KindUnknownEnum  = "unknown_enum_value"
	KindOutOfRange   = "out_of_range"
	KindBadFormat    = "bad_format"
	KindHashMismatch = "hash_mismatch"
	KindEmptyContent = "empty_content"
	KindDuplicateID  = "duplicate_chunk_id"
)

// ValidationError describes a single violation, located by a
// JSON-Pointer-like path into the packet document.
type ValidationError struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Message)
}

// ValidationErrors aggregates every violation found in one pass.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Error()
	}
	return fmt.Sprintf("%d violations: %s", len(e), strings.Join(parts, "; "))
}

// IsHashMismatch reports whether the error set contains a hash mismatch.
func (e ValidationErrors) IsHashMismatch() bool {
	for _, v := range e {
		if v.Kind == KindHashMismatch {
			return true
		}
	}
	return false
}

func violation(path, kind, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Kind: kind, Message: fmt.Sprintf(format, args...)}
}
