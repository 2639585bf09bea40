package textimport

import (
	"fmt"
	"strings"
)

// Atomicity governs what happens when an individual row cannot be parsed.
type Atomicity uint8

const (
	// SkipCol leaves the offending column at its type's null and keeps
	// the row. This is the default.
	SkipCol Atomicity = iota
	// SkipRow cancels the offending row; it is not counted as imported.
	SkipRow
	// SkipAll rolls back the shadow partition and fails the import on
	// the first offending row.
	SkipAll
)

// String returns the canonical policy name.
func (a Atomicity) String() string {
	switch a {
	case SkipCol:
		return "skip_col"
	case SkipRow:
		return "skip_row"
	case SkipAll:
		return "skip_all"
	default:
		return "unknown"
	}
}

// ParseAtomicity resolves a policy name. The empty string resolves to
// the default.
func ParseAtomicity(s string) (Atomicity, error) {
	switch strings.ToLower(s) {
	case "", "skip_col":
		return SkipCol, nil
	case "skip_row":
		return SkipRow, nil
	case "skip_all":
		return SkipAll, nil
	default:
		return SkipCol, fmt.Errorf("unknown atomicity policy %q", s)
	}
}
