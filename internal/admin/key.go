// Package admin resolves free-text administrative names and codes to
// canonical keys.
package admin

import "strings"

// Level numbers used across the resolution engine.
const (
	LevelNational    = 0
	LevelSubnational = 1
)

// SingleKey is the output key used when a scraper produces one value for its
// whole level (for example a global total).
const SingleKey = "value"

// Key is a resolved admin identifier, ordered from coarsest to finest.
// The zero Key is unresolved.
type Key []string

// Unresolved is returned when resolution fails.
var Unresolved Key

// Resolved reports whether k identifies an admin unit.
func (k Key) Resolved() bool {
	return len(k) > 0 && k[len(k)-1] != ""
}

// String returns the finest identifier, which is the key used in outputs.
func (k Key) String() string {
	if len(k) == 0 {
		return ""
	}
	return k[len(k)-1]
}

// At returns the identifier at the given level or "".
func (k Key) At(level int) string {
	if level < 0 || level >= len(k) {
		return ""
	}
	return k[level]
}

// Parent returns the key with its finest identifier removed.
func (k Key) Parent() Key {
	if len(k) <= 1 {
		return Unresolved
	}
	return k[:len(k)-1]
}

// Equal compares keys element-wise.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// Path joins the identifiers with "|", for use as a map key.
func (k Key) Path() string {
	return strings.Join(k, "|")
}
