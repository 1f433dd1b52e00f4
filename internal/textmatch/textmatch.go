// Package textmatch holds the case-insensitive matching shared by search
// and the text sanitizer.
package textmatch

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold returns s in its case-folded form. A fresh Caser is used per call
// because cases.Caser is not safe for concurrent use.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// Contains reports whether query occurs in any of fields, ignoring case.
// An empty query matches everything.
func Contains(query string, fields ...string) bool {
	q := Fold(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(Fold(f), q) {
			return true
		}
	}
	return false
}
