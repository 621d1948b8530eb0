// Package textutil compares subject names as the portal prints them, where case, spacing
// and punctuation drift between semesters.
package textutil

import (
	"strings"
	"unicode"
)

// Squash lowercases s and keeps only letters and digits, so "Double-Minor" and
// "double  minor" squash to the same string.
func Squash(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// ContainsAny reports whether the squashed name contains any of the squashed fragments.
// A fragment that squashes to nothing matches nothing.
func ContainsAny(name string, fragments ...string) bool {
	squashed := Squash(name)
	for _, fragment := range fragments {
		fragment = Squash(fragment)
		if fragment != "" && strings.Contains(squashed, fragment) {
			return true
		}
	}
	return false
}
