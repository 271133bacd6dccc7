package naming

import "strings"

// PathSeparator is the filesystem separator that may not appear inside a
// directory entry name.
const PathSeparator = "/"

// SeparatorToken replaces PathSeparator inside DN components so they can be
// used as a single filename.
const SeparatorToken = "%%-path-sep-%%"

// Escape replaces every "/" in a DN component with SeparatorToken.
func Escape(component string) string {
	return strings.ReplaceAll(component, PathSeparator, SeparatorToken)
}

// Unescape is the inverse of Escape.
func Unescape(component string) string {
	return strings.ReplaceAll(component, SeparatorToken, PathSeparator)
}
