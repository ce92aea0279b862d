package util

import (
	"slices"
	"strings"
)

// SafeTruncate returns at most the first maxLen bytes of s without panicking.
// Used when logging handles, where only a prefix may be shown.
// A negative maxLen yields "".
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                  // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL trims trailing slashes so "https://issuer/" and "https://issuer" compare equal.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// ParseScopes splits a space-delimited scope parameter into unique names, preserving order.
func ParseScopes(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// JoinScopes joins scope names with single spaces.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ContainsAll reports whether every element of want is in have.
func ContainsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
