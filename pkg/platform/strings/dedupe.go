// Package strings holds list helpers for configuration values.
package strings

import (
	"strings"
)

// SplitList splits s on sep, trims each item and drops empty and repeated
// items. Order of first occurrence is kept.
func SplitList(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(s, sep))
}

// DedupeAndTrim trims every value and removes blanks and duplicates.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
