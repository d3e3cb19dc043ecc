// Package utils holds small string and paging helpers shared by the HTTP
// handlers and services.
package utils

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// CollapseSpaces trims s and collapses internal whitespace runs to a single
// space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Clip truncates s to at most max runes. A non-positive max disables it.
func Clip(s string, max int) string {
	if max > 0 && utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max])
	}
	return s
}

// NormalizeTags lower-cases, trims and de-duplicates tags, preserving first
// occurrence order. Blank tags are dropped, each tag is clipped to maxRunes
// and at most maxTags are kept.
func NormalizeTags(tags []string, maxTags, maxRunes int) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = Clip(strings.ToLower(CollapseSpaces(t)), maxRunes)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if maxTags > 0 && len(out) == maxTags {
			break
		}
	}
	return out
}

// IntParam parses a query value, returning def when it is empty or not an
// integer.
func IntParam(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// PageOffset applies the default page (1) and page size (20) and returns the
// normalized values with the row offset.
func PageOffset(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize, (page - 1) * pageSize
}
