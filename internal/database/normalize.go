package database

import (
	"strings"

	"github.com/kozaktomas/pixpursuit/internal/constants"
	"golang.org/x/text/unicode/norm"
)

// NormalizeLabel trims whitespace and composes the string to NFC so visually
// identical tag or face names compare equal.
func NormalizeLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// NormalizeTags normalizes tags, dropping empty strings, the tombstone sentinel and duplicates.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = NormalizeLabel(t)
		if t == "" || t == constants.NullTag {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
