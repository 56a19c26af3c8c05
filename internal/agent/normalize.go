package agent

import (
	"strings"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
)

// NormalizeID lowercases a proposed agent name and collapses runs of
// non-alphanumeric characters into single dashes. Per spec.md §3/§8:
// "research analyst" -> "research-analyst"; rejects input with no
// alphanumeric characters at all.
func NormalizeID(name string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder
	lastDash := false
	hasAlnum := false

	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
			hasAlnum = true
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	out := strings.TrimSuffix(b.String(), "-")
	if !hasAlnum || out == "" {
		return "", goerrors.ValidationError("name", "must contain at least one alphanumeric character")
	}

	return out, nil
}
