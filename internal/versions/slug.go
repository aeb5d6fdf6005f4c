package versions

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const untitled = "untitled"

// Slug folds s into a filesystem-safe directory name. Accents are stripped
// after NFKD decomposition and runs of characters outside [0-9A-Za-z._-]
// collapse to a single dash.
func Slug(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn))), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, r := range folded {
		if isSlugRune(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		return untitled
	}
	return out
}

func isSlugRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}
