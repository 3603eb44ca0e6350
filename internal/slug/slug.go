// Package slug derives URL identifiers from actor names.
package slug

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxAttempts = 1000

var umlauts = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue",
	"Ä", "Ae", "Ö", "Oe", "Ü", "Ue",
	"ß", "ss",
)

// Fold transliterates German umlauts and strips remaining diacritics.
func Fold(s string) string {
	s = umlauts.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func Make(first, last string) string {
	return FromName(strings.TrimSpace(first + " " + last))
}

func FromName(name string) string {
	name = strings.ToLower(Fold(name))

	var b strings.Builder
	pendingDash := false
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingDash = false
			continue
		}
		pendingDash = true
	}

	if b.Len() == 0 {
		return "actor"
	}
	return b.String()
}

// Unique returns base, or the first of base-2, base-3, ... that taken reports free.
func Unique(ctx context.Context, base string, taken func(ctx context.Context, slug string) (bool, error)) (string, error) {
	for n := 1; n <= maxAttempts; n++ {
		candidate := base
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d", base, n)
		}
		used, err := taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("error checking slug %q: %w", candidate, err)
		}
		if !used {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free slug for %q after %d attempts", base, maxAttempts)
}

// Letter is the alphabet index bucket for a sort name: A-Z, or # for anything else.
func Letter(sortName string) string {
	folded := strings.TrimSpace(Fold(sortName))
	if folded == "" {
		return "#"
	}
	r := unicode.ToUpper([]rune(folded)[0])
	if r >= 'A' && r <= 'Z' {
		return string(r)
	}
	return "#"
}
