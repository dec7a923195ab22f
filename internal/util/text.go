package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// Fold lowercases s and strips combining marks so that "Bogotá" and "BOGOTA"
// compare equal. Whitespace runs collapse to a single space.
func Fold(s string) string {
	if s == "" {
		return s
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// ContainsFold reports whether needle occurs in haystack, ignoring case and accents.
func ContainsFold(haystack, needle string) bool {
	n := Fold(needle)
	if n == "" {
		return false
	}
	return strings.Contains(Fold(haystack), n)
}

// TitleName normalizes the casing of a person or organization name:
// "ANA matilde  guzmán" becomes "Ana Matilde Guzmán". Short connectors
// ("de", "del", "la", "y") stay lowercase unless they open the name.
func TitleName(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	for i, f := range fields {
		lower := strings.ToLower(f)
		if i > 0 && isNameConnector(lower) {
			fields[i] = lower
			continue
		}
		r := []rune(lower)
		r[0] = unicode.ToUpper(r[0])
		fields[i] = string(r)
	}
	return strings.Join(fields, " ")
}

func isNameConnector(s string) bool {
	switch s {
	case "de", "del", "la", "las", "los", "y", "e":
		return true
	}
	return false
}

// Truncate cuts s to at most limit runes, backing off to the last sentence or
// clause boundary inside the limit when one exists in its second half.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	cut := r[:limit]
	for i := len(cut) - 1; i >= limit/2; i-- {
		switch cut[i] {
		case '.', ';', '!', '?', '\n':
			return strings.TrimSpace(string(cut[:i+1]))
		}
	}
	for i := len(cut) - 1; i >= limit/2; i-- {
		if cut[i] == ',' || unicode.IsSpace(cut[i]) {
			return strings.TrimSpace(string(cut[:i])) + "…"
		}
	}
	return string(cut) + "…"
}
