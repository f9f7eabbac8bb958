package mention

import "strings"

// Normalizer turns raw mention digits into a canonical address by applying
// a country code.
type Normalizer struct {
	// DefaultCode is prepended when the number carries no known prefix.
	DefaultCode string
	// Prefixes are country codes accepted as already present.
	Prefixes []string
	// NationalLength is the digit count of a number without country code.
	// Numbers this short always get DefaultCode, even if their leading
	// digits look like a known prefix (a 10-digit "55..." number is a
	// Mexico City line, not a Brazilian one). Zero disables the rule.
	NationalLength int
}

// DefaultNormalizer returns the normalizer for Mexican numbers with the
// North American, Brazilian, and Colombian codes accepted as-is.
func DefaultNormalizer() Normalizer {
	return Normalizer{
		DefaultCode:    "52",
		Prefixes:       []string{"1", "52", "55", "57"},
		NationalLength: 10,
	}
}

// Normalize strips every non-digit and applies the country code rules.
// An input with no digits yields "".
func (n Normalizer) Normalize(token string) string {
	digits := stripNonDigits(token)
	if digits == "" {
		return ""
	}
	if n.NationalLength > 0 && len(digits) <= n.NationalLength {
		return n.DefaultCode + digits
	}
	for _, p := range n.Prefixes {
		if p != "" && strings.HasPrefix(digits, p) {
			return digits
		}
	}
	return n.DefaultCode + digits
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
