package product

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s and strips accents (á→a, ñ→n), the same transform
// the catalog applies on its side when matching names.
func Normalize(s string) string {
	s = strings.ToLower(s)

	// separar acentos
	t := norm.NFD.String(s)

	var b strings.Builder
	for _, r := range t {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if r == 'ñ' {
			r = 'n'
		}
		b.WriteRune(r)
	}

	return b.String()
}

// Slugify turns a display name into a URL slug: normalized, non-alphanumeric
// runs collapsed to single dashes.
func Slugify(s string) string {
	s = Normalize(s)

	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}

	return strings.TrimRight(b.String(), "-")
}

// ProductSlug builds the deterministic slug used as the last-resort
// resolution key: slugified name plus the store's internal product id.
func ProductSlug(name, storeProductID string) string {
	return Slugify(name) + "-" + strings.ToLower(storeProductID)
}
