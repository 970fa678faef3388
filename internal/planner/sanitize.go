package planner

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/packdelivery/internal/delivery"
)

// SanitizeName turns a group display name into a unit name candidate.
//
// The name is NFC-normalised first so precomposed and decomposed spellings
// of the same text sanitize identically. Everything but ASCII letters,
// digits and underscore is stripped; an empty result or one that does not
// start with a letter gets GeneratedNamePrefix.
func SanitizeName(display string) string {
	display = norm.NFC.String(display)

	var b strings.Builder
	b.Grow(len(display))
	for _, r := range display {
		if isNameChar(r) {
			b.WriteRune(r)
		}
	}

	name := b.String()
	if name == "" || !isLetter(rune(name[0])) {
		name = delivery.GeneratedNamePrefix + name
	}
	return name
}

func isLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

func isNameChar(r rune) bool {
	return isLetter(r) || (r >= '0' && r <= '9') || r == '_'
}
