package reconciler

import (
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

var repeatedUnderscores = regexp.MustCompile(`_+`)

// Sanitize turns a unit name into a safe artifact file name: nearest
// ASCII transliteration (unrepresentable runes become '_'), everything
// outside [A-Za-z0-9._-] replaced by '_', repeats collapsed, edges
// trimmed. Total and idempotent; never returns an empty string.
func Sanitize(name string) string {
	var ascii strings.Builder
	for _, r := range name {
		if r < 0x80 {
			ascii.WriteRune(r)
			continue
		}
		transliterated := unidecode.Unidecode(string(r))
		if transliterated == "" {
			ascii.WriteByte('_')
		} else {
			ascii.WriteString(transliterated)
		}
	}

	var out strings.Builder
	for _, ch := range ascii.String() {
		if isSafeFilenameChar(ch) {
			out.WriteRune(ch)
		} else {
			out.WriteByte('_')
		}
	}

	trimmed := repeatedUnderscores.ReplaceAllString(strings.Trim(out.String(), "_"), "_")
	if trimmed == "" {
		return "untitled"
	}
	return trimmed
}

func isSafeFilenameChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '.' || ch == '-' || ch == '_'
}
