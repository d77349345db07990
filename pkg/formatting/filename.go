package formatting

import (
	"strings"
	"unicode"
)

const maxFilenameRunes = 120

// SafeFilename reduces name to a single path segment usable as a file or blob
// name. Letters and digits of any script are kept, runs of other characters
// become one underscore and repeated dots collapse. Empty results fall back
// to "untitled".
func SafeFilename(name string) string {
	var b strings.Builder
	pending := false
	last := rune(0)
	n := 0
	for _, r := range name {
		if n >= maxFilenameRunes {
			break
		}
		switch {
		case r == '.' && last == '.' && !pending:
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '.':
			if pending && b.Len() > 0 {
				b.WriteByte('_')
				last = '_'
				n++
			}
			pending = false
			b.WriteRune(r)
			last = r
			n++
		default:
			pending = true
		}
	}

	out := strings.Trim(b.String(), "._-")
	if out == "" {
		return "untitled"
	}
	return out
}
