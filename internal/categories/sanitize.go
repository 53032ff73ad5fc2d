package categories

import (
	"fmt"
	"strings"
	"unicode"
)

// SanitizeName derives a filesystem-safe directory name from a category
// title. Alphanumerics, hyphens, and underscores survive; spaces map to
// underscores; everything else is dropped. Idempotent.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteRune('_')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FrontMatter renders the _index.md front-matter block for a category title.
func FrontMatter(title string) string {
	return fmt.Sprintf("---\ntitle: \"%s\"\n---\n\n", title)
}
