package strings

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts Go field names such as "BlockThreshold" or "MaxKeys"
// to the snake_case form used in config files and JSON bodies.
func ToSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 &&
			(unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
