package util

import "strings"

// SanitizeText drops invalid UTF-8 and NUL bytes, which Postgres text
// columns and the embedding providers both reject.
func SanitizeText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}
