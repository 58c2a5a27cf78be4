package domain

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const maxNamePart = 64

// SanitizeFilename normalizes name to NFKC, replaces path separators and
// strips leading dots and surrounding whitespace.
func SanitizeFilename(name string) string {
	name = norm.NFKC.String(name)
	name = strings.ReplaceAll(name, "/", "|")
	name = strings.TrimLeft(name, ".")
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "untitled"
	}
	return name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
