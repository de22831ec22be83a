package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxIDLength      = 128
	MaxContentLength = 10000
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)

// ValidID checks that an externally supplied id is non-empty and safe to log and store.
func ValidID(s string) bool {
	return s != "" && len(s) <= MaxIDLength && idPattern.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return s
}
