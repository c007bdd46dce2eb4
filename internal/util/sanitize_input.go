package util

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	scriptBlockPattern   = regexp.MustCompile(`(?is)<script\b.*?</script\s*>`)
	jsURIPattern         = regexp.MustCompile(`(?i)javascript:`)
	inlineHandlerPattern = regexp.MustCompile(`(?i)on\w+\s*=`)

	ugcPolicy = bluemonday.UGCPolicy()
)

// StripDangerous removes script blocks, javascript: URIs and inline event
// handler attributes. It is not a substitute for output encoding.
func StripDangerous(s string) string {
	s = scriptBlockPattern.ReplaceAllString(s, "")
	s = jsURIPattern.ReplaceAllString(s, "")
	return inlineHandlerPattern.ReplaceAllString(s, "")
}

// SanitizeInput strips dangerous patterns and escapes what is left.
func SanitizeInput(s string) string {
	return html.EscapeString(StripDangerous(s))
}

// SanitizeHTML strips dangerous patterns and keeps only markup allowed by the
// user-generated-content policy. Used for fields that accept raw HTML.
func SanitizeHTML(s string) string {
	return ugcPolicy.Sanitize(StripDangerous(s))
}

// ContainsSuspicious reports whether s contains markup or script-like tokens.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "$", "{", "}", "script", "javascript:", "onerror", "onload"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
