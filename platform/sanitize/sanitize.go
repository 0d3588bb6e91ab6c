// Package sanitize provides text sanitization for stored and outgoing chat text.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	// htmlTagRegex matches HTML tags
	htmlTagRegex = regexp.MustCompile(`<[^>]*>`)
	spaceRegex   = regexp.MustCompile(`\s+`)
)

// StripHTML removes all HTML tags from a string, making it safe for text-only display.
// This is a defense-in-depth measure; frontend should also escape output.
func StripHTML(s string) string {
	// Remove HTML tags
	result := htmlTagRegex.ReplaceAllString(s, "")
	// Decode common HTML entities
	result = strings.ReplaceAll(result, "&lt;", "<")
	result = strings.ReplaceAll(result, "&gt;", ">")
	result = strings.ReplaceAll(result, "&amp;", "&")
	result = strings.ReplaceAll(result, "&quot;", "\"")
	result = strings.ReplaceAll(result, "&#39;", "'")
	// Re-strip after entity decode to catch encoded tags
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text sanitizes inbound user text before it is stored.
func Text(s string) string {
	return StripHTML(s)
}

// Outgoing prepares a generated fragment for delivery: markup is removed
// (Telegram messages are sent with HTML parse mode) and whitespace collapses
// to single spaces. Returns "" for fragments with nothing left to send.
func Outgoing(s string) string {
	stripped := StripHTML(s)
	return strings.TrimSpace(spaceRegex.ReplaceAllString(stripped, " "))
}

// Fragments applies Outgoing to each fragment and drops empty ones.
func Fragments(fragments []string) []string {
	out := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		if cleaned := Outgoing(fragment); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}
