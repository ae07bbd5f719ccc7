package ingest

import "strings"

// Format renders s into the stored summary layout, prefixed by header lines.
func (s Summary) Format(header []string) string {
	var parts []string
	if len(header) > 0 {
		parts = append(parts, header...)
		parts = append(parts, "")
	}
	parts = append(parts, "TL;DR: "+s.TLDR, "", "Takeaways:")
	for _, t := range s.Takeaways {
		parts = append(parts, "- "+t)
	}
	if len(s.Quotes) > 0 {
		parts = append(parts, "", "Key Quotes:")
		for _, q := range s.Quotes {
			parts = append(parts, "- "+q)
		}
	}
	return strings.Join(parts, "\n")
}

// Fallback builds the placeholder summary used when summarization fails.
func Fallback(header []string, text string, limit int) string {
	body := Truncate(text, limit)
	if len(header) == 0 {
		return body
	}
	return strings.Join(header, "\n") + "\n\n" + body
}

// Truncate returns at most limit runes of s. A non-positive limit disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
