package openai

import (
	"strings"

	"github.com/JakeFAU/nexus/internal/ingest"
)

const (
	noSummary   = "No summary generated"
	noTakeaways = "No takeaways extracted"
)

type section int

const (
	sectionNone section = iota
	sectionTakeaways
	sectionQuotes
)

// Parse reads the loosely structured model reply into a Summary. It tolerates
// markdown bold markers, TLDR spelling variants and -, * or • bullets.
func Parse(raw string) ingest.Summary {
	var (
		out     ingest.Summary
		current = sectionNone
	)
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		clean := strings.ReplaceAll(line, "**", "")
		upper := strings.ToUpper(clean)

		if item, ok := bullet(line); ok {
			switch current {
			case sectionTakeaways:
				out.Takeaways = append(out.Takeaways, item)
			case sectionQuotes:
				out.Quotes = append(out.Quotes, item)
			}
			continue
		}

		switch {
		case strings.Contains(upper, "TL;DR:") || strings.Contains(upper, "TLDR:"):
			_, after, _ := strings.Cut(clean, ":")
			out.TLDR = strings.TrimSpace(after)
			current = sectionNone
		case strings.Contains(upper, "TAKEAWAYS:"):
			current = sectionTakeaways
		case strings.Contains(upper, "QUOTES:") || strings.Contains(upper, "NOTABLE"):
			current = sectionQuotes
		case strings.Contains(upper, "TOPICS:"):
			_, after, _ := strings.Cut(clean, ":")
			out.Topics = nil
			for _, t := range strings.Split(after, ",") {
				if t = strings.TrimSpace(t); t != "" {
					out.Topics = append(out.Topics, t)
				}
			}
			current = sectionNone
		}
	}
	if out.TLDR == "" {
		out.TLDR = noSummary
	}
	if len(out.Takeaways) == 0 {
		out.Takeaways = []string{noTakeaways}
	}
	return out
}

// bullet reports whether line is a list item and returns its text. Lines
// wrapped in bold markers are headings, not bullets.
func bullet(line string) (string, bool) {
	if strings.HasPrefix(line, "**") {
		return "", false
	}
	if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "*") && !strings.HasPrefix(line, "•") {
		return "", false
	}
	item := strings.TrimSpace(strings.TrimLeft(line, "-*• "))
	return item, item != ""
}
