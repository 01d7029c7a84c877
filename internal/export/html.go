// Package export renders an owner's memory into shareable documents.
package export

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/sincerelyyyash/memory-mind/internal/memory"
)

// Markdown renders records as a markdown document grouped by subject.
// Multi-line objects, such as ingested document sections, render as
// blocks under their predicate; simple facts stay as list items.
func Markdown(ownerID string, records []memory.Record) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Memory export for %s\n", ownerID)

	if len(records) == 0 {
		sb.WriteString("\nNo records.\n")
		return sb.String()
	}

	sorted := make([]memory.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Subject != sorted[j].Subject {
			return sorted[i].Subject < sorted[j].Subject
		}
		return sorted[i].Predicate < sorted[j].Predicate
	})

	subjects := 0
	currentSubject := ""
	for _, rec := range sorted {
		if rec.Subject != currentSubject {
			currentSubject = rec.Subject
			subjects++
		}
	}
	fmt.Fprintf(&sb, "\n%d records across %d subjects.\n", len(sorted), subjects)

	currentSubject = ""
	for _, rec := range sorted {
		if rec.Subject != currentSubject {
			currentSubject = rec.Subject
			fmt.Fprintf(&sb, "\n## %s\n\n", currentSubject)
		}
		if strings.Contains(rec.Object, "\n") {
			fmt.Fprintf(&sb, "**%s**\n\n%s\n\n", rec.Predicate, rec.Object)
		} else {
			fmt.Fprintf(&sb, "- **%s** %s\n", rec.Predicate, rec.Object)
		}
	}

	return sb.String()
}

// HTML renders records as a standalone HTML document. The markdown
// rendering of the records is converted and wrapped in a minimal
// envelope with no external resources.
func HTML(ownerID string, records []memory.Record) ([]byte, error) {
	md := Markdown(ownerID, records)

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Memory export for %s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, ownerID, buf.String())

	return []byte(html), nil
}
