package store

import (
	"fmt"
	"strings"
)

// BuildContext renders an owner's records as a prompt-ready block of
// plain text. An owner with no records yields an empty string.
func (s *Store) BuildContext(ownerID string) (string, error) {
	records, err := s.ByOwner(ownerID)
	if err != nil {
		return "", fmt.Errorf("load records: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Known facts about %s:\n", ownerID)
	for _, rec := range records {
		fmt.Fprintf(&sb, "\n- %s", rec)
	}
	return sb.String(), nil
}

// BuildSummary renders a condensed per-subject overview of an owner's
// records. Records arrive grouped by subject, so one pass is enough.
func (s *Store) BuildSummary(ownerID string) (string, error) {
	records, err := s.ByOwner(ownerID)
	if err != nil {
		return "", fmt.Errorf("load records: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	subjects := 0
	prev := ""
	for _, rec := range records {
		if rec.Subject != prev {
			subjects++
			prev = rec.Subject
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Memory summary for %s: %d records, %d subjects\n", ownerID, len(records), subjects)
	prev = ""
	for _, rec := range records {
		if rec.Subject != prev {
			fmt.Fprintf(&sb, "\n%s:\n", rec.Subject)
			prev = rec.Subject
		}
		fmt.Fprintf(&sb, "  %s %s\n", rec.Predicate, rec.Object)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
