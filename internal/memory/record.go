package memory

import (
	"fmt"
	"strings"
	"time"
)

// Record is one remembered fact about an owner, expressed as a
// subject-predicate-object triple. ID and Timestamp are assigned by the
// server; outbound records leave them empty.
type Record struct {
	ID        string    `json:"id,omitempty"`
	Subject   string    `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    string    `json:"object"`
	OwnerID   string    `json:"ownerId"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate reports whether the record carries everything a stored record
// needs. ID and Timestamp are not checked; the server assigns them.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("record subject is required")
	}
	if strings.TrimSpace(r.Predicate) == "" {
		return fmt.Errorf("record predicate is required")
	}
	if strings.TrimSpace(r.Object) == "" {
		return fmt.Errorf("record object is required")
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return fmt.Errorf("record owner id is required")
	}
	return nil
}

// String renders the record as a "subject predicate object" sentence.
func (r Record) String() string {
	return fmt.Sprintf("%s %s %s", r.Subject, r.Predicate, r.Object)
}

// Tool names the memory server exposes via tools/call.
const (
	ToolCreateRecord = "create-record"
	ToolGetRecords   = "get-records"
	ToolUpdateRecord = "update-record"
	ToolDeleteRecord = "delete-record"
)

// uriScheme prefixes every readable resource URI.
const uriScheme = "memory"

// ContextURI returns the resource URI for an owner's prompt-ready context.
func ContextURI(ownerID string) string {
	return fmt.Sprintf("%s://context/%s", uriScheme, ownerID)
}

// SummaryURI returns the resource URI for an owner's per-subject summary.
func SummaryURI(ownerID string) string {
	return fmt.Sprintf("%s://summary/%s", uriScheme, ownerID)
}

// ParseURI splits a memory:// resource URI into its category and owner.
func ParseURI(uri string) (category, ownerID string, err error) {
	rest, ok := strings.CutPrefix(uri, uriScheme+"://")
	if !ok {
		return "", "", fmt.Errorf("unsupported resource scheme in %q", uri)
	}
	category, ownerID, ok = strings.Cut(rest, "/")
	if !ok || category == "" || ownerID == "" {
		return "", "", fmt.Errorf("malformed resource uri %q", uri)
	}
	return category, ownerID, nil
}
