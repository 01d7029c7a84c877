package server

import "github.com/sincerelyyyash/memory-mind/internal/memory"

// toolDefinition describes one tool for tools/list.
type toolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// toolCatalog returns the record tools this server exposes. Records are
// subject-predicate-object triples scoped to an owner.
func toolCatalog() []toolDefinition {
	subject := map[string]any{"type": "string", "description": "Who or what the fact is about"}
	predicate := map[string]any{"type": "string", "description": "The relation, e.g. likes or works-on"}
	object := map[string]any{"type": "string", "description": "The value of the relation"}
	ownerID := map[string]any{"type": "string", "description": "Owner whose memory holds the record"}
	recordID := map[string]any{"type": "string", "description": "Record ID as returned by create-record"}

	return []toolDefinition{
		{
			Name:        memory.ToolCreateRecord,
			Description: "Store a fact about an owner. A fact with the same owner, subject, and predicate rewrites the existing record.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"subject":   subject,
					"predicate": predicate,
					"object":    object,
					"ownerId":   ownerID,
				},
				"required": []string{"subject", "predicate", "object", "ownerId"},
			},
		},
		{
			Name:        memory.ToolGetRecords,
			Description: "List every record stored for an owner.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ownerId": ownerID,
				},
				"required": []string{"ownerId"},
			},
		},
		{
			Name:        memory.ToolUpdateRecord,
			Description: "Rewrite an existing record, matched by ID and owner.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":        recordID,
					"subject":   subject,
					"predicate": predicate,
					"object":    object,
					"ownerId":   ownerID,
				},
				"required": []string{"id", "subject", "predicate", "object", "ownerId"},
			},
		},
		{
			Name:        memory.ToolDeleteRecord,
			Description: "Remove a record by ID and owner.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":      recordID,
					"ownerId": ownerID,
				},
				"required": []string{"id", "ownerId"},
			},
		},
	}
}
