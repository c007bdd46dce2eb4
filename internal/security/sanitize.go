package security

import (
	"context"

	"tenant-console/internal/util"
)

// Field is a user-supplied form value.
type Field struct {
	Name  string
	Value string
	// AllowHTML keeps markup permitted by the UGC policy instead of escaping
	// everything.
	AllowHTML bool
}

// SanitizeInput strips script blocks, javascript: URIs and inline handlers
// from the value, then escapes it (or policy-filters it for HTML fields).
// Changes are recorded with the before and after lengths.
func (m *Manager) SanitizeInput(ctx context.Context, field Field) string {
	var sanitized string
	if field.AllowHTML {
		sanitized = util.SanitizeHTML(field.Value)
	} else {
		sanitized = util.SanitizeInput(field.Value)
	}

	if sanitized != field.Value {
		m.audit.Record(ctx, EventInputSanitized, map[string]any{
			"field":     field.Name,
			"original":  len(field.Value),
			"sanitized": len(sanitized),
		})
	}
	return sanitized
}
