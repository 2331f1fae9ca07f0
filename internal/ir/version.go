package ir

// Version constants for the persisted formats.
const (
	// AuditFormatVersion is folded into every audit envelope so the hash
	// algorithm can be migrated later.
	AuditFormatVersion = "researchflow/audit/v1"

	// ServiceVersion is reported by the CLI and health endpoint.
	ServiceVersion = "0.3.0"
)
