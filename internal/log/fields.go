package log

// Canonical field name constants for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"

	FieldJobID    = "job_id"
	FieldSocketID = "socket_id"
	FieldURL      = "url"
	FieldPlatform = "platform"
	FieldQuality  = "quality"

	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldProgress = "progress"
	FieldAttempt  = "attempt"
	FieldStatus   = "status"
	FieldPath     = "path"
)
