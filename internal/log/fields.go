// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"

	// Connection lifecycle fields
	FieldOldState   = "old_state"
	FieldNewState   = "new_state"
	FieldLocalID    = "local_id"
	FieldRemoteID   = "remote_id"
	FieldRetryCount = "retry_count"
	FieldErrorKind  = "error_kind"
	FieldGeneration = "generation"

	// Token fields (the token itself is never logged)
	FieldUserID    = "user_id"
	FieldTokenLen  = "token_len"
	FieldValid     = "valid"
	FieldReasons   = "reasons"

	// HTTP / rate limit fields
	FieldRemoteAddr = "remote_addr"
	FieldRoute      = "route"
	FieldStatus     = "status"
	FieldScope      = "scope"
	FieldDurationMS = "duration_ms"
)
