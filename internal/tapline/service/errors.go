package service

import "errors"

// Validation failures. All of them are reported before any mutation; the
// HTTP layer maps them to 400s with the field named.
var (
	ErrMissingUID        = errors.New("uid is required")
	ErrMissingTokenID    = errors.New("token_id is required")
	ErrMissingOperatorID = errors.New("operator_id is required")
	ErrMissingReason     = errors.New("reason is required")
	ErrMissingEventID    = errors.New("event_id is required")
	ErrUnknownStage      = errors.New("unknown stage")
	ErrBadTimestamp      = errors.New("timestamp must be RFC 3339")
	ErrTimestampTooOld   = errors.New("timestamp is more than 30 days in the past")
	ErrTimestampFuture   = errors.New("timestamp is more than 1 hour in the future")
)
