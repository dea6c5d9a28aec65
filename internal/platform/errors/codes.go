// Package errors provides machine-readable error codes for domain rejections.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionCodeInvalid  Code = "SESSION_CODE_INVALID"
	CodeSessionNotConnected Code = "SESSION_NOT_CONNECTED"
	CodeSessionNotAuthority Code = "SESSION_NOT_AUTHORITY"

	// Turn errors
	CodeTurnAlreadyExecuting Code = "TURN_ALREADY_EXECUTING"
	CodeTurnNothingPending   Code = "TURN_NOTHING_PENDING"
	CodeTurnSubmitterDead    Code = "TURN_SUBMITTER_DEAD"
	CodeTurnEmptyAction      Code = "TURN_EMPTY_ACTION"

	// World errors
	CodeWorldDeltaMalformed    Code = "WORLD_DELTA_MALFORMED"
	CodeWorldNegativeTimeDelta Code = "WORLD_NEGATIVE_TIME_DELTA"

	// Channel errors
	CodeChannelEnvelopeInvalid Code = "CHANNEL_ENVELOPE_INVALID"
	CodeChannelUnknownEvent    Code = "CHANNEL_UNKNOWN_EVENT"

	// Auth errors
	CodeAuthTokenInvalid Code = "AUTH_TOKEN_INVALID"
	CodeAuthTokenExpired Code = "AUTH_TOKEN_EXPIRED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)
