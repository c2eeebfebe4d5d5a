// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Phase errors
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeWrongPhase        Code = "WRONG_PHASE"

	// Ledger errors
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeAlreadyStaged     Code = "ALREADY_STAGED"
	CodeNotStaged         Code = "NOT_STAGED"

	// Action errors
	CodeInvalidAction     Code = "INVALID_ACTION"
	CodePlacementMismatch Code = "PLACEMENT_MISMATCH"
	CodeVoteLocked        Code = "VOTE_LOCKED"

	// Synchronization errors
	CodeNotFound     Code = "NOT_FOUND"
	CodeStaleState   Code = "STALE_STATE"
	CodeSyncFailed   Code = "SYNC_FAILED"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeConflict     Code = "CONFLICT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - malformed or unknown input
	case CodeInvalidAction,
		CodePlacementMismatch:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeInvalidTransition,
		CodeWrongPhase,
		CodeInsufficientFunds,
		CodeAlreadyStaged,
		CodeNotStaged,
		CodeVoteLocked,
		CodeStaleState:
		return codes.FailedPrecondition

	// Aborted - concurrent writer won
	case CodeConflict:
		return codes.Aborted

	case CodeNotFound:
		return codes.NotFound

	case CodeUnauthorized:
		return codes.Unauthenticated

	case CodeSyncFailed:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}

// CodeFromGRPC maps a status code received from a peer back onto the
// domain codes a caller can act on.
func CodeFromGRPC(c codes.Code) Code {
	switch c {
	case codes.NotFound:
		return CodeNotFound
	case codes.Unauthenticated, codes.PermissionDenied:
		return CodeUnauthorized
	case codes.Aborted, codes.FailedPrecondition:
		return CodeConflict
	case codes.InvalidArgument:
		return CodeInvalidAction
	default:
		return CodeSyncFailed
	}
}
