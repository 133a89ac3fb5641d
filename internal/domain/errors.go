package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.
// Callers match with errors.Is; infrastructure wraps these with detail.

var (
	// Verification errors — all recoverable, the user may retry on the
	// same captured photo without re-capturing.
	ErrNetwork = errors.New("classification service unreachable")
	ErrService = errors.New("classification service returned an error")
	ErrParse   = errors.New("classification response contained no usable verdict")

	// Remote store errors
	ErrRecordMissing     = errors.New("no remote ledger record for user")
	ErrAtomicUnsupported = errors.New("remote store does not support atomic append")

	// Orchestrator errors
	ErrDuplicateSubmission  = errors.New("photo already submitted for this user")
	ErrConfirmationNotFound = errors.New("confirmation token unknown or expired")
)
