package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Wrap with fmt.Errorf("%w: ...") and test with errors.Is.

var (
	// Rejected before any mutation.
	ErrValidation = errors.New("validation failed")

	// No statistics snapshot or no credibility account.
	ErrNotFound = errors.New("not found")

	ErrAccountExists = errors.New("credibility account already exists")
	ErrUnknownBadge  = errors.New("unknown badge")

	// Target state already reached. Reported to callers as granted=false /
	// alreadySettled=true, never as a failure.
	ErrAlreadyGranted = errors.New("badge already granted")
	ErrAlreadySettled = errors.New("week already settled")

	// Backing store call failed; safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// A settlement was claimed but its delta was never applied.
	ErrFatalInconsistency = errors.New("fatal inconsistency: settlement claimed without applied delta")
)
