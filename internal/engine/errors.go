package engine

import "errors"

// Error kinds from spec.md §7. Callers wrap one of these sentinels with
// fmt.Errorf("...: %w", ErrX) so errors.Is still matches across the
// engine's internal layers.
var (
	// ErrConfiguration marks a missing credential or setting required
	// for the engine to run.
	ErrConfiguration = errors.New("configuration error")

	// ErrPermission marks credentials with withdrawal capability;
	// Initialize moves the engine to ERROR with this error, and Start
	// refuses to run from ERROR.
	ErrPermission = errors.New("permission error: withdrawal capability detected")

	// ErrGatewayTransient marks a network/timeout/5xx style failure.
	// The caller logs and skips the action; it never aborts the loop.
	ErrGatewayTransient = errors.New("gateway transient error")

	// ErrGatewayRejection marks a venue-side rejection of an order
	// (invalid order, insufficient balance). Position state is left
	// unchanged.
	ErrGatewayRejection = errors.New("gateway rejected order")

	// ErrPersistence marks a storage I/O failure. In-memory state stays
	// authoritative; the next successful write re-syncs it.
	ErrPersistence = errors.New("persistence error")

	// ErrReconciliation marks an active trade with no matching balance.
	ErrReconciliation = errors.New("reconciliation warning")

	// ErrInvariantViolation marks a non-numeric indicator or negative
	// price; the offending symbol is skipped for that scan.
	ErrInvariantViolation = errors.New("invariant violation")
)
