package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")

	// ErrCapitalDenied is returned by BudgetManager.RequestReservation when
	// the strategy (and, for HIGH/CRITICAL priority, the shared reserve pool)
	// cannot cover the requested amount. No priority draws from another
	// strategy's balance. Callers MUST treat this as
	// "do not trade", never as a transient failure to retry blindly.
	ErrCapitalDenied = errors.New("capital denied")

	// ErrStoreUnavailable is returned when the coordination key-value store
	// is unreachable. BudgetManager fails closed on this error.
	ErrStoreUnavailable = errors.New("coordination store unavailable")

	// ErrNonceRegression indicates the ledger observed a nonce go backwards
	// for a wallet, which is a coordination fault, not a retryable error.
	ErrNonceRegression = errors.New("nonce regression")

	// ErrClaimDenied is returned by SignalBus.ClaimOpportunity when the
	// opportunity already has an unexpired claim. An expired claim does not
	// cause a denial: the new claim replaces it.
	ErrClaimDenied = errors.New("opportunity already claimed")

	// ErrCircuitBreakerTripped is returned by RiskController.Evaluate once
	// the circuit breaker has tripped; it never resets automatically.
	ErrCircuitBreakerTripped = errors.New("circuit breaker tripped")

	// ErrReservationNotFound is returned when releasing an unknown or
	// already-released reservation id.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrInvalidAllocation is returned by config validation when strategy
	// allocation fractions plus the reserve fraction do not sum to 1.
	ErrInvalidAllocation = errors.New("strategy allocations and reserve fraction must sum to 1")
)
