package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so the core
// can branch on errors.Is without knowing the adapter.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidState       = errors.New("operation not allowed in current state")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Admission Errors
	ErrEmergencyHalt = errors.New("emergency halt active, admissions rejected")
	ErrRiskViolation = errors.New("order failed one or more risk checks")

	// Venue Specific Errors
	ErrVenueUnavailable     = errors.New("execution venue is unavailable")
	ErrVenueFailure         = errors.New("execution venue reported failure")
	ErrConnectionFailed     = errors.New("failed to connect to the venue")
	ErrRateLimited          = errors.New("venue API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("venue authentication failed (check API keys)")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Audit Sink Errors
	ErrAuditWriteFailed = errors.New("audit sink write failed")
)
