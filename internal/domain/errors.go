package domain

import "errors"

// Engine error taxonomy. Case-mutating operations return these so the
// API layer can report {success:false, error} uniformly; only invalid
// configuration is treated as fatal.
var (
	// ErrInvalidRule rejects a rule at load time: mismatched
	// metric/operator lists, unknown operator or severity, missing
	// pattern for a string operator, or no conditions at all.
	ErrInvalidRule = errors.New("invalid rule definition")

	// ErrActorNotFound aborts evaluation for one actor without
	// affecting the rest of a sweep.
	ErrActorNotFound = errors.New("actor not found")

	// ErrMetricFailed marks a collaborator failure while computing a
	// metric. The affected condition is treated as not satisfied.
	ErrMetricFailed = errors.New("metric computation failed")

	// ErrCaseNotFound is returned for operations on a missing case.
	ErrCaseNotFound = errors.New("case not found")

	// ErrAlreadyEscalated guards against double escalation of a case
	// already in escalated status.
	ErrAlreadyEscalated = errors.New("case already escalated")

	// ErrAlreadyResolved guards resolution of a case that already
	// carries a resolution.
	ErrAlreadyResolved = errors.New("case already resolved")

	// ErrInvalidTransition is returned for a status transition the
	// case state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)
