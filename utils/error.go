package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// Reconciliation error taxonomy. Handlers map these onto HTTP statuses,
// workflows record them on the session as a human-readable failure reason.
var (
	// a required account/line item is absent from the snapshot
	ErrInputDataMissing = errors.New("required input data missing")

	// malformed formula, unresolved reference or divide-by-zero
	ErrRuleEvaluation = errors.New("rule evaluation error")

	// a run is already in flight for the same property/period
	ErrConcurrentRunConflict = errors.New("a reconciliation run is already in progress for this property and period")

	ErrSessionNotFound = errors.New("reconciliation session not found")

	// validate() requires a COMPLETED session
	ErrValidationPrecondition = errors.New("session must be completed before validation")
)
