package dto

import "errors"

var (
	ErrValidation          = errors.New("validation failure")
	ErrEngine              = errors.New("engine failure")
	ErrToolExecution       = errors.New("tool execution failure")
	ErrSchedulingRejected  = errors.New("scheduling rejected")
	ErrReconciliation      = errors.New("reconciliation failure")
	ErrNotFound            = errors.New("not found")
	ErrOutcomeRecorded     = errors.New("outcome already recorded")
	ErrUnknownProvider     = errors.New("unknown reasoning engine provider")
	ErrContractUnavailable = errors.New("option contract not found")
	ErrAlreadyProcessing   = errors.New("signal already being processed")
)

// ValidationError carries the human-readable reason a signal was rejected.
type ValidationError struct {
	Check  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SchedulingRejection explains why a reanalysis request was refused.
type SchedulingRejection struct {
	Reason string
}

func (e *SchedulingRejection) Error() string {
	return "scheduling rejected: " + e.Reason
}

func (e *SchedulingRejection) Is(target error) bool {
	return target == ErrSchedulingRejected
}
