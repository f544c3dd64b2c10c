package payroll

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPeriodNotFound      = errors.New("payroll period not found")
	ErrCalculationNotFound = errors.New("payroll calculation not found")
	ErrAdjustmentNotFound  = errors.New("payroll adjustment not found")
	ErrWorkflowNotFound    = errors.New("approval workflow not found")
	ErrEmployeeNotFound    = errors.New("employee not found")
	ErrStepNotFound        = errors.New("approval step not found")

	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrCalculationInProgress  = errors.New("calculation already in progress for period")
	ErrOutOfOrder             = errors.New("previous approval step is not approved")
	ErrAlreadyApproved        = errors.New("approval step already approved")
	ErrImmutableRecord        = errors.New("record is immutable")
	ErrPeriodLocked           = fmt.Errorf("payroll period is locked: %w", ErrImmutableRecord)
	ErrOverrideRequired       = errors.New("critical exceptions require an explicit override")
	ErrRoleMismatch           = errors.New("approver role does not match step role")
	ErrConcurrentModification = errors.New("record was modified concurrently")
	ErrLockUnavailable        = errors.New("calculation lock backend unavailable")
	ErrNoCompletedCalculation = errors.New("period has no completed calculation")
)

type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError carries field-level detail for rejected input. It is
// returned before any state change.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+": "+issue.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, reason string) {
	e.Issues = append(e.Issues, FieldIssue{Field: field, Reason: reason})
}

func (e *ValidationError) orNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
