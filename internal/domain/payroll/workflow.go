package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Approvals runs the sequential sign-off that moves a period from
// reviewing to approved.
type Approvals struct {
	*base
	exporter *Exporter
}

// Submit moves a calculated period into review and starts a fresh workflow
// for its active calculation.
func (a *Approvals) Submit(ctx context.Context, periodID string, actor Actor) (ApprovalWorkflow, error) {
	period, err := a.loadUnlockedPeriod(ctx, periodID)
	if err != nil {
		return ApprovalWorkflow{}, err
	}
	if !period.Status.CanTransition(PeriodReviewing) || period.Status == PeriodCalculating {
		return ApprovalWorkflow{}, fmt.Errorf("%w: cannot submit a %s period for review", ErrInvalidTransition, period.Status)
	}
	if period.ActiveCalculationID == "" {
		return ApprovalWorkflow{}, ErrNoCompletedCalculation
	}
	calc, err := a.deps.Store.GetCalculation(ctx, period.ActiveCalculationID)
	if err != nil {
		return ApprovalWorkflow{}, err
	}
	if calc.Status != CalcCompleted {
		return ApprovalWorkflow{}, ErrNoCompletedCalculation
	}

	version := 0
	existing, err := a.deps.Store.GetWorkflow(ctx, period.ID)
	switch {
	case err == nil:
		version = existing.Version
	case !errors.Is(err, ErrWorkflowNotFound):
		return ApprovalWorkflow{}, err
	}

	now := a.now()
	steps := make([]Step, 0, len(a.opts.ApprovalRoles))
	for i, role := range a.opts.ApprovalRoles {
		steps = append(steps, Step{Index: i + 1, Role: role, Status: StepPending})
	}
	workflow := ApprovalWorkflow{
		PeriodID:      period.ID,
		CalculationID: calc.ID,
		Steps:         steps,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       version,
	}
	from := period.Status
	period.Status = PeriodReviewing
	period.UpdatedAt = now
	if err := a.deps.Store.SaveReview(ctx, &workflow, &period); err != nil {
		return ApprovalWorkflow{}, err
	}
	a.periodStatusEvent(ctx, period, from, actor.ID)
	return workflow, nil
}

func (a *Approvals) ApproveStep(ctx context.Context, periodID string, index int, actor Actor, comments string, override bool) (ReviewSummary, error) {
	period, workflow, err := a.loadReview(ctx, periodID)
	if err != nil {
		return ReviewSummary{}, err
	}
	if index < 1 || index > len(workflow.Steps) {
		return ReviewSummary{}, ErrStepNotFound
	}
	step := &workflow.Steps[index-1]
	if step.Status == StepApproved {
		return ReviewSummary{}, ErrAlreadyApproved
	}
	if index > 1 && workflow.Steps[index-2].Status != StepApproved {
		return ReviewSummary{}, ErrOutOfOrder
	}
	if step.Role != actor.Role {
		return ReviewSummary{}, fmt.Errorf("%w: step %d requires %s", ErrRoleMismatch, index, step.Role)
	}
	exceptions, err := a.deps.Store.ListExceptions(ctx, workflow.CalculationID)
	if err != nil {
		return ReviewSummary{}, err
	}
	blocking := a.countBlocking(exceptions)
	if blocking > 0 && !override {
		return ReviewSummary{}, fmt.Errorf("%w: %d blocking exceptions", ErrOverrideRequired, blocking)
	}

	now := a.now()
	step.Status = StepApproved
	step.Approver = actor.ID
	step.ActedAt = &now
	step.Comments = strings.TrimSpace(comments)
	step.Overridden = blocking > 0
	workflow.UpdatedAt = now

	var periodChange *Period
	from := period.Status
	if workflow.complete() {
		period.Status = PeriodApproved
		period.ApprovedBy = actor.ID
		period.ApprovedAt = &now
		period.UpdatedAt = now
		periodChange = &period
	}
	if err := a.deps.Store.SaveReview(ctx, &workflow, periodChange); err != nil {
		return ReviewSummary{}, err
	}

	a.emit(ctx, EventWorkflowStepApproved, "period", period.ID, actor.ID, map[string]any{
		"step":       index,
		"role":       step.Role,
		"overridden": step.Overridden,
	})
	if periodChange != nil {
		a.periodStatusEvent(ctx, period, from, actor.ID)
		a.exporter.scheduleArchive(ctx, period.ID)
	}
	return a.summarize(period, workflow, exceptions), nil
}

// RejectStep sends the period back to calculated and resets every step.
// The reason is recorded on the period.
func (a *Approvals) RejectStep(ctx context.Context, periodID string, index int, actor Actor, reason string) (ReviewSummary, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		ve := &ValidationError{}
		ve.add("reason", "is required")
		return ReviewSummary{}, ve
	}
	period, workflow, err := a.loadReview(ctx, periodID)
	if err != nil {
		return ReviewSummary{}, err
	}
	if index < 1 || index > len(workflow.Steps) {
		return ReviewSummary{}, ErrStepNotFound
	}
	step := workflow.Steps[index-1]
	if step.Status == StepApproved {
		return ReviewSummary{}, ErrAlreadyApproved
	}
	if step.Role != actor.Role {
		return ReviewSummary{}, fmt.Errorf("%w: step %d requires %s", ErrRoleMismatch, index, step.Role)
	}

	now := a.now()
	for i := range workflow.Steps {
		workflow.Steps[i] = Step{Index: workflow.Steps[i].Index, Role: workflow.Steps[i].Role, Status: StepPending}
	}
	workflow.UpdatedAt = now
	from := period.Status
	period.Status = PeriodCalculated
	period.RejectionReason = reason
	period.RejectedBy = actor.ID
	period.RejectedAt = &now
	period.UpdatedAt = now
	if err := a.deps.Store.SaveReview(ctx, &workflow, &period); err != nil {
		return ReviewSummary{}, err
	}

	a.emit(ctx, EventWorkflowStepRejected, "period", period.ID, actor.ID, map[string]any{
		"step":   index,
		"role":   step.Role,
		"reason": reason,
	})
	a.periodStatusEvent(ctx, period, from, actor.ID)
	exceptions, err := a.deps.Store.ListExceptions(ctx, workflow.CalculationID)
	if err != nil {
		return ReviewSummary{}, err
	}
	return a.summarize(period, workflow, exceptions), nil
}

// Review reports the workflow, the exceptions of the calculation under
// review and whether the next step can be approved without an override.
func (a *Approvals) Review(ctx context.Context, periodID string) (ReviewSummary, error) {
	period, err := a.deps.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return ReviewSummary{}, err
	}
	workflow, err := a.deps.Store.GetWorkflow(ctx, periodID)
	if err != nil && !errors.Is(err, ErrWorkflowNotFound) {
		return ReviewSummary{}, err
	}
	calculationID := workflow.CalculationID
	if calculationID == "" {
		calculationID = period.ActiveCalculationID
	}
	var exceptions []ComplianceException
	if calculationID != "" {
		exceptions, err = a.deps.Store.ListExceptions(ctx, calculationID)
		if err != nil {
			return ReviewSummary{}, err
		}
	}
	return a.summarize(period, workflow, exceptions), nil
}

func (a *Approvals) nextStep(ctx context.Context, periodID string) (Step, error) {
	_, workflow, err := a.loadReview(ctx, periodID)
	if err != nil {
		return Step{}, err
	}
	step, ok := workflow.NextPending()
	if !ok {
		return Step{}, ErrAlreadyApproved
	}
	return step, nil
}

func (a *Approvals) loadReview(ctx context.Context, periodID string) (Period, ApprovalWorkflow, error) {
	period, err := a.loadUnlockedPeriod(ctx, periodID)
	if err != nil {
		return Period{}, ApprovalWorkflow{}, err
	}
	if period.Status != PeriodReviewing {
		return Period{}, ApprovalWorkflow{}, fmt.Errorf("%w: period is %s, not reviewing", ErrInvalidTransition, period.Status)
	}
	workflow, err := a.deps.Store.GetWorkflow(ctx, periodID)
	if err != nil {
		return Period{}, ApprovalWorkflow{}, err
	}
	return period, workflow, nil
}

func (a *Approvals) countBlocking(exceptions []ComplianceException) int {
	blocking := 0
	for _, exc := range exceptions {
		if a.opts.Policy.blocks(exc) {
			blocking++
		}
	}
	return blocking
}

func (a *Approvals) summarize(period Period, workflow ApprovalWorkflow, exceptions []ComplianceException) ReviewSummary {
	if exceptions == nil {
		exceptions = []ComplianceException{}
	}
	summary := ReviewSummary{
		Period:             period,
		Workflow:           workflow,
		Exceptions:         exceptions,
		BlockingExceptions: a.countBlocking(exceptions),
	}
	if next, ok := workflow.NextPending(); ok {
		summary.NextStep = &next
	}
	summary.CanApprove = period.Status == PeriodReviewing &&
		!period.IsLocked &&
		summary.NextStep != nil &&
		summary.BlockingExceptions == 0
	return summary
}
