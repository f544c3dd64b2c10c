package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PeriodManager owns the period state machine and serializes calculation
// runs per period.
type PeriodManager struct {
	*base
	runner    *Runner
	approvals *Approvals
}

type PeriodInput struct {
	Type       PeriodType `json:"periodType"`
	StartDate  time.Time  `json:"startDate"`
	EndDate    time.Time  `json:"endDate"`
	CutoffDate time.Time  `json:"cutoffDate"`
	PayDate    time.Time  `json:"payDate"`
}

func (m *PeriodManager) validatePeriod(in PeriodInput) error {
	ve := &ValidationError{}
	if !in.Type.Valid() {
		ve.add("periodType", "must be one of weekly, bi_weekly, semi_monthly, monthly")
	}
	dates := []struct {
		field string
		value time.Time
	}{
		{"startDate", in.StartDate},
		{"endDate", in.EndDate},
		{"cutoffDate", in.CutoffDate},
		{"payDate", in.PayDate},
	}
	missing := false
	for _, d := range dates {
		if d.value.IsZero() {
			ve.add(d.field, "is required")
			missing = true
		}
	}
	if missing {
		return ve.orNil()
	}
	if !in.StartDate.Before(in.EndDate) {
		ve.add("endDate", "must be after startDate")
	}
	if in.CutoffDate.Before(in.StartDate) || in.CutoffDate.After(in.EndDate) {
		ve.add("cutoffDate", "must fall within the period")
	}
	if !in.PayDate.After(in.EndDate) {
		ve.add("payDate", "must be after endDate")
	}
	latest := in.EndDate.AddDate(0, 0, m.opts.PayDateGraceDays)
	if in.PayDate.After(latest) {
		ve.add("payDate", fmt.Sprintf("must be within %d days of endDate", m.opts.PayDateGraceDays))
	}
	return ve.orNil()
}

func (m *PeriodManager) CreatePeriod(ctx context.Context, in PeriodInput, actor Actor) (Period, error) {
	if err := m.validatePeriod(in); err != nil {
		return Period{}, err
	}
	now := m.now()
	period := Period{
		ID:         uuid.NewString(),
		Type:       in.Type,
		StartDate:  dateOnly(in.StartDate),
		EndDate:    dateOnly(in.EndDate),
		CutoffDate: dateOnly(in.CutoffDate),
		PayDate:    dateOnly(in.PayDate),
		Status:     PeriodDraft,
		CreatedBy:  actor.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.deps.Store.CreatePeriod(ctx, &period); err != nil {
		return Period{}, err
	}
	m.emit(ctx, EventPeriodCreated, "period", period.ID, actor.ID, map[string]any{
		"periodType": string(period.Type),
		"startDate":  period.StartDate.Format("2006-01-02"),
		"endDate":    period.EndDate.Format("2006-01-02"),
	})
	return period, nil
}

func (m *PeriodManager) GetPeriod(ctx context.Context, periodID string) (Period, error) {
	return m.deps.Store.GetPeriod(ctx, periodID)
}

func (m *PeriodManager) ListPeriods(ctx context.Context, filter PeriodFilter) ([]Period, int, error) {
	return m.deps.Store.ListPeriods(ctx, filter)
}

// UpdatePeriod changes structural fields while the period is draft or
// calculated.
func (m *PeriodManager) UpdatePeriod(ctx context.Context, periodID string, in PeriodInput, actor Actor) (Period, error) {
	period, err := m.loadUnlockedPeriod(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if !period.Status.Editable() {
		return Period{}, fmt.Errorf("%w: period fields cannot change while %s", ErrInvalidTransition, period.Status)
	}
	if err := m.validatePeriod(in); err != nil {
		return Period{}, err
	}
	period.Type = in.Type
	period.StartDate = dateOnly(in.StartDate)
	period.EndDate = dateOnly(in.EndDate)
	period.CutoffDate = dateOnly(in.CutoffDate)
	period.PayDate = dateOnly(in.PayDate)
	period.UpdatedAt = m.now()
	if err := m.deps.Store.UpdatePeriod(ctx, &period); err != nil {
		return Period{}, err
	}
	m.emit(ctx, EventPeriodUpdated, "period", period.ID, actor.ID, nil)
	return period, nil
}

// StartCalculation checks preconditions, takes the per-period lock, records
// a pending calculation that supersedes the previous one and enqueues the
// run. It returns as soon as the job is queued.
func (m *PeriodManager) StartCalculation(ctx context.Context, periodID string, calcType CalculationType, actor Actor) (Calculation, error) {
	if !calcType.Valid() {
		ve := &ValidationError{}
		ve.add("calculationType", "must be one of regular, adjustment, final, re-calculation")
		return Calculation{}, ve
	}
	period, err := m.loadUnlockedPeriod(ctx, periodID)
	if err != nil {
		return Calculation{}, err
	}
	if period.Status == PeriodCalculating {
		return Calculation{}, ErrCalculationInProgress
	}
	if !calcType.startableFrom(period.Status) {
		return Calculation{}, fmt.Errorf("%w: %s calculation cannot start while period is %s", ErrInvalidTransition, calcType, period.Status)
	}

	snapshot, err := m.deps.Store.ListAdjustments(ctx, AdjustmentFilter{PeriodID: period.ID})
	if err != nil {
		return Calculation{}, err
	}
	adjustmentIDs := make([]string, 0, len(snapshot))
	for _, adj := range snapshot {
		if adj.eligible() {
			adjustmentIDs = append(adjustmentIDs, adj.ID)
		}
	}

	calcID := uuid.NewString()
	acquired, err := m.deps.Locker.Acquire(ctx, lockKey(period.ID), calcID, m.lockTTL())
	if err != nil {
		return Calculation{}, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	if !acquired {
		return Calculation{}, ErrCalculationInProgress
	}

	now := m.now()
	calc := Calculation{
		ID:            calcID,
		PeriodID:      period.ID,
		Type:          calcType,
		Status:        CalcPending,
		PreviousID:    period.ActiveCalculationID,
		ResumeStatus:  period.Status,
		AdjustmentIDs: adjustmentIDs,
		RequestedBy:   actor.ID,
		CreatedAt:     now,
		HeartbeatAt:   now,
	}
	change := RunChange{Calculation: &calc, Insert: true, Period: &period}
	if period.ActiveCalculationID != "" {
		previous, err := m.deps.Store.GetCalculation(ctx, period.ActiveCalculationID)
		if err != nil {
			m.releaseLock(ctx, period.ID, calcID)
			return Calculation{}, err
		}
		previous.SupersededBy = calc.ID
		change.Previous = &previous
	}
	from := period.Status
	period.Status = PeriodCalculating
	period.ActiveCalculationID = calc.ID
	period.Totals = Totals{}
	period.UpdatedAt = now
	if err := m.deps.Store.SaveRun(ctx, change); err != nil {
		m.releaseLock(ctx, period.ID, calcID)
		if errors.Is(err, ErrConcurrentModification) {
			return Calculation{}, ErrCalculationInProgress
		}
		return Calculation{}, err
	}

	m.emit(ctx, EventCalculationStarted, "calculation", calc.ID, actor.ID, map[string]any{
		"periodId":        period.ID,
		"calculationType": string(calc.Type),
		"adjustments":     len(adjustmentIDs),
	})
	m.periodStatusEvent(ctx, period, from, actor.ID)
	m.deps.Observer.RunStarted(string(calc.Type))

	run := func(ctx context.Context) (any, error) {
		return m.runner.Run(ctx, calc.ID)
	}
	if err := m.deps.Jobs.Enqueue(JobCalculation, calc.ID, run); err != nil {
		m.runner.fail(ctx, calc, "enqueue failed: "+err.Error())
		return calc, err
	}
	return calc, nil
}

// Recalculate always starts a fresh run that supersedes the active one.
func (m *PeriodManager) Recalculate(ctx context.Context, periodID string, actor Actor) (Calculation, error) {
	return m.StartCalculation(ctx, periodID, CalcRecalculation, actor)
}

// Cancel stops a pending calculation at once. A processing calculation is
// flagged and finishes as cancelled after in-flight lines drain.
func (m *PeriodManager) Cancel(ctx context.Context, calculationID string, actor Actor) (Calculation, error) {
	calc, err := m.deps.Store.GetCalculation(ctx, calculationID)
	if err != nil {
		return Calculation{}, err
	}
	if _, err := m.loadUnlockedPeriod(ctx, calc.PeriodID); err != nil {
		return Calculation{}, err
	}
	switch calc.Status {
	case CalcPending:
		return m.runner.cancel(ctx, calc, actor.ID)
	case CalcProcessing:
		if err := m.deps.Store.RequestCancel(ctx, calc.ID); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				return Calculation{}, fmt.Errorf("%w: calculation already finished", ErrInvalidTransition)
			}
			return Calculation{}, err
		}
		slog.Info("calculation cancel requested", "calculationId", calc.ID, "actor", actor.ID)
		return m.deps.Store.GetCalculation(ctx, calc.ID)
	}
	return Calculation{}, fmt.Errorf("%w: calculation is %s", ErrInvalidTransition, calc.Status)
}

func (m *PeriodManager) GetCalculation(ctx context.Context, calculationID string) (CalculationDetail, error) {
	calc, err := m.deps.Store.GetCalculation(ctx, calculationID)
	if err != nil {
		return CalculationDetail{}, err
	}
	lines, err := m.deps.Store.ListLines(ctx, calc.ID)
	if err != nil {
		return CalculationDetail{}, err
	}
	exceptions, err := m.deps.Store.ListExceptions(ctx, calc.ID)
	if err != nil {
		return CalculationDetail{}, err
	}
	return CalculationDetail{
		Calculation:     calc,
		ProgressPercent: calc.Progress(),
		Lines:           lines,
		Exceptions:      exceptions,
	}, nil
}

func (m *PeriodManager) ListCalculations(ctx context.Context, periodID string) ([]Calculation, error) {
	if _, err := m.deps.Store.GetPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	return m.deps.Store.ListCalculations(ctx, periodID)
}

func (m *PeriodManager) SubmitForReview(ctx context.Context, periodID string, actor Actor) (ApprovalWorkflow, error) {
	return m.approvals.Submit(ctx, periodID, actor)
}

// ApprovePeriod signs off the next pending step on behalf of actor.
func (m *PeriodManager) ApprovePeriod(ctx context.Context, periodID string, actor Actor, comments string, override bool) (ReviewSummary, error) {
	step, err := m.approvals.nextStep(ctx, periodID)
	if err != nil {
		return ReviewSummary{}, err
	}
	return m.approvals.ApproveStep(ctx, periodID, step.Index, actor, comments, override)
}

// RejectPeriod rejects the next pending step; reason is required.
func (m *PeriodManager) RejectPeriod(ctx context.Context, periodID string, actor Actor, reason string) (ReviewSummary, error) {
	step, err := m.approvals.nextStep(ctx, periodID)
	if err != nil {
		return ReviewSummary{}, err
	}
	return m.approvals.RejectStep(ctx, periodID, step.Index, actor, reason)
}

func (m *PeriodManager) MarkPaid(ctx context.Context, periodID string, actor Actor) (Period, error) {
	return m.transition(ctx, periodID, PeriodPaid, actor, func(p *Period, now time.Time) {
		p.FinalizedBy = actor.ID
		p.FinalizedAt = &now
	})
}

func (m *PeriodManager) ClosePeriod(ctx context.Context, periodID string, actor Actor) (Period, error) {
	return m.transition(ctx, periodID, PeriodClosed, actor, nil)
}

// LockPeriod sets the permanent immutability flag once the period has been
// approved.
func (m *PeriodManager) LockPeriod(ctx context.Context, periodID string, actor Actor) (Period, error) {
	period, err := m.loadUnlockedPeriod(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if !period.Status.AtLeastApproved() {
		return Period{}, fmt.Errorf("%w: period must be approved before locking, status is %s", ErrInvalidTransition, period.Status)
	}
	now := m.now()
	period.IsLocked = true
	period.LockedBy = actor.ID
	period.LockedAt = &now
	period.UpdatedAt = now
	if err := m.deps.Store.UpdatePeriod(ctx, &period); err != nil {
		return Period{}, err
	}
	m.emit(ctx, EventPeriodLocked, "period", period.ID, actor.ID, map[string]any{"status": string(period.Status)})
	return period, nil
}

// SweepStalled fails every unfinished calculation whose heartbeat is older
// than the configured window.
func (m *PeriodManager) SweepStalled(ctx context.Context) (int, error) {
	return m.runner.SweepStalled(ctx)
}

func (m *PeriodManager) transition(ctx context.Context, periodID string, to PeriodStatus, actor Actor, mutate func(*Period, time.Time)) (Period, error) {
	period, err := m.loadUnlockedPeriod(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if !period.Status.CanTransition(to) {
		return Period{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, period.Status, to)
	}
	now := m.now()
	from := period.Status
	period.Status = to
	period.UpdatedAt = now
	if mutate != nil {
		mutate(&period, now)
	}
	if err := m.deps.Store.UpdatePeriod(ctx, &period); err != nil {
		return Period{}, err
	}
	m.periodStatusEvent(ctx, period, from, actor.ID)
	return period, nil
}

func (b *base) releaseLock(ctx context.Context, periodID, token string) {
	if err := b.deps.Locker.Release(ctx, lockKey(periodID), token); err != nil {
		slog.Warn("calculation lock release failed", "periodId", periodID, "calculationId", token, "err", err)
	}
}
