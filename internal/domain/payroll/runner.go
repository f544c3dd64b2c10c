package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"paycore/internal/domain/contributions"
)

// Runner executes calculation jobs. Lines are computed in parallel and the
// aggregate totals are written once, together with the terminal status.
type Runner struct {
	*base
	detector *Detector
}

type runResult struct {
	CalculationID string            `json:"calculationId"`
	Status        CalculationStatus `json:"status"`
	Processed     int               `json:"processed"`
	Failed        int               `json:"failed"`
}

func (r *Runner) Run(ctx context.Context, calculationID string) (any, error) {
	calc, err := r.deps.Store.GetCalculation(ctx, calculationID)
	if err != nil {
		return nil, err
	}
	if calc.Status != CalcPending {
		return runResult{CalculationID: calc.ID, Status: calc.Status}, nil
	}
	started := r.now()
	calc.Status = CalcProcessing
	calc.StartedAt = &started
	calc.HeartbeatAt = started
	if err := r.deps.Store.SaveRun(ctx, RunChange{Calculation: &calc}); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return runResult{CalculationID: calc.ID}, nil
		}
		return nil, err
	}
	defer r.releaseLock(context.WithoutCancel(ctx), calc.PeriodID, calc.ID)

	period, err := r.deps.Store.GetPeriod(ctx, calc.PeriodID)
	if err != nil {
		return r.failRun(ctx, calc, "load period: "+err.Error())
	}
	tables, err := r.deps.Tables.For(period.EndDate)
	if err != nil {
		return r.failRun(ctx, calc, "contribution tables: "+err.Error())
	}
	calc.TablesVersion = tables.Version
	adjustments, err := r.deps.Store.GetAdjustments(ctx, calc.AdjustmentIDs)
	if err != nil {
		return r.failRun(ctx, calc, "load adjustments: "+err.Error())
	}
	inputs, err := r.deps.Directory.ListInputs(ctx, period)
	if err != nil {
		return r.failRun(ctx, calc, "load employee inputs: "+err.Error())
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].EmployeeID < inputs[j].EmployeeID })
	calc.TotalEmployees = len(inputs)

	lines, cancelled, err := r.computeLines(ctx, calc, period, inputs, adjustments, tables)
	if err != nil {
		return r.failRun(ctx, calc, err.Error())
	}
	if cancelled {
		fresh, err := r.deps.Store.GetCalculation(ctx, calc.ID)
		if err != nil {
			return nil, err
		}
		if fresh.Status != CalcProcessing || fresh.Version != calc.Version {
			slog.Warn("calculation finished elsewhere", "calculationId", calc.ID, "status", fresh.Status)
			return runResult{CalculationID: calc.ID, Status: fresh.Status}, nil
		}
		calc.ProcessedEmployees = fresh.ProcessedEmployees
		calc.FailedEmployees = fresh.FailedEmployees
		calc.CancelRequested = true
		return r.cancel(ctx, calc, "")
	}
	return r.complete(ctx, calc, period, lines, adjustments, tables)
}

func (r *Runner) computeLines(ctx context.Context, calc Calculation, period Period, inputs []EmployeeInput, adjustments []Adjustment, tables contributions.TableSet) ([]EmployeeLine, bool, error) {
	byEmployee := make(map[string][]Adjustment)
	for _, adj := range adjustments {
		byEmployee[adj.EmployeeID] = append(byEmployee[adj.EmployeeID], adj)
	}

	lines := make([]EmployeeLine, len(inputs))
	var (
		mu        sync.Mutex
		processed int
		failed    int
		stop      atomic.Bool
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, input := range inputs {
		if stop.Load() || gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			line := computeLine(input, period, byEmployee[input.EmployeeID], tables)
			lines[i] = line
			r.deps.Observer.LineComputed(string(line.Status))

			mu.Lock()
			defer mu.Unlock()
			processed++
			if line.Status == LineFailed {
				failed++
			}
			cancelRequested, err := r.deps.Store.RecordProgress(gCtx, calc.ID, Progress{
				Total:     len(inputs),
				Processed: processed,
				Failed:    failed,
				At:        r.now(),
			})
			if err != nil {
				return fmt.Errorf("record progress: %w", err)
			}
			if cancelRequested {
				stop.Store(true)
			}
			if err := r.deps.Locker.Refresh(gCtx, lockKey(calc.PeriodID), calc.ID, r.lockTTL()); err != nil {
				return fmt.Errorf("%w: %v", ErrLockUnavailable, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return lines, stop.Load(), nil
}

func computeLine(input EmployeeInput, period Period, adjustments []Adjustment, tables contributions.TableSet) (line EmployeeLine) {
	defer func() {
		if rec := recover(); rec != nil {
			line = failLine(EmployeeLine{
				EmployeeID:   input.EmployeeID,
				EmployeeName: input.Name,
				Category:     input.Category,
			}, fmt.Sprintf("%s: %v", ReasonPanic, rec))
		}
	}()
	return Compute(input, period, adjustments, tables)
}

func (r *Runner) complete(ctx context.Context, calc Calculation, period Period, lines []EmployeeLine, adjustments []Adjustment, tables contributions.TableSet) (any, error) {
	now := r.now()
	failed := 0
	for i := range lines {
		lines[i].CalculationID = calc.ID
		if lines[i].Status == LineFailed {
			failed++
		}
	}
	calc.ProcessedEmployees = len(lines)
	calc.FailedEmployees = failed
	calc.Totals = sumTotals(lines)
	calc.CompletedAt = &now
	calc.HeartbeatAt = now
	calc.Status = CalcCompleted
	if failed > 0 {
		calc.Status = CalcFailed
		calc.ErrorMessage = fmt.Sprintf("%d of %d employee lines failed", failed, len(lines))
	}

	previous, err := r.deps.Store.PreviousNetPay(ctx, period.StartDate)
	if err != nil {
		slog.Warn("previous net pay lookup failed", "periodId", period.ID, "err", err)
		previous = nil
	}
	exceptions := r.detector.Detect(ReviewInput{
		Period:      period,
		Calculation: calc,
		Lines:       lines,
		PreviousNet: previous,
		Tables:      tables,
	}, now)

	change := RunChange{
		Calculation: &calc,
		Lines:       lines,
		Exceptions:  exceptions,
	}
	if calc.Status == CalcCompleted {
		for _, adj := range adjustments {
			if adj.Status == AdjustmentApproved {
				change.ApplyAdjustments = append(change.ApplyAdjustments, adj.ID)
			}
		}
		change.AppliedAt = now
	}
	from := period.Status
	if period.ActiveCalculationID == calc.ID {
		period.Totals = calc.Totals
		period.Status = PeriodCalculated
		if calc.Status == CalcFailed {
			period.Status = PeriodFailed
		}
		period.UpdatedAt = now
		change.Period = &period
	}
	if err := r.deps.Store.SaveRun(ctx, change); err != nil {
		slog.Warn("calculation result discarded", "calculationId", calc.ID, "err", err)
		return nil, err
	}

	eventType := EventCalculationCompleted
	if calc.Status == CalcFailed {
		eventType = EventCalculationFailed
	}
	r.emit(ctx, eventType, "calculation", calc.ID, "", map[string]any{
		"periodId":        calc.PeriodID,
		"totalEmployees":  calc.TotalEmployees,
		"failedEmployees": calc.FailedEmployees,
		"netPay":          calc.Totals.Net.StringFixed(2),
		"exceptions":      len(exceptions),
	})
	if change.Period != nil {
		r.periodStatusEvent(ctx, period, from, "")
	}
	r.observeFinish(calc)
	return runResult{CalculationID: calc.ID, Status: calc.Status, Processed: calc.ProcessedEmployees, Failed: calc.FailedEmployees}, nil
}

func (r *Runner) failRun(ctx context.Context, calc Calculation, message string) (any, error) {
	if err := r.fail(ctx, calc, message); err != nil {
		return nil, err
	}
	return runResult{CalculationID: calc.ID, Status: CalcFailed}, errors.New(message)
}

// fail marks a run failed with a fatal reason. The period follows when the
// run is its active calculation. Operators are alerted.
func (r *Runner) fail(ctx context.Context, calc Calculation, message string) error {
	ctx = context.WithoutCancel(ctx)
	now := r.now()
	calc.Status = CalcFailed
	calc.ErrorMessage = message
	calc.CompletedAt = &now
	change := RunChange{Calculation: &calc}

	period, err := r.deps.Store.GetPeriod(ctx, calc.PeriodID)
	if err != nil {
		return err
	}
	from := period.Status
	if period.ActiveCalculationID == calc.ID && period.Status == PeriodCalculating {
		period.Status = PeriodFailed
		period.Totals = calc.Totals
		period.UpdatedAt = now
		change.Period = &period
	}
	if err := r.deps.Store.SaveRun(ctx, change); err != nil {
		slog.Warn("calculation failure not recorded", "calculationId", calc.ID, "reason", message, "err", err)
		return err
	}
	r.releaseLock(ctx, calc.PeriodID, calc.ID)

	slog.Error("calculation failed", "calculationId", calc.ID, "periodId", calc.PeriodID, "reason", message)
	r.emit(ctx, EventCalculationFailed, "calculation", calc.ID, "", map[string]any{
		"periodId": calc.PeriodID,
		"reason":   message,
	})
	if change.Period != nil {
		r.periodStatusEvent(ctx, period, from, "")
	}
	r.alert(ctx, "Payroll calculation failed", fmt.Sprintf("Calculation %s for period %s failed: %s", calc.ID, calc.PeriodID, message))
	r.observeFinish(calc)
	return nil
}

// cancel finishes a run as cancelled and restores the period to where it
// was before the run started.
func (r *Runner) cancel(ctx context.Context, calc Calculation, actor string) (Calculation, error) {
	ctx = context.WithoutCancel(ctx)
	now := r.now()
	calc.Status = CalcCancelled
	calc.CompletedAt = &now
	change := RunChange{Calculation: &calc}

	period, err := r.deps.Store.GetPeriod(ctx, calc.PeriodID)
	if err != nil {
		return Calculation{}, err
	}
	from := period.Status
	if period.ActiveCalculationID == calc.ID {
		period.Totals = Totals{}
		period.ActiveCalculationID = ""
		if calc.PreviousID != "" {
			previous, err := r.deps.Store.GetCalculation(ctx, calc.PreviousID)
			if err != nil {
				return Calculation{}, err
			}
			previous.SupersededBy = ""
			change.Previous = &previous
			period.Totals = previous.Totals
			period.ActiveCalculationID = previous.ID
		}
		period.Status = calc.ResumeStatus
		if !PeriodCalculating.CanTransition(period.Status) {
			period.Status = PeriodDraft
		}
		period.UpdatedAt = now
		change.Period = &period
	}
	if err := r.deps.Store.SaveRun(ctx, change); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return Calculation{}, fmt.Errorf("%w: calculation already finished", ErrInvalidTransition)
		}
		return Calculation{}, err
	}
	r.releaseLock(ctx, calc.PeriodID, calc.ID)

	r.emit(ctx, EventCalculationCancelled, "calculation", calc.ID, actor, map[string]any{
		"periodId":  calc.PeriodID,
		"processed": calc.ProcessedEmployees,
	})
	if change.Period != nil {
		r.periodStatusEvent(ctx, period, from, actor)
	}
	r.observeFinish(calc)
	return calc, nil
}

// SweepStalled fails unfinished runs whose heartbeat is older than the
// configured window and releases their locks.
func (r *Runner) SweepStalled(ctx context.Context) (int, error) {
	calcs, err := r.deps.Store.ListUnfinishedCalculations(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := r.now().Add(-r.opts.HeartbeatTimeout)
	swept := 0
	for _, calc := range calcs {
		if calc.HeartbeatAt.After(cutoff) {
			continue
		}
		message := fmt.Sprintf("%s: no progress since %s", ReasonTimeout, calc.HeartbeatAt.Format("2006-01-02T15:04:05Z07:00"))
		if err := r.fail(ctx, calc, message); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}

func (r *Runner) observeFinish(calc Calculation) {
	elapsed := calc.CompletedAt.Sub(calc.CreatedAt)
	if calc.StartedAt != nil {
		elapsed = calc.CompletedAt.Sub(*calc.StartedAt)
	}
	r.deps.Observer.RunFinished(string(calc.Type), string(calc.Status), elapsed)
}
