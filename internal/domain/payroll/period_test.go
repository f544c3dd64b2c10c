package payroll

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"paycore/internal/domain/contributions"
)

func TestRegularRunCompletes(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	if period.Status != PeriodDraft || period.Version != 1 {
		t.Fatalf("expected new draft period at version 1, got %s v%d", period.Status, period.Version)
	}

	detail := h.calculate(t, period.ID, CalcRegular)
	if detail.Status != CalcCompleted {
		t.Fatalf("expected completed, got %s (%s)", detail.Status, detail.ErrorMessage)
	}
	if detail.TotalEmployees != 1 || detail.ProcessedEmployees != 1 || detail.FailedEmployees != 0 {
		t.Fatalf("unexpected counters %+v", detail.Calculation)
	}
	if detail.ProgressPercent != 100 {
		t.Fatalf("expected 100%% progress, got %v", detail.ProgressPercent)
	}
	if detail.TablesVersion != "2024.1" {
		t.Fatalf("expected tables 2024.1, got %q", detail.TablesVersion)
	}
	if len(detail.Lines) != 1 || detail.Lines[0].NetPay.StringFixed(2) != "42551.67" {
		t.Fatalf("expected one line with net 42551.67, got %+v", detail.Lines)
	}

	period = h.period(t, period.ID)
	if period.Status != PeriodCalculated {
		t.Fatalf("expected calculated period, got %s", period.Status)
	}
	if period.ActiveCalculationID != detail.ID {
		t.Fatalf("expected active calculation %s, got %s", detail.ID, period.ActiveCalculationID)
	}
	if period.Totals.Net.StringFixed(2) != "42551.67" || period.Totals.Gross.StringFixed(2) != "50000.00" {
		t.Fatalf("unexpected period totals %+v", period.Totals)
	}
	if _, held := h.locks.Holder(lockKey(period.ID)); held {
		t.Fatalf("expected calculation lock to be released")
	}
	for _, eventType := range []string{EventPeriodCreated, EventCalculationStarted, EventCalculationCompleted, EventPeriodStatusChanged} {
		if !h.events.Has(eventType) {
			t.Fatalf("expected %s event, got %v", eventType, h.events.Types())
		}
	}
	if h.observer.started != 1 || h.observer.finished[string(CalcCompleted)] != 1 || h.observer.lines[string(LineCompleted)] != 1 {
		t.Fatalf("unexpected observer counts %+v", h.observer)
	}
}

func TestRunAppliesApprovedAdjustmentsOnly(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	approved := h.addAdjustment(t, AdjustmentRequest{
		PeriodID: period.ID, EmployeeID: "e1", Category: CategoryBonus, Amount: dec("5000"), Reason: "Q2 bonus",
	}, true)
	pending := h.addAdjustment(t, AdjustmentRequest{
		PeriodID: period.ID, EmployeeID: "e1", Category: CategoryIncentive, Amount: dec("1000"), Reason: "referral",
	}, false)

	detail := h.calculate(t, period.ID, CalcRegular)
	if len(detail.AdjustmentIDs) != 1 || detail.AdjustmentIDs[0] != approved.ID {
		t.Fatalf("expected snapshot of the approved adjustment, got %v", detail.AdjustmentIDs)
	}
	line := detail.Lines[0]
	if line.GrossPay.StringFixed(2) != "55000.00" || line.NetPay.StringFixed(2) != "46451.67" {
		t.Fatalf("expected gross 55000.00 net 46451.67, got %s %s", line.GrossPay.StringFixed(2), line.NetPay.StringFixed(2))
	}
	if got := h.period(t, period.ID).Totals.Gross.StringFixed(2); got != "55000.00" {
		t.Fatalf("expected period gross 55000.00, got %s", got)
	}

	ctx := context.Background()
	applied, err := h.svc.Ledger.Get(ctx, approved.ID)
	if err != nil {
		t.Fatalf("get adjustment: %v", err)
	}
	if applied.Status != AdjustmentApplied || applied.AppliedCalculationID != detail.ID || applied.AppliedAt == nil {
		t.Fatalf("expected adjustment applied by %s, got %+v", detail.ID, applied)
	}
	stillPending, err := h.svc.Ledger.Get(ctx, pending.ID)
	if err != nil {
		t.Fatalf("get adjustment: %v", err)
	}
	if stillPending.Status != AdjustmentPending {
		t.Fatalf("expected pending adjustment to stay pending, got %s", stillPending.Status)
	}
}

func TestEarningAdjustmentRaisesPeriodGrossExactly(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000"), employee("e2", "32000"), employee("e3", "18500")})
	period := h.createPeriod(t, monthlyPeriod(2024, 6))

	baseline := h.calculate(t, period.ID, CalcRegular)
	before := h.period(t, period.ID).Totals.Gross
	grossByEmployee := func(detail CalculationDetail) map[string]string {
		out := map[string]string{}
		for _, line := range detail.Lines {
			out[line.EmployeeID] = line.GrossPay.StringFixed(2)
		}
		return out
	}
	baseGross := grossByEmployee(baseline)

	h.addAdjustment(t, AdjustmentRequest{
		PeriodID: period.ID, EmployeeID: "e1", Category: CategoryBonus, Amount: dec("5000"), Reason: "Q2 bonus",
	}, true)
	rerun := h.calculate(t, period.ID, CalcRecalculation)
	after := h.period(t, period.ID).Totals.Gross

	if delta := after.Sub(before); !delta.Equal(dec("5000")) {
		t.Fatalf("expected period gross to rise by 5000.00, got %s (%s -> %s)", delta.StringFixed(2), before.StringFixed(2), after.StringFixed(2))
	}
	rerunGross := grossByEmployee(rerun)
	if len(rerunGross) != 3 {
		t.Fatalf("expected three lines, got %v", rerunGross)
	}
	if rerunGross["e1"] != "55000.00" {
		t.Fatalf("expected e1 gross 55000.00, got %s", rerunGross["e1"])
	}
	for _, id := range []string{"e2", "e3"} {
		if rerunGross[id] != baseGross[id] {
			t.Fatalf("expected %s gross unchanged at %s, got %s", id, baseGross[id], rerunGross[id])
		}
	}
}

func TestAdjustmentApprovedAfterStartIsNotApplied(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	adj := h.addAdjustment(t, AdjustmentRequest{
		PeriodID: period.ID, EmployeeID: "e1", Category: CategoryCommission, Amount: dec("5000"), Reason: "late commission",
	}, false)

	ctx := context.Background()
	calc, err := h.svc.Periods.StartCalculation(ctx, period.ID, CalcRegular, officer)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.svc.Ledger.Approve(ctx, adj.ID, manager, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	h.jobs.drain(t)

	detail, err := h.svc.Periods.GetCalculation(ctx, calc.ID)
	if err != nil {
		t.Fatalf("get calculation: %v", err)
	}
	if got := detail.Lines[0].GrossPay.StringFixed(2); got != "50000.00" {
		t.Fatalf("expected adjustment outside the snapshot to be ignored, got gross %s", got)
	}
	after, _ := h.svc.Ledger.Get(ctx, adj.ID)
	if after.Status != AdjustmentApproved {
		t.Fatalf("expected adjustment to remain approved, got %s", after.Status)
	}

	rerun := h.calculate(t, period.ID, CalcRecalculation)
	if got := rerun.Lines[0].GrossPay.StringFixed(2); got != "55000.00" {
		t.Fatalf("expected re-run to pick up the adjustment, got %s", got)
	}
}

func TestRunTotalsMatchLines(t *testing.T) {
	inputs := []EmployeeInput{
		employee("e1", "50000"),
		employee("e2", "23500.50"),
		employee("e3", "120000"),
		employee("e4", "9000"),
	}
	inputs[1].OvertimePay = dec("1875.25")
	inputs[2].Allowances = dec("8000")
	inputs[2].DeMinimis = dec("3000")
	h := newHarness(t, inputs)
	period := h.createPeriod(t, monthlyPeriod(2024, 6))

	detail := h.calculate(t, period.ID, CalcRegular)
	if detail.Status != CalcCompleted || len(detail.Lines) != len(inputs) {
		t.Fatalf("expected %d completed lines, got %s with %d", len(inputs), detail.Status, len(detail.Lines))
	}
	var sum Totals
	for i, line := range detail.Lines {
		if line.EmployeeID != inputs[i].EmployeeID {
			t.Fatalf("expected lines ordered by employee, got %s at %d", line.EmployeeID, i)
		}
		if !line.NetPay.Equal(line.GrossPay.Sub(line.TotalDeductions)) {
			t.Fatalf("line %s: net %s != gross %s - deductions %s", line.EmployeeID, line.NetPay, line.GrossPay, line.TotalDeductions)
		}
		sum = sum.add(line)
	}
	if !sum.Net.Equal(detail.Totals.Net) || !sum.Gross.Equal(detail.Totals.Gross) || !sum.Deductions.Equal(detail.Totals.Deductions) {
		t.Fatalf("expected totals %+v to equal line sums %+v", detail.Totals, sum)
	}
	if !h.period(t, period.ID).Totals.Net.Equal(sum.Net) {
		t.Fatalf("expected period totals to follow the active calculation")
	}
}

func TestOutOfBracketEmployeeFailsRun(t *testing.T) {
	registry, err := contributions.NewRegistry(cappedTables())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := newHarness(t, []EmployeeInput{employee("e1", "20000"), employee("e2", "45000")}, withTables(registry))
	period := h.createPeriod(t, monthlyPeriod(2024, 6))

	detail := h.calculate(t, period.ID, CalcRegular)
	if detail.Status != CalcFailed {
		t.Fatalf("expected failed calculation, got %s", detail.Status)
	}
	if detail.FailedEmployees != 1 || detail.ProcessedEmployees != 2 {
		t.Fatalf("expected 1 failed of 2 processed, got %d of %d", detail.FailedEmployees, detail.ProcessedEmployees)
	}
	if detail.TablesVersion != "capped" {
		t.Fatalf("expected tables version to be recorded, got %q", detail.TablesVersion)
	}
	var good EmployeeLine
	for _, line := range detail.Lines {
		switch line.EmployeeID {
		case "e1":
			good = line
		case "e2":
			if line.Status != LineFailed || !strings.HasPrefix(line.ErrorMessage, ReasonMissingBracket) {
				t.Fatalf("expected e2 to fail on missing bracket, got %s %q", line.Status, line.ErrorMessage)
			}
		}
	}
	if !detail.Totals.Net.Equal(good.NetPay) {
		t.Fatalf("expected totals to cover completed lines only, got %s want %s", detail.Totals.Net, good.NetPay)
	}
	found := false
	for _, exc := range detail.Exceptions {
		if exc.Type == ExceptionFailedLine && exc.EmployeeID == "e2" && exc.Severity == SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected critical failed_line exception for e2, got %+v", detail.Exceptions)
	}
	if got := h.period(t, period.ID).Status; got != PeriodFailed {
		t.Fatalf("expected failed period, got %s", got)
	}
	if !h.events.Has(EventCalculationFailed) {
		t.Fatalf("expected calculation failed event")
	}

	if _, err := h.svc.Periods.SubmitForReview(context.Background(), period.ID, officer); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected failed period not to be submittable, got %v", err)
	}
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	if _, err := h.svc.Periods.StartCalculation(ctx, period.ID, CalcRegular, officer); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.svc.Periods.StartCalculation(ctx, period.ID, CalcRegular, officer); !errors.Is(err, ErrCalculationInProgress) {
		t.Fatalf("expected ErrCalculationInProgress, got %v", err)
	}

	other := h.createPeriod(t, monthlyPeriod(2024, 5))
	if ok, err := h.locks.Acquire(ctx, lockKey(other.ID), "another-instance", time.Minute); err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	if _, err := h.svc.Periods.StartCalculation(ctx, other.ID, CalcRegular, officer); !errors.Is(err, ErrCalculationInProgress) {
		t.Fatalf("expected lock holder to block the run, got %v", err)
	}
	if got := h.period(t, other.ID).Status; got != PeriodDraft {
		t.Fatalf("expected period untouched, got %s", got)
	}
}

func TestStartValidatesTypeAndState(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	if _, err := h.svc.Periods.StartCalculation(ctx, period.ID, "bonus", officer); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.svc.Periods.StartCalculation(ctx, "missing", CalcRegular, officer); !errors.Is(err, ErrPeriodNotFound) {
		t.Fatalf("expected ErrPeriodNotFound, got %v", err)
	}

	h.calculate(t, period.ID, CalcRegular)
	if _, err := h.svc.Periods.SubmitForReview(ctx, period.ID, officer); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.svc.Periods.StartCalculation(ctx, period.ID, CalcRegular, officer); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected regular run to be refused while reviewing, got %v", err)
	}
	detail := h.calculate(t, period.ID, CalcAdjustment)
	if detail.Status != CalcCompleted {
		t.Fatalf("expected adjustment run to complete, got %s", detail.Status)
	}
	if got := h.period(t, period.ID).Status; got != PeriodCalculated {
		t.Fatalf("expected adjustment run to return period to calculated, got %s", got)
	}
}

func TestRecalculateSupersedesPrevious(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000"), employee("e2", "38250.75")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))

	first := h.calculate(t, period.ID, CalcRegular)
	second := h.calculate(t, period.ID, CalcRecalculation)
	if second.PreviousID != first.ID {
		t.Fatalf("expected previous id %s, got %s", first.ID, second.PreviousID)
	}
	old, err := h.store.GetCalculation(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if old.SupersededBy != second.ID || old.Active() {
		t.Fatalf("expected first run to be superseded by %s, got %q", second.ID, old.SupersededBy)
	}
	for i := range first.Lines {
		if !first.Lines[i].NetPay.Equal(second.Lines[i].NetPay) || !first.Lines[i].WithholdingTax.Equal(second.Lines[i].WithholdingTax) {
			t.Fatalf("expected identical inputs to give identical lines")
		}
	}
	calcs, err := h.svc.Periods.ListCalculations(ctx, period.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(calcs) != 2 || calcs[0].ID != first.ID || calcs[1].ID != second.ID {
		t.Fatalf("expected both runs oldest first, got %+v", calcs)
	}
	if h.period(t, period.ID).ActiveCalculationID != second.ID {
		t.Fatalf("expected newest run to be active")
	}
}

func TestCancelPendingRestoresPeriod(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	first := h.calculate(t, period.ID, CalcRegular)

	pending, err := h.svc.Periods.Recalculate(ctx, period.ID, officer)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	cancelled, err := h.svc.Periods.Cancel(ctx, pending.ID, officer)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != CalcCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	restored := h.period(t, period.ID)
	if restored.Status != PeriodCalculated || restored.ActiveCalculationID != first.ID {
		t.Fatalf("expected period back on %s as calculated, got %s on %s", first.ID, restored.Status, restored.ActiveCalculationID)
	}
	if !restored.Totals.Net.Equal(first.Totals.Net) {
		t.Fatalf("expected previous totals restored")
	}
	prev, _ := h.store.GetCalculation(ctx, first.ID)
	if prev.SupersededBy != "" {
		t.Fatalf("expected previous run to be active again")
	}

	h.jobs.drain(t)
	after, _ := h.store.GetCalculation(ctx, pending.ID)
	if after.Status != CalcCancelled {
		t.Fatalf("expected queued job to leave a cancelled run alone, got %s", after.Status)
	}
	if _, err := h.svc.Periods.Cancel(ctx, pending.ID, officer); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected cancelling twice to fail, got %v", err)
	}
	if !h.events.Has(EventCalculationCancelled) {
		t.Fatalf("expected cancellation event")
	}
	if _, err := h.svc.Periods.StartCalculation(ctx, period.ID, CalcRecalculation, officer); err != nil {
		t.Fatalf("expected lock to be free after cancel, got %v", err)
	}
}

type cancellingDirectory struct {
	*StaticDirectory
	onList func(ctx context.Context, period Period)
}

func (d *cancellingDirectory) ListInputs(ctx context.Context, period Period) ([]EmployeeInput, error) {
	if d.onList != nil {
		d.onList(ctx, period)
	}
	return d.StaticDirectory.ListInputs(ctx, period)
}

func TestCancelProcessingRunDrains(t *testing.T) {
	dir := &cancellingDirectory{StaticDirectory: NewStaticDirectory(
		employee("e1", "50000"), employee("e2", "40000"), employee("e3", "30000"),
	)}
	h := newHarness(t, nil, withDirectory(dir))
	var cancelErr error
	dir.onList = func(ctx context.Context, period Period) {
		calc, err := h.svc.Periods.Cancel(ctx, period.ActiveCalculationID, officer)
		cancelErr = err
		if err == nil && !calc.CancelRequested {
			cancelErr = errors.New("cancel flag not set")
		}
	}
	period := h.createPeriod(t, monthlyPeriod(2024, 6))

	detail := h.calculate(t, period.ID, CalcRegular)
	if cancelErr != nil {
		t.Fatalf("cancel while processing: %v", cancelErr)
	}
	if detail.Status != CalcCancelled || !detail.CancelRequested {
		t.Fatalf("expected cancelled run, got %s", detail.Status)
	}
	if len(detail.Lines) != 0 {
		t.Fatalf("expected no lines persisted for a cancelled run, got %d", len(detail.Lines))
	}
	restored := h.period(t, period.ID)
	if restored.Status != PeriodDraft || restored.ActiveCalculationID != "" {
		t.Fatalf("expected draft period without active run, got %s %q", restored.Status, restored.ActiveCalculationID)
	}
	if _, held := h.locks.Holder(lockKey(period.ID)); held {
		t.Fatalf("expected lock released")
	}
}

func TestSweepFailsStalledRun(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	calc, err := h.svc.Periods.StartCalculation(ctx, period.ID, CalcRegular, officer)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	swept, err := h.svc.Periods.SweepStalled(ctx)
	if err != nil || swept != 0 {
		t.Fatalf("expected fresh run to survive the sweep, got %d %v", swept, err)
	}

	h.clock.Advance(3 * time.Minute)
	swept, err = h.svc.Periods.SweepStalled(ctx)
	if err != nil || swept != 1 {
		t.Fatalf("expected one stalled run, got %d %v", swept, err)
	}
	failed, _ := h.store.GetCalculation(ctx, calc.ID)
	if failed.Status != CalcFailed || !strings.HasPrefix(failed.ErrorMessage, ReasonTimeout) {
		t.Fatalf("expected timeout failure, got %s %q", failed.Status, failed.ErrorMessage)
	}
	if got := h.period(t, period.ID).Status; got != PeriodFailed {
		t.Fatalf("expected failed period, got %s", got)
	}
	if h.alerts.count() != 1 {
		t.Fatalf("expected one operator alert, got %d", h.alerts.count())
	}
	if _, held := h.locks.Holder(lockKey(period.ID)); held {
		t.Fatalf("expected lock released")
	}

	h.jobs.drain(t)
	after, _ := h.store.GetCalculation(ctx, calc.ID)
	if after.Status != CalcFailed {
		t.Fatalf("expected late job not to revive the run, got %s", after.Status)
	}
	if detail := h.calculate(t, period.ID, CalcRegular); detail.Status != CalcCompleted {
		t.Fatalf("expected failed period to be re-runnable, got %s", detail.Status)
	}
}

func TestEnqueueFailureFailsRun(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	h.jobs.err = errors.New("queue full")

	calc, err := h.svc.Periods.StartCalculation(ctx, period.ID, CalcRegular, officer)
	if err == nil {
		t.Fatalf("expected enqueue error")
	}
	stored, _ := h.store.GetCalculation(ctx, calc.ID)
	if stored.Status != CalcFailed {
		t.Fatalf("expected failed calculation, got %s", stored.Status)
	}
	if got := h.period(t, period.ID).Status; got != PeriodFailed {
		t.Fatalf("expected failed period, got %s", got)
	}
	if _, held := h.locks.Holder(lockKey(period.ID)); held {
		t.Fatalf("expected lock released")
	}
}

func TestCreatePeriodValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	base := monthlyPeriod(2024, 6)

	cases := []struct {
		name   string
		mutate func(*PeriodInput)
		field  string
	}{
		{"unknown type", func(in *PeriodInput) { in.Type = "quarterly" }, "periodType"},
		{"missing start", func(in *PeriodInput) { in.StartDate = time.Time{} }, "startDate"},
		{"end before start", func(in *PeriodInput) { in.EndDate = in.StartDate.AddDate(0, 0, -1) }, "endDate"},
		{"cutoff outside", func(in *PeriodInput) { in.CutoffDate = in.EndDate.AddDate(0, 0, 1) }, "cutoffDate"},
		{"pay before end", func(in *PeriodInput) { in.PayDate = in.EndDate }, "payDate"},
		{"pay too late", func(in *PeriodInput) { in.PayDate = in.EndDate.AddDate(0, 0, 8) }, "payDate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			_, err := h.svc.Periods.CreatePeriod(ctx, in, officer)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			found := false
			for _, issue := range ve.Issues {
				if issue.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected issue on %s, got %+v", tc.field, ve.Issues)
			}
		})
	}
	periods, total, err := h.svc.Periods.ListPeriods(ctx, PeriodFilter{})
	if err != nil || total != 0 || len(periods) != 0 {
		t.Fatalf("expected nothing stored, got %d %v", total, err)
	}
}

func TestUpdatePeriodOnlyWhileEditable(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))

	in := monthlyPeriod(2024, 6)
	in.PayDate = in.EndDate.AddDate(0, 0, 2)
	updated, err := h.svc.Periods.UpdatePeriod(ctx, period.ID, in, officer)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.PayDate.Equal(date(2024, 7, 2)) || updated.Version != 2 {
		t.Fatalf("expected pay date 2024-07-02 at version 2, got %s v%d", updated.PayDate, updated.Version)
	}

	h.calculate(t, period.ID, CalcRegular)
	if _, err := h.svc.Periods.SubmitForReview(ctx, period.ID, officer); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.svc.Periods.UpdatePeriod(ctx, period.ID, in, officer); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected reviewing period to refuse edits, got %v", err)
	}
}

func TestListPeriodsFiltersByStatus(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	may := h.createPeriod(t, monthlyPeriod(2024, 5))
	h.createPeriod(t, monthlyPeriod(2024, 6))
	h.calculate(t, may.ID, CalcRegular)

	periods, total, err := h.svc.Periods.ListPeriods(ctx, PeriodFilter{Status: PeriodCalculated})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(periods) != 1 || periods[0].ID != may.ID {
		t.Fatalf("expected only the calculated period, got %d %+v", total, periods)
	}
}
