package payroll

import (
	"context"
	"errors"
	"testing"
)

func TestLedgerValidation(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	valid := AdjustmentRequest{PeriodID: period.ID, EmployeeID: "e1", Type: AdjustmentEarning, Amount: dec("100"), Reason: "bonus"}

	cases := []struct {
		name   string
		mutate func(*AdjustmentRequest)
		field  string
	}{
		{"zero amount", func(r *AdjustmentRequest) { r.Amount = dec("0") }, "amount"},
		{"negative amount", func(r *AdjustmentRequest) { r.Amount = dec("-5") }, "amount"},
		{"three decimals", func(r *AdjustmentRequest) { r.Amount = dec("10.005") }, "amount"},
		{"blank reason", func(r *AdjustmentRequest) { r.Reason = "   " }, "reason"},
		{"missing employee", func(r *AdjustmentRequest) { r.EmployeeID = "" }, "employeeId"},
		{"unknown category", func(r *AdjustmentRequest) { r.Category = "gift" }, "category"},
		{"category type mismatch", func(r *AdjustmentRequest) { r.Category = CategoryLoan }, "category"},
		{"unknown type", func(r *AdjustmentRequest) { r.Type = "tip" }, "adjustmentType"},
		{"correction without direction", func(r *AdjustmentRequest) { r.Type = AdjustmentCorrection }, "direction"},
		{"direction on earning", func(r *AdjustmentRequest) { r.Direction = DirectionCredit }, "direction"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := h.svc.Ledger.Store(ctx, req, officer)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			for _, issue := range ve.Issues {
				if issue.Field == tc.field {
					return
				}
			}
			t.Fatalf("expected issue on %s, got %+v", tc.field, ve.Issues)
		})
	}

	all, err := h.svc.Ledger.List(ctx, AdjustmentFilter{PeriodID: period.ID})
	if err != nil || len(all) != 0 {
		t.Fatalf("expected nothing stored, got %d %v", len(all), err)
	}
}

func TestLedgerStoreChecksReferences(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))

	if _, err := h.svc.Ledger.Store(ctx, AdjustmentRequest{
		PeriodID: period.ID, EmployeeID: "ghost", Category: CategoryBonus, Amount: dec("100"), Reason: "x",
	}, officer); !errors.Is(err, ErrEmployeeNotFound) {
		t.Fatalf("expected ErrEmployeeNotFound, got %v", err)
	}
	if _, err := h.svc.Ledger.Store(ctx, AdjustmentRequest{
		PeriodID: "missing", EmployeeID: "e1", Category: CategoryBonus, Amount: dec("100"), Reason: "x",
	}, officer); !errors.Is(err, ErrPeriodNotFound) {
		t.Fatalf("expected ErrPeriodNotFound, got %v", err)
	}

	adj, err := h.svc.Ledger.Store(ctx, AdjustmentRequest{
		PeriodID: period.ID, EmployeeID: "e1", Category: CategoryRetroPay, Amount: dec("1500.50"), Reason: " retro ", ReferenceNumber: "HR-12",
	}, officer)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if adj.Type != AdjustmentBackpay || adj.Status != AdjustmentPending || adj.Reason != "retro" || adj.RequestedBy != officer.ID {
		t.Fatalf("unexpected adjustment %+v", adj)
	}
	if !h.events.Has(EventAdjustmentCreated) {
		t.Fatalf("expected adjustment created event")
	}
}

func TestLedgerLifecycle(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	adj := h.addAdjustment(t, AdjustmentRequest{
		PeriodID: period.ID, EmployeeID: "e1", Category: CategoryBonus, Amount: dec("100"), Reason: "bonus",
	}, false)

	updated, err := h.svc.Ledger.Update(ctx, adj.ID, AdjustmentRequest{
		PeriodID: "ignored", EmployeeID: "ignored", Category: CategoryBonus, Amount: dec("250"), Reason: "bigger bonus",
	}, officer)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Amount.Equal(dec("250")) || updated.PeriodID != period.ID || updated.EmployeeID != "e1" || updated.Version != 2 {
		t.Fatalf("unexpected update %+v", updated)
	}

	if _, err := h.svc.Ledger.Reject(ctx, adj.ID, manager, ""); !IsValidation(err) {
		t.Fatalf("expected notes to be required, got %v", err)
	}
	approved, err := h.svc.Ledger.Approve(ctx, adj.ID, manager, "fine")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.ReviewedBy != manager.ID || approved.ReviewNotes != "fine" || approved.ReviewedAt == nil {
		t.Fatalf("unexpected review fields %+v", approved)
	}
	if _, err := h.svc.Ledger.Approve(ctx, adj.ID, manager, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected double approval to fail, got %v", err)
	}
	if _, err := h.svc.Ledger.Update(ctx, adj.ID, AdjustmentRequest{Category: CategoryBonus, Amount: dec("1"), Reason: "x"}, officer); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected approved adjustment to be frozen, got %v", err)
	}
	if err := h.svc.Ledger.Delete(ctx, adj.ID, officer); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected approved adjustment not to be deletable, got %v", err)
	}

	h.calculate(t, period.ID, CalcRegular)
	if _, err := h.svc.Ledger.Reject(ctx, adj.ID, manager, "too late"); !errors.Is(err, ErrImmutableRecord) {
		t.Fatalf("expected applied adjustment to be immutable, got %v", err)
	}
	if err := h.svc.Ledger.Delete(ctx, adj.ID, officer); !errors.Is(err, ErrImmutableRecord) {
		t.Fatalf("expected applied adjustment not to be deletable, got %v", err)
	}
}

func TestLedgerRejectAndDelete(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	adj := h.addAdjustment(t, AdjustmentRequest{
		PeriodID: period.ID, EmployeeID: "e1", Type: AdjustmentCorrection, Direction: DirectionDebit, Amount: dec("80"), Reason: "overpaid",
	}, false)

	rejected, err := h.svc.Ledger.Reject(ctx, adj.ID, manager, "duplicate")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != AdjustmentRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	pending, err := h.svc.Ledger.List(ctx, AdjustmentFilter{PeriodID: period.ID, Status: AdjustmentPending})
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending adjustments, got %d %v", len(pending), err)
	}
	if err := h.svc.Ledger.Delete(ctx, adj.ID, officer); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.svc.Ledger.Get(ctx, adj.ID); !errors.Is(err, ErrAdjustmentNotFound) {
		t.Fatalf("expected ErrAdjustmentNotFound, got %v", err)
	}
	if !h.events.Has(EventAdjustmentDeleted) || !h.events.Has(EventAdjustmentRejected) {
		t.Fatalf("expected reject and delete events, got %v", h.events.Types())
	}
}

func TestLedgerListFilters(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000"), employee("e2", "40000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	h.addAdjustment(t, AdjustmentRequest{PeriodID: period.ID, EmployeeID: "e1", Category: CategoryBonus, Amount: dec("1"), Reason: "a"}, true)
	h.addAdjustment(t, AdjustmentRequest{PeriodID: period.ID, EmployeeID: "e2", Category: CategoryBonus, Amount: dec("2"), Reason: "b"}, false)

	byEmployee, err := h.svc.Ledger.List(ctx, AdjustmentFilter{PeriodID: period.ID, EmployeeID: "e2"})
	if err != nil || len(byEmployee) != 1 || byEmployee[0].EmployeeID != "e2" {
		t.Fatalf("expected one adjustment for e2, got %+v %v", byEmployee, err)
	}
	approved, err := h.svc.Ledger.List(ctx, AdjustmentFilter{Status: AdjustmentApproved})
	if err != nil || len(approved) != 1 || approved[0].EmployeeID != "e1" {
		t.Fatalf("expected one approved adjustment, got %+v %v", approved, err)
	}
	if _, err := h.svc.Ledger.List(ctx, AdjustmentFilter{Status: "void"}); !IsValidation(err) {
		t.Fatalf("expected validation error on status filter, got %v", err)
	}
	if _, err := h.svc.Ledger.List(ctx, AdjustmentFilter{PeriodID: "missing"}); !errors.Is(err, ErrPeriodNotFound) {
		t.Fatalf("expected ErrPeriodNotFound, got %v", err)
	}
}

func TestLedgerRefusesReviewOnceApproved(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	pending := h.addAdjustment(t, AdjustmentRequest{
		PeriodID: period.ID, EmployeeID: "e1", Category: CategoryBonus, Amount: dec("250"), Reason: "spot award",
	}, false)
	h.calculate(t, period.ID, CalcRegular)
	h.approveAll(t, period.ID)

	mutations := map[string]func() error{
		"approve": func() error {
			_, err := h.svc.Ledger.Approve(ctx, pending.ID, manager, "")
			return err
		},
		"reject": func() error {
			_, err := h.svc.Ledger.Reject(ctx, pending.ID, manager, "too late")
			return err
		},
		"update": func() error {
			_, err := h.svc.Ledger.Update(ctx, pending.ID, AdjustmentRequest{Category: CategoryBonus, Amount: dec("300"), Reason: "spot award"}, officer)
			return err
		},
		"delete": func() error { return h.svc.Ledger.Delete(ctx, pending.ID, officer) },
	}
	check := func(stage string) {
		t.Helper()
		for name, mutate := range mutations {
			if err := mutate(); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s on %s period: expected ErrInvalidTransition, got %v", name, stage, err)
			}
		}
	}
	check("approved")

	if _, err := h.svc.Periods.MarkPaid(ctx, period.ID, admin); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	check("paid")

	adj, err := h.svc.Ledger.Get(ctx, pending.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if adj.Status != AdjustmentPending || adj.ReviewedBy != "" {
		t.Fatalf("expected adjustment to stay untouched, got %+v", adj)
	}
}
