package payroll

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	cryptoutil "paycore/internal/platform/crypto"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func withCrypto(t *testing.T) harnessOption {
	t.Helper()
	svc, err := cryptoutil.New(testEncryptionKey)
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}
	return func(d *Deps, _ *Options) { d.Crypto = svc }
}

func approvedPeriod(t *testing.T, h *harness) Period {
	t.Helper()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	h.addAdjustment(t, AdjustmentRequest{
		PeriodID: period.ID, EmployeeID: "e1", Category: CategoryBonus, Amount: dec("5000"), Reason: "Q2 bonus",
	}, true)
	h.calculate(t, period.ID, CalcRegular)
	h.approveAll(t, period.ID)
	return period
}

func TestExportRequiresApproval(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000")})
	ctx := context.Background()
	period := h.createPeriod(t, monthlyPeriod(2024, 6))
	h.calculate(t, period.ID, CalcRegular)

	if _, err := h.svc.Exporter.Export(ctx, period.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := h.svc.Exporter.WriteRegister(ctx, period.ID, &bytes.Buffer{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestExportPayslips(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000"), employee("e2", "30000")})
	ctx := context.Background()
	period := approvedPeriod(t, h)

	slips, err := h.svc.Exporter.Export(ctx, period.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(slips) != 2 || slips[0].EmployeeID != "e1" || slips[1].EmployeeID != "e2" {
		t.Fatalf("expected slips for e1 and e2, got %+v", slips)
	}
	first := slips[0]
	if first.NetPay.StringFixed(2) != "46451.67" || !first.PayDate.Equal(date(2024, 7, 5)) {
		t.Fatalf("unexpected payslip %+v", first)
	}
	labels := map[string]string{}
	for _, item := range append(first.Earnings, first.Deductions...) {
		labels[item.Label] = item.Amount.StringFixed(2)
	}
	want := map[string]string{
		"Basic salary":    "50000.00",
		"Adjustments":     "5000.00",
		"SSS":             "1350.00",
		"PhilHealth":      "1375.00",
		"Pag-IBIG":        "200.00",
		"Withholding tax": "5623.33",
	}
	for label, amount := range want {
		if labels[label] != amount {
			t.Fatalf("%s: expected %s, got %q", label, amount, labels[label])
		}
	}
	if _, ok := labels["Overtime"]; ok {
		t.Fatalf("expected zero items to be omitted")
	}

	if _, err := h.svc.Exporter.Payslip(ctx, period.ID, "ghost"); !errors.Is(err, ErrEmployeeNotFound) {
		t.Fatalf("expected ErrEmployeeNotFound, got %v", err)
	}
	doc, err := h.svc.Exporter.RenderPDF(ctx, period.ID, "e2")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF")) {
		t.Fatalf("expected a PDF document")
	}
}

func TestWriteRegister(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000"), employee("e2", "30000")})
	period := approvedPeriod(t, h)

	var buf bytes.Buffer
	if err := h.svc.Exporter.WriteRegister(context.Background(), period.ID, &buf); err != nil {
		t.Fatalf("register: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and two rows, got %d", len(rows))
	}
	if rows[0][0] != "employee_id" || rows[0][len(rows[0])-1] != "net_pay" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "e1" || rows[1][2] != "55000.00" || rows[1][len(rows[1])-1] != "46451.67" {
		t.Fatalf("unexpected e1 row %v", rows[1])
	}
}

func TestArchiveEncryptsPayslips(t *testing.T) {
	h := newHarness(t, []EmployeeInput{employee("e1", "50000"), employee("e2", "30000")}, withCrypto(t))
	ctx := context.Background()
	period := approvedPeriod(t, h)

	h.jobs.drain(t)
	if !h.events.Has(EventPayslipsArchived) {
		t.Fatalf("expected archive job to run on approval")
	}
	sealed, err := os.ReadFile(filepath.Join(h.svc.Exporter.opts.PayslipDir, period.ID, "e1.pdf.enc"))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if bytes.HasPrefix(sealed, []byte("%PDF")) {
		t.Fatalf("expected archived payslip to be encrypted")
	}

	doc, err := h.svc.Exporter.OpenArchived(ctx, period.ID, "e1")
	if err != nil {
		t.Fatalf("open archived: %v", err)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF")) {
		t.Fatalf("expected decrypted PDF")
	}
	if _, err := h.svc.Exporter.OpenArchived(ctx, period.ID, "ghost"); !errors.Is(err, ErrEmployeeNotFound) {
		t.Fatalf("expected ErrEmployeeNotFound, got %v", err)
	}

	written, err := h.svc.Exporter.Archive(ctx, period.ID)
	if err != nil || written != 2 {
		t.Fatalf("expected archive to be repeatable, got %d %v", written, err)
	}
}
