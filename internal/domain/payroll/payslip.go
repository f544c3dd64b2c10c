package payroll

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// Exporter turns the active calculation of an approved period into
// payslips, registers and archived PDF files.
type Exporter struct {
	*base
}

// Export returns one payslip per employee line, ordered by employee id.
func (e *Exporter) Export(ctx context.Context, periodID string) ([]Payslip, error) {
	period, lines, err := e.approvedLines(ctx, periodID)
	if err != nil {
		return nil, err
	}
	slips := make([]Payslip, 0, len(lines))
	for _, line := range lines {
		slips = append(slips, buildPayslip(period, line))
	}
	return slips, nil
}

func (e *Exporter) Payslip(ctx context.Context, periodID, employeeID string) (Payslip, error) {
	period, lines, err := e.approvedLines(ctx, periodID)
	if err != nil {
		return Payslip{}, err
	}
	for _, line := range lines {
		if line.EmployeeID == employeeID {
			return buildPayslip(period, line), nil
		}
	}
	return Payslip{}, ErrEmployeeNotFound
}

func (e *Exporter) RenderPDF(ctx context.Context, periodID, employeeID string) ([]byte, error) {
	slip, err := e.Payslip(ctx, periodID, employeeID)
	if err != nil {
		return nil, err
	}
	return renderPayslip(slip)
}

// WriteRegister writes the period register as CSV, one row per employee.
func (e *Exporter) WriteRegister(ctx context.Context, periodID string, w io.Writer) error {
	_, lines, err := e.approvedLines(ctx, periodID)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(w)
	header := []string{"employee_id", "employee_name", "gross_pay", "sss", "philhealth", "pagibig", "withholding_tax", "other_deductions", "total_deductions", "net_pay"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, line := range lines {
		row := []string{
			line.EmployeeID,
			line.EmployeeName,
			line.GrossPay.StringFixed(2),
			line.SSS.StringFixed(2),
			line.PhilHealth.StringFixed(2),
			line.PagIBIG.StringFixed(2),
			line.WithholdingTax.StringFixed(2),
			line.DeductionAdjustments.StringFixed(2),
			line.TotalDeductions.StringFixed(2),
			line.NetPay.StringFixed(2),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Archive renders every payslip of the period and stores it encrypted
// under PayslipDir. It returns the number of files written.
func (e *Exporter) Archive(ctx context.Context, periodID string) (int, error) {
	slips, err := e.Export(ctx, periodID)
	if err != nil {
		return 0, err
	}
	dir := filepath.Join(e.opts.PayslipDir, periodID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, err
	}
	for _, slip := range slips {
		doc, err := renderPayslip(slip)
		if err != nil {
			return 0, fmt.Errorf("render payslip %s: %w", slip.EmployeeID, err)
		}
		sealed, err := e.seal(archiveSubject(periodID, slip.EmployeeID), doc)
		if err != nil {
			return 0, fmt.Errorf("encrypt payslip %s: %w", slip.EmployeeID, err)
		}
		if err := os.WriteFile(archivePath(dir, slip.EmployeeID), sealed, 0o640); err != nil {
			return 0, err
		}
	}
	e.emit(ctx, EventPayslipsArchived, "period", periodID, "", map[string]any{"payslips": len(slips)})
	return len(slips), nil
}

// OpenArchived returns the decrypted PDF stored by Archive.
func (e *Exporter) OpenArchived(ctx context.Context, periodID, employeeID string) ([]byte, error) {
	if _, err := e.deps.Store.GetPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(archivePath(filepath.Join(e.opts.PayslipDir, periodID), employeeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrEmployeeNotFound
		}
		return nil, err
	}
	if e.deps.Crypto == nil {
		return sealed, nil
	}
	return e.deps.Crypto.DecryptFor(archiveSubject(periodID, employeeID), sealed)
}

func (e *Exporter) scheduleArchive(ctx context.Context, periodID string) {
	run := func(ctx context.Context) (any, error) {
		written, err := e.Archive(ctx, periodID)
		return map[string]any{"periodId": periodID, "payslips": written}, err
	}
	if err := e.deps.Jobs.Enqueue(JobPayslipArchive, periodID, run); err != nil {
		slog.Warn("payslip archive not scheduled", "periodId", periodID, "err", err)
	}
}

func (e *Exporter) seal(subject string, doc []byte) ([]byte, error) {
	if e.deps.Crypto == nil {
		return doc, nil
	}
	return e.deps.Crypto.EncryptFor(subject, doc)
}

func (e *Exporter) approvedLines(ctx context.Context, periodID string) (Period, []EmployeeLine, error) {
	period, err := e.deps.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return Period{}, nil, err
	}
	if !period.Status.AtLeastApproved() {
		return Period{}, nil, fmt.Errorf("%w: payslips need an approved period, status is %s", ErrInvalidTransition, period.Status)
	}
	if period.ActiveCalculationID == "" {
		return Period{}, nil, ErrNoCompletedCalculation
	}
	calc, err := e.deps.Store.GetCalculation(ctx, period.ActiveCalculationID)
	if err != nil {
		return Period{}, nil, err
	}
	if calc.Status != CalcCompleted {
		return Period{}, nil, ErrNoCompletedCalculation
	}
	lines, err := e.deps.Store.ListLines(ctx, calc.ID)
	if err != nil {
		return Period{}, nil, err
	}
	return period, lines, nil
}

func buildPayslip(period Period, line EmployeeLine) Payslip {
	slip := Payslip{
		PeriodID:        period.ID,
		CalculationID:   line.CalculationID,
		EmployeeID:      line.EmployeeID,
		EmployeeName:    line.EmployeeName,
		PeriodStart:     period.StartDate,
		PeriodEnd:       period.EndDate,
		PayDate:         period.PayDate,
		Earnings:        []PayslipItem{{Label: "Basic salary", Amount: line.BasicSalary}},
		Deductions:      []PayslipItem{},
		GrossPay:        line.GrossPay,
		TotalDeductions: line.TotalDeductions,
		NetPay:          line.NetPay,
	}
	slip.Earnings = appendItem(slip.Earnings, "Overtime", line.OvertimePay)
	slip.Earnings = appendItem(slip.Earnings, "Allowances", line.Allowances)
	slip.Earnings = appendItem(slip.Earnings, "Adjustments", line.EarningAdjustments)
	slip.Deductions = appendItem(slip.Deductions, "SSS", line.SSS)
	slip.Deductions = appendItem(slip.Deductions, "PhilHealth", line.PhilHealth)
	slip.Deductions = appendItem(slip.Deductions, "Pag-IBIG", line.PagIBIG)
	slip.Deductions = appendItem(slip.Deductions, "Withholding tax", line.WithholdingTax)
	slip.Deductions = appendItem(slip.Deductions, "Other deductions", line.DeductionAdjustments)
	return slip
}

func appendItem(items []PayslipItem, label string, amount decimal.Decimal) []PayslipItem {
	if amount.IsZero() {
		return items
	}
	return append(items, PayslipItem{Label: label, Amount: amount})
}

func renderPayslip(slip Payslip) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Payslip")
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Employee: %s (%s)", slip.EmployeeName, slip.EmployeeID))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Period: %s to %s", slip.PeriodStart.Format("2006-01-02"), slip.PeriodEnd.Format("2006-01-02")))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Pay date: %s", slip.PayDate.Format("2006-01-02")))
	pdf.Ln(10)

	section := func(title string, items []PayslipItem, total decimal.Decimal) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 8, title)
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 11)
		for _, item := range items {
			pdf.CellFormat(120, 7, item.Label, "", 0, "L", false, 0, "")
			pdf.CellFormat(50, 7, item.Amount.StringFixed(2), "", 1, "R", false, 0, "")
		}
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(120, 7, "Total "+title, "T", 0, "L", false, 0, "")
		pdf.CellFormat(50, 7, total.StringFixed(2), "T", 1, "R", false, 0, "")
		pdf.Ln(4)
	}
	section("earnings", slip.Earnings, slip.GrossPay)
	section("deductions", slip.Deductions, slip.TotalDeductions)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(120, 9, "Net pay", "", 0, "L", false, 0, "")
	pdf.CellFormat(50, 9, slip.NetPay.StringFixed(2), "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func archiveSubject(periodID, employeeID string) string {
	return "payslip:" + periodID + ":" + employeeID
}

func archivePath(dir, employeeID string) string {
	return filepath.Join(dir, filepath.Base(employeeID)+".pdf.enc")
}
