package payroll

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"paycore/internal/domain/contributions"
)

const day = 24 * time.Hour

// Compute produces one employee's gross to net breakdown. It has no side
// effects and is deterministic for identical inputs. Failures are reported
// on the returned line, never as a Go error.
func Compute(input EmployeeInput, period Period, adjustments []Adjustment, tables contributions.TableSet) EmployeeLine {
	line := EmployeeLine{
		EmployeeID:   input.EmployeeID,
		EmployeeName: input.Name,
		Category:     input.Category,
		Status:       LineCompleted,
	}
	perYear := period.Type.PeriodsPerYear()
	if perYear == 0 {
		return failLine(line, fmt.Sprintf("unsupported period type %q", period.Type))
	}

	line.BasicSalary = prorate(input.BasicSalary, input.HireDate, input.TerminationDate, period).Round(2)
	line.OvertimePay = input.OvertimePay.Round(2)
	line.Allowances = input.Allowances.Round(2)

	refunds := decimal.Zero
	for _, adj := range adjustments {
		if adj.EmployeeID != input.EmployeeID || !adj.eligible() {
			continue
		}
		switch adj.Type {
		case AdjustmentEarning, AdjustmentBackpay:
			line.EarningAdjustments = line.EarningAdjustments.Add(adj.Amount)
		case AdjustmentRefund:
			line.EarningAdjustments = line.EarningAdjustments.Add(adj.Amount)
			refunds = refunds.Add(adj.Amount)
		case AdjustmentDeduction:
			line.DeductionAdjustments = line.DeductionAdjustments.Add(adj.Amount)
		case AdjustmentCorrection:
			if adj.Direction == DirectionDebit {
				line.DeductionAdjustments = line.DeductionAdjustments.Add(adj.Amount)
			} else {
				line.EarningAdjustments = line.EarningAdjustments.Add(adj.Amount)
			}
		}
	}

	line.GrossPay = line.BasicSalary.
		Add(line.OvertimePay).
		Add(line.Allowances).
		Add(line.EarningAdjustments).
		Round(2)

	category := input.Category
	if category == "" {
		category = contributions.DefaultCategory
	}
	breakdown, err := tables.Contributions(line.GrossPay, category, perYear)
	if err != nil {
		if errors.Is(err, contributions.ErrNoBracket) {
			return failLine(line, ReasonMissingBracket+": "+err.Error())
		}
		return failLine(line, err.Error())
	}
	line.SSS = breakdown.SSS.Employee
	line.PhilHealth = breakdown.PhilHealth.Employee
	line.PagIBIG = breakdown.PagIBIG.Employee
	line.EmployerContributions = breakdown.EmployerTotal()

	exempt := tables.ExemptDeMinimis(decimal.Min(input.DeMinimis, line.Allowances), perYear)
	line.NonTaxable = exempt.Add(refunds)
	taxable := line.GrossPay.Sub(line.NonTaxable).Sub(line.Contributions())
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	line.TaxableIncome = taxable
	line.WithholdingTax = tables.WithholdingTax(taxable, perYear)

	line.TotalDeductions = line.Contributions().
		Add(line.WithholdingTax).
		Add(line.DeductionAdjustments)
	line.NetPay = line.GrossPay.Sub(line.TotalDeductions)
	if line.NetPay.IsNegative() {
		return failLine(line, fmt.Sprintf("%s: deductions %s exceed gross %s",
			ReasonNegativeNetPay, line.TotalDeductions.StringFixed(2), line.GrossPay.StringFixed(2)))
	}
	return line
}

func failLine(line EmployeeLine, message string) EmployeeLine {
	line.Status = LineFailed
	line.ErrorMessage = message
	return line
}

// prorate scales the per-period basic salary by the share of calendar days
// the employee was active when hired or terminated inside the period.
func prorate(basic decimal.Decimal, hired, terminated *time.Time, period Period) decimal.Decimal {
	start := dateOnly(period.StartDate)
	end := dateOnly(period.EndDate)
	from, to := start, end
	if hired != nil && dateOnly(*hired).After(from) {
		from = dateOnly(*hired)
	}
	if terminated != nil && dateOnly(*terminated).Before(to) {
		to = dateOnly(*terminated)
	}
	if from.Equal(start) && to.Equal(end) {
		return basic
	}
	if to.Before(from) {
		return decimal.Zero
	}
	total := int64(end.Sub(start)/day) + 1
	active := int64(to.Sub(from)/day) + 1
	return basic.Mul(decimal.NewFromInt(active)).Div(decimal.NewFromInt(total))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sumTotals(lines []EmployeeLine) Totals {
	var totals Totals
	for _, line := range lines {
		if line.Status != LineCompleted {
			continue
		}
		totals = totals.add(line)
	}
	return totals
}
