package payroll

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/domain/contributions"
)

// ReviewInput is everything a rule may look at for one finished run.
type ReviewInput struct {
	Period      Period
	Calculation Calculation
	Lines       []EmployeeLine
	PreviousNet map[string]decimal.Decimal
	Tables      contributions.TableSet
}

// Rule inspects a run and reports anomalies. Rules must not mutate input.
type Rule interface {
	Name() string
	Check(in ReviewInput) []ComplianceException
}

type Detector struct {
	rules []Rule
}

func NewDetector(rules ...Rule) *Detector {
	return &Detector{rules: rules}
}

func DefaultRules(varianceThreshold decimal.Decimal) []Rule {
	return []Rule{
		VarianceRule{Threshold: varianceThreshold, CriticalThreshold: decimal.NewFromInt(1)},
		NewHireRule{},
		TaxAnomalyRule{},
		FailedLineRule{},
	}
}

func (d *Detector) Rules() []string {
	names := make([]string, 0, len(d.rules))
	for _, rule := range d.rules {
		names = append(names, rule.Name())
	}
	return names
}

// Detect runs every rule and stamps the results with ids and the run id.
// Output order is stable for identical input.
func (d *Detector) Detect(in ReviewInput, now time.Time) []ComplianceException {
	out := []ComplianceException{}
	for _, rule := range d.rules {
		out = append(out, rule.Check(in)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EmployeeID == out[j].EmployeeID {
			return out[i].Type < out[j].Type
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	for i := range out {
		out[i].ID = uuid.NewString()
		out[i].CalculationID = in.Calculation.ID
		out[i].CreatedAt = now
	}
	return out
}

// VarianceRule flags net pay that moved more than Threshold relative to the
// previous period. Moves beyond CriticalThreshold are critical.
type VarianceRule struct {
	Threshold         decimal.Decimal
	CriticalThreshold decimal.Decimal
}

func (VarianceRule) Name() string { return string(ExceptionVariance) }

func (r VarianceRule) Check(in ReviewInput) []ComplianceException {
	var out []ComplianceException
	for _, line := range in.Lines {
		if line.Status != LineCompleted {
			continue
		}
		previous, ok := in.PreviousNet[line.EmployeeID]
		if !ok || !previous.IsPositive() {
			continue
		}
		ratio := line.NetPay.Sub(previous).Abs().Div(previous)
		if !ratio.GreaterThan(r.Threshold) {
			continue
		}
		severity := SeverityWarning
		if r.CriticalThreshold.IsPositive() && ratio.GreaterThan(r.CriticalThreshold) {
			severity = SeverityCritical
		}
		description := fmt.Sprintf("net pay changed %s%% from %s to %s",
			ratio.Mul(decimal.NewFromInt(100)).StringFixed(2), previous.StringFixed(2), line.NetPay.StringFixed(2))
		out = append(out, ComplianceException{
			Type:           ExceptionVariance,
			Severity:       severity,
			EmployeeID:     line.EmployeeID,
			Description:    description,
			ActionRequired: true,
		})
	}
	return out
}

// NewHireRule notes employees absent from the previous period. It stays
// silent when there is no previous period at all.
type NewHireRule struct{}

func (NewHireRule) Name() string { return string(ExceptionNewHire) }

func (NewHireRule) Check(in ReviewInput) []ComplianceException {
	if len(in.PreviousNet) == 0 {
		return nil
	}
	var out []ComplianceException
	for _, line := range in.Lines {
		if _, seen := in.PreviousNet[line.EmployeeID]; seen {
			continue
		}
		out = append(out, ComplianceException{
			Type:        ExceptionNewHire,
			Severity:    SeverityInfo,
			EmployeeID:  line.EmployeeID,
			Description: "employee has no calculation in the previous period",
		})
	}
	return out
}

// TaxAnomalyRule flags lines whose effective tax rate on gross pay lies
// outside zero and the marginal rate of the bracket the line falls in.
type TaxAnomalyRule struct{}

func (TaxAnomalyRule) Name() string { return string(ExceptionTaxAnomaly) }

func (TaxAnomalyRule) Check(in ReviewInput) []ComplianceException {
	perYear := decimal.NewFromInt(int64(in.Period.Type.PeriodsPerYear()))
	var out []ComplianceException
	for _, line := range in.Lines {
		if line.Status != LineCompleted || !line.GrossPay.IsPositive() {
			continue
		}
		marginal := in.Tables.Tax.MarginalRate(line.TaxableIncome.Mul(perYear))
		effective := line.WithholdingTax.Div(line.GrossPay)
		var reason string
		switch {
		case line.WithholdingTax.IsNegative():
			reason = "withholding tax is negative"
		case effective.GreaterThan(marginal):
			reason = fmt.Sprintf("effective rate %s exceeds bracket rate %s", effective.StringFixed(4), marginal.StringFixed(4))
		case marginal.IsPositive() && line.WithholdingTax.IsZero():
			reason = fmt.Sprintf("no tax withheld although bracket rate is %s", marginal.StringFixed(4))
		default:
			continue
		}
		out = append(out, ComplianceException{
			Type:           ExceptionTaxAnomaly,
			Severity:       SeverityWarning,
			EmployeeID:     line.EmployeeID,
			Description:    reason,
			ActionRequired: true,
		})
	}
	return out
}

// FailedLineRule surfaces every failed line so review shows what to fix
// before a re-run.
type FailedLineRule struct{}

func (FailedLineRule) Name() string { return string(ExceptionFailedLine) }

func (FailedLineRule) Check(in ReviewInput) []ComplianceException {
	var out []ComplianceException
	for _, line := range in.Lines {
		if line.Status != LineFailed {
			continue
		}
		out = append(out, ComplianceException{
			Type:           ExceptionFailedLine,
			Severity:       SeverityCritical,
			EmployeeID:     line.EmployeeID,
			Description:    line.ErrorMessage,
			ActionRequired: true,
		})
	}
	return out
}
