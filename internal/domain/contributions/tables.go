// Package contributions holds the versioned statutory contribution and
// withholding tax tables consumed by payroll calculation runs.
//
// Contribution bands are expressed on monthly compensation. Per-period
// amounts are derived by converting the period gross to its monthly
// equivalent and scaling the monthly contribution back down.
package contributions

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCategory = "default"

var (
	ErrNoBracket = errors.New("no contribution bracket matches compensation")
	ErrNoTables  = errors.New("no contribution tables effective for date")
)

var (
	twelve = decimal.NewFromInt(12)
	cent   = decimal.New(1, -2)
)

type Band struct {
	Min           decimal.Decimal  `yaml:"min" json:"min"`
	Max           *decimal.Decimal `yaml:"max,omitempty" json:"max,omitempty"`
	EmployeeRate  decimal.Decimal  `yaml:"employeeRate" json:"employeeRate"`
	EmployeeFixed decimal.Decimal  `yaml:"employeeFixed" json:"employeeFixed"`
	EmployerRate  decimal.Decimal  `yaml:"employerRate" json:"employerRate"`
	EmployerFixed decimal.Decimal  `yaml:"employerFixed" json:"employerFixed"`
}

func (b Band) contains(monthly decimal.Decimal) bool {
	if monthly.LessThan(b.Min) {
		return false
	}
	return b.Max == nil || monthly.LessThanOrEqual(*b.Max)
}

// Share is one contribution split into the employee and employer portions.
type Share struct {
	Employee decimal.Decimal `json:"employee"`
	Employer decimal.Decimal `json:"employer"`
}

type ContributionTable struct {
	Name        string            `yaml:"name" json:"name"`
	Categories  map[string][]Band `yaml:"categories" json:"categories"`
	EmployeeCap decimal.Decimal   `yaml:"employeeCap" json:"employeeCap"`
	EmployerCap decimal.Decimal   `yaml:"employerCap" json:"employerCap"`
}

// Monthly returns the monthly contribution for the given monthly
// compensation. Each share is capped at the table maximum when one is set.
func (t ContributionTable) Monthly(monthly decimal.Decimal, category string) (Share, error) {
	bands, ok := t.Categories[category]
	if !ok {
		bands, ok = t.Categories[DefaultCategory]
	}
	if !ok {
		return Share{}, fmt.Errorf("%s: category %q: %w", t.Name, category, ErrNoBracket)
	}
	for _, band := range bands {
		if !band.contains(monthly) {
			continue
		}
		share := Share{
			Employee: band.EmployeeFixed.Add(band.EmployeeRate.Mul(monthly)),
			Employer: band.EmployerFixed.Add(band.EmployerRate.Mul(monthly)),
		}
		if t.EmployeeCap.IsPositive() && share.Employee.GreaterThan(t.EmployeeCap) {
			share.Employee = t.EmployeeCap
		}
		if t.EmployerCap.IsPositive() && share.Employer.GreaterThan(t.EmployerCap) {
			share.Employer = t.EmployerCap
		}
		return share, nil
	}
	return Share{}, fmt.Errorf("%s: compensation %s: %w", t.Name, monthly.String(), ErrNoBracket)
}

type TaxBracket struct {
	Over decimal.Decimal `yaml:"over" json:"over"`
	Base decimal.Decimal `yaml:"base" json:"base"`
	Rate decimal.Decimal `yaml:"rate" json:"rate"`
}

// TaxTable is an annual progressive schedule sorted by Over ascending.
type TaxTable struct {
	Brackets []TaxBracket `yaml:"brackets" json:"brackets"`
}

func (t TaxTable) Annual(taxable decimal.Decimal) decimal.Decimal {
	if !taxable.IsPositive() {
		return decimal.Zero
	}
	var hit *TaxBracket
	for i := range t.Brackets {
		if taxable.GreaterThan(t.Brackets[i].Over) {
			hit = &t.Brackets[i]
		}
	}
	if hit == nil {
		return decimal.Zero
	}
	return hit.Base.Add(hit.Rate.Mul(taxable.Sub(hit.Over)))
}

// MarginalRate is the rate of the bracket an annual taxable amount falls in.
func (t TaxTable) MarginalRate(taxable decimal.Decimal) decimal.Decimal {
	rate := decimal.Zero
	for _, bracket := range t.Brackets {
		if taxable.GreaterThan(bracket.Over) {
			rate = bracket.Rate
		}
	}
	return rate
}

// TableSet is one published version of every table a run needs.
type TableSet struct {
	Version          string            `yaml:"version" json:"version"`
	EffectiveFrom    time.Time         `yaml:"effectiveFrom" json:"effectiveFrom"`
	SSS              ContributionTable `yaml:"sss" json:"sss"`
	PhilHealth       ContributionTable `yaml:"philhealth" json:"philhealth"`
	PagIBIG          ContributionTable `yaml:"pagibig" json:"pagibig"`
	Tax              TaxTable          `yaml:"tax" json:"tax"`
	DeMinimisCeiling decimal.Decimal   `yaml:"deMinimisCeiling" json:"deMinimisCeiling"`
}

type Breakdown struct {
	SSS        Share `json:"sss"`
	PhilHealth Share `json:"philhealth"`
	PagIBIG    Share `json:"pagibig"`
}

func (b Breakdown) EmployeeTotal() decimal.Decimal {
	return b.SSS.Employee.Add(b.PhilHealth.Employee).Add(b.PagIBIG.Employee)
}

func (b Breakdown) EmployerTotal() decimal.Decimal {
	return b.SSS.Employer.Add(b.PhilHealth.Employer).Add(b.PagIBIG.Employer)
}

// Contributions computes the per-period statutory contributions for a
// period gross pay. The monthly equivalent is rounded to centavos before
// the band lookup; bands are published at that precision.
func (s TableSet) Contributions(gross decimal.Decimal, category string, periodsPerYear int) (Breakdown, error) {
	perYear := decimal.NewFromInt(int64(periodsPerYear))
	monthly := gross.Mul(perYear).Div(twelve).Round(2)
	scale := twelve.Div(perYear)

	var out Breakdown
	tables := []struct {
		table ContributionTable
		dst   *Share
	}{
		{s.SSS, &out.SSS},
		{s.PhilHealth, &out.PhilHealth},
		{s.PagIBIG, &out.PagIBIG},
	}
	for _, entry := range tables {
		share, err := entry.table.Monthly(monthly, category)
		if err != nil {
			return Breakdown{}, err
		}
		entry.dst.Employee = share.Employee.Mul(scale).Round(2)
		entry.dst.Employer = share.Employer.Mul(scale).Round(2)
	}
	return out, nil
}

// WithholdingTax annualizes the period taxable income, applies the annual
// schedule and returns the per-period share.
func (s TableSet) WithholdingTax(taxable decimal.Decimal, periodsPerYear int) decimal.Decimal {
	perYear := decimal.NewFromInt(int64(periodsPerYear))
	annual := s.Tax.Annual(taxable.Mul(perYear))
	return annual.Div(perYear).Round(2)
}

// ExemptDeMinimis caps the de minimis benefits of one period at the
// monthly ceiling scaled to the period length.
func (s TableSet) ExemptDeMinimis(amount decimal.Decimal, periodsPerYear int) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	if !s.DeMinimisCeiling.IsPositive() {
		return decimal.Zero
	}
	ceiling := s.DeMinimisCeiling.Mul(twelve).Div(decimal.NewFromInt(int64(periodsPerYear))).Round(2)
	return decimal.Min(amount, ceiling)
}

func (s TableSet) validate() error {
	if s.Version == "" {
		return errors.New("table set version is required")
	}
	if s.EffectiveFrom.IsZero() {
		return fmt.Errorf("table set %s: effectiveFrom is required", s.Version)
	}
	for _, table := range []ContributionTable{s.SSS, s.PhilHealth, s.PagIBIG} {
		if len(table.Categories) == 0 {
			return fmt.Errorf("table set %s: %s has no categories", s.Version, table.Name)
		}
		for category, bands := range table.Categories {
			if err := checkBands(bands); err != nil {
				return fmt.Errorf("table set %s: %s/%s: %w", s.Version, table.Name, category, err)
			}
		}
	}
	for i := 1; i < len(s.Tax.Brackets); i++ {
		if s.Tax.Brackets[i].Over.LessThanOrEqual(s.Tax.Brackets[i-1].Over) {
			return fmt.Errorf("table set %s: tax brackets must be strictly ascending", s.Version)
		}
	}
	return nil
}

// checkBands requires bands sorted by min, each one starting at most a
// centavo after the previous max, and only the last one open-ended.
func checkBands(bands []Band) error {
	for i := 1; i < len(bands); i++ {
		prev, next := bands[i-1], bands[i]
		if prev.Max == nil {
			return fmt.Errorf("band %d has no max but is followed by another band", i-1)
		}
		if next.Min.LessThan(prev.Min) {
			return errors.New("bands must be sorted by min")
		}
		if next.Min.GreaterThan(prev.Max.Add(cent)) {
			return fmt.Errorf("gap between %s and %s", prev.Max.String(), next.Min.String())
		}
	}
	return nil
}
