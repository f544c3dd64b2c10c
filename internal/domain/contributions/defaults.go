package contributions

import (
	"time"

	"github.com/shopspring/decimal"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func dp(value string) *decimal.Decimal {
	v := d(value)
	return &v
}

// Default returns the built-in 2024 schedule used when no table file is
// configured.
func Default() *Registry {
	registry, err := NewRegistry(Schedule2024())
	if err != nil {
		panic(err)
	}
	return registry
}

func Schedule2024() TableSet {
	return TableSet{
		Version:       "2024.1",
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SSS: ContributionTable{
			Name: "sss",
			Categories: map[string][]Band{
				DefaultCategory: {
					{Min: d("0"), Max: dp("4249.99"), EmployeeFixed: d("180"), EmployerFixed: d("380")},
					{Min: d("4250"), EmployeeRate: d("0.045"), EmployerRate: d("0.095")},
				},
			},
			EmployeeCap: d("1350"),
			EmployerCap: d("2850"),
		},
		PhilHealth: ContributionTable{
			Name: "philhealth",
			Categories: map[string][]Band{
				DefaultCategory: {
					{Min: d("0"), Max: dp("10000"), EmployeeFixed: d("250"), EmployerFixed: d("250")},
					{Min: d("10000.01"), EmployeeRate: d("0.025"), EmployerRate: d("0.025")},
				},
			},
			EmployeeCap: d("2500"),
			EmployerCap: d("2500"),
		},
		PagIBIG: ContributionTable{
			Name: "pagibig",
			Categories: map[string][]Band{
				DefaultCategory: {
					{Min: d("0"), Max: dp("1500"), EmployeeRate: d("0.01"), EmployerRate: d("0.02")},
					{Min: d("1500.01"), EmployeeRate: d("0.02"), EmployerRate: d("0.02")},
				},
			},
			EmployeeCap: d("200"),
			EmployerCap: d("200"),
		},
		Tax: TaxTable{Brackets: []TaxBracket{
			{Over: d("0"), Base: d("0"), Rate: d("0")},
			{Over: d("250000"), Base: d("0"), Rate: d("0.15")},
			{Over: d("400000"), Base: d("22500"), Rate: d("0.20")},
			{Over: d("800000"), Base: d("102500"), Rate: d("0.25")},
			{Over: d("2000000"), Base: d("402500"), Rate: d("0.30")},
			{Over: d("8000000"), Base: d("2202500"), Rate: d("0.35")},
		}},
		DeMinimisCeiling: d("7500"),
	}
}
