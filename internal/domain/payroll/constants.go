package payroll

type PeriodType string

const (
	PeriodWeekly      PeriodType = "weekly"
	PeriodBiWeekly    PeriodType = "bi_weekly"
	PeriodSemiMonthly PeriodType = "semi_monthly"
	PeriodMonthly     PeriodType = "monthly"
)

func (t PeriodType) Valid() bool {
	return t.PeriodsPerYear() > 0
}

func (t PeriodType) PeriodsPerYear() int {
	switch t {
	case PeriodWeekly:
		return 52
	case PeriodBiWeekly:
		return 26
	case PeriodSemiMonthly:
		return 24
	case PeriodMonthly:
		return 12
	}
	return 0
}

type PeriodStatus string

const (
	PeriodDraft       PeriodStatus = "draft"
	PeriodCalculating PeriodStatus = "calculating"
	PeriodCalculated  PeriodStatus = "calculated"
	PeriodReviewing   PeriodStatus = "reviewing"
	PeriodApproved    PeriodStatus = "approved"
	PeriodPaid        PeriodStatus = "paid"
	PeriodClosed      PeriodStatus = "closed"
	PeriodFailed      PeriodStatus = "failed"
)

// periodTransitions is the only place period status moves are defined.
// calculating may fall back to any state a run can start from when the
// run is cancelled.
var periodTransitions = map[PeriodStatus][]PeriodStatus{
	PeriodDraft:       {PeriodCalculating},
	PeriodCalculating: {PeriodCalculated, PeriodFailed, PeriodDraft, PeriodReviewing},
	PeriodCalculated:  {PeriodCalculating, PeriodReviewing},
	PeriodFailed:      {PeriodCalculating},
	PeriodReviewing:   {PeriodApproved, PeriodCalculated, PeriodCalculating},
	PeriodApproved:    {PeriodPaid},
	PeriodPaid:        {PeriodClosed},
	PeriodClosed:      {},
}

func (s PeriodStatus) Valid() bool {
	_, ok := periodTransitions[s]
	return ok
}

func (s PeriodStatus) CanTransition(to PeriodStatus) bool {
	for _, next := range periodTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// AtLeastApproved reports whether the period has passed final approval.
func (s PeriodStatus) AtLeastApproved() bool {
	return s == PeriodApproved || s == PeriodPaid || s == PeriodClosed
}

// Editable reports whether structural fields (dates, type) may change.
func (s PeriodStatus) Editable() bool {
	return s == PeriodDraft || s == PeriodCalculated
}

type CalculationType string

const (
	CalcRegular       CalculationType = "regular"
	CalcAdjustment    CalculationType = "adjustment"
	CalcFinal         CalculationType = "final"
	CalcRecalculation CalculationType = "re-calculation"
)

func (t CalculationType) Valid() bool {
	switch t {
	case CalcRegular, CalcAdjustment, CalcFinal, CalcRecalculation:
		return true
	}
	return false
}

// startableFrom lists the period states a calculation of this type may
// start from.
func (t CalculationType) startableFrom(status PeriodStatus) bool {
	switch status {
	case PeriodDraft, PeriodCalculated, PeriodFailed:
		return true
	case PeriodReviewing:
		return t == CalcAdjustment
	}
	return false
}

type CalculationStatus string

const (
	CalcPending    CalculationStatus = "pending"
	CalcProcessing CalculationStatus = "processing"
	CalcCompleted  CalculationStatus = "completed"
	CalcFailed     CalculationStatus = "failed"
	CalcCancelled  CalculationStatus = "cancelled"
)

func (s CalculationStatus) Terminal() bool {
	return s == CalcCompleted || s == CalcFailed || s == CalcCancelled
}

type LineStatus string

const (
	LineCompleted LineStatus = "completed"
	LineFailed    LineStatus = "failed"
)

type AdjustmentType string

const (
	AdjustmentEarning    AdjustmentType = "earning"
	AdjustmentDeduction  AdjustmentType = "deduction"
	AdjustmentCorrection AdjustmentType = "correction"
	AdjustmentBackpay    AdjustmentType = "backpay"
	AdjustmentRefund     AdjustmentType = "refund"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentEarning, AdjustmentDeduction, AdjustmentCorrection, AdjustmentBackpay, AdjustmentRefund:
		return true
	}
	return false
}

type AdjustmentStatus string

const (
	AdjustmentPending  AdjustmentStatus = "pending"
	AdjustmentApproved AdjustmentStatus = "approved"
	AdjustmentRejected AdjustmentStatus = "rejected"
	AdjustmentApplied  AdjustmentStatus = "applied"
)

func (s AdjustmentStatus) Valid() bool {
	switch s {
	case AdjustmentPending, AdjustmentApproved, AdjustmentRejected, AdjustmentApplied:
		return true
	}
	return false
}

// Direction only applies to correction adjustments.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type AdjustmentCategory string

const (
	CategoryBonus              AdjustmentCategory = "bonus"
	CategoryCommission         AdjustmentCategory = "commission"
	CategoryIncentive          AdjustmentCategory = "incentive"
	CategoryLoan               AdjustmentCategory = "loan_repayment"
	CategoryCashAdvance        AdjustmentCategory = "cash_advance"
	CategoryUniform            AdjustmentCategory = "uniform"
	CategorySalaryCorrection   AdjustmentCategory = "salary_correction"
	CategoryOvertimeCorrection AdjustmentCategory = "overtime_correction"
	CategoryRetroPay           AdjustmentCategory = "retro_pay"
	CategorySalaryDifferential AdjustmentCategory = "salary_differential"
	CategoryTaxRefund          AdjustmentCategory = "tax_refund"
	CategoryContributionRefund AdjustmentCategory = "contribution_refund"
)

// adjustmentCategories maps every accepted intake category to the
// adjustment type it books as.
var adjustmentCategories = map[AdjustmentCategory]AdjustmentType{
	CategoryBonus:              AdjustmentEarning,
	CategoryCommission:         AdjustmentEarning,
	CategoryIncentive:          AdjustmentEarning,
	CategoryLoan:               AdjustmentDeduction,
	CategoryCashAdvance:        AdjustmentDeduction,
	CategoryUniform:            AdjustmentDeduction,
	CategorySalaryCorrection:   AdjustmentCorrection,
	CategoryOvertimeCorrection: AdjustmentCorrection,
	CategoryRetroPay:           AdjustmentBackpay,
	CategorySalaryDifferential: AdjustmentBackpay,
	CategoryTaxRefund:          AdjustmentRefund,
	CategoryContributionRefund: AdjustmentRefund,
}

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

func (s Severity) Valid() bool {
	return s.rank() > 0
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

type ExceptionType string

const (
	ExceptionVariance   ExceptionType = "variance"
	ExceptionNewHire    ExceptionType = "new_hire"
	ExceptionTaxAnomaly ExceptionType = "tax_anomaly"
	ExceptionFailedLine ExceptionType = "failed_line"
)

const (
	ReasonNegativeNetPay = "NegativeNetPay"
	ReasonMissingBracket = "MissingBracket"
	ReasonTimeout        = "Timeout"
	ReasonPanic          = "ComputationPanic"
)

// Default approval chain when none is configured.
var DefaultApprovalRoles = []string{"payroll_officer", "payroll_manager", "finance_director"}

const (
	JobCalculation    = "payroll_calculation"
	JobPayslipArchive = "payslip_archive"
	JobWatchdog       = "payroll_watchdog"
)
