package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

type Totals struct {
	Gross        decimal.Decimal `json:"gross"`
	Deductions   decimal.Decimal `json:"deductions"`
	Net          decimal.Decimal `json:"net"`
	EmployerCost decimal.Decimal `json:"employerCost"`
}

func (t Totals) add(line EmployeeLine) Totals {
	return Totals{
		Gross:        t.Gross.Add(line.GrossPay),
		Deductions:   t.Deductions.Add(line.TotalDeductions),
		Net:          t.Net.Add(line.NetPay),
		EmployerCost: t.EmployerCost.Add(line.GrossPay).Add(line.EmployerContributions),
	}
}

// Actor identifies the authenticated user behind an operation.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type Period struct {
	ID                  string       `json:"id"`
	Type                PeriodType   `json:"periodType"`
	StartDate           time.Time    `json:"startDate"`
	EndDate             time.Time    `json:"endDate"`
	CutoffDate          time.Time    `json:"cutoffDate"`
	PayDate             time.Time    `json:"payDate"`
	Status              PeriodStatus `json:"status"`
	IsLocked            bool         `json:"isLocked"`
	Totals              Totals       `json:"totals"`
	ActiveCalculationID string       `json:"activeCalculationId,omitempty"`
	CreatedBy           string       `json:"createdBy,omitempty"`
	ApprovedBy          string       `json:"approvedBy,omitempty"`
	ApprovedAt          *time.Time   `json:"approvedAt,omitempty"`
	FinalizedBy         string       `json:"finalizedBy,omitempty"`
	FinalizedAt         *time.Time   `json:"finalizedAt,omitempty"`
	LockedBy            string       `json:"lockedBy,omitempty"`
	LockedAt            *time.Time   `json:"lockedAt,omitempty"`
	RejectionReason     string       `json:"rejectionReason,omitempty"`
	RejectedBy          string       `json:"rejectedBy,omitempty"`
	RejectedAt          *time.Time   `json:"rejectedAt,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
	Version             int          `json:"version"`
}

type Calculation struct {
	ID                 string            `json:"id"`
	PeriodID           string            `json:"periodId"`
	Type               CalculationType   `json:"calculationType"`
	Status             CalculationStatus `json:"status"`
	TotalEmployees     int               `json:"totalEmployees"`
	ProcessedEmployees int               `json:"processedEmployees"`
	FailedEmployees    int               `json:"failedEmployees"`
	Totals             Totals            `json:"totals"`
	ErrorMessage       string            `json:"errorMessage,omitempty"`
	SupersededBy       string            `json:"supersededBy,omitempty"`
	PreviousID         string            `json:"previousId,omitempty"`
	ResumeStatus       PeriodStatus      `json:"-"`
	AdjustmentIDs      []string          `json:"adjustmentIds"`
	TablesVersion      string            `json:"tablesVersion,omitempty"`
	CancelRequested    bool              `json:"cancelRequested"`
	RequestedBy        string            `json:"requestedBy,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	StartedAt          *time.Time        `json:"startedAt,omitempty"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
	HeartbeatAt        time.Time         `json:"heartbeatAt"`
	Version            int               `json:"version"`
}

// Active reports whether c is the calculation whose totals the period
// displays.
func (c Calculation) Active() bool {
	return c.SupersededBy == "" && c.Status != CalcCancelled
}

// Progress is the processed share of employees as a percentage.
func (c Calculation) Progress() float64 {
	if c.TotalEmployees == 0 {
		if c.Status.Terminal() {
			return 100
		}
		return 0
	}
	return float64(c.ProcessedEmployees) * 100 / float64(c.TotalEmployees)
}

type EmployeeLine struct {
	CalculationID         string          `json:"calculationId"`
	EmployeeID            string          `json:"employeeId"`
	EmployeeName          string          `json:"employeeName"`
	Category              string          `json:"category"`
	BasicSalary           decimal.Decimal `json:"basicSalary"`
	OvertimePay           decimal.Decimal `json:"overtimePay"`
	Allowances            decimal.Decimal `json:"allowances"`
	EarningAdjustments    decimal.Decimal `json:"earningAdjustments"`
	GrossPay              decimal.Decimal `json:"grossPay"`
	SSS                   decimal.Decimal `json:"sss"`
	PhilHealth            decimal.Decimal `json:"philhealth"`
	PagIBIG               decimal.Decimal `json:"pagibig"`
	EmployerContributions decimal.Decimal `json:"employerContributions"`
	NonTaxable            decimal.Decimal `json:"nonTaxable"`
	TaxableIncome         decimal.Decimal `json:"taxableIncome"`
	WithholdingTax        decimal.Decimal `json:"withholdingTax"`
	DeductionAdjustments  decimal.Decimal `json:"deductionAdjustments"`
	TotalDeductions       decimal.Decimal `json:"totalDeductions"`
	NetPay                decimal.Decimal `json:"netPay"`
	Status                LineStatus      `json:"status"`
	ErrorMessage          string          `json:"errorMessage,omitempty"`
}

func (l EmployeeLine) Contributions() decimal.Decimal {
	return l.SSS.Add(l.PhilHealth).Add(l.PagIBIG)
}

type Adjustment struct {
	ID                   string             `json:"id"`
	PeriodID             string             `json:"periodId"`
	EmployeeID           string             `json:"employeeId"`
	Type                 AdjustmentType     `json:"adjustmentType"`
	Category             AdjustmentCategory `json:"category"`
	Direction            Direction          `json:"direction,omitempty"`
	Amount               decimal.Decimal    `json:"amount"`
	Reason               string             `json:"reason"`
	ReferenceNumber      string             `json:"referenceNumber,omitempty"`
	Status               AdjustmentStatus   `json:"status"`
	RequestedBy          string             `json:"requestedBy"`
	RequestedAt          time.Time          `json:"requestedAt"`
	ReviewedBy           string             `json:"reviewedBy,omitempty"`
	ReviewedAt           *time.Time         `json:"reviewedAt,omitempty"`
	ReviewNotes          string             `json:"reviewNotes,omitempty"`
	AppliedAt            *time.Time         `json:"appliedAt,omitempty"`
	AppliedCalculationID string             `json:"appliedCalculationId,omitempty"`
	Version              int                `json:"version"`
}

// eligible reports whether the adjustment may feed a calculation run.
// Applied entries stay eligible so a re-run reproduces the prior result.
func (a Adjustment) eligible() bool {
	return a.Status == AdjustmentApproved || a.Status == AdjustmentApplied
}

type AdjustmentFilter struct {
	PeriodID   string
	EmployeeID string
	Status     AdjustmentStatus
}

type Step struct {
	Index      int        `json:"index"`
	Role       string     `json:"role"`
	Status     StepStatus `json:"status"`
	Approver   string     `json:"approver,omitempty"`
	ActedAt    *time.Time `json:"actedAt,omitempty"`
	Comments   string     `json:"comments,omitempty"`
	Overridden bool       `json:"overridden,omitempty"`
}

type ApprovalWorkflow struct {
	PeriodID      string    `json:"periodId"`
	CalculationID string    `json:"calculationId"`
	Steps         []Step    `json:"steps"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Version       int       `json:"version"`
}

// NextPending returns the first step still waiting for sign-off.
func (w ApprovalWorkflow) NextPending() (Step, bool) {
	for _, step := range w.Steps {
		if step.Status == StepPending {
			return step, true
		}
	}
	return Step{}, false
}

func (w ApprovalWorkflow) complete() bool {
	for _, step := range w.Steps {
		if step.Status != StepApproved {
			return false
		}
	}
	return len(w.Steps) > 0
}

type ComplianceException struct {
	ID             string        `json:"id"`
	CalculationID  string        `json:"calculationId"`
	Type           ExceptionType `json:"type"`
	Severity       Severity      `json:"severity"`
	EmployeeID     string        `json:"employeeId,omitempty"`
	Description    string        `json:"description"`
	ActionRequired bool          `json:"actionRequired"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// EmployeeInput is the compensation and attendance snapshot the directory
// supplies for one employee and period.
type EmployeeInput struct {
	EmployeeID      string          `json:"employeeId"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	BasicSalary     decimal.Decimal `json:"basicSalary"`
	OvertimePay     decimal.Decimal `json:"overtimePay"`
	Allowances      decimal.Decimal `json:"allowances"`
	DeMinimis       decimal.Decimal `json:"deMinimis"`
	HireDate        *time.Time      `json:"hireDate,omitempty"`
	TerminationDate *time.Time      `json:"terminationDate,omitempty"`
}

type CalculationDetail struct {
	Calculation
	ProgressPercent float64               `json:"progressPercent"`
	Lines           []EmployeeLine        `json:"lines"`
	Exceptions      []ComplianceException `json:"exceptions"`
}

type PeriodFilter struct {
	Status PeriodStatus
	Limit  int
	Offset int
}

type ReviewSummary struct {
	Period             Period                `json:"period"`
	Workflow           ApprovalWorkflow      `json:"workflow"`
	Exceptions         []ComplianceException `json:"exceptions"`
	BlockingExceptions int                   `json:"blockingExceptions"`
	NextStep           *Step                 `json:"nextStep,omitempty"`
	CanApprove         bool                  `json:"canApprove"`
}

type PayslipItem struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

type Payslip struct {
	PeriodID        string          `json:"periodId"`
	CalculationID   string          `json:"calculationId"`
	EmployeeID      string          `json:"employeeId"`
	EmployeeName    string          `json:"employeeName"`
	PeriodStart     time.Time       `json:"periodStart"`
	PeriodEnd       time.Time       `json:"periodEnd"`
	PayDate         time.Time       `json:"payDate"`
	Earnings        []PayslipItem   `json:"earnings"`
	Deductions      []PayslipItem   `json:"deductions"`
	GrossPay        decimal.Decimal `json:"grossPay"`
	TotalDeductions decimal.Decimal `json:"totalDeductions"`
	NetPay          decimal.Decimal `json:"netPay"`
}
