package payroll

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RunChange is one atomic write of a calculation state change together
// with everything that must become visible at the same moment. Versioned
// records are compare-and-set: the store rejects the write with
// ErrConcurrentModification when the stored version differs, and bumps
// the version fields in place on success.
type RunChange struct {
	Calculation      *Calculation
	Insert           bool
	Period           *Period
	Previous         *Calculation
	Lines            []EmployeeLine
	Exceptions       []ComplianceException
	ApplyAdjustments []string
	AppliedAt        time.Time
}

// Progress is the heartbeat a running calculation persists after every
// employee line.
type Progress struct {
	Total     int
	Processed int
	Failed    int
	At        time.Time
}

type PeriodStore interface {
	CreatePeriod(ctx context.Context, period *Period) error
	GetPeriod(ctx context.Context, periodID string) (Period, error)
	ListPeriods(ctx context.Context, filter PeriodFilter) ([]Period, int, error)
	UpdatePeriod(ctx context.Context, period *Period) error
	// PreviousNetPay returns per-employee net pay of the latest period
	// ending before the given date whose active calculation completed.
	PreviousNetPay(ctx context.Context, before time.Time) (map[string]decimal.Decimal, error)
}

type CalculationStore interface {
	GetCalculation(ctx context.Context, calculationID string) (Calculation, error)
	ListCalculations(ctx context.Context, periodID string) ([]Calculation, error)
	ListUnfinishedCalculations(ctx context.Context) ([]Calculation, error)
	SaveRun(ctx context.Context, change RunChange) error
	// RecordProgress only touches a processing calculation and does not
	// bump its version. It reports whether cancellation was requested.
	RecordProgress(ctx context.Context, calculationID string, progress Progress) (bool, error)
	RequestCancel(ctx context.Context, calculationID string) error
	ListLines(ctx context.Context, calculationID string) ([]EmployeeLine, error)
	ListExceptions(ctx context.Context, calculationID string) ([]ComplianceException, error)
}

type AdjustmentStore interface {
	CreateAdjustment(ctx context.Context, adjustment *Adjustment) error
	GetAdjustment(ctx context.Context, adjustmentID string) (Adjustment, error)
	ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error)
	GetAdjustments(ctx context.Context, ids []string) ([]Adjustment, error)
	UpdateAdjustment(ctx context.Context, adjustment *Adjustment) error
	DeleteAdjustment(ctx context.Context, adjustmentID string, version int) error
}

type WorkflowStore interface {
	GetWorkflow(ctx context.Context, periodID string) (ApprovalWorkflow, error)
	// SaveReview writes the workflow (insert when Version is zero and none
	// exists) and the period in one transaction.
	SaveReview(ctx context.Context, workflow *ApprovalWorkflow, period *Period) error
}

type Store interface {
	PeriodStore
	CalculationStore
	AdjustmentStore
	WorkflowStore
}

// Directory is the employee and attendance collaborator.
type Directory interface {
	ListInputs(ctx context.Context, period Period) ([]EmployeeInput, error)
	EmployeeExists(ctx context.Context, employeeID string) (bool, error)
}

// Locker provides the per-period calculation lock. Acquire returns false
// when another token holds the key.
type Locker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}

type Enqueuer interface {
	Enqueue(jobType, key string, run func(context.Context) (any, error)) error
}

// Alerter notifies operators about fatal run failures.
type Alerter interface {
	Alert(ctx context.Context, subject, body string) error
}

type Observer interface {
	RunStarted(calcType string)
	RunFinished(calcType, status string, elapsed time.Duration)
	LineComputed(status string)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type noopObserver struct{}

func (noopObserver) RunStarted(string) {}
func (noopObserver) RunFinished(string, string, time.Duration) {}
func (noopObserver) LineComputed(string) {}

type noopAlerter struct{}

func (noopAlerter) Alert(context.Context, string, string) error { return nil }
