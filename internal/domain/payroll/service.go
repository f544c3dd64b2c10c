package payroll

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"paycore/internal/domain/contributions"
	cryptoutil "paycore/internal/platform/crypto"
	"paycore/internal/platform/events"
)

type Deps struct {
	Store     Store
	Directory Directory
	Tables    *contributions.Registry
	Locker    Locker
	Jobs      Enqueuer
	Events    events.Emitter
	Alerts    Alerter
	Observer  Observer
	Crypto    *cryptoutil.Service
	Clock     Clock
}

type Options struct {
	Workers           int
	HeartbeatTimeout  time.Duration
	PayDateGraceDays  int
	ApprovalRoles     []string
	Policy            ReviewPolicy
	VarianceThreshold decimal.Decimal
	PayslipDir        string
}

// ReviewPolicy decides which exceptions block sign-off unless the approver
// overrides them explicitly.
type ReviewPolicy struct {
	BlockingSeverity Severity
}

func (p ReviewPolicy) blocks(exc ComplianceException) bool {
	if p.BlockingSeverity == "" || !exc.ActionRequired {
		return false
	}
	return exc.Severity.AtLeast(p.BlockingSeverity)
}

func DefaultOptions() Options {
	return Options{
		Workers:           4,
		HeartbeatTimeout:  2 * time.Minute,
		PayDateGraceDays:  7,
		ApprovalRoles:     DefaultApprovalRoles,
		Policy:            ReviewPolicy{BlockingSeverity: SeverityCritical},
		VarianceThreshold: decimal.RequireFromString("0.20"),
		PayslipDir:        "storage/payslips",
	}
}

// Service wires the payroll components around one store.
type Service struct {
	Periods   *PeriodManager
	Ledger    *Ledger
	Approvals *Approvals
	Exporter  *Exporter
	Detector  *Detector
	Runner    *Runner
}

func New(deps Deps, opts Options) *Service {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Events == nil {
		deps.Events = events.LogEmitter{}
	}
	if deps.Alerts == nil {
		deps.Alerts = noopAlerter{}
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Tables == nil {
		deps.Tables = contributions.Default()
	}
	defaults := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if opts.PayDateGraceDays < 0 {
		opts.PayDateGraceDays = defaults.PayDateGraceDays
	}
	if len(opts.ApprovalRoles) == 0 {
		opts.ApprovalRoles = defaults.ApprovalRoles
	}
	if opts.VarianceThreshold.IsZero() {
		opts.VarianceThreshold = defaults.VarianceThreshold
	}
	if opts.Policy.BlockingSeverity == "" {
		opts.Policy = defaults.Policy
	}
	if opts.PayslipDir == "" {
		opts.PayslipDir = defaults.PayslipDir
	}

	shared := &base{deps: deps, opts: opts}
	detector := NewDetector(DefaultRules(opts.VarianceThreshold)...)
	runner := &Runner{base: shared, detector: detector}
	periods := &PeriodManager{base: shared, runner: runner}
	exporter := &Exporter{base: shared}
	approvals := &Approvals{base: shared, exporter: exporter}
	periods.approvals = approvals
	return &Service{
		Periods:   periods,
		Ledger:    &Ledger{base: shared},
		Approvals: approvals,
		Exporter:  exporter,
		Detector:  detector,
		Runner:    runner,
	}
}

// base holds collaborators shared by every component.
type base struct {
	deps Deps
	opts Options
}

func (b *base) now() time.Time {
	return b.deps.Clock.Now()
}

func (b *base) emit(ctx context.Context, eventType, aggregateType, aggregateID, actor string, payload map[string]any) {
	event := events.New(eventType, aggregateType, aggregateID, actor, b.now(), payload)
	if err := b.deps.Events.Emit(ctx, event); err != nil {
		slog.Warn("event emit failed", "eventType", eventType, "aggregateId", aggregateID, "err", err)
	}
}

func (b *base) alert(ctx context.Context, subject, body string) {
	if err := b.deps.Alerts.Alert(ctx, subject, body); err != nil {
		slog.Warn("operator alert failed", "subject", subject, "err", err)
	}
}

func (b *base) lockTTL() time.Duration {
	return 2 * b.opts.HeartbeatTimeout
}

func lockKey(periodID string) string {
	return "payroll:period:" + periodID + ":calculation"
}

func (b *base) loadUnlockedPeriod(ctx context.Context, periodID string) (Period, error) {
	period, err := b.deps.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if period.IsLocked {
		return Period{}, ErrPeriodLocked
	}
	return period, nil
}

const (
	EventPeriodCreated        = "payroll.period.created"
	EventPeriodUpdated        = "payroll.period.updated"
	EventPeriodStatusChanged  = "payroll.period.status_changed"
	EventPeriodLocked         = "payroll.period.locked"
	EventCalculationStarted   = "payroll.calculation.started"
	EventCalculationCompleted = "payroll.calculation.completed"
	EventCalculationFailed    = "payroll.calculation.failed"
	EventCalculationCancelled = "payroll.calculation.cancelled"
	EventAdjustmentCreated    = "payroll.adjustment.created"
	EventAdjustmentUpdated    = "payroll.adjustment.updated"
	EventAdjustmentDeleted    = "payroll.adjustment.deleted"
	EventAdjustmentApproved   = "payroll.adjustment.approved"
	EventAdjustmentRejected   = "payroll.adjustment.rejected"
	EventWorkflowStepApproved = "payroll.workflow.step_approved"
	EventWorkflowStepRejected = "payroll.workflow.step_rejected"
	EventPayslipsArchived     = "payroll.payslips.archived"
)

func (b *base) periodStatusEvent(ctx context.Context, period Period, from PeriodStatus, actor string) {
	b.emit(ctx, EventPeriodStatusChanged, "period", period.ID, actor, map[string]any{
		"from": string(from),
		"to":   string(period.Status),
	})
}
