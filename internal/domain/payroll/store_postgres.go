package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGStore is the Postgres Store. Every versioned write is a
// compare-and-set on the version column.
type PGStore struct {
	DB *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const periodColumns = `id, period_type, start_date, end_date, cutoff_date, pay_date, status, is_locked,
           total_gross, total_deductions, total_net, total_employer_cost, active_calculation_id,
           created_by, approved_by, approved_at, finalized_by, finalized_at, locked_by, locked_at,
           rejection_reason, rejected_by, rejected_at, created_at, updated_at, version`

func scanPeriod(row rowScanner) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Type, &p.StartDate, &p.EndDate, &p.CutoffDate, &p.PayDate, &p.Status, &p.IsLocked,
		&p.Totals.Gross, &p.Totals.Deductions, &p.Totals.Net, &p.Totals.EmployerCost, &p.ActiveCalculationID,
		&p.CreatedBy, &p.ApprovedBy, &p.ApprovedAt, &p.FinalizedBy, &p.FinalizedAt, &p.LockedBy, &p.LockedAt,
		&p.RejectionReason, &p.RejectedBy, &p.RejectedAt, &p.CreatedAt, &p.UpdatedAt, &p.Version)
	return p, err
}

func (s *PGStore) CreatePeriod(ctx context.Context, period *Period) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO payroll_periods (id, period_type, start_date, end_date, cutoff_date, pay_date, status, created_by, created_at, updated_at, version)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1)
  `, period.ID, period.Type, period.StartDate, period.EndDate, period.CutoffDate, period.PayDate, period.Status, period.CreatedBy, period.CreatedAt, period.UpdatedAt)
	if err != nil {
		return err
	}
	period.Version = 1
	return nil
}

func (s *PGStore) GetPeriod(ctx context.Context, periodID string) (Period, error) {
	period, err := scanPeriod(s.DB.QueryRow(ctx, `
    SELECT `+periodColumns+`
    FROM payroll_periods
    WHERE id = $1
  `, periodID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrPeriodNotFound
	}
	return period, err
}

func (s *PGStore) ListPeriods(ctx context.Context, filter PeriodFilter) ([]Period, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1)
    FROM payroll_periods
    WHERE ($1 = '' OR status = $1)
  `, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.Query(ctx, `
    SELECT `+periodColumns+`
    FROM payroll_periods
    WHERE ($1 = '' OR status = $1)
    ORDER BY start_date DESC, id
    LIMIT NULLIF($2, 0) OFFSET $3
  `, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var periods []Period
	for rows.Next() {
		period, err := scanPeriod(rows)
		if err != nil {
			return nil, 0, err
		}
		periods = append(periods, period)
	}
	return periods, total, rows.Err()
}

func (s *PGStore) UpdatePeriod(ctx context.Context, period *Period) error {
	if err := updatePeriod(ctx, s.DB, period); err != nil {
		return err
	}
	period.Version++
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// updatePeriod writes period guarded by its version. The caller bumps the
// in-memory version after the surrounding transaction commits.
func updatePeriod(ctx context.Context, db execer, period *Period) error {
	tag, err := db.Exec(ctx, `
    UPDATE payroll_periods
    SET period_type = $3, start_date = $4, end_date = $5, cutoff_date = $6, pay_date = $7,
        status = $8, is_locked = $9, total_gross = $10, total_deductions = $11, total_net = $12,
        total_employer_cost = $13, active_calculation_id = $14, approved_by = $15, approved_at = $16,
        finalized_by = $17, finalized_at = $18, locked_by = $19, locked_at = $20,
        rejection_reason = $21, rejected_by = $22, rejected_at = $23, updated_at = $24,
        version = version + 1
    WHERE id = $1 AND version = $2
  `, period.ID, period.Version, period.Type, period.StartDate, period.EndDate, period.CutoffDate, period.PayDate,
		period.Status, period.IsLocked, period.Totals.Gross, period.Totals.Deductions, period.Totals.Net,
		period.Totals.EmployerCost, period.ActiveCalculationID, period.ApprovedBy, period.ApprovedAt,
		period.FinalizedBy, period.FinalizedAt, period.LockedBy, period.LockedAt,
		period.RejectionReason, period.RejectedBy, period.RejectedAt, period.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return missingOrConflict(ctx, db, "payroll_periods", period.ID, ErrPeriodNotFound)
	}
	return nil
}

// missingOrConflict tells a vanished row from a stale version after a
// guarded update matched nothing.
func missingOrConflict(ctx context.Context, db execer, table, id string, notFound error) error {
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return notFound
	}
	return ErrConcurrentModification
}

func (s *PGStore) PreviousNetPay(ctx context.Context, before time.Time) (map[string]decimal.Decimal, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT l.employee_id, l.net_pay
    FROM payroll_calculation_lines l
    WHERE l.status = 'completed'
      AND l.calculation_id = (
        SELECT p.active_calculation_id
        FROM payroll_periods p
        JOIN payroll_calculations c ON c.id = p.active_calculation_id
        WHERE p.end_date < $1 AND c.status = 'completed'
        ORDER BY p.end_date DESC
        LIMIT 1
      )
  `, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var employeeID string
		var net decimal.Decimal
		if err := rows.Scan(&employeeID, &net); err != nil {
			return nil, err
		}
		out[employeeID] = net
	}
	return out, rows.Err()
}

const calculationColumns = `id, period_id, calculation_type, status, total_employees, processed_employees, failed_employees,
           total_gross, total_deductions, total_net, total_employer_cost, error_message, superseded_by,
           previous_id, resume_status, adjustment_ids, tables_version, cancel_requested, requested_by,
           created_at, started_at, completed_at, heartbeat_at, version`

func scanCalculation(row rowScanner) (Calculation, error) {
	var c Calculation
	err := row.Scan(&c.ID, &c.PeriodID, &c.Type, &c.Status, &c.TotalEmployees, &c.ProcessedEmployees, &c.FailedEmployees,
		&c.Totals.Gross, &c.Totals.Deductions, &c.Totals.Net, &c.Totals.EmployerCost, &c.ErrorMessage, &c.SupersededBy,
		&c.PreviousID, &c.ResumeStatus, &c.AdjustmentIDs, &c.TablesVersion, &c.CancelRequested, &c.RequestedBy,
		&c.CreatedAt, &c.StartedAt, &c.CompletedAt, &c.HeartbeatAt, &c.Version)
	return c, err
}

func (s *PGStore) GetCalculation(ctx context.Context, calculationID string) (Calculation, error) {
	calc, err := scanCalculation(s.DB.QueryRow(ctx, `
    SELECT `+calculationColumns+`
    FROM payroll_calculations
    WHERE id = $1
  `, calculationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Calculation{}, ErrCalculationNotFound
	}
	return calc, err
}

func (s *PGStore) ListCalculations(ctx context.Context, periodID string) ([]Calculation, error) {
	return s.queryCalculations(ctx, `
    SELECT `+calculationColumns+`
    FROM payroll_calculations
    WHERE period_id = $1
    ORDER BY created_at, seq
  `, periodID)
}

func (s *PGStore) ListUnfinishedCalculations(ctx context.Context) ([]Calculation, error) {
	return s.queryCalculations(ctx, `
    SELECT `+calculationColumns+`
    FROM payroll_calculations
    WHERE status IN ('pending', 'processing')
    ORDER BY created_at, seq
  `)
}

func (s *PGStore) queryCalculations(ctx context.Context, query string, args ...any) ([]Calculation, error) {
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calcs []Calculation
	for rows.Next() {
		calc, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, calc)
	}
	return calcs, rows.Err()
}

// SaveRun applies a RunChange in one transaction.
func (s *PGStore) SaveRun(ctx context.Context, change RunChange) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	calc := change.Calculation
	if change.Insert {
		if err := insertCalculation(ctx, tx, calc); err != nil {
			return err
		}
	} else if err := updateCalculation(ctx, tx, calc); err != nil {
		return err
	}
	if change.Previous != nil {
		if err := updateCalculation(ctx, tx, change.Previous); err != nil {
			return err
		}
	}
	if change.Period != nil {
		if err := updatePeriod(ctx, tx, change.Period); err != nil {
			return err
		}
	}
	if change.Lines != nil {
		if err := replaceLines(ctx, tx, calc.ID, change.Lines); err != nil {
			return err
		}
	}
	if change.Exceptions != nil {
		if err := replaceExceptions(ctx, tx, calc.ID, change.Exceptions); err != nil {
			return err
		}
	}
	if len(change.ApplyAdjustments) > 0 {
		if _, err := tx.Exec(ctx, `
    UPDATE payroll_adjustments
    SET status = 'applied', applied_at = $2, applied_calculation_id = $3, version = version + 1
    WHERE id = ANY($1) AND status = 'approved'
  `, change.ApplyAdjustments, change.AppliedAt, calc.ID); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if change.Insert {
		calc.Version = 1
	} else {
		calc.Version++
	}
	if change.Previous != nil {
		change.Previous.Version++
	}
	if change.Period != nil {
		change.Period.Version++
	}
	return nil
}

func insertCalculation(ctx context.Context, tx pgx.Tx, c *Calculation) error {
	_, err := tx.Exec(ctx, `
    INSERT INTO payroll_calculations (id, period_id, calculation_type, status, previous_id, resume_status,
                                      adjustment_ids, requested_by, created_at, heartbeat_at, version)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1)
  `, c.ID, c.PeriodID, c.Type, c.Status, c.PreviousID, c.ResumeStatus, nonNil(c.AdjustmentIDs), c.RequestedBy, c.CreatedAt, c.HeartbeatAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConcurrentModification
	}
	return err
}

func updateCalculation(ctx context.Context, tx pgx.Tx, c *Calculation) error {
	tag, err := tx.Exec(ctx, `
    UPDATE payroll_calculations
    SET status = $3, total_employees = $4, processed_employees = $5, failed_employees = $6,
        total_gross = $7, total_deductions = $8, total_net = $9, total_employer_cost = $10,
        error_message = $11, superseded_by = $12, tables_version = $13, cancel_requested = $14,
        started_at = $15, completed_at = $16, heartbeat_at = $17, version = version + 1
    WHERE id = $1 AND version = $2
  `, c.ID, c.Version, c.Status, c.TotalEmployees, c.ProcessedEmployees, c.FailedEmployees,
		c.Totals.Gross, c.Totals.Deductions, c.Totals.Net, c.Totals.EmployerCost,
		c.ErrorMessage, c.SupersededBy, c.TablesVersion, c.CancelRequested,
		c.StartedAt, c.CompletedAt, c.HeartbeatAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return missingOrConflict(ctx, tx, "payroll_calculations", c.ID, ErrCalculationNotFound)
	}
	return nil
}

func replaceLines(ctx context.Context, tx pgx.Tx, calculationID string, lines []EmployeeLine) error {
	if _, err := tx.Exec(ctx, "DELETE FROM payroll_calculation_lines WHERE calculation_id = $1", calculationID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`
    INSERT INTO payroll_calculation_lines (calculation_id, employee_id, employee_name, category, basic_salary,
                                           overtime_pay, allowances, earning_adjustments, gross_pay, sss, philhealth,
                                           pagibig, employer_contributions, non_taxable, taxable_income, withholding_tax,
                                           deduction_adjustments, total_deductions, net_pay, status, error_message)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
  `, calculationID, l.EmployeeID, l.EmployeeName, l.Category, l.BasicSalary,
			l.OvertimePay, l.Allowances, l.EarningAdjustments, l.GrossPay, l.SSS, l.PhilHealth,
			l.PagIBIG, l.EmployerContributions, l.NonTaxable, l.TaxableIncome, l.WithholdingTax,
			l.DeductionAdjustments, l.TotalDeductions, l.NetPay, l.Status, l.ErrorMessage)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func replaceExceptions(ctx context.Context, tx pgx.Tx, calculationID string, exceptions []ComplianceException) error {
	if _, err := tx.Exec(ctx, "DELETE FROM payroll_compliance_exceptions WHERE calculation_id = $1", calculationID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, e := range exceptions {
		batch.Queue(`
    INSERT INTO payroll_compliance_exceptions (id, calculation_id, exception_type, severity, employee_id,
                                               description, action_required, created_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
  `, e.ID, calculationID, e.Type, e.Severity, e.EmployeeID, e.Description, e.ActionRequired, e.CreatedAt)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (s *PGStore) RecordProgress(ctx context.Context, calculationID string, progress Progress) (bool, error) {
	var cancelRequested bool
	err := s.DB.QueryRow(ctx, `
    UPDATE payroll_calculations
    SET total_employees = $2, processed_employees = $3, failed_employees = $4, heartbeat_at = $5
    WHERE id = $1 AND status = 'processing'
    RETURNING cancel_requested
  `, calculationID, progress.Total, progress.Processed, progress.Failed, progress.At).Scan(&cancelRequested)
	if !errors.Is(err, pgx.ErrNoRows) {
		return cancelRequested, err
	}
	// The run is no longer processing; tell the worker to stop.
	err = missingOrConflict(ctx, s.DB, "payroll_calculations", calculationID, ErrCalculationNotFound)
	if errors.Is(err, ErrConcurrentModification) {
		return true, nil
	}
	return false, err
}

func (s *PGStore) RequestCancel(ctx context.Context, calculationID string) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE payroll_calculations
    SET cancel_requested = TRUE
    WHERE id = $1 AND status = 'processing'
  `, calculationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return missingOrConflict(ctx, s.DB, "payroll_calculations", calculationID, ErrCalculationNotFound)
	}
	return nil
}

func (s *PGStore) ListLines(ctx context.Context, calculationID string) ([]EmployeeLine, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT calculation_id, employee_id, employee_name, category, basic_salary, overtime_pay, allowances,
           earning_adjustments, gross_pay, sss, philhealth, pagibig, employer_contributions, non_taxable,
           taxable_income, withholding_tax, deduction_adjustments, total_deductions, net_pay, status, error_message
    FROM payroll_calculation_lines
    WHERE calculation_id = $1
    ORDER BY employee_id
  `, calculationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []EmployeeLine
	for rows.Next() {
		var l EmployeeLine
		if err := rows.Scan(&l.CalculationID, &l.EmployeeID, &l.EmployeeName, &l.Category, &l.BasicSalary, &l.OvertimePay, &l.Allowances,
			&l.EarningAdjustments, &l.GrossPay, &l.SSS, &l.PhilHealth, &l.PagIBIG, &l.EmployerContributions, &l.NonTaxable,
			&l.TaxableIncome, &l.WithholdingTax, &l.DeductionAdjustments, &l.TotalDeductions, &l.NetPay, &l.Status, &l.ErrorMessage); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *PGStore) ListExceptions(ctx context.Context, calculationID string) ([]ComplianceException, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, calculation_id, exception_type, severity, employee_id, description, action_required, created_at
    FROM payroll_compliance_exceptions
    WHERE calculation_id = $1
    ORDER BY employee_id, exception_type, id
  `, calculationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ComplianceException
	for rows.Next() {
		var e ComplianceException
		if err := rows.Scan(&e.ID, &e.CalculationID, &e.Type, &e.Severity, &e.EmployeeID, &e.Description, &e.ActionRequired, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const adjustmentColumns = `id, period_id, employee_id, adjustment_type, category, direction, amount, reason,
           reference_number, status, requested_by, requested_at, reviewed_by, reviewed_at, review_notes,
           applied_at, applied_calculation_id, version`

func scanAdjustment(row rowScanner) (Adjustment, error) {
	var a Adjustment
	err := row.Scan(&a.ID, &a.PeriodID, &a.EmployeeID, &a.Type, &a.Category, &a.Direction, &a.Amount, &a.Reason,
		&a.ReferenceNumber, &a.Status, &a.RequestedBy, &a.RequestedAt, &a.ReviewedBy, &a.ReviewedAt, &a.ReviewNotes,
		&a.AppliedAt, &a.AppliedCalculationID, &a.Version)
	return a, err
}

func (s *PGStore) CreateAdjustment(ctx context.Context, a *Adjustment) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO payroll_adjustments (id, period_id, employee_id, adjustment_type, category, direction, amount,
                                     reason, reference_number, status, requested_by, requested_at, version)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1)
  `, a.ID, a.PeriodID, a.EmployeeID, a.Type, a.Category, a.Direction, a.Amount,
		a.Reason, a.ReferenceNumber, a.Status, a.RequestedBy, a.RequestedAt)
	if err != nil {
		return err
	}
	a.Version = 1
	return nil
}

func (s *PGStore) GetAdjustment(ctx context.Context, adjustmentID string) (Adjustment, error) {
	adj, err := scanAdjustment(s.DB.QueryRow(ctx, `
    SELECT `+adjustmentColumns+`
    FROM payroll_adjustments
    WHERE id = $1
  `, adjustmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Adjustment{}, ErrAdjustmentNotFound
	}
	return adj, err
}

func (s *PGStore) ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error) {
	return s.queryAdjustments(ctx, `
    SELECT `+adjustmentColumns+`
    FROM payroll_adjustments
    WHERE ($1 = '' OR period_id = $1)
      AND ($2 = '' OR employee_id = $2)
      AND ($3 = '' OR status = $3)
    ORDER BY requested_at, id
  `, filter.PeriodID, filter.EmployeeID, string(filter.Status))
}

func (s *PGStore) GetAdjustments(ctx context.Context, ids []string) ([]Adjustment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryAdjustments(ctx, `
    SELECT `+adjustmentColumns+`
    FROM payroll_adjustments
    WHERE id = ANY($1)
    ORDER BY requested_at, id
  `, ids)
}

func (s *PGStore) queryAdjustments(ctx context.Context, query string, args ...any) ([]Adjustment, error) {
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Adjustment
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, adj)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateAdjustment(ctx context.Context, a *Adjustment) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE payroll_adjustments
    SET adjustment_type = $3, category = $4, direction = $5, amount = $6, reason = $7, reference_number = $8,
        status = $9, reviewed_by = $10, reviewed_at = $11, review_notes = $12, version = version + 1
    WHERE id = $1 AND version = $2 AND status <> 'applied'
  `, a.ID, a.Version, a.Type, a.Category, a.Direction, a.Amount, a.Reason, a.ReferenceNumber,
		a.Status, a.ReviewedBy, a.ReviewedAt, a.ReviewNotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return missingOrConflict(ctx, s.DB, "payroll_adjustments", a.ID, ErrAdjustmentNotFound)
	}
	a.Version++
	return nil
}

func (s *PGStore) DeleteAdjustment(ctx context.Context, adjustmentID string, version int) error {
	tag, err := s.DB.Exec(ctx, `
    DELETE FROM payroll_adjustments
    WHERE id = $1 AND version = $2 AND status <> 'applied'
  `, adjustmentID, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return missingOrConflict(ctx, s.DB, "payroll_adjustments", adjustmentID, ErrAdjustmentNotFound)
	}
	return nil
}

func (s *PGStore) GetWorkflow(ctx context.Context, periodID string) (ApprovalWorkflow, error) {
	var wf ApprovalWorkflow
	var steps []byte
	err := s.DB.QueryRow(ctx, `
    SELECT period_id, calculation_id, steps, created_at, updated_at, version
    FROM payroll_approval_workflows
    WHERE period_id = $1
  `, periodID).Scan(&wf.PeriodID, &wf.CalculationID, &steps, &wf.CreatedAt, &wf.UpdatedAt, &wf.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ApprovalWorkflow{}, ErrWorkflowNotFound
	}
	if err != nil {
		return ApprovalWorkflow{}, err
	}
	if err := json.Unmarshal(steps, &wf.Steps); err != nil {
		return ApprovalWorkflow{}, err
	}
	return wf, nil
}

func (s *PGStore) SaveReview(ctx context.Context, workflow *ApprovalWorkflow, period *Period) error {
	steps, err := json.Marshal(workflow.Steps)
	if err != nil {
		return err
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var tag pgconn.CommandTag
	if workflow.Version == 0 {
		tag, err = tx.Exec(ctx, `
    INSERT INTO payroll_approval_workflows (period_id, calculation_id, steps, created_at, updated_at, version)
    VALUES ($1,$2,$3,$4,$5,1)
    ON CONFLICT (period_id) DO NOTHING
  `, workflow.PeriodID, workflow.CalculationID, steps, workflow.CreatedAt, workflow.UpdatedAt)
	} else {
		tag, err = tx.Exec(ctx, `
    UPDATE payroll_approval_workflows
    SET calculation_id = $3, steps = $4, created_at = $5, updated_at = $6, version = version + 1
    WHERE period_id = $1 AND version = $2
  `, workflow.PeriodID, workflow.Version, workflow.CalculationID, steps, workflow.CreatedAt, workflow.UpdatedAt)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	if period != nil {
		if err := updatePeriod(ctx, tx, period); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	workflow.Version++
	if period != nil {
		period.Version++
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
