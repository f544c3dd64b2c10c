package payroll

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StaticDirectory serves employee inputs from memory. Inputs are keyed by
// employee id and apply to every period unless overridden per period.
type StaticDirectory struct {
	mu        sync.RWMutex
	employees map[string]EmployeeInput
	perPeriod map[string]map[string]EmployeeInput
}

func NewStaticDirectory(inputs ...EmployeeInput) *StaticDirectory {
	d := &StaticDirectory{
		employees: make(map[string]EmployeeInput),
		perPeriod: make(map[string]map[string]EmployeeInput),
	}
	for _, input := range inputs {
		d.employees[input.EmployeeID] = input
	}
	return d
}

func (d *StaticDirectory) Put(input EmployeeInput) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[input.EmployeeID] = input
}

// SetPeriodInput overrides one employee's input for a single period, e.g.
// overtime worked in that period.
func (d *StaticDirectory) SetPeriodInput(periodID string, input EmployeeInput) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.perPeriod[periodID] == nil {
		d.perPeriod[periodID] = make(map[string]EmployeeInput)
	}
	d.perPeriod[periodID][input.EmployeeID] = input
}

func (d *StaticDirectory) ListInputs(_ context.Context, period Period) ([]EmployeeInput, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]EmployeeInput, 0, len(d.employees))
	for id, input := range d.employees {
		if override, ok := d.perPeriod[period.ID][id]; ok {
			input = override
		}
		if !activeDuring(input, period) {
			continue
		}
		out = append(out, input)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (d *StaticDirectory) EmployeeExists(_ context.Context, employeeID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.employees[employeeID]
	return ok, nil
}

func activeDuring(input EmployeeInput, period Period) bool {
	if input.HireDate != nil && dateOnly(*input.HireDate).After(dateOnly(period.EndDate)) {
		return false
	}
	if input.TerminationDate != nil && dateOnly(*input.TerminationDate).Before(dateOnly(period.StartDate)) {
		return false
	}
	return true
}

// PGDirectory reads employees and per-period attendance from Postgres.
type PGDirectory struct {
	DB *pgxpool.Pool
}

func (d *PGDirectory) ListInputs(ctx context.Context, period Period) ([]EmployeeInput, error) {
	rows, err := d.DB.Query(ctx, `
    SELECT e.id, e.name, e.category, e.basic_salary, COALESCE(a.overtime_pay, 0),
           e.allowances + COALESCE(a.extra_allowances, 0), e.de_minimis, e.hire_date, e.termination_date
    FROM payroll_employees e
    LEFT JOIN payroll_attendance a ON a.employee_id = e.id AND a.period_id = $1
    WHERE (e.hire_date IS NULL OR e.hire_date <= $3)
      AND (e.termination_date IS NULL OR e.termination_date >= $2)
    ORDER BY e.id
  `, period.ID, period.StartDate, period.EndDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inputs []EmployeeInput
	for rows.Next() {
		var in EmployeeInput
		var hired, terminated *time.Time
		if err := rows.Scan(&in.EmployeeID, &in.Name, &in.Category, &in.BasicSalary, &in.OvertimePay,
			&in.Allowances, &in.DeMinimis, &hired, &terminated); err != nil {
			return nil, err
		}
		in.HireDate = hired
		in.TerminationDate = terminated
		inputs = append(inputs, in)
	}
	return inputs, rows.Err()
}

func (d *PGDirectory) EmployeeExists(ctx context.Context, employeeID string) (bool, error) {
	var exists bool
	err := d.DB.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM payroll_employees WHERE id = $1)", employeeID).Scan(&exists)
	return exists, err
}
