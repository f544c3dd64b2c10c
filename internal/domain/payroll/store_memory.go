package payroll

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is the in-process Store used for development and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	periods      map[string]Period
	calculations map[string]Calculation
	lines        map[string][]EmployeeLine
	exceptions   map[string][]ComplianceException
	adjustments  map[string]Adjustment
	workflows    map[string]ApprovalWorkflow
	calcSeq      map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		periods:      make(map[string]Period),
		calculations: make(map[string]Calculation),
		lines:        make(map[string][]EmployeeLine),
		exceptions:   make(map[string][]ComplianceException),
		adjustments:  make(map[string]Adjustment),
		workflows:    make(map[string]ApprovalWorkflow),
		calcSeq:      make(map[string]int),
	}
}

func (m *MemoryStore) CreatePeriod(_ context.Context, period *Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.periods[period.ID]; exists {
		return ErrConcurrentModification
	}
	period.Version = 1
	m.periods[period.ID] = *period
	return nil
}

func (m *MemoryStore) GetPeriod(_ context.Context, periodID string) (Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	period, ok := m.periods[periodID]
	if !ok {
		return Period{}, ErrPeriodNotFound
	}
	return period, nil
}

func (m *MemoryStore) ListPeriods(_ context.Context, filter PeriodFilter) ([]Period, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Period
	for _, period := range m.periods {
		if filter.Status != "" && period.Status != filter.Status {
			continue
		}
		out = append(out, period)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.After(out[j].StartDate)
	})
	total := len(out)
	return paginate(out, filter.Limit, filter.Offset), total, nil
}

func (m *MemoryStore) UpdatePeriod(_ context.Context, period *Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkPeriodLocked(period); err != nil {
		return err
	}
	m.putPeriodLocked(period)
	return nil
}

func (m *MemoryStore) PreviousNetPay(_ context.Context, before time.Time) (map[string]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Period
	for id := range m.periods {
		period := m.periods[id]
		if !period.EndDate.Before(before) || period.ActiveCalculationID == "" {
			continue
		}
		calc, ok := m.calculations[period.ActiveCalculationID]
		if !ok || calc.Status != CalcCompleted {
			continue
		}
		if latest == nil || period.EndDate.After(latest.EndDate) {
			latest = &period
		}
	}
	out := make(map[string]decimal.Decimal)
	if latest == nil {
		return out, nil
	}
	for _, line := range m.lines[latest.ActiveCalculationID] {
		if line.Status == LineCompleted {
			out[line.EmployeeID] = line.NetPay
		}
	}
	return out, nil
}

func (m *MemoryStore) GetCalculation(_ context.Context, calculationID string) (Calculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calc, ok := m.calculations[calculationID]
	if !ok {
		return Calculation{}, ErrCalculationNotFound
	}
	return cloneCalculation(calc), nil
}

func (m *MemoryStore) ListCalculations(_ context.Context, periodID string) ([]Calculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Calculation
	for _, calc := range m.calculations {
		if calc.PeriodID == periodID {
			out = append(out, cloneCalculation(calc))
		}
	}
	m.sortCalculations(out)
	return out, nil
}

func (m *MemoryStore) ListUnfinishedCalculations(_ context.Context) ([]Calculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Calculation
	for _, calc := range m.calculations {
		if !calc.Status.Terminal() {
			out = append(out, cloneCalculation(calc))
		}
	}
	m.sortCalculations(out)
	return out, nil
}

func (m *MemoryStore) SaveRun(_ context.Context, change RunChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	calc := change.Calculation
	if change.Insert {
		if _, exists := m.calculations[calc.ID]; exists {
			return ErrConcurrentModification
		}
	} else if err := m.checkCalculationLocked(calc); err != nil {
		return err
	}
	if change.Previous != nil {
		if err := m.checkCalculationLocked(change.Previous); err != nil {
			return err
		}
	}
	if change.Period != nil {
		if err := m.checkPeriodLocked(change.Period); err != nil {
			return err
		}
	}

	if change.Insert {
		calc.Version = 0
		m.calcSeq[calc.ID] = len(m.calcSeq) + 1
	}
	m.putCalculationLocked(calc)
	if change.Previous != nil {
		m.putCalculationLocked(change.Previous)
	}
	if change.Period != nil {
		m.putPeriodLocked(change.Period)
	}
	if change.Lines != nil {
		lines := make([]EmployeeLine, len(change.Lines))
		for i, line := range change.Lines {
			line.CalculationID = calc.ID
			lines[i] = line
		}
		m.lines[calc.ID] = lines
	}
	if change.Exceptions != nil {
		m.exceptions[calc.ID] = slices.Clone(change.Exceptions)
	}
	for _, id := range change.ApplyAdjustments {
		adj, ok := m.adjustments[id]
		if !ok || adj.Status != AdjustmentApproved {
			continue
		}
		applied := change.AppliedAt
		adj.Status = AdjustmentApplied
		adj.AppliedAt = &applied
		adj.AppliedCalculationID = calc.ID
		adj.Version++
		m.adjustments[id] = adj
	}
	return nil
}

func (m *MemoryStore) RecordProgress(_ context.Context, calculationID string, progress Progress) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	calc, ok := m.calculations[calculationID]
	if !ok {
		return false, ErrCalculationNotFound
	}
	if calc.Status != CalcProcessing {
		return true, nil
	}
	calc.TotalEmployees = progress.Total
	calc.ProcessedEmployees = progress.Processed
	calc.FailedEmployees = progress.Failed
	calc.HeartbeatAt = progress.At
	m.calculations[calculationID] = calc
	return calc.CancelRequested, nil
}

func (m *MemoryStore) RequestCancel(_ context.Context, calculationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	calc, ok := m.calculations[calculationID]
	if !ok {
		return ErrCalculationNotFound
	}
	if calc.Status != CalcProcessing {
		return ErrConcurrentModification
	}
	calc.CancelRequested = true
	m.calculations[calculationID] = calc
	return nil
}

func (m *MemoryStore) ListLines(_ context.Context, calculationID string) ([]EmployeeLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.lines[calculationID]), nil
}

func (m *MemoryStore) ListExceptions(_ context.Context, calculationID string) ([]ComplianceException, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.exceptions[calculationID]), nil
}

func (m *MemoryStore) CreateAdjustment(_ context.Context, adjustment *Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.adjustments[adjustment.ID]; exists {
		return ErrConcurrentModification
	}
	adjustment.Version = 1
	m.adjustments[adjustment.ID] = *adjustment
	return nil
}

func (m *MemoryStore) GetAdjustment(_ context.Context, adjustmentID string) (Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adj, ok := m.adjustments[adjustmentID]
	if !ok {
		return Adjustment{}, ErrAdjustmentNotFound
	}
	return adj, nil
}

func (m *MemoryStore) ListAdjustments(_ context.Context, filter AdjustmentFilter) ([]Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Adjustment
	for _, adj := range m.adjustments {
		if filter.PeriodID != "" && adj.PeriodID != filter.PeriodID {
			continue
		}
		if filter.EmployeeID != "" && adj.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.Status != "" && adj.Status != filter.Status {
			continue
		}
		out = append(out, adj)
	}
	sortAdjustments(out)
	return out, nil
}

func (m *MemoryStore) GetAdjustments(_ context.Context, ids []string) ([]Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Adjustment, 0, len(ids))
	for _, id := range ids {
		if adj, ok := m.adjustments[id]; ok {
			out = append(out, adj)
		}
	}
	sortAdjustments(out)
	return out, nil
}

func (m *MemoryStore) UpdateAdjustment(_ context.Context, adjustment *Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.adjustments[adjustment.ID]
	if !ok {
		return ErrAdjustmentNotFound
	}
	if stored.Version != adjustment.Version {
		return ErrConcurrentModification
	}
	adjustment.Version++
	m.adjustments[adjustment.ID] = *adjustment
	return nil
}

func (m *MemoryStore) DeleteAdjustment(_ context.Context, adjustmentID string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.adjustments[adjustmentID]
	if !ok {
		return ErrAdjustmentNotFound
	}
	if stored.Version != version {
		return ErrConcurrentModification
	}
	delete(m.adjustments, adjustmentID)
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, periodID string) (ApprovalWorkflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[periodID]
	if !ok {
		return ApprovalWorkflow{}, ErrWorkflowNotFound
	}
	wf.Steps = slices.Clone(wf.Steps)
	return wf, nil
}

func (m *MemoryStore) SaveReview(_ context.Context, workflow *ApprovalWorkflow, period *Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, exists := m.workflows[workflow.PeriodID]
	if exists && stored.Version != workflow.Version {
		return ErrConcurrentModification
	}
	if !exists && workflow.Version != 0 {
		return ErrConcurrentModification
	}
	if period != nil {
		if err := m.checkPeriodLocked(period); err != nil {
			return err
		}
	}
	workflow.Version++
	saved := *workflow
	saved.Steps = slices.Clone(workflow.Steps)
	m.workflows[workflow.PeriodID] = saved
	if period != nil {
		m.putPeriodLocked(period)
	}
	return nil
}

func (m *MemoryStore) checkPeriodLocked(period *Period) error {
	stored, ok := m.periods[period.ID]
	if !ok {
		return ErrPeriodNotFound
	}
	if stored.Version != period.Version {
		return ErrConcurrentModification
	}
	return nil
}

func (m *MemoryStore) putPeriodLocked(period *Period) {
	period.Version++
	m.periods[period.ID] = *period
}

func (m *MemoryStore) checkCalculationLocked(calc *Calculation) error {
	stored, ok := m.calculations[calc.ID]
	if !ok {
		return ErrCalculationNotFound
	}
	if stored.Version != calc.Version {
		return ErrConcurrentModification
	}
	return nil
}

func (m *MemoryStore) putCalculationLocked(calc *Calculation) {
	calc.Version++
	m.calculations[calc.ID] = cloneCalculation(*calc)
}

func cloneCalculation(calc Calculation) Calculation {
	calc.AdjustmentIDs = slices.Clone(calc.AdjustmentIDs)
	return calc
}

// sortCalculations orders oldest first, falling back to insertion order.
func (m *MemoryStore) sortCalculations(calcs []Calculation) {
	sort.Slice(calcs, func(i, j int) bool {
		if calcs[i].CreatedAt.Equal(calcs[j].CreatedAt) {
			return m.calcSeq[calcs[i].ID] < m.calcSeq[calcs[j].ID]
		}
		return calcs[i].CreatedAt.Before(calcs[j].CreatedAt)
	})
}

func sortAdjustments(adjs []Adjustment) {
	sort.Slice(adjs, func(i, j int) bool {
		if adjs[i].RequestedAt.Equal(adjs[j].RequestedAt) {
			return adjs[i].ID < adjs[j].ID
		}
		return adjs[i].RequestedAt.Before(adjs[j].RequestedAt)
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
