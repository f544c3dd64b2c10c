package payroll

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger stores the manual adjustments that feed calculation runs.
type Ledger struct {
	*base
}

type AdjustmentRequest struct {
	PeriodID        string             `json:"periodId"`
	EmployeeID      string             `json:"employeeId"`
	Type            AdjustmentType     `json:"adjustmentType"`
	Category        AdjustmentCategory `json:"category"`
	Direction       Direction          `json:"direction,omitempty"`
	Amount          decimal.Decimal    `json:"amount"`
	Reason          string             `json:"reason"`
	ReferenceNumber string             `json:"referenceNumber,omitempty"`
}

func (l *Ledger) List(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		ve := &ValidationError{}
		ve.add("status", "must be one of pending, approved, rejected, applied")
		return nil, ve
	}
	if filter.PeriodID != "" {
		if _, err := l.deps.Store.GetPeriod(ctx, filter.PeriodID); err != nil {
			return nil, err
		}
	}
	adjustments, err := l.deps.Store.ListAdjustments(ctx, filter)
	if err != nil {
		return nil, err
	}
	if adjustments == nil {
		adjustments = []Adjustment{}
	}
	return adjustments, nil
}

func (l *Ledger) Get(ctx context.Context, adjustmentID string) (Adjustment, error) {
	return l.deps.Store.GetAdjustment(ctx, adjustmentID)
}

// Store records a pending adjustment for an employee of an open period.
func (l *Ledger) Store(ctx context.Context, req AdjustmentRequest, actor Actor) (Adjustment, error) {
	req, err := l.validate(req)
	if err != nil {
		return Adjustment{}, err
	}
	if _, err := l.openPeriod(ctx, req.PeriodID); err != nil {
		return Adjustment{}, err
	}
	exists, err := l.deps.Directory.EmployeeExists(ctx, req.EmployeeID)
	if err != nil {
		return Adjustment{}, err
	}
	if !exists {
		return Adjustment{}, ErrEmployeeNotFound
	}

	adj := Adjustment{
		ID:              uuid.NewString(),
		PeriodID:        req.PeriodID,
		EmployeeID:      req.EmployeeID,
		Type:            req.Type,
		Category:        req.Category,
		Direction:       req.Direction,
		Amount:          req.Amount,
		Reason:          req.Reason,
		ReferenceNumber: req.ReferenceNumber,
		Status:          AdjustmentPending,
		RequestedBy:     actor.ID,
		RequestedAt:     l.now(),
	}
	if err := l.deps.Store.CreateAdjustment(ctx, &adj); err != nil {
		return Adjustment{}, err
	}
	l.emit(ctx, EventAdjustmentCreated, "adjustment", adj.ID, actor.ID, map[string]any{
		"periodId":       adj.PeriodID,
		"employeeId":     adj.EmployeeID,
		"adjustmentType": string(adj.Type),
		"amount":         adj.Amount.StringFixed(2),
	})
	return adj, nil
}

// Update rewrites a pending adjustment. Period and employee cannot move.
func (l *Ledger) Update(ctx context.Context, adjustmentID string, req AdjustmentRequest, actor Actor) (Adjustment, error) {
	adj, err := l.loadMutable(ctx, adjustmentID)
	if err != nil {
		return Adjustment{}, err
	}
	if adj.Status != AdjustmentPending {
		return Adjustment{}, fmt.Errorf("%w: adjustment is %s", ErrInvalidTransition, adj.Status)
	}
	req.PeriodID = adj.PeriodID
	req.EmployeeID = adj.EmployeeID
	req, err = l.validate(req)
	if err != nil {
		return Adjustment{}, err
	}
	adj.Type = req.Type
	adj.Category = req.Category
	adj.Direction = req.Direction
	adj.Amount = req.Amount
	adj.Reason = req.Reason
	adj.ReferenceNumber = req.ReferenceNumber
	if err := l.deps.Store.UpdateAdjustment(ctx, &adj); err != nil {
		return Adjustment{}, err
	}
	l.emit(ctx, EventAdjustmentUpdated, "adjustment", adj.ID, actor.ID, map[string]any{
		"amount": adj.Amount.StringFixed(2),
	})
	return adj, nil
}

// Delete removes a pending or rejected adjustment.
func (l *Ledger) Delete(ctx context.Context, adjustmentID string, actor Actor) error {
	adj, err := l.loadMutable(ctx, adjustmentID)
	if err != nil {
		return err
	}
	if adj.Status == AdjustmentApproved {
		return fmt.Errorf("%w: approved adjustments cannot be deleted", ErrInvalidTransition)
	}
	if err := l.deps.Store.DeleteAdjustment(ctx, adj.ID, adj.Version); err != nil {
		return err
	}
	l.emit(ctx, EventAdjustmentDeleted, "adjustment", adj.ID, actor.ID, map[string]any{"periodId": adj.PeriodID})
	return nil
}

func (l *Ledger) Approve(ctx context.Context, adjustmentID string, actor Actor, notes string) (Adjustment, error) {
	return l.review(ctx, adjustmentID, AdjustmentApproved, actor, notes)
}

// Reject closes a pending adjustment; notes are required.
func (l *Ledger) Reject(ctx context.Context, adjustmentID string, actor Actor, notes string) (Adjustment, error) {
	if strings.TrimSpace(notes) == "" {
		ve := &ValidationError{}
		ve.add("notes", "is required")
		return Adjustment{}, ve
	}
	return l.review(ctx, adjustmentID, AdjustmentRejected, actor, notes)
}

func (l *Ledger) review(ctx context.Context, adjustmentID string, to AdjustmentStatus, actor Actor, notes string) (Adjustment, error) {
	adj, err := l.loadMutable(ctx, adjustmentID)
	if err != nil {
		return Adjustment{}, err
	}
	if adj.Status != AdjustmentPending {
		return Adjustment{}, fmt.Errorf("%w: adjustment is %s", ErrInvalidTransition, adj.Status)
	}
	now := l.now()
	adj.Status = to
	adj.ReviewedBy = actor.ID
	adj.ReviewedAt = &now
	adj.ReviewNotes = strings.TrimSpace(notes)
	if err := l.deps.Store.UpdateAdjustment(ctx, &adj); err != nil {
		return Adjustment{}, err
	}
	eventType := EventAdjustmentApproved
	if to == AdjustmentRejected {
		eventType = EventAdjustmentRejected
	}
	l.emit(ctx, eventType, "adjustment", adj.ID, actor.ID, map[string]any{
		"periodId":   adj.PeriodID,
		"employeeId": adj.EmployeeID,
	})
	return adj, nil
}

// loadMutable returns an adjustment that may still change: not applied and
// on a period that is neither locked nor past approval.
func (l *Ledger) loadMutable(ctx context.Context, adjustmentID string) (Adjustment, error) {
	adj, err := l.deps.Store.GetAdjustment(ctx, adjustmentID)
	if err != nil {
		return Adjustment{}, err
	}
	if _, err := l.openPeriod(ctx, adj.PeriodID); err != nil {
		return Adjustment{}, err
	}
	if adj.Status == AdjustmentApplied {
		return Adjustment{}, fmt.Errorf("%w: adjustment was applied by calculation %s", ErrImmutableRecord, adj.AppliedCalculationID)
	}
	return adj, nil
}

func (l *Ledger) openPeriod(ctx context.Context, periodID string) (Period, error) {
	period, err := l.loadUnlockedPeriod(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if period.Status.AtLeastApproved() {
		return Period{}, fmt.Errorf("%w: period is %s", ErrInvalidTransition, period.Status)
	}
	return period, nil
}

// validate normalizes req and checks it field by field. An empty type is
// inferred from the category.
func (l *Ledger) validate(req AdjustmentRequest) (AdjustmentRequest, error) {
	ve := &ValidationError{}
	req.Reason = strings.TrimSpace(req.Reason)
	req.ReferenceNumber = strings.TrimSpace(req.ReferenceNumber)

	if req.PeriodID == "" {
		ve.add("periodId", "is required")
	}
	if req.EmployeeID == "" {
		ve.add("employeeId", "is required")
	}
	if !req.Amount.IsPositive() {
		ve.add("amount", "must be greater than zero")
	} else if !req.Amount.Equal(req.Amount.Round(2)) {
		ve.add("amount", "must have at most two decimal places")
	}
	if req.Reason == "" {
		ve.add("reason", "is required")
	}

	if req.Category != "" {
		mapped, ok := adjustmentCategories[req.Category]
		switch {
		case !ok:
			ve.add("category", fmt.Sprintf("unknown category %q", req.Category))
		case req.Type == "":
			req.Type = mapped
		case req.Type != mapped:
			ve.add("category", fmt.Sprintf("%s is a %s category", req.Category, mapped))
		}
	}
	if !req.Type.Valid() {
		ve.add("adjustmentType", "must be one of earning, deduction, correction, backpay, refund")
	}
	switch req.Type {
	case AdjustmentCorrection:
		if req.Direction != DirectionCredit && req.Direction != DirectionDebit {
			ve.add("direction", "must be credit or debit for corrections")
		}
	default:
		if req.Direction != "" {
			ve.add("direction", "only applies to corrections")
		}
	}
	return req, ve.orNil()
}
