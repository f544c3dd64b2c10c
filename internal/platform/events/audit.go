package events

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog persists events to payroll_events so the history of a period
// survives broker outages.
type AuditLog struct {
	DB *pgxpool.Pool
}

func NewAuditLog(db *pgxpool.Pool) *AuditLog {
	return &AuditLog{DB: db}
}

func (a *AuditLog) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(nonNilPayload(event.Payload))
	if err != nil {
		return err
	}
	_, err = a.DB.Exec(ctx, `
    INSERT INTO payroll_events (id, event_type, aggregate_type, aggregate_id, actor, occurred_at, payload)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
    ON CONFLICT (id) DO NOTHING
  `, event.ID, event.Type, event.AggregateType, event.AggregateID, event.Actor, event.OccurredAt, payload)
	return err
}

// List returns the newest events of one aggregate first.
func (a *AuditLog) List(ctx context.Context, aggregateType, aggregateID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.DB.Query(ctx, `
    SELECT id, event_type, aggregate_type, aggregate_id, actor, occurred_at, payload
    FROM payroll_events
    WHERE aggregate_type = $1 AND aggregate_id = $2
    ORDER BY occurred_at DESC
    LIMIT $3
  `, aggregateType, aggregateID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var event Event
		var payload []byte
		if err := rows.Scan(&event.ID, &event.Type, &event.AggregateType, &event.AggregateID, &event.Actor, &event.OccurredAt, &payload); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func nonNilPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}
