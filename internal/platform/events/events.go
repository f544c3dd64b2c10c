// Package events carries domain event emission. Emitters are best effort:
// callers log failures and keep going.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregateType"`
	AggregateID   string         `json:"aggregateId"`
	Actor         string         `json:"actor,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Payload       map[string]any `json:"payload,omitempty"`
}

func New(eventType, aggregateType, aggregateID, actor string, at time.Time, payload map[string]any) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Actor:         actor,
		OccurredAt:    at,
		Payload:       payload,
	}
}

type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// LogEmitter writes every event as one structured log line.
type LogEmitter struct {
	Logger *slog.Logger
}

func (e LogEmitter) Emit(ctx context.Context, event Event) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "domain event",
		"eventId", event.ID,
		"eventType", event.Type,
		"aggregateType", event.AggregateType,
		"aggregateId", event.AggregateID,
		"actor", event.Actor,
	)
	return nil
}

// Multi fans an event out to every emitter and joins their errors.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, emitter := range m {
		if emitter == nil {
			continue
		}
		if err := emitter.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

func (r *Recorder) Has(eventType string) bool {
	for _, t := range r.Types() {
		if t == eventType {
			return true
		}
	}
	return false
}
