package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func TestMemoryExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ok, err := m.Acquire(ctx, "k", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got %v %v", ok, err)
	}
	ok, _ = m.Acquire(ctx, "k", "b", time.Minute)
	if ok {
		t.Fatalf("expected second token to be refused")
	}
	if err := m.Refresh(ctx, "k", "b", time.Minute); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	if err := m.Release(ctx, "k", "b"); err != nil {
		t.Fatalf("release by other token: %v", err)
	}
	if holder, _ := m.Holder("k"); holder != "a" {
		t.Fatalf("expected a to keep the lock, got %q", holder)
	}
	if err := m.Release(ctx, "k", "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = m.Acquire(ctx, "k", "b", time.Minute)
	if !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory().WithClock(func() time.Time { return now })
	if ok, _ := m.Acquire(ctx, "k", "a", time.Minute); !ok {
		t.Fatalf("expected acquire")
	}
	now = now.Add(2 * time.Minute)
	if err := m.Refresh(ctx, "k", "a", time.Minute); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected expired lease to refuse refresh, got %v", err)
	}
	if ok, _ := m.Acquire(ctx, "k", "b", time.Minute); !ok {
		t.Fatalf("expected expired lease to be taken over")
	}
}

func TestRedisAcquire(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedis(db, "paycore:")
	mock.ExpectSetNX("paycore:k", "a", time.Minute).SetVal(true)
	mock.ExpectSetNX("paycore:k", "b", time.Minute).SetVal(false)

	ok, err := l.Acquire(context.Background(), "k", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire, got %v %v", ok, err)
	}
	ok, err = l.Acquire(context.Background(), "k", "b", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected refusal, got %v %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRedisRefreshLostLease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedis(db, "")
	mock.ExpectEval(refreshScript, []string{"k"}, "a", int64(60000)).SetVal(int64(1))
	mock.ExpectEval(refreshScript, []string{"k"}, "a", int64(60000)).SetVal(int64(0))

	if err := l.Refresh(context.Background(), "k", "a", time.Minute); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := l.Refresh(context.Background(), "k", "a", time.Minute); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRedisReleaseError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedis(db, "")
	mock.ExpectEval(releaseScript, []string{"k"}, "a").SetErr(errors.New("connection refused"))
	if err := l.Release(context.Background(), "k", "a"); err == nil {
		t.Fatalf("expected backend error")
	}
}
