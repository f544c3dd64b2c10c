package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull = errors.New("job queue full")
	ErrStopped   = errors.New("job service stopped")
)

// Recorder persists job run history. A nil Recorder disables history.
type Recorder interface {
	Started(ctx context.Context, jobType, key string) (string, error)
	Finished(ctx context.Context, runID, status string, details []byte) error
}

type Service struct {
	queue    chan job
	workers  int
	recorder Recorder
	tasks    []task

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

type job struct {
	Type string
	Key  string
	Run  func(context.Context) (any, error)
}

type task struct {
	name     string
	interval time.Duration
	run      func(context.Context) (any, error)
}

func New(queueSize, workers int, recorder Recorder) *Service {
	if queueSize <= 0 {
		queueSize = 128
	}
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		queue:    make(chan job, queueSize),
		workers:  workers,
		recorder: recorder,
	}
}

// Every registers a periodic task. It must be called before Start.
func (s *Service) Every(name string, interval time.Duration, run func(context.Context) (any, error)) {
	if interval <= 0 {
		return
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, run: run})
}

func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.schedule(ctx, t)
	}
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}()
}

// Wait blocks until workers and schedulers exit after the Start context ends.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Enqueue(jobType, key string, run func(context.Context) (any, error)) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	select {
	case s.queue <- job{Type: jobType, Key: key, Run: run}:
		return nil
	default:
		slog.Warn("job queue full", "jobType", jobType, "key", key)
		return ErrQueueFull
	}
}

func (s *Service) RunNow(ctx context.Context, jobType, key string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, Key: key, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "key", j.Key, "err", err)
			}
		}
	}
}

func (s *Service) schedule(ctx context.Context, t task) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Enqueue(t.name, "", t.run); err != nil {
				slog.Warn("scheduled job not queued", "jobType", t.name, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (details any, err error) {
	runID := ""
	if s.recorder != nil {
		if runID, err = s.recorder.Started(ctx, j.Type, j.Key); err != nil {
			slog.Warn("job run insert failed", "jobType", j.Type, "err", err)
			runID = ""
		}
	}

	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Type, rec)
			slog.Error("job panic", "jobType", j.Type, "key", j.Key, "panic", rec)
		}
		status := "completed"
		if err != nil {
			status = "failed"
		}
		slog.Debug("job finished", "jobType", j.Type, "key", j.Key, "status", status, "durationMs", time.Since(started).Milliseconds())
		if runID == "" {
			return
		}
		detailsJSON, marshalErr := json.Marshal(details)
		if marshalErr != nil {
			slog.Warn("job details marshal failed", "err", marshalErr)
			detailsJSON = []byte("{}")
		}
		if updErr := s.recorder.Finished(context.WithoutCancel(ctx), runID, status, detailsJSON); updErr != nil {
			slog.Warn("job run update failed", "err", updErr)
		}
	}()
	return j.Run(ctx)
}
