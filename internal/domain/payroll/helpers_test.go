package payroll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"paycore/internal/domain/contributions"
	"paycore/internal/platform/events"
	"paycore/internal/platform/lock"
)

var (
	officer  = Actor{ID: "u-officer", Role: "payroll_officer"}
	manager  = Actor{ID: "u-manager", Role: "payroll_manager"}
	director = Actor{ID: "u-director", Role: "finance_director"}
	admin    = Actor{ID: "u-admin", Role: "payroll_admin"}
)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type queuedJob struct {
	jobType string
	key     string
	run     func(context.Context) (any, error)
}

// manualJobs queues work until the test drains it.
type manualJobs struct {
	mu   sync.Mutex
	jobs []queuedJob
	err  error
}

func (q *manualJobs) Enqueue(jobType, key string, run func(context.Context) (any, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, queuedJob{jobType: jobType, key: key, run: run})
	return nil
}

func (q *manualJobs) pending(jobType string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, job := range q.jobs {
		if job.jobType == jobType {
			n++
		}
	}
	return n
}

func (q *manualJobs) next() (queuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return queuedJob{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

// drain runs every queued job, including jobs queued while draining.
func (q *manualJobs) drain(t *testing.T) {
	t.Helper()
	for {
		job, ok := q.next()
		if !ok {
			return
		}
		if _, err := job.run(context.Background()); err != nil {
			t.Logf("%s job %s: %v", job.jobType, job.key, err)
		}
	}
}

type recordingAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *recordingAlerter) Alert(_ context.Context, subject, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
	return nil
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subjects)
}

type countingObserver struct {
	mu       sync.Mutex
	started  int
	finished map[string]int
	lines    map[string]int
}

func (o *countingObserver) RunStarted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) RunFinished(_, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished == nil {
		o.finished = make(map[string]int)
	}
	o.finished[status]++
}

func (o *countingObserver) LineComputed(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lines == nil {
		o.lines = make(map[string]int)
	}
	o.lines[status]++
}

type harness struct {
	svc      *Service
	store    *MemoryStore
	dir      *StaticDirectory
	jobs     *manualJobs
	events   *events.Recorder
	locks    *lock.Memory
	clock    *testClock
	alerts   *recordingAlerter
	observer *countingObserver
}

type harnessOption func(*Deps, *Options)

func withTables(registry *contributions.Registry) harnessOption {
	return func(d *Deps, _ *Options) { d.Tables = registry }
}

func withDirectory(dir Directory) harnessOption {
	return func(d *Deps, _ *Options) { d.Directory = dir }
}

func withOptions(mutate func(*Options)) harnessOption {
	return func(_ *Deps, o *Options) { mutate(o) }
}

func newHarness(t *testing.T, inputs []EmployeeInput, options ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:    NewMemoryStore(),
		dir:      NewStaticDirectory(inputs...),
		jobs:     &manualJobs{},
		events:   &events.Recorder{},
		locks:    lock.NewMemory(),
		clock:    &testClock{now: time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)},
		alerts:   &recordingAlerter{},
		observer: &countingObserver{},
	}
	deps := Deps{
		Store:     h.store,
		Directory: h.dir,
		Locker:    h.locks,
		Jobs:      h.jobs,
		Events:    h.events,
		Alerts:    h.alerts,
		Observer:  h.observer,
		Clock:     h.clock,
	}
	opts := DefaultOptions()
	opts.Workers = 2
	opts.PayslipDir = t.TempDir()
	for _, option := range options {
		option(&deps, &opts)
	}
	h.svc = New(deps, opts)
	return h
}

func employee(id string, basic string) EmployeeInput {
	return EmployeeInput{
		EmployeeID:  id,
		Name:        "Employee " + id,
		BasicSalary: dec(basic),
	}
}

func monthlyPeriod(year int, month time.Month) PeriodInput {
	start := date(year, month, 1)
	end := start.AddDate(0, 1, -1)
	return PeriodInput{
		Type:       PeriodMonthly,
		StartDate:  start,
		EndDate:    end,
		CutoffDate: end.AddDate(0, 0, -5),
		PayDate:    end.AddDate(0, 0, 5),
	}
}

func (h *harness) createPeriod(t *testing.T, in PeriodInput) Period {
	t.Helper()
	period, err := h.svc.Periods.CreatePeriod(context.Background(), in, officer)
	if err != nil {
		t.Fatalf("create period: %v", err)
	}
	return period
}

// calculate starts a run of the given type, drains the queue and returns
// the finished calculation.
func (h *harness) calculate(t *testing.T, periodID string, calcType CalculationType) CalculationDetail {
	t.Helper()
	ctx := context.Background()
	calc, err := h.svc.Periods.StartCalculation(ctx, periodID, calcType, officer)
	if err != nil {
		t.Fatalf("start calculation: %v", err)
	}
	h.jobs.drain(t)
	detail, err := h.svc.Periods.GetCalculation(ctx, calc.ID)
	if err != nil {
		t.Fatalf("get calculation: %v", err)
	}
	return detail
}

func (h *harness) period(t *testing.T, periodID string) Period {
	t.Helper()
	period, err := h.svc.Periods.GetPeriod(context.Background(), periodID)
	if err != nil {
		t.Fatalf("get period: %v", err)
	}
	return period
}

func (h *harness) addAdjustment(t *testing.T, req AdjustmentRequest, approve bool) Adjustment {
	t.Helper()
	ctx := context.Background()
	adj, err := h.svc.Ledger.Store(ctx, req, officer)
	if err != nil {
		t.Fatalf("store adjustment: %v", err)
	}
	if !approve {
		return adj
	}
	adj, err = h.svc.Ledger.Approve(ctx, adj.ID, manager, "ok")
	if err != nil {
		t.Fatalf("approve adjustment: %v", err)
	}
	return adj
}

// approveAll submits the period and signs off every default step.
func (h *harness) approveAll(t *testing.T, periodID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.svc.Periods.SubmitForReview(ctx, periodID, officer); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for i, actor := range []Actor{officer, manager, director} {
		if _, err := h.svc.Approvals.ApproveStep(ctx, periodID, i+1, actor, "", false); err != nil {
			t.Fatalf("approve step %d: %v", i+1, err)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}
