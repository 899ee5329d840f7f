package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/notify"
	"github.com/hamed0406/uptimebatch/internal/probe"
	"github.com/hamed0406/uptimebatch/internal/repo/memory"
	"github.com/hamed0406/uptimebatch/internal/scheduler"
	"github.com/hamed0406/uptimebatch/internal/source"
	"github.com/hamed0406/uptimebatch/internal/state"
)

// --- fakes ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, targets []domain.Target, on func(scheduler.Observation)) (domain.RunSummary, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	sum := domain.RunSummary{Timestamp: time.Now().UTC()}
	for _, t := range targets {
		ms := int64(5)
		code := 200
		rec := domain.CheckRecord{Timestamp: time.Now().UTC(), Status: domain.StatusActive, ResponseTimeMS: &ms, StatusCode: &code}
		res := domain.TargetResult{TargetID: t.ID, URL: t.URL, Status: domain.StatusActive, StatusCode: 200, ResponseTime: ms}
		on(scheduler.Observation{TargetID: t.ID, Record: rec, Result: res})
		sum.Results = append(sum.Results, res)
	}
	sum.Count()
	return sum, nil
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDeliverer struct {
	mu    sync.Mutex
	kind  domain.DeliveryKind
	calls int
}

func (f *fakeDeliverer) DispatchAll(ctx context.Context, sum domain.RunSummary, fallback domain.ReceiverConfig) []domain.DeliveryOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	kind := f.kind
	if kind == "" {
		kind = domain.DeliveryOK
	}
	return []domain.DeliveryOutcome{{Receiver: fallback.Name, URL: fallback.URL, Kind: kind}}
}

type fakeSource struct {
	entries []source.Entry
	err     error
}

func (f *fakeSource) Fetch(ctx context.Context, endpoint string) ([]source.Entry, error) {
	return f.entries, f.err
}

type fakeHost struct{ alive atomic.Bool }

func (h *fakeHost) IsAlive() bool { return h.alive.Load() }

// --- harness ---

type harness struct {
	e      *Engine
	kv     *memory.Store
	store  *state.Store
	clock  *fakeClock
	runner *fakeRunner
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

func startEngine(t *testing.T, kv *memory.Store, mutate func(*Options)) *harness {
	t.Helper()
	if kv == nil {
		kv = memory.New()
	}
	h := &harness{
		kv:     kv,
		store:  state.New(kv, zap.NewNop(), time.Hour),
		clock:  newClock(),
		runner: &fakeRunner{},
		done:   make(chan error, 1),
	}
	opt := Options{
		Logger:       zap.NewNop(),
		Store:        h.store,
		Runner:       h.runner,
		Dispatcher:   &fakeDeliverer{},
		Now:          h.clock.Now,
		RestartDelay: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opt)
	}
	h.e = New(opt)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.e.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

// runs reads the run counter without touching the live target view.
func (h *harness) runs(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := h.e.do(context.Background(), func() { n = h.e.stats.TotalRuns }); err != nil {
		t.Fatalf("do: %v", err)
	}
	return n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func status(t *testing.T, e *Engine) Status {
	t.Helper()
	st, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return st
}

func addTargets(t *testing.T, e *Engine, urls ...string) []domain.Target {
	t.Helper()
	var out []domain.Target
	for _, u := range urls {
		tg, err := e.AddTarget(context.Background(), u)
		if err != nil {
			t.Fatalf("AddTarget(%s): %v", u, err)
		}
		out = append(out, tg)
	}
	return out
}

// --- tests ---

func TestStart_NoTargets(t *testing.T) {
	h := startEngine(t, nil, nil)
	err := h.e.Start(context.Background(), domain.ReceiverConfig{}, 10)
	if !errors.Is(err, ErrNoTargets) {
		t.Fatalf("want ErrNoTargets, got %v", err)
	}
	if st := status(t, h.e); st.Running || st.Scheduler.IsEnabled {
		t.Fatalf("engine must stay stopped: %+v", st)
	}
}

func TestAddTarget_ValidatesAndDeduplicates(t *testing.T) {
	h := startEngine(t, nil, nil)
	ctx := context.Background()

	if _, err := h.e.AddTarget(ctx, "not a url"); !errors.Is(err, domain.ErrInvalidURL) {
		t.Fatalf("want ErrInvalidURL, got %v", err)
	}
	first, err := h.e.AddTarget(ctx, "HTTPS://Example.com:443/")
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if first.URL != "https://example.com" || first.Status != domain.StatusChecking || first.Origin != domain.OriginManual {
		t.Fatalf("unexpected target: %+v", first)
	}
	if _, err := h.e.AddTarget(ctx, "https://example.com"); !errors.Is(err, ErrDuplicateTarget) {
		t.Fatalf("want ErrDuplicateTarget, got %v", err)
	}
	if err := h.e.RemoveTarget(ctx, "nope"); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("want ErrUnknownTarget, got %v", err)
	}
	if err := h.e.RemoveTarget(ctx, first.ID); err != nil {
		t.Fatalf("RemoveTarget: %v", err)
	}
	ts, _ := h.e.Targets(ctx)
	if len(ts) != 0 {
		t.Fatalf("want no targets, got %+v", ts)
	}
}

func TestEndToEnd_ThreeTargets(t *testing.T) {
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer b.Close()
	release := make(chan struct{})
	c := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer c.Close()
	defer close(release)

	var posts int32
	var got notify.Payload
	var mu sync.Mutex
	recv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(200)
	}))
	defer recv.Close()

	h := startEngine(t, nil, func(o *Options) {
		o.Runner = scheduler.NewRunner(zap.NewNop(), probe.NewHTTPChecker(150*time.Millisecond), 0)
		o.Dispatcher = notify.NewDispatcher(zap.NewNop(), time.Second, "test")
	})
	ctx := context.Background()
	addTargets(t, h.e, a.URL, b.URL, c.URL)

	if err := h.e.Start(ctx, domain.ReceiverConfig{Name: "ops", URL: recv.URL}, 60); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "first run", func() bool {
		st := status(t, h.e)
		return st.LastSummary != nil && !st.BatchActive
	})

	st := status(t, h.e)
	sum := st.LastSummary
	if sum.Total != 3 || sum.Active != 1 || sum.Inactive != 2 || !sum.Delivered {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if n := atomic.LoadInt32(&posts); n != 1 {
		t.Fatalf("want exactly one POST, got %d", n)
	}
	if st.Stats.SuccessfulDeliveries != 1 || st.Stats.FailedDeliveries != 0 || st.Stats.TotalRuns != 1 {
		t.Fatalf("unexpected stats: %+v", st.Stats)
	}
	if st.Stats.ConsecutiveFailures != 0 {
		t.Fatalf("target failures must not count as delivery failures: %+v", st.Stats)
	}

	ts, _ := h.e.Targets(ctx)
	want := map[string]domain.TargetStatus{a.URL: domain.StatusActive, b.URL: domain.StatusInactive, c.URL: domain.StatusInactive}
	for _, tg := range ts {
		if tg.Status != want[tg.URL] {
			t.Fatalf("%s: want %s, got %s", tg.URL, want[tg.URL], tg.Status)
		}
		if len(tg.History) != 1 || tg.LastCheckedAt == nil {
			t.Fatalf("%s: history not recorded: %+v", tg.URL, tg)
		}
		if tg.URL == c.URL && tg.History[0].ErrorKind != domain.ErrorTimeout {
			t.Fatalf("want timeout kind for c, got %+v", tg.History[0])
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Summary.Total != 3 || got.CallbackName != "ops" || len(got.URLs) != 3 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestDeliveryFailureCountsConsecutive(t *testing.T) {
	deliver := &fakeDeliverer{kind: domain.DeliveryRejected}
	h := startEngine(t, nil, func(o *Options) { o.Dispatcher = deliver })
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")
	if err := h.e.SetReceiver(ctx, domain.ReceiverConfig{URL: "https://hook.example"}); err != nil {
		t.Fatalf("SetReceiver: %v", err)
	}

	for i := 1; i <= 2; i++ {
		if ok, err := h.e.RunNow(ctx); err != nil || !ok {
			t.Fatalf("RunNow: %v %v", ok, err)
		}
		eventually(t, "run", func() bool { return status(t, h.e).Stats.TotalRuns == int64(i) && !status(t, h.e).BatchActive })
	}
	st := status(t, h.e)
	if st.Stats.FailedDeliveries != 2 || st.Stats.ConsecutiveFailures != 2 || st.Stats.SuccessfulDeliveries != 0 {
		t.Fatalf("unexpected stats: %+v", st.Stats)
	}

	deliver.mu.Lock()
	deliver.kind = domain.DeliveryOK
	deliver.mu.Unlock()
	_, _ = h.e.RunNow(ctx)
	eventually(t, "run", func() bool { return status(t, h.e).Stats.TotalRuns == 3 && !status(t, h.e).BatchActive })
	if st := status(t, h.e); st.Stats.ConsecutiveFailures != 0 || st.Stats.SuccessfulDeliveries != 1 {
		t.Fatalf("success must reset consecutive failures: %+v", st.Stats)
	}
}

func TestRunNow_SingleBatchAtATime(t *testing.T) {
	h := startEngine(t, nil, nil)
	h.runner.block = make(chan struct{})
	h.runner.started = make(chan struct{}, 2)
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")

	first, err := h.e.RunNow(ctx)
	if err != nil || !first {
		t.Fatalf("first RunNow: %v %v", first, err)
	}
	<-h.runner.started
	second, err := h.e.RunNow(ctx)
	if err != nil || second {
		t.Fatalf("second RunNow must be skipped, got %v %v", second, err)
	}
	close(h.runner.block)

	eventually(t, "run completes", func() bool { return status(t, h.e).Stats.TotalRuns == 1 })
	if h.runner.Calls() != 1 {
		t.Fatalf("want exactly one batch, got %d", h.runner.Calls())
	}
}

func TestTick_DuringBatchIsSkipped(t *testing.T) {
	h := startEngine(t, nil, nil)
	h.runner.block = make(chan struct{})
	h.runner.started = make(chan struct{}, 2)
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")
	if err := h.e.Start(ctx, domain.ReceiverConfig{}, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-h.runner.started

	h.clock.Advance(2 * time.Minute)
	want := h.clock.Now().Add(time.Minute)
	eventually(t, "overdue tick handled", func() bool {
		st := status(t, h.e)
		return st.Scheduler.NextRunAt != nil && st.Scheduler.NextRunAt.Equal(want)
	})
	close(h.runner.block)

	eventually(t, "run completes", func() bool { return h.runs(t) == 1 })
	time.Sleep(30 * time.Millisecond)
	if h.runner.Calls() != 1 {
		t.Fatalf("tick during a batch must be skipped, got %d batches", h.runner.Calls())
	}
	if st := status(t, h.e); st.BatchActive {
		t.Fatalf("no batch should follow the skipped tick")
	}
}

func TestColdStart_MissedRunCatchesUpOnce(t *testing.T) {
	kv := memory.New()
	clock := newClock()
	seed := state.New(kv, zap.NewNop(), time.Hour)
	stale := clock.Now().Add(-2 * time.Hour)
	_ = seed.SaveTargets([]domain.Target{{ID: "t1", URL: "https://a.example", Status: domain.StatusActive}})
	_ = seed.SaveEnabled(true)
	_ = seed.SaveInterval(15)
	_ = seed.SaveNextRunAt(&stale)
	if err := seed.Flush(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h := startEngine(t, kv, func(o *Options) { o.Now = clock.Now })
	eventually(t, "catch-up run", func() bool { return status(t, h.e).Stats.TotalRuns == 1 })

	st := status(t, h.e)
	if !st.Running {
		t.Fatalf("engine should resume running: %+v", st)
	}
	if want := clock.Now().Add(15 * time.Minute); !st.Scheduler.NextRunAt.Equal(want) {
		t.Fatalf("next run must be computed from resume time: got %v want %v", st.Scheduler.NextRunAt, want)
	}
	if st.LastSummary == nil || st.LastSummary.Trigger != domain.TriggerCatchUp {
		t.Fatalf("want catch-up summary, got %+v", st.LastSummary)
	}

	// a resume signal with nothing due must not run again
	h.e.OnResume()
	time.Sleep(30 * time.Millisecond)
	if h.runner.Calls() != 1 {
		t.Fatalf("want exactly one catch-up run, got %d", h.runner.Calls())
	}
}

func TestOnResume_AfterSuspendRunsOnce(t *testing.T) {
	h := startEngine(t, nil, nil)
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")
	if err := h.e.Start(ctx, domain.ReceiverConfig{}, 10); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "first run", func() bool { return status(t, h.e).Stats.TotalRuns == 1 })

	h.clock.Advance(3 * time.Hour)
	h.e.OnResume()
	h.e.OnResume()
	eventually(t, "catch-up", func() bool { return status(t, h.e).Stats.TotalRuns == 2 })
	time.Sleep(30 * time.Millisecond)
	if h.runner.Calls() != 2 {
		t.Fatalf("want one catch-up for a long suspension, got %d runs", h.runner.Calls())
	}
	if st := status(t, h.e); !st.Scheduler.NextRunAt.Equal(h.clock.Now().Add(10 * time.Minute)) {
		t.Fatalf("next run not re-based on resume: %v", st.Scheduler.NextRunAt)
	}
}

func TestSetInterval_IdempotentWhileArmed(t *testing.T) {
	h := startEngine(t, nil, nil)
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")
	if err := h.e.Start(ctx, domain.ReceiverConfig{}, 10); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "first run", func() bool { return status(t, h.e).Stats.TotalRuns == 1 })

	h.clock.Advance(time.Minute)
	_ = h.e.SetInterval(ctx, 5)
	once := *status(t, h.e).Scheduler.NextRunAt
	h.clock.Advance(time.Minute)
	_ = h.e.SetInterval(ctx, 5)
	twice := *status(t, h.e).Scheduler.NextRunAt

	if !once.Equal(twice) {
		t.Fatalf("repeating the interval moved the next run: %v vs %v", once, twice)
	}
	if st := status(t, h.e); st.Scheduler.IntervalMinutes != 5 || st.CountdownSeconds != 4*60 {
		t.Fatalf("unexpected schedule: %+v countdown=%d", st.Scheduler, st.CountdownSeconds)
	}
}

func TestRestart_OnConsecutiveFailures(t *testing.T) {
	var sent int32
	slack := notifierFunc(func(ctx context.Context, title, text string) error {
		atomic.AddInt32(&sent, 1)
		return nil
	})
	h := startEngine(t, nil, func(o *Options) { o.Notifier = slack })
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")
	if err := h.e.Start(ctx, domain.ReceiverConfig{}, 10); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "first run", func() bool { return status(t, h.e).Stats.TotalRuns == 1 })

	_ = h.e.do(ctx, func() { h.e.stats.ConsecutiveFailures = DefaultFailureThreshold })
	if err := h.e.CheckHealth(ctx); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	eventually(t, "restart", func() bool {
		st := status(t, h.e)
		return st.Running && st.Stats.ServiceRestarts == 1
	})

	// healthy again: a second check must not restart
	_ = h.e.CheckHealth(ctx)
	time.Sleep(30 * time.Millisecond)
	st := status(t, h.e)
	if st.Stats.ServiceRestarts != 1 || st.Stats.ConsecutiveFailures != 0 {
		t.Fatalf("want exactly one restart, got %+v", st.Stats)
	}
	notes, _ := h.e.Notifications(ctx)
	if len(notes) != 1 || notes[0].Type != domain.NotifyServiceRestarted {
		t.Fatalf("want a service_restarted notification, got %+v", notes)
	}
	eventually(t, "slack forward", func() bool { return atomic.LoadInt32(&sent) == 1 })
}

func TestRestart_WhenHostNotAlive(t *testing.T) {
	host := &fakeHost{}
	host.alive.Store(true)
	h := startEngine(t, nil, func(o *Options) { o.Host = host })
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")
	_ = h.e.Start(ctx, domain.ReceiverConfig{}, 10)

	_ = h.e.CheckHealth(ctx)
	if st := status(t, h.e); st.Restarting || st.Stats.ServiceRestarts != 0 {
		t.Fatalf("healthy host must not restart: %+v", st)
	}
	host.alive.Store(false)
	_ = h.e.CheckHealth(ctx)
	eventually(t, "restart", func() bool { return status(t, h.e).Stats.ServiceRestarts == 1 })
}

func TestRestart_WhenRunsStale(t *testing.T) {
	h := startEngine(t, nil, nil)
	h.runner.block = make(chan struct{})
	defer close(h.runner.block)
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")
	_ = h.e.Start(ctx, domain.ReceiverConfig{}, 10)

	h.clock.Advance(19 * time.Minute)
	_ = h.e.CheckHealth(ctx)
	if status(t, h.e).Restarting {
		t.Fatalf("within 2x interval must be healthy")
	}
	h.clock.Advance(2 * time.Minute)
	_ = h.e.CheckHealth(ctx)
	eventually(t, "stale restart", func() bool { return status(t, h.e).Stats.ServiceRestarts == 1 })
}

func TestSync_NewURLAddsTargetAndNotifies(t *testing.T) {
	src := &fakeSource{entries: []source.Entry{
		{ID: "1", URL: "https://a.example"},
		{ID: "2", URL: "https://new.example", CallbackName: "team"},
	}}
	h := startEngine(t, nil, func(o *Options) { o.Source = src })
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")
	if err := h.e.SetSourceEndpoint(ctx, "https://src.example/urls"); err != nil {
		t.Fatalf("SetSourceEndpoint: %v", err)
	}

	ch, err := h.e.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(ch.Added) != 1 {
		t.Fatalf("want one added target, got %+v", ch)
	}
	ts, _ := h.e.Targets(ctx)
	if len(ts) != 2 {
		t.Fatalf("want 2 targets, got %d", len(ts))
	}
	notes, _ := h.e.Notifications(ctx)
	if len(notes) != 1 || notes[0].Type != domain.NotifyNewURLs {
		t.Fatalf("want new_urls notification, got %+v", notes)
	}

	// same source again: nothing changes, nothing is raised
	if _, err := h.e.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if notes, _ := h.e.Notifications(ctx); len(notes) != 1 {
		t.Fatalf("no-op sync raised a notification: %+v", notes)
	}
}

func TestSync_FailureRaisesSyncFailed(t *testing.T) {
	h := startEngine(t, nil, func(o *Options) { o.Source = &fakeSource{err: errors.New("503")} })
	ctx := context.Background()
	_ = h.e.SetSourceEndpoint(ctx, "https://src.example/urls")

	if _, err := h.e.Sync(ctx); err == nil {
		t.Fatalf("want fetch error")
	}
	notes, _ := h.e.Notifications(ctx)
	if len(notes) != 1 || notes[0].Type != domain.NotifySyncFailed {
		t.Fatalf("want sync_failed notification, got %+v", notes)
	}
}

func TestSync_WithoutEndpoint(t *testing.T) {
	h := startEngine(t, nil, func(o *Options) { o.Source = &fakeSource{} })
	if _, err := h.e.Sync(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("want ErrNoSource, got %v", err)
	}
	if err := h.e.SetSourceEndpoint(context.Background(), "nope"); !errors.Is(err, domain.ErrInvalidURL) {
		t.Fatalf("want ErrInvalidURL, got %v", err)
	}
}

func TestBackgroundRun_WritesPersistedList(t *testing.T) {
	h := startEngine(t, nil, nil)
	ctx := context.Background()
	tg := addTargets(t, h.e, "https://a.example")[0]
	_ = h.e.SetBackground(ctx, true)

	if ok, _ := h.e.RunNow(ctx); !ok {
		t.Fatalf("RunNow not started")
	}
	eventually(t, "background run", func() bool { return h.runs(t) == 1 })

	var (
		live  domain.TargetStatus
		stale bool
	)
	_ = h.e.do(ctx, func() { live, stale = h.e.targets[0].Status, h.e.liveStale })
	if live != domain.StatusChecking || !stale {
		t.Fatalf("live view must not be touched in background, got %s stale=%v", live, stale)
	}
	persisted, _ := h.store.Targets(ctx)
	if persisted[0].Status != domain.StatusActive {
		t.Fatalf("persisted list not updated: %+v", persisted[0])
	}

	ts, _ := h.e.Targets(ctx)
	if ts[0].ID != tg.ID || ts[0].Status != domain.StatusActive || len(ts[0].History) != 1 {
		t.Fatalf("live view must reload on read, got %+v", ts[0])
	}
	st := status(t, h.e)
	if st.Stats.BackgroundRuns != 1 || !st.LastSummary.IsBackground {
		t.Fatalf("background run not counted: %+v", st.Stats)
	}

	_ = h.e.SetBackground(ctx, false)
	_, _ = h.e.RunNow(ctx)
	eventually(t, "foreground run", func() bool { return status(t, h.e).Stats.TotalRuns == 2 })
	if st := status(t, h.e); st.Stats.BackgroundRuns != 1 {
		t.Fatalf("foreground runs must not bump the background counter: %+v", st.Stats)
	}
}

func TestStop_KeepsStatsAndDisarms(t *testing.T) {
	h := startEngine(t, nil, nil)
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")
	_ = h.e.Start(ctx, domain.ReceiverConfig{}, 10)
	eventually(t, "first run", func() bool { return status(t, h.e).Stats.TotalRuns == 1 })

	h.clock.Advance(90 * time.Second)
	if err := h.e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st := status(t, h.e)
	if st.Running || st.Scheduler.IsEnabled || st.Scheduler.NextRunAt != nil || st.CountdownSeconds != 0 {
		t.Fatalf("schedule still armed: %+v", st)
	}
	if st.Stats.TotalRuns != 1 || st.Stats.TotalUptimeSeconds != 90 || st.Stats.StartedAt != nil {
		t.Fatalf("stats not kept: %+v", st.Stats)
	}
}

func TestShutdownFlushesAndColdStartRestores(t *testing.T) {
	kv := memory.New()
	h := startEngine(t, kv, nil)
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example", "https://b.example")
	_ = h.e.SetReceiver(ctx, domain.ReceiverConfig{Name: "cb", URL: "https://hook.example"})
	_ = h.e.Start(ctx, domain.ReceiverConfig{}, 20)
	eventually(t, "first run", func() bool { return status(t, h.e).Stats.TotalRuns == 1 })
	h.stop()

	if kv.Puts() == 0 {
		t.Fatalf("shutdown must flush pending state")
	}

	h2 := startEngine(t, kv, nil)
	st := status(t, h2.e)
	if !st.Running || st.Targets != 2 || st.Receiver.Name != "cb" || st.Scheduler.IntervalMinutes != 20 {
		t.Fatalf("state not restored: %+v", st)
	}
	if st.Stats.TotalRuns != 1 || st.LastSummary == nil {
		t.Fatalf("stats/summary not restored: %+v", st)
	}
	sums, _ := h2.e.Summaries(ctx)
	if len(sums) != 1 {
		t.Fatalf("want one summary in history, got %d", len(sums))
	}
}

func TestClearAll(t *testing.T) {
	h := startEngine(t, nil, nil)
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")
	_ = h.e.Start(ctx, domain.ReceiverConfig{}, 10)
	eventually(t, "first run", func() bool { return status(t, h.e).Stats.TotalRuns == 1 })

	if err := h.e.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	st := status(t, h.e)
	if st.Running || st.Targets != 0 || st.Stats.TotalRuns != 0 || st.LastSummary != nil {
		t.Fatalf("state not cleared: %+v", st)
	}
	snap, _ := h.store.Load(ctx)
	if len(snap.Targets) != 0 || snap.Stats.TotalRuns != 0 {
		t.Fatalf("store not cleared: %+v", snap)
	}
}

func TestClearAll_DropsRunInFlight(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := startEngine(t, nil, func(o *Options) { o.Logger = zap.New(core) })
	h.runner.block = make(chan struct{})
	h.runner.started = make(chan struct{}, 1)
	ctx := context.Background()
	addTargets(t, h.e, "https://a.example")
	if err := h.e.Start(ctx, domain.ReceiverConfig{}, 10); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-h.runner.started

	if err := h.e.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	close(h.runner.block)
	eventually(t, "run dropped", func() bool { return logs.FilterMessage("run_discarded").Len() == 1 })

	st := status(t, h.e)
	if st.Stats.TotalRuns != 0 || st.LastSummary != nil || st.BatchActive {
		t.Fatalf("cleared state refilled by old run: %+v", st)
	}
	sums, err := h.e.Summaries(ctx)
	if err != nil || len(sums) != 0 {
		t.Fatalf("Summaries = %d, %v", len(sums), err)
	}
	snap, _ := h.store.Load(ctx)
	if snap.Stats.TotalRuns != 0 || snap.LastSummary != nil || len(snap.SummaryHistory) != 0 {
		t.Fatalf("store refilled by old run: %+v", snap)
	}
}

func TestIsAlive(t *testing.T) {
	h := startEngine(t, nil, nil)
	eventually(t, "alive", h.e.IsAlive)
	h.stop()
	if h.e.IsAlive() {
		t.Fatalf("stopped engine reported alive")
	}
}

type notifierFunc func(ctx context.Context, title, text string) error

func (f notifierFunc) Send(ctx context.Context, title, text string) error { return f(ctx, title, text) }
