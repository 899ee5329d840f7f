package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/notify"
	"github.com/hamed0406/uptimebatch/internal/scheduler"
	"github.com/hamed0406/uptimebatch/internal/source"
	"github.com/hamed0406/uptimebatch/internal/state"
)

var (
	ErrNoTargets       = errors.New("engine: no targets to monitor")
	ErrUnknownTarget   = errors.New("engine: unknown target")
	ErrDuplicateTarget = errors.New("engine: target already monitored")
	ErrNoSource        = errors.New("engine: no source endpoint configured")
	ErrClosed          = errors.New("engine: closed")
)

const (
	DefaultHealthInterval   = 5 * time.Minute
	DefaultFailureThreshold = 3
	DefaultRestartDelay     = 2 * time.Second
	DefaultSyncInterval     = 30 * time.Minute
	syncTimeout             = 30 * time.Second
	notifyTimeout           = 10 * time.Second
)

// BatchRunner checks a list of targets and reports each outcome.
type BatchRunner interface {
	Run(ctx context.Context, targets []domain.Target, onResult func(scheduler.Observation)) (domain.RunSummary, error)
}

// Deliverer posts a run summary to its receivers.
type Deliverer interface {
	DispatchAll(ctx context.Context, sum domain.RunSummary, fallback domain.ReceiverConfig) []domain.DeliveryOutcome
}

// TargetSource lists targets maintained elsewhere.
type TargetSource interface {
	Fetch(ctx context.Context, endpoint string) ([]source.Entry, error)
}

// Liveness is the execution host as seen by the health monitor.
type Liveness interface {
	IsAlive() bool
}

type Options struct {
	Logger     *zap.Logger
	Store      *state.Store
	Runner     BatchRunner
	Dispatcher Deliverer
	Source     TargetSource
	Notifier   notify.Notifier
	Host       Liveness
	Now        func() time.Time

	HistoryCap       int
	HealthInterval   time.Duration
	FailureThreshold int
	RestartDelay     time.Duration
	SyncInterval     time.Duration

	// Used only when nothing was persisted yet.
	DefaultReceiver        domain.ReceiverConfig
	DefaultIntervalMinutes int
	DefaultSourceEndpoint  string
}

// Engine owns all monitoring state. Every field below cmds is touched only by
// the control loop in Run; public methods hand closures to it.
type Engine struct {
	opt  Options
	log  *zap.Logger
	now  func() time.Time
	cmds chan func()
	quit chan struct{}
	up   atomic.Bool

	baseCtx context.Context

	targets    []domain.Target
	liveStale  bool
	receiver   domain.ReceiverConfig
	sched      *scheduler.Schedule
	stats      domain.ServiceStats
	last       *domain.RunSummary
	history    []domain.RunSummary
	notes      []domain.Notification
	endpoint   string
	background bool

	running     bool
	batchActive bool
	batchCancel context.CancelFunc
	batchGen    int
	syncActive  bool

	lastHealthAt time.Time
	lastSyncAt   time.Time
	restartGen   int
	restarting   bool
}

func New(opt Options) *Engine {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.HistoryCap <= 0 {
		opt.HistoryCap = domain.DefaultHistoryCap
	}
	if opt.HealthInterval <= 0 {
		opt.HealthInterval = DefaultHealthInterval
	}
	if opt.FailureThreshold <= 0 {
		opt.FailureThreshold = DefaultFailureThreshold
	}
	if opt.RestartDelay < 0 {
		opt.RestartDelay = 0
	} else if opt.RestartDelay == 0 {
		opt.RestartDelay = DefaultRestartDelay
	}
	if opt.SyncInterval <= 0 {
		opt.SyncInterval = DefaultSyncInterval
	}
	if opt.DefaultIntervalMinutes <= 0 {
		opt.DefaultIntervalMinutes = scheduler.DefaultIntervalMinutes
	}
	return &Engine{
		opt:   opt,
		log:   opt.Logger,
		now:   opt.Now,
		cmds:  make(chan func()),
		quit:  make(chan struct{}),
		sched: scheduler.NewSchedule(domain.SchedulerState{IntervalMinutes: opt.DefaultIntervalMinutes}),
	}
}

// Run restores persisted state and drives the engine until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.quit)
	e.baseCtx = ctx

	if err := e.restore(ctx); err != nil {
		return err
	}
	e.up.Store(true)
	defer e.up.Store(false)
	e.log.Info("engine_started",
		zap.Int("targets", len(e.targets)),
		zap.Bool("running", e.running),
		zap.Int("interval_minutes", e.sched.State().IntervalMinutes),
	)

	if e.running {
		e.resume(e.now(), "cold_start")
	}

	for {
		var (
			timer *time.Timer
			wake  <-chan time.Time
		)
		if d, ok := e.untilWake(e.now()); ok {
			timer = time.NewTimer(d)
			wake = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			e.shutdown()
			return nil
		case fn := <-e.cmds:
			fn()
		case <-wake:
			e.onWake(e.now())
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (e *Engine) restore(ctx context.Context) error {
	snap, err := e.opt.Store.Load(ctx)
	if err != nil {
		return err
	}
	now := e.now()

	e.targets = snap.Targets
	e.receiver = snap.Receiver
	if e.receiver == (domain.ReceiverConfig{}) {
		e.receiver = e.opt.DefaultReceiver
	}
	e.endpoint = snap.SourceEndpoint
	if e.endpoint == "" {
		e.endpoint = e.opt.DefaultSourceEndpoint
	}
	e.stats = snap.Stats
	e.last = snap.LastSummary
	e.history = snap.SummaryHistory
	e.notes = snap.Notifications

	interval := snap.IntervalMinutes
	if interval <= 0 {
		interval = e.opt.DefaultIntervalMinutes
	}
	e.sched = scheduler.NewSchedule(domain.SchedulerState{
		IsEnabled:       snap.Enabled && len(e.targets) > 0,
		IntervalMinutes: interval,
		NextRunAt:       snap.NextRunAt,
		LastRunAt:       snap.LastCheckAt,
	})
	if snap.Enabled && snap.NextRunAt == nil && len(e.targets) > 0 {
		e.sched.Enable(now, true)
	}

	if e.sched.Armed() {
		e.running = true
		e.stats.StartedAt = &now
		e.lastHealthAt = now
	}
	return nil
}

// untilWake returns how long the loop may sleep before something is due.
func (e *Engine) untilWake(now time.Time) (time.Duration, bool) {
	var next time.Time
	consider := func(t time.Time) {
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	// a tick that comes due mid-batch still fires so startBatch can skip it
	if st := e.sched.State(); e.sched.Armed() {
		consider(*st.NextRunAt)
	}
	if e.running && !e.restarting {
		consider(e.lastHealthAt.Add(e.opt.HealthInterval))
		if e.endpoint != "" && e.opt.Source != nil && !e.syncActive {
			consider(e.lastSyncAt.Add(e.opt.SyncInterval))
		}
	}
	if next.IsZero() {
		return 0, false
	}
	return max(next.Sub(now), 0), true
}

func (e *Engine) onWake(now time.Time) {
	if e.sched.Due(now) {
		e.tick(now)
	}
	if e.running && !e.restarting && !now.Before(e.lastHealthAt.Add(e.opt.HealthInterval)) {
		e.checkHealth(now)
	}
	if e.running && !e.restarting && e.endpoint != "" && e.opt.Source != nil &&
		!e.syncActive && !now.Before(e.lastSyncAt.Add(e.opt.SyncInterval)) {
		e.startSync(now)
	}
}

func (e *Engine) shutdown() {
	now := e.now()
	if e.batchCancel != nil {
		e.batchCancel()
	}
	if e.running {
		e.accumulateUptime(now)
		e.save(e.opt.Store.SaveStats(e.stats))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.opt.Store.Flush(ctx); err != nil {
		e.log.Warn("engine_flush_failed", zap.Error(err))
	}
	e.log.Info("engine_stopped")
}

// do runs fn on the control loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case e.cmds <- wrapped:
	case <-e.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// post queues fn on the control loop without waiting. Dropped once the loop
// has exited.
func (e *Engine) post(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.quit:
	}
}

func (e *Engine) save(err error) {
	if err != nil {
		e.log.Warn("state_save_failed", zap.Error(err))
	}
}

func (e *Engine) accumulateUptime(now time.Time) {
	if e.stats.StartedAt == nil {
		return
	}
	if d := now.Sub(*e.stats.StartedAt); d > 0 {
		e.stats.TotalUptimeSeconds += int64(d.Seconds())
	}
	e.stats.StartedAt = nil
}

func (e *Engine) persistSchedule() {
	st := e.sched.State()
	e.save(e.opt.Store.SaveEnabled(st.IsEnabled))
	e.save(e.opt.Store.SaveInterval(st.IntervalMinutes))
	e.save(e.opt.Store.SaveNextRunAt(st.NextRunAt))
}

// liveTargets returns the authoritative target list, reloading it from the
// store if background runs wrote there directly.
func (e *Engine) liveTargets() []domain.Target {
	if !e.liveStale {
		return e.targets
	}
	ts, err := e.opt.Store.Targets(e.baseCtx)
	if err != nil {
		e.log.Warn("targets_reload_failed", zap.Error(err))
		return e.targets
	}
	e.targets = ts
	e.liveStale = false
	return e.targets
}
