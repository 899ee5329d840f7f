package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/scheduler"
	"github.com/hamed0406/uptimebatch/internal/source"
)

// Status is a point-in-time view of the engine.
type Status struct {
	Running          bool                  `json:"running"`
	Restarting       bool                  `json:"restarting"`
	BatchActive      bool                  `json:"batch_active"`
	Background       bool                  `json:"background"`
	Scheduler        domain.SchedulerState `json:"scheduler"`
	CountdownSeconds int64                 `json:"countdown_seconds"`
	Receiver         domain.ReceiverConfig `json:"receiver"`
	ReceiverEnabled  bool                  `json:"receiver_enabled"`
	SourceEndpoint   string                `json:"source_endpoint,omitempty"`
	Targets          int                   `json:"targets"`
	Stats            domain.ServiceStats   `json:"stats"`
	LastSummary      *domain.RunSummary    `json:"last_summary,omitempty"`
}

// Start arms monitoring over the current target list. A zero receiver or
// interval keeps what is configured. Fails with ErrNoTargets when empty.
func (e *Engine) Start(ctx context.Context, receiver domain.ReceiverConfig, intervalMinutes int) error {
	var err error
	if derr := e.do(ctx, func() { err = e.start(e.now(), receiver, intervalMinutes) }); derr != nil {
		return derr
	}
	return err
}

// Stop disarms monitoring. A probe in flight finishes; counters are kept.
func (e *Engine) Stop(ctx context.Context) error {
	return e.do(ctx, func() { e.stop(e.now()) })
}

// RunNow starts a manual run. It reports false when a run is already active
// or there is nothing to check. The schedule is not moved.
func (e *Engine) RunNow(ctx context.Context) (bool, error) {
	var started bool
	err := e.do(ctx, func() { started = e.startBatch(e.now(), domain.TriggerManual) })
	return started, err
}

// AddTarget validates, normalizes and appends a manual target.
func (e *Engine) AddTarget(ctx context.Context, rawURL string) (domain.Target, error) {
	if !domain.ValidHTTPURL(rawURL) {
		return domain.Target{}, domain.ErrInvalidURL
	}
	url := domain.NormalizeHTTPURL(rawURL)

	var (
		out domain.Target
		err error
	)
	derr := e.do(ctx, func() {
		for _, t := range e.liveTargets() {
			if t.URL == url {
				out, err = t.Clone(), ErrDuplicateTarget
				return
			}
		}
		out = domain.Target{
			ID:        domain.TargetID(uuid.NewString()),
			URL:       url,
			Status:    domain.StatusChecking,
			History:   []domain.CheckRecord{},
			CreatedAt: e.now().UTC(),
			Origin:    domain.OriginManual,
		}
		e.targets = append(e.targets, out)
		e.save(e.opt.Store.SaveTargets(e.targets))
		e.log.Info("target_added", zap.String("target_id", string(out.ID)), zap.String("url", url))
	})
	if derr != nil {
		return domain.Target{}, derr
	}
	return out, err
}

func (e *Engine) RemoveTarget(ctx context.Context, id domain.TargetID) error {
	err := ErrUnknownTarget
	derr := e.do(ctx, func() {
		ts := e.liveTargets()
		for i, t := range ts {
			if t.ID != id {
				continue
			}
			e.targets = append(ts[:i:i], ts[i+1:]...)
			e.save(e.opt.Store.SaveTargets(e.targets))
			e.log.Info("target_removed", zap.String("target_id", string(id)), zap.String("url", t.URL))
			err = nil
			return
		}
	})
	if derr != nil {
		return derr
	}
	return err
}

// Targets returns copies of all targets.
func (e *Engine) Targets(ctx context.Context) ([]domain.Target, error) {
	var out []domain.Target
	err := e.do(ctx, func() {
		ts := e.liveTargets()
		out = make([]domain.Target, len(ts))
		for i, t := range ts {
			out[i] = t.Clone()
		}
	})
	return out, err
}

// SetReceiver stores the receiver as given. An invalid URL is kept and
// simply disables dispatch.
func (e *Engine) SetReceiver(ctx context.Context, r domain.ReceiverConfig) error {
	return e.do(ctx, func() {
		e.receiver = r
		e.save(e.opt.Store.SaveReceiver(r))
		if !r.Enabled() {
			e.log.Warn("receiver_disabled", zap.String("name", r.Name))
		}
	})
}

// SetInterval changes the cadence; while running the next run is re-armed
// from now. Repeating the current value changes nothing.
func (e *Engine) SetInterval(ctx context.Context, minutes int) error {
	return e.do(ctx, func() {
		if e.sched.SetInterval(e.now(), minutes) {
			e.persistSchedule()
			e.log.Info("interval_changed", zap.Int("interval_minutes", e.sched.State().IntervalMinutes))
		}
	})
}

// SetSourceEndpoint configures the external target source; empty disables
// reconciliation.
func (e *Engine) SetSourceEndpoint(ctx context.Context, endpoint string) error {
	if endpoint != "" && !domain.ValidHTTPURL(endpoint) {
		return domain.ErrInvalidURL
	}
	return e.do(ctx, func() {
		e.endpoint = endpoint
		e.lastSyncAt = time.Time{}
		e.save(e.opt.Store.SaveSourceEndpoint(endpoint))
	})
}

// Sync reconciles against the source right away.
func (e *Engine) Sync(ctx context.Context) (source.Change, error) {
	var endpoint string
	if err := e.do(ctx, func() { endpoint = e.endpoint }); err != nil {
		return source.Change{}, err
	}
	if endpoint == "" || e.opt.Source == nil {
		return source.Change{}, ErrNoSource
	}
	entries, fetchErr := e.opt.Source.Fetch(ctx, endpoint)

	var ch source.Change
	if err := e.do(ctx, func() {
		e.lastSyncAt = e.now()
		ch = e.reconcile(entries, fetchErr)
	}); err != nil {
		return source.Change{}, err
	}
	return ch, fetchErr
}

// CheckHealth runs the health monitor immediately.
func (e *Engine) CheckHealth(ctx context.Context) error {
	return e.do(ctx, func() { e.checkHealth(e.now()) })
}

func (e *Engine) Notifications(ctx context.Context) ([]domain.Notification, error) {
	var out []domain.Notification
	err := e.do(ctx, func() { out = append([]domain.Notification(nil), e.notes...) })
	return out, err
}

// Summaries returns the retained run summaries, oldest first.
func (e *Engine) Summaries(ctx context.Context) ([]domain.RunSummary, error) {
	var out []domain.RunSummary
	err := e.do(ctx, func() { out = append([]domain.RunSummary(nil), e.history...) })
	return out, err
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.do(ctx, func() {
		now := e.now()
		stats := e.stats
		if stats.StartedAt != nil {
			stats.TotalUptimeSeconds += int64(now.Sub(*stats.StartedAt).Seconds())
		}
		st = Status{
			Running:          e.running,
			Restarting:       e.restarting,
			BatchActive:      e.batchActive,
			Background:       e.background,
			Scheduler:        e.sched.State(),
			CountdownSeconds: int64(e.sched.Countdown(now).Seconds()),
			Receiver:         e.receiver,
			ReceiverEnabled:  e.receiver.Enabled(),
			SourceEndpoint:   e.endpoint,
			Targets:          len(e.liveTargets()),
			Stats:            stats,
		}
		if e.last != nil {
			l := *e.last
			st.LastSummary = &l
		}
	})
	return st, err
}

// ClearAll stops monitoring and wipes every persisted key, counters included.
func (e *Engine) ClearAll(ctx context.Context) error {
	var err error
	derr := e.do(ctx, func() {
		e.stop(e.now())
		if e.batchCancel != nil {
			e.batchCancel()
		}
		e.batchGen++
		e.batchActive = false
		e.batchCancel = nil
		e.targets = nil
		e.liveStale = false
		e.receiver = e.opt.DefaultReceiver
		e.endpoint = e.opt.DefaultSourceEndpoint
		e.stats = domain.ServiceStats{}
		e.last = nil
		e.history = nil
		e.notes = nil
		e.sched = scheduler.NewSchedule(domain.SchedulerState{IntervalMinutes: e.opt.DefaultIntervalMinutes})
		err = e.opt.Store.Clear(e.baseCtx)
		e.log.Info("state_cleared")
	})
	if derr != nil {
		return derr
	}
	return err
}

// SetBackground tells the engine whether it runs unobserved. Runs started
// while backgrounded write straight to the persisted target list.
func (e *Engine) SetBackground(ctx context.Context, on bool) error {
	return e.do(ctx, func() { e.background = on })
}

// OnResume is called by the host when control returns after a suspension.
func (e *Engine) OnResume() {
	e.post(func() { e.resume(e.now(), "host_resume") })
}

// OnSuspend flushes pending writes before the host freezes the process.
func (e *Engine) OnSuspend() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.opt.Store.Flush(ctx); err != nil {
		e.log.Warn("suspend_flush_failed", zap.Error(err))
		return
	}
	e.log.Info("suspend_flushed")
}

// IsAlive reports whether the control loop runs and, when monitoring is on,
// the schedule is armed.
func (e *Engine) IsAlive() bool {
	if !e.up.Load() {
		return false
	}
	var ok bool
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.do(ctx, func() { ok = !e.running || e.sched.Armed() }); err != nil {
		return false
	}
	return ok
}
