package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/scheduler"
)

// tick is a scheduler-triggered run: NextRunAt moves first and is persisted
// before any probe goes out.
func (e *Engine) tick(now time.Time) {
	e.sched.Tick(now)
	e.persistSchedule()
	e.startBatch(now, domain.TriggerScheduled)
}

// resume handles regained control (host resume or cold start). At most one
// catch-up run is started, and the next run is computed from now.
func (e *Engine) resume(now time.Time, why string) {
	if !e.running {
		return
	}
	// the health window restarts with the host
	e.lastHealthAt = now
	if !e.sched.Resume(now) {
		e.log.Debug("resume_nothing_due", zap.String("reason", why))
		return
	}
	e.log.Info("resume_catch_up", zap.String("reason", why))
	e.persistSchedule()
	e.startBatch(now, domain.TriggerCatchUp)
}

// startBatch launches one run unless another is still active. It reports
// whether a run was started.
func (e *Engine) startBatch(now time.Time, trigger domain.RunTrigger) bool {
	if e.batchActive {
		e.log.Info("run_skipped_busy", zap.String("trigger", string(trigger)))
		return false
	}
	targets := e.liveTargets()
	if len(targets) == 0 {
		e.log.Info("run_skipped_no_targets", zap.String("trigger", string(trigger)))
		return false
	}

	batch := make([]domain.Target, len(targets))
	for i, t := range targets {
		batch[i] = t.Clone()
	}
	bg := e.background
	receiver := e.receiver
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.batchGen++
	gen := e.batchGen
	e.batchActive = true
	e.batchCancel = cancel
	e.save(e.opt.Store.SaveLastCheckAt(now))

	go func() {
		defer cancel()
		sum, err := e.opt.Runner.Run(ctx, batch, func(o scheduler.Observation) {
			e.post(func() { e.applyObservation(gen, o, bg) })
		})
		sum.Trigger = trigger
		sum.IsBackground = bg

		var outs []domain.DeliveryOutcome
		if err == nil {
			// delivery of a finished run is not interrupted by Stop
			outs = e.opt.Dispatcher.DispatchAll(context.WithoutCancel(ctx), sum, receiver)
		}
		e.post(func() { e.finishBatch(gen, sum, outs, err) })
	}()
	return true
}

func (e *Engine) applyObservation(gen int, o scheduler.Observation, bg bool) {
	if gen != e.batchGen {
		return
	}
	if !bg {
		for i := range e.liveTargets() {
			if e.targets[i].ID == o.TargetID {
				e.targets[i].Record(o.Record, e.opt.HistoryCap)
				e.save(e.opt.Store.SaveTargets(e.targets))
				return
			}
		}
		return
	}

	// Backgrounded: write to the persisted list only; the live view picks
	// it up on its next read.
	ts, err := e.opt.Store.Targets(e.baseCtx)
	if err != nil {
		e.log.Warn("background_apply_failed", zap.Error(err))
		return
	}
	for i := range ts {
		if ts[i].ID == o.TargetID {
			ts[i].Record(o.Record, e.opt.HistoryCap)
			e.save(e.opt.Store.SaveTargets(ts))
			e.liveStale = true
			return
		}
	}
}

// finishBatch records a completed run. Results of a batch abandoned by
// ClearAll are dropped.
func (e *Engine) finishBatch(gen int, sum domain.RunSummary, outs []domain.DeliveryOutcome, err error) {
	if gen != e.batchGen {
		e.log.Info("run_discarded", zap.Int("checked", sum.Total))
		return
	}
	e.batchActive = false
	e.batchCancel = nil
	now := e.now()

	if err != nil {
		e.log.Info("run_cancelled", zap.Int("checked", sum.Total), zap.Error(err))
		return
	}

	e.stats.TotalRuns++
	if sum.IsBackground {
		e.stats.BackgroundRuns++
	}
	failed := false
	for _, o := range outs {
		if !o.Attempted() {
			continue
		}
		if o.OK() {
			e.stats.SuccessfulDeliveries++
			e.stats.ConsecutiveFailures = 0
			sum.Delivered = true
		} else {
			e.stats.FailedDeliveries++
			e.stats.ConsecutiveFailures++
			failed = true
		}
	}
	if !failed {
		e.stats.LastSuccessfulRunAt = &now
	}
	sum.Deliveries = outs

	e.last = &sum
	e.history = domain.AppendSummary(e.history, sum)
	e.save(e.opt.Store.SaveSummary(sum, e.history))
	e.save(e.opt.Store.SaveStats(e.stats))

	e.log.Info("run_completed",
		zap.String("trigger", string(sum.Trigger)),
		zap.Int("total", sum.Total),
		zap.Int("active", sum.Active),
		zap.Int("inactive", sum.Inactive),
		zap.Bool("delivered", sum.Delivered),
		zap.Int("consecutive_failures", e.stats.ConsecutiveFailures),
	)
}
