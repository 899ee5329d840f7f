package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/notify"
	"github.com/hamed0406/uptimebatch/internal/source"
)

// start arms the loop. A zero receiver or interval keeps the current one.
func (e *Engine) start(now time.Time, receiver domain.ReceiverConfig, intervalMinutes int) error {
	if len(e.liveTargets()) == 0 {
		return ErrNoTargets
	}
	if receiver != (domain.ReceiverConfig{}) {
		e.receiver = receiver
		e.save(e.opt.Store.SaveReceiver(receiver))
	}
	if intervalMinutes > 0 {
		e.sched.SetInterval(now, intervalMinutes)
	}
	if e.running {
		e.persistSchedule()
		return nil
	}
	if !e.sched.Enable(now, true) {
		return ErrNoTargets
	}

	e.running = true
	e.stats.StartedAt = &now
	e.stats.ConsecutiveFailures = 0
	e.lastHealthAt = now
	e.lastSyncAt = time.Time{}
	e.persistSchedule()
	e.save(e.opt.Store.SaveStats(e.stats))

	e.log.Info("service_started",
		zap.Int("targets", len(e.targets)),
		zap.Int("interval_minutes", e.sched.State().IntervalMinutes),
		zap.Bool("receiver_enabled", e.receiver.Enabled()),
	)
	return nil
}

func (e *Engine) stop(now time.Time) {
	e.restarting = false
	if !e.running {
		return
	}
	e.running = false
	e.sched.Disable()
	if e.batchCancel != nil {
		e.batchCancel()
	}
	e.accumulateUptime(now)
	e.persistSchedule()
	e.save(e.opt.Store.SaveStats(e.stats))
	e.log.Info("service_stopped", zap.Int64("total_uptime_seconds", e.stats.TotalUptimeSeconds))
}

// checkHealth trips a restart when the loop is dead, runs went stale or
// deliveries keep failing.
func (e *Engine) checkHealth(now time.Time) {
	if !e.running || e.restarting {
		return
	}
	e.lastHealthAt = now

	var reason string
	switch {
	case e.opt.Host != nil && !e.opt.Host.IsAlive(), !e.sched.Armed():
		reason = "loop_not_alive"
	case e.stats.ConsecutiveFailures >= e.opt.FailureThreshold:
		reason = "delivery_failures"
	default:
		ref := e.stats.LastSuccessfulRunAt
		if ref == nil || (e.stats.StartedAt != nil && ref.Before(*e.stats.StartedAt)) {
			ref = e.stats.StartedAt
		}
		if ref != nil && now.Sub(*ref) > 2*e.sched.Interval() {
			reason = "runs_stale"
		}
	}
	if reason == "" {
		e.log.Debug("health_ok")
		return
	}
	e.restart(now, reason)
}

// restart is the only self-healing action: stop, wait, start once.
func (e *Engine) restart(now time.Time, reason string) {
	e.log.Warn("service_degraded",
		zap.String("reason", reason),
		zap.Int("consecutive_failures", e.stats.ConsecutiveFailures),
	)
	e.stop(now)
	e.restarting = true
	e.restartGen++
	gen := e.restartGen

	time.AfterFunc(e.opt.RestartDelay, func() {
		e.post(func() { e.finishRestart(gen, reason) })
	})
}

func (e *Engine) finishRestart(gen int, reason string) {
	if !e.restarting || gen != e.restartGen {
		return
	}
	e.restarting = false
	now := e.now()
	if err := e.start(now, domain.ReceiverConfig{}, 0); err != nil {
		e.log.Error("service_restart_failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	e.stats.ServiceRestarts++
	e.save(e.opt.Store.SaveStats(e.stats))
	e.raise(domain.NotifyServiceRestarted,
		fmt.Sprintf("monitoring restarted (%s)", reason),
		map[string]any{"reason": reason, "service_restarts": e.stats.ServiceRestarts})
}

func (e *Engine) startSync(now time.Time) {
	e.syncActive = true
	e.lastSyncAt = now
	endpoint := e.endpoint
	go func() {
		ctx, cancel := context.WithTimeout(e.baseCtx, syncTimeout)
		defer cancel()
		entries, err := e.opt.Source.Fetch(ctx, endpoint)
		e.post(func() {
			e.syncActive = false
			e.reconcile(entries, err)
		})
	}()
}

type changeData struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

func urlsOf(ts []domain.Target) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.URL)
	}
	return out
}

// reconcile merges a source fetch into the target list.
func (e *Engine) reconcile(entries []source.Entry, err error) source.Change {
	if err != nil {
		e.log.Warn("source_sync_failed", zap.String("endpoint", e.endpoint), zap.Error(err))
		e.raise(domain.NotifySyncFailed, "target sync failed: "+err.Error(),
			map[string]any{"endpoint": e.endpoint})
		return source.Change{}
	}
	ch := source.Diff(e.liveTargets(), entries, e.now())
	if ch.Empty() {
		e.log.Debug("source_in_sync", zap.Int("entries", len(entries)))
		return ch
	}
	e.targets = ch.Merged
	e.save(e.opt.Store.SaveTargets(e.targets))

	e.log.Info("source_synced",
		zap.Int("added", len(ch.Added)),
		zap.Int("removed", len(ch.Removed)),
		zap.Int("modified", len(ch.Modified)),
	)
	e.raise(domain.NotifyNewURLs,
		fmt.Sprintf("%d added, %d removed, %d modified", len(ch.Added), len(ch.Removed), len(ch.Modified)),
		changeData{Added: urlsOf(ch.Added), Removed: urlsOf(ch.Removed), Modified: urlsOf(ch.Modified)})
	return ch
}

// raise queues a notification and forwards it to the chat notifier if any.
func (e *Engine) raise(typ domain.NotificationType, msg string, data any) {
	note := domain.Notification{Type: typ, Message: msg, CreatedAt: e.now().UTC()}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			note.Data = b
		}
	}
	e.notes = domain.PushNotification(e.notes, note)
	e.save(e.opt.Store.SaveNotifications(e.notes))

	if e.opt.Notifier == nil {
		return
	}
	n := e.opt.Notifier
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := notify.Announce(ctx, n, note); err != nil {
			e.log.Warn("notification_forward_failed", zap.String("type", string(typ)), zap.Error(err))
		}
	}()
}
