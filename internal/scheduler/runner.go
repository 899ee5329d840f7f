package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/probe"
)

const DefaultMaxDelay = 30 * time.Second

// Observation is one probed target, reported as soon as it is known.
type Observation struct {
	TargetID domain.TargetID
	Record   domain.CheckRecord
	Result   domain.TargetResult
}

// Runner checks a batch of targets one after another.
type Runner struct {
	Logger   *zap.Logger
	Checker  probe.Checker
	MaxDelay time.Duration

	// Jitter returns the pause before a target; defaults to uniform [0, limit).
	Jitter func(limit time.Duration) time.Duration
	Now    func() time.Time
}

func NewRunner(logger *zap.Logger, checker probe.Checker, maxDelay time.Duration) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxDelay < 0 {
		maxDelay = 0
	}
	return &Runner{
		Logger:   logger,
		Checker:  checker,
		MaxDelay: maxDelay,
		Jitter:   uniformJitter,
		Now:      time.Now,
	}
}

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}

// Run probes targets sequentially, pausing a random delay before every target
// but the first. A probe in flight always completes; cancellation of ctx is
// honored between targets and during pauses, in which case the partial
// summary is returned with ctx's error.
func (r *Runner) Run(ctx context.Context, targets []domain.Target, onResult func(Observation)) (domain.RunSummary, error) {
	sum := domain.RunSummary{
		Timestamp: r.Now().UTC(),
		Results:   make([]domain.TargetResult, 0, len(targets)),
	}
	r.Logger.Info("run_started", zap.Int("targets", len(targets)))

	for i, t := range targets {
		if i > 0 {
			if err := probe.Sleep(ctx, r.Jitter(r.MaxDelay)); err != nil {
				sum.Count()
				return sum, err
			}
		}
		if err := ctx.Err(); err != nil {
			sum.Count()
			return sum, err
		}

		obs := r.check(ctx, t)
		sum.Results = append(sum.Results, obs.Result)
		if onResult != nil {
			onResult(obs)
		}
	}

	sum.Count()
	r.Logger.Info("run_finished",
		zap.Int("total", sum.Total),
		zap.Int("active", sum.Active),
		zap.Int("inactive", sum.Inactive),
	)
	return sum, nil
}

func (r *Runner) check(ctx context.Context, t domain.Target) Observation {
	start := r.Now()
	out := r.Checker.Check(context.WithoutCancel(ctx), t.URL)
	elapsed := r.Now().Sub(start).Milliseconds()

	status := out.Status
	if status != domain.StatusActive {
		status = domain.StatusInactive
	}

	rec := domain.CheckRecord{
		Timestamp:      start.UTC(),
		Status:         status,
		ResponseTimeMS: &elapsed,
		Redirected:     out.Redirected,
		ErrorKind:      out.ErrorKind,
	}
	if out.StatusCode != 0 {
		code := out.StatusCode
		rec.StatusCode = &code
	}
	res := domain.TargetResult{
		TargetID:     t.ID,
		URL:          t.URL,
		Status:       status,
		StatusCode:   out.StatusCode,
		ResponseTime: elapsed,
		ErrorKind:    out.ErrorKind,
		Group:        t.Group,
		ReceiverURL:  t.ReceiverURL,
	}
	if status == domain.StatusInactive {
		rec.ErrorMessage = out.Message
		res.Error = out.Message
	}

	r.Logger.Debug("probe_checked",
		zap.String("target_id", string(t.ID)),
		zap.String("url", t.URL),
		zap.Int("status", out.StatusCode),
		zap.String("state", string(status)),
		zap.Int64("latency_ms", elapsed),
		zap.Int("attempts", out.Attempts),
		zap.String("error_kind", string(out.ErrorKind)),
	)
	return Observation{TargetID: t.ID, Record: rec, Result: res}
}
