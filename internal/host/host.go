package host

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval  = 5 * time.Second
	DefaultJumpThreshold = 30 * time.Second
)

// Handler is the engine side of the host contract.
type Handler interface {
	OnResume()
	OnSuspend()
}

// HandlerFuncs adapts a pair of functions to Handler. Nil funcs are skipped.
type HandlerFuncs struct {
	Resume  func()
	Suspend func()
}

func (f HandlerFuncs) OnResume() {
	if f.Resume != nil {
		f.Resume()
	}
}

func (f HandlerFuncs) OnSuspend() {
	if f.Suspend != nil {
		f.Suspend()
	}
}

// Host is a minimal execution host for a long-running process. It reports
// liveness and turns OS signals and wall-clock jumps (machine sleep) into
// OnResume/OnSuspend.
type Host struct {
	log     *zap.Logger
	handler Handler

	Poll          time.Duration
	JumpThreshold time.Duration

	alive atomic.Bool

	mu       sync.Mutex
	clock    func() (wall time.Time, mono time.Duration)
	lastWall time.Time
	lastMono time.Duration
}

var processStart = time.Now()

func systemClock() (time.Time, time.Duration) {
	now := time.Now()
	return now.Round(0), now.Sub(processStart)
}

func New(log *zap.Logger, h Handler) *Host {
	if log == nil {
		log = zap.NewNop()
	}
	return &Host{
		log:           log,
		handler:       h,
		Poll:          DefaultPollInterval,
		JumpThreshold: DefaultJumpThreshold,
		clock:         systemClock,
	}
}

// Run blocks until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	h.lastWall, h.lastMono = h.clock()
	h.mu.Unlock()

	resume := make(chan os.Signal, 1)
	suspend := make(chan os.Signal, 1)
	if len(resumeSignals) > 0 {
		signal.Notify(resume, resumeSignals...)
		defer signal.Stop(resume)
	}
	if len(suspendSignals) > 0 {
		signal.Notify(suspend, suspendSignals...)
		defer signal.Stop(suspend)
	}

	t := time.NewTicker(h.Poll)
	defer t.Stop()

	h.alive.Store(true)
	defer h.alive.Store(false)

	h.log.Info("host_started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info("host_stopped")
			return nil
		case sig := <-resume:
			h.log.Info("host_signal_resume", zap.String("signal", sig.String()))
			h.Resume()
		case sig := <-suspend:
			h.log.Info("host_signal_suspend", zap.String("signal", sig.String()))
			h.Suspend()
		case <-t.C:
			if h.observe() {
				h.Resume()
			}
		}
	}
}

// observe reports whether the wall clock moved notably further than the
// monotonic clock since the last call, which happens when the machine slept.
func (h *Host) observe() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	wall, mono := h.clock()
	gap := wall.Sub(h.lastWall) - (mono - h.lastMono)
	h.lastWall, h.lastMono = wall, mono
	if gap > h.JumpThreshold {
		h.log.Info("host_clock_jump", zap.Duration("gap", gap))
		return true
	}
	return false
}

func (h *Host) Resume() {
	if h.handler != nil {
		h.handler.OnResume()
	}
}

func (h *Host) Suspend() {
	if h.handler != nil {
		h.handler.OnSuspend()
	}
}

// IsAlive is true while Run is executing.
func (h *Host) IsAlive() bool { return h.alive.Load() }
