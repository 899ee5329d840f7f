package scheduler

import (
	"time"

	"github.com/hamed0406/uptimebatch/internal/domain"
)

const (
	DefaultIntervalMinutes = 15
	MinIntervalMinutes     = 1
)

// Schedule is the run-cadence state machine:
//
//	Disabled -> Armed -> (tick) -> Armed -> ... -> Disabled
//
// NextRunAt is the only fact that decides when a run is due. Timers owned by
// the caller merely wake it up to ask.
type Schedule struct {
	st domain.SchedulerState
}

// NewSchedule restores a schedule from persisted state.
func NewSchedule(st domain.SchedulerState) *Schedule {
	if st.IntervalMinutes < MinIntervalMinutes {
		st.IntervalMinutes = DefaultIntervalMinutes
	}
	if !st.IsEnabled {
		st.NextRunAt = nil
	}
	return &Schedule{st: st}
}

func (s *Schedule) State() domain.SchedulerState {
	out := s.st
	if s.st.NextRunAt != nil {
		v := *s.st.NextRunAt
		out.NextRunAt = &v
	}
	if s.st.LastRunAt != nil {
		v := *s.st.LastRunAt
		out.LastRunAt = &v
	}
	return out
}

func (s *Schedule) Armed() bool { return s.st.IsEnabled && s.st.NextRunAt != nil }

func (s *Schedule) Interval() time.Duration {
	return time.Duration(s.st.IntervalMinutes) * time.Minute
}

// Enable arms the schedule with the first run due at now. Without targets it
// stays disabled and reports false.
func (s *Schedule) Enable(now time.Time, haveTargets bool) bool {
	if !haveTargets {
		return false
	}
	s.st.IsEnabled = true
	s.st.NextRunAt = &now
	return true
}

func (s *Schedule) Disable() {
	s.st.IsEnabled = false
	s.st.NextRunAt = nil
}

// Due reports whether a run should start at now.
func (s *Schedule) Due(now time.Time) bool {
	return s.Armed() && !now.Before(*s.st.NextRunAt)
}

// Tick marks a run as started at now and moves NextRunAt one interval past
// now, never past the stale scheduled time.
func (s *Schedule) Tick(now time.Time) {
	next := now.Add(s.Interval())
	s.st.NextRunAt = &next
	last := now
	s.st.LastRunAt = &last
}

// Resume is called when control returns after a suspension or on a cold
// start. It reports whether exactly one catch-up run is owed; if so the
// schedule has already been ticked from now.
func (s *Schedule) Resume(now time.Time) bool {
	if !s.Due(now) {
		return false
	}
	s.Tick(now)
	return true
}

// SetInterval changes the cadence. While armed it re-arms from now. Setting
// the current interval again is a no-op and reports false.
func (s *Schedule) SetInterval(now time.Time, minutes int) bool {
	if minutes < MinIntervalMinutes {
		minutes = MinIntervalMinutes
	}
	if minutes == s.st.IntervalMinutes {
		return false
	}
	s.st.IntervalMinutes = minutes
	if s.Armed() {
		next := now.Add(s.Interval())
		s.st.NextRunAt = &next
	}
	return true
}

// Countdown is derived from NextRunAt on every call and clamped at zero.
func (s *Schedule) Countdown(now time.Time) time.Duration {
	if !s.Armed() {
		return 0
	}
	return max(s.st.NextRunAt.Sub(now), 0)
}
