package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidURL is returned when a target or receiver URL is not an
// absolute http/https URL.
var ErrInvalidURL = errors.New("invalid url")

type TargetID string

type TargetStatus string

const (
	StatusChecking TargetStatus = "checking"
	StatusActive   TargetStatus = "active"
	StatusInactive TargetStatus = "inactive"
)

// ErrorKind classifies why a probe failed. It is diagnostic only and never
// changes the active/inactive classification.
type ErrorKind string

const (
	ErrorTimeout ErrorKind = "timeout"
	ErrorNetwork ErrorKind = "network"
	ErrorAbort   ErrorKind = "abort"
	ErrorUnknown ErrorKind = "unknown"
)

type Origin string

const (
	OriginManual   Origin = "manual"
	OriginExternal Origin = "external"
)

// DefaultHistoryCap bounds Target.History when no cap is configured.
const DefaultHistoryCap = 20

type Target struct {
	ID            TargetID      `json:"id"`
	URL           string        `json:"url"`
	Status        TargetStatus  `json:"status"`
	LastCheckedAt *time.Time    `json:"last_checked_at,omitempty"`
	History       []CheckRecord `json:"history"`
	CreatedAt     time.Time     `json:"created_at"`

	// Set for targets that came from the external source.
	Origin      Origin `json:"origin"`
	ExternalID  string `json:"external_id,omitempty"`
	Group       string `json:"group,omitempty"`
	ReceiverURL string `json:"receiver_url,omitempty"`
}

// Record applies one probe outcome: status, last-checked time and a history
// entry. History keeps at most limit entries, oldest evicted first.
func (t *Target) Record(rec CheckRecord, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryCap
	}
	t.Status = rec.Status
	at := rec.Timestamp
	t.LastCheckedAt = &at
	t.History = append(t.History, rec)
	if over := len(t.History) - limit; over > 0 {
		kept := make([]CheckRecord, limit)
		copy(kept, t.History[over:])
		t.History = kept
	}
}

// Clone returns a deep copy safe to hand outside the engine.
func (t Target) Clone() Target {
	out := t
	if t.LastCheckedAt != nil {
		v := *t.LastCheckedAt
		out.LastCheckedAt = &v
	}
	out.History = append([]CheckRecord(nil), t.History...)
	return out
}

type CheckRecord struct {
	Timestamp      time.Time    `json:"timestamp"`
	Status         TargetStatus `json:"status"`
	ResponseTimeMS *int64       `json:"response_time_ms,omitempty"`
	StatusCode     *int         `json:"status_code,omitempty"`
	Redirected     bool         `json:"redirected,omitempty"`
	ErrorKind      ErrorKind    `json:"error_kind,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
}

type ReceiverConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Enabled reports whether the receiver can be dispatched to. An empty or
// malformed URL disables dispatch without being an error.
func (r ReceiverConfig) Enabled() bool {
	return ValidHTTPURL(r.URL)
}

// TargetResult is the per-target line of a run summary.
type TargetResult struct {
	TargetID     TargetID     `json:"target_id"`
	URL          string       `json:"url"`
	Status       TargetStatus `json:"status"`
	StatusCode   int          `json:"status_code,omitempty"`
	ResponseTime int64        `json:"response_time_ms"`
	ErrorKind    ErrorKind    `json:"error_kind,omitempty"`
	Error        string       `json:"error,omitempty"`
	Group        string       `json:"group,omitempty"`
	ReceiverURL  string       `json:"receiver_url,omitempty"`
}

// RunTrigger says what started a run.
type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
	TriggerCatchUp   RunTrigger = "catch_up"
)

type RunSummary struct {
	Timestamp    time.Time         `json:"timestamp"`
	Trigger      RunTrigger        `json:"trigger"`
	Results      []TargetResult    `json:"results"`
	Total        int               `json:"total"`
	Active       int               `json:"active"`
	Inactive     int               `json:"inactive"`
	Delivered    bool              `json:"delivered"`
	IsBackground bool              `json:"is_background"`
	Deliveries   []DeliveryOutcome `json:"deliveries,omitempty"`
}

// Count recomputes Total/Active/Inactive from Results.
func (s *RunSummary) Count() {
	s.Total, s.Active, s.Inactive = len(s.Results), 0, 0
	for _, r := range s.Results {
		if r.Status == StatusActive {
			s.Active++
		} else {
			s.Inactive++
		}
	}
}

type DeliveryKind string

const (
	DeliveryOK             DeliveryKind = "ok"
	DeliverySkipped        DeliveryKind = "skipped"
	DeliveryTimeout        DeliveryKind = "timeout"
	DeliveryTransportError DeliveryKind = "transport_error"
	DeliveryRejected       DeliveryKind = "rejected"
)

type DeliveryOutcome struct {
	Receiver   string       `json:"receiver"`
	URL        string       `json:"url"`
	Kind       DeliveryKind `json:"kind"`
	StatusCode int          `json:"status_code,omitempty"`
	Error      string       `json:"error,omitempty"`
	At         time.Time    `json:"at"`
}

// Attempted is false only for the no-op outcome of a disabled receiver.
func (d DeliveryOutcome) Attempted() bool { return d.Kind != DeliverySkipped }

func (d DeliveryOutcome) OK() bool { return d.Kind == DeliveryOK || d.Kind == DeliverySkipped }

type SchedulerState struct {
	IsEnabled       bool       `json:"is_enabled"`
	IntervalMinutes int        `json:"interval_minutes"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
}

type ServiceStats struct {
	TotalRuns            int64      `json:"total_runs"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	TotalUptimeSeconds   int64      `json:"total_uptime_seconds"`
	ServiceRestarts      int64      `json:"service_restarts"`
	LastSuccessfulRunAt  *time.Time `json:"last_successful_run_at,omitempty"`
	// BackgroundRuns only counts runs observed while the host was
	// backgrounded. It is a display counter, not a stat of record.
	BackgroundRuns int64 `json:"background_runs"`
}

type NotificationType string

const (
	NotifyNewURLs          NotificationType = "new_urls"
	NotifySyncFailed       NotificationType = "sync_failed"
	NotifyServiceRestarted NotificationType = "service_restarted"
)

// MaxNotifications bounds the retained notification queue.
const MaxNotifications = 20

type Notification struct {
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Data      json.RawMessage  `json:"data,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// PushNotification prepends n and trims the queue to MaxNotifications.
func PushNotification(queue []Notification, n Notification) []Notification {
	out := make([]Notification, 0, min(len(queue)+1, MaxNotifications))
	out = append(out, n)
	for _, q := range queue {
		if len(out) == MaxNotifications {
			break
		}
		out = append(out, q)
	}
	return out
}

// MaxSummaryHistory bounds the retained run summaries.
const MaxSummaryHistory = 50

// AppendSummary appends s and drops the oldest entries beyond
// MaxSummaryHistory.
func AppendSummary(history []RunSummary, s RunSummary) []RunSummary {
	history = append(history, s)
	if over := len(history) - MaxSummaryHistory; over > 0 {
		history = append([]RunSummary(nil), history[over:]...)
	}
	return history
}
