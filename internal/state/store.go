package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/repo"
)

// Persisted keys. Each is written independently as a JSON document.
const (
	KeyTargets         = "targets"
	KeyReceiver        = "receiver"
	KeyIntervalMinutes = "interval_minutes"
	KeyLastSummary     = "last_summary"
	KeySummaryHistory  = "summary_history"
	KeyLastCheckAt     = "last_check_at"
	KeyEnabled         = "enabled"
	KeyNextRunAt       = "next_run_at"
	KeySourceEndpoint  = "source_endpoint"
	KeyStats           = "stats"
	KeyNotifications   = "notifications"
)

var allKeys = []string{
	KeyTargets, KeyReceiver, KeyIntervalMinutes, KeyLastSummary, KeySummaryHistory,
	KeyLastCheckAt, KeyEnabled, KeyNextRunAt, KeySourceEndpoint, KeyStats, KeyNotifications,
}

const (
	DefaultDebounce = 500 * time.Millisecond
	flushTimeout    = 10 * time.Second
	maxWaitFactor   = 5
)

var ErrClosed = errors.New("state: store closed")

// Snapshot is everything the engine needs to resume after a restart.
type Snapshot struct {
	Targets         []domain.Target
	Receiver        domain.ReceiverConfig
	IntervalMinutes int
	LastSummary     *domain.RunSummary
	SummaryHistory  []domain.RunSummary
	LastCheckAt     *time.Time
	Enabled         bool
	NextRunAt       *time.Time
	SourceEndpoint  string
	Stats           domain.ServiceStats
	Notifications   []domain.Notification
}

// Store is a write-behind cache in front of a repo.KV. Writes land in a
// pending map and are flushed once no write has happened for the debounce
// window, or once the oldest pending write is maxWaitFactor windows old.
// Reads see pending writes.
type Store struct {
	kv       repo.KV
	log      *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string][]byte
	cache   map[string][]byte
	timer   *time.Timer
	since   time.Time // first unflushed write
	closed  bool

	// serializes flushes so an older value can never overwrite a newer one
	flushMu sync.Mutex
}

func New(kv repo.KV, log *zap.Logger, debounce time.Duration) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Store{
		kv:       kv,
		log:      log,
		debounce: debounce,
		pending:  make(map[string][]byte),
		cache:    make(map[string][]byte),
	}
}

// Load reads every key synchronously. A missing key leaves its zero value;
// a key that fails to decode is logged and treated as missing so one bad
// document cannot block a cold start.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	targets := map[string]any{
		KeyTargets:         &snap.Targets,
		KeyReceiver:        &snap.Receiver,
		KeyIntervalMinutes: &snap.IntervalMinutes,
		KeyLastSummary:     &snap.LastSummary,
		KeySummaryHistory:  &snap.SummaryHistory,
		KeyLastCheckAt:     &snap.LastCheckAt,
		KeyEnabled:         &snap.Enabled,
		KeyNextRunAt:       &snap.NextRunAt,
		KeySourceEndpoint:  &snap.SourceEndpoint,
		KeyStats:           &snap.Stats,
		KeyNotifications:   &snap.Notifications,
	}
	for _, key := range allKeys {
		raw, err := s.read(ctx, key)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("load %s: %w", key, err)
		}
		if err := json.Unmarshal(raw, targets[key]); err != nil {
			s.log.Warn("state_key_corrupt", zap.String("key", key), zap.Error(err))
			// reset whatever partial decode left behind
			resetZero(targets[key])
		}
	}
	return snap, nil
}

// Targets returns the current target list, including unflushed writes.
func (s *Store) Targets(ctx context.Context) ([]domain.Target, error) {
	var out []domain.Target
	raw, err := s.read(ctx, KeyTargets)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode targets: %w", err)
	}
	return out, nil
}

func (s *Store) SaveTargets(ts []domain.Target) error { return s.put(KeyTargets, ts) }

func (s *Store) SaveReceiver(r domain.ReceiverConfig) error { return s.put(KeyReceiver, r) }

func (s *Store) SaveInterval(minutes int) error { return s.put(KeyIntervalMinutes, minutes) }

func (s *Store) SaveEnabled(on bool) error { return s.put(KeyEnabled, on) }

func (s *Store) SaveNextRunAt(t *time.Time) error { return s.put(KeyNextRunAt, t) }

func (s *Store) SaveLastCheckAt(t time.Time) error { return s.put(KeyLastCheckAt, t) }

func (s *Store) SaveSourceEndpoint(u string) error { return s.put(KeySourceEndpoint, u) }

func (s *Store) SaveStats(st domain.ServiceStats) error { return s.put(KeyStats, st) }

func (s *Store) SaveNotifications(ns []domain.Notification) error {
	return s.put(KeyNotifications, ns)
}

// SaveSummary records last as the latest delivery together with the bounded
// history it was appended to.
func (s *Store) SaveSummary(last domain.RunSummary, history []domain.RunSummary) error {
	return multierr.Append(s.put(KeyLastSummary, last), s.put(KeySummaryHistory, history))
}

// Clear deletes every key, pending writes included.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending = make(map[string][]byte)
	s.cache = make(map[string][]byte)
	s.since = time.Time{}
	s.mu.Unlock()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	var err error
	for _, key := range allKeys {
		err = multierr.Append(err, s.kv.Delete(ctx, key))
	}
	return err
}

// Flush writes all pending keys now. Keys that fail stay pending unless a
// newer value was written meanwhile.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string][]byte)
	s.since = time.Time{}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	keys := make([]string, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs error
	for _, key := range keys {
		if err := s.kv.Put(ctx, key, batch[key]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("flush %s: %w", key, err))
			s.mu.Lock()
			if _, newer := s.pending[key]; !newer {
				s.pending[key] = batch[key]
			}
			s.mu.Unlock()
		}
	}
	if errs == nil {
		s.log.Debug("state_flushed", zap.Int("keys", len(keys)))
	}
	return errs
}

// Pending reports how many keys await a flush.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close flushes pending writes and closes the backend.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return multierr.Append(s.Flush(ctx), s.kv.Close())
}

func (s *Store) put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending[key] = b
	s.cache[key] = b
	if s.since.IsZero() {
		s.since = time.Now()
	}
	wait := s.debounce
	if left := maxWaitFactor*s.debounce - time.Since(s.since); left < wait {
		wait = max(left, 0)
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(wait, s.flushInBackground)
	return nil
}

func (s *Store) flushInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.log.Warn("state_flush_failed", zap.Error(err))
	}
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	if b, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	b, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if _, ok := s.cache[key]; !ok {
		s.cache[key] = b
	}
	s.mu.Unlock()
	return b, nil
}

func resetZero(ptr any) {
	reflect.ValueOf(ptr).Elem().SetZero()
}
