package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr       string // API bind address, e.g., "127.0.0.1:8080" (Windows) or ":8080" (Docker)
	LogDir     string // logs directory
	LogLevel   string // debug, info, warn, error
	LogConsole bool   // also log to stderr

	// State backend: sqlite://path, postgres://..., s3://bucket/prefix or memory://.
	// Empty falls back to DATABASE_URL, then to the local sqlite file.
	StoreURL      string
	DatabaseURL   string
	StateDebounce time.Duration

	ReceiverName    string
	ReceiverURL     string
	IntervalMinutes int

	HTTPTimeout   time.Duration // per-probe timeout
	RetryAttempts int           // retries after the first probe attempt
	RetryBackoff  time.Duration // linear backoff between retries
	MaxJitter     time.Duration // random delay between probes of one run
	HistoryCap    int

	DispatchTimeout  time.Duration
	HealthInterval   time.Duration
	FailureThreshold int
	RestartDelay     time.Duration

	SourceURL    string
	SyncInterval time.Duration

	SlackWebhookURL string

	PublicAPIKeys  []string
	AdminAPIKeys   []string
	AllowedOrigins []string
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func FromEnv() Config {
	// Bind address (Windows-friendly default)
	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = os.Getenv("ADDR")
	}
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	// Logs
	logDir := str("LOG_DIR", "logs")

	// Store (empty means sqlite under ./data unless DATABASE_URL is set)
	db := os.Getenv("DATABASE_URL")
	store := os.Getenv("STORE_URL")
	if store == "" {
		store = db
	}

	return Config{
		Addr:       addr,
		LogDir:     logDir,
		LogLevel:   str("LOG_LEVEL", "info"),
		LogConsole: boolean("LOG_CONSOLE", false),

		StoreURL:      store,
		DatabaseURL:   db,
		StateDebounce: millis("STATE_DEBOUNCE_MS", 500*time.Millisecond),

		ReceiverName:    os.Getenv("RECEIVER_NAME"),
		ReceiverURL:     os.Getenv("RECEIVER_URL"),
		IntervalMinutes: positive("CHECK_INTERVAL_MIN", 15),

		HTTPTimeout:   millis("HTTP_TIMEOUT_MS", 15*time.Second),
		RetryAttempts: nonNegative("RETRY_ATTEMPTS", 2),
		RetryBackoff:  millis("RETRY_BACKOFF_MS", time.Second),
		MaxJitter:     millis("MAX_JITTER_MS", 30*time.Second),
		HistoryCap:    positive("HISTORY_CAP", 20),

		DispatchTimeout:  millis("DISPATCH_TIMEOUT_MS", 10*time.Second),
		HealthInterval:   millis("HEALTH_INTERVAL_MS", 5*time.Minute),
		FailureThreshold: positive("FAILURE_THRESHOLD", 3),
		RestartDelay:     millis("RESTART_DELAY_MS", 2*time.Second),

		SourceURL:    os.Getenv("SOURCE_URL"),
		SyncInterval: millis("SYNC_INTERVAL_MS", 30*time.Minute),

		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),

		PublicAPIKeys:  list("PUBLIC_API_KEYS"),
		AdminAPIKeys:   list("ADMIN_API_KEYS"),
		AllowedOrigins: list("ALLOWED_ORIGINS"),
		PublicRPM:      positive("PUBLIC_RPM", 60),
		PublicBurst:    positive("PUBLIC_BURST", 10),
		AdminRPM:       positive("ADMIN_RPM", 120),
		AdminBurst:     positive("ADMIN_BURST", 20),
	}
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func positive(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

func nonNegative(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n >= 0 {
		return n
	}
	return def
}

// millis reads a millisecond count; zero is allowed (e.g. no jitter).
func millis(key string, def time.Duration) time.Duration {
	if ms, err := strconv.Atoi(os.Getenv(key)); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func boolean(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

// list splits a comma separated value, dropping empty items.
func list(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
