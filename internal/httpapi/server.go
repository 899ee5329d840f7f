package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/engine"
	apimw "github.com/hamed0406/uptimebatch/internal/httpapi/middleware"
	"github.com/hamed0406/uptimebatch/internal/probe"
	"github.com/hamed0406/uptimebatch/internal/source"
)

// Engine is the part of the monitoring engine the API drives.
type Engine interface {
	Start(ctx context.Context, receiver domain.ReceiverConfig, intervalMinutes int) error
	Stop(ctx context.Context) error
	RunNow(ctx context.Context) (bool, error)
	AddTarget(ctx context.Context, rawURL string) (domain.Target, error)
	RemoveTarget(ctx context.Context, id domain.TargetID) error
	Targets(ctx context.Context) ([]domain.Target, error)
	SetReceiver(ctx context.Context, r domain.ReceiverConfig) error
	SetInterval(ctx context.Context, minutes int) error
	SetSourceEndpoint(ctx context.Context, endpoint string) error
	Sync(ctx context.Context) (source.Change, error)
	CheckHealth(ctx context.Context) error
	Notifications(ctx context.Context) ([]domain.Notification, error)
	Summaries(ctx context.Context) ([]domain.RunSummary, error)
	Status(ctx context.Context) (engine.Status, error)
	ClearAll(ctx context.Context) error
	SetBackground(ctx context.Context, on bool) error
}

// Host lets operators simulate suspend/resume of the process.
type Host interface {
	Resume()
	Suspend()
}

type Server struct {
	Logger  *zap.Logger
	Engine  Engine
	Checker probe.Checker
	Host    Host
}

func NewServer(l *zap.Logger, e Engine, c probe.Checker, h Host) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Engine: e, Checker: c, Host: h}
}

// Router wires public (read) and admin (write) routes. Empty origins allow any.
func (s *Server) Router(keys apimw.Keys, origins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)
	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(pubRPM, pubBurst))
			r.Use(apimw.RequireAny(keys))
			r.Get("/targets", s.handleListTargets)
			r.Get("/status", s.handleStatus)
			r.Get("/notifications", s.handleNotifications)
			r.Get("/summaries", s.handleSummaries)
		})

		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(admRPM, admBurst))
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/targets", s.handleAddTarget)
			r.Delete("/targets/{id}", s.handleRemoveTarget)
			r.Post("/check", s.handleCheck)

			r.Put("/receiver", s.handleSetReceiver)
			r.Put("/interval", s.handleSetInterval)
			r.Put("/source", s.handleSetSource)
			r.Post("/sync", s.handleSync)

			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/run", s.handleRunNow)
			r.Post("/health-check", s.handleHealthCheck)
			r.Post("/clear", s.handleClear)

			r.Post("/host/suspend", s.handleSuspend)
			r.Post("/host/resume", s.handleResume)
			r.Put("/host/background", s.handleBackground)
		})
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return false
	}
	return true
}

// fail maps engine errors to status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrUnknownTarget):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrDuplicateTarget), errors.Is(err, engine.ErrNoTargets):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNoSource):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, engine.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.Logger.Error("api_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
