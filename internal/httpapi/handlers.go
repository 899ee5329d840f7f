package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimebatch/internal/domain"
	"github.com/hamed0406/uptimebatch/internal/engine"
)

type urlPayload struct {
	URL string `json:"url"`
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Engine.Targets(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if ts == nil {
		ts = []domain.Target{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var p urlPayload
	if !decode(w, r, &p) {
		return
	}
	t, err := s.Engine.AddTarget(r.Context(), p.URL)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.Logger.Info("added_target", zap.String("target_id", string(t.ID)), zap.String("url", t.URL))
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	id := domain.TargetID(chi.URLParam(r, "id"))
	if err := s.Engine.RemoveTarget(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkResponse struct {
	URL        string              `json:"url"`
	Status     domain.TargetStatus `json:"status"`
	StatusCode int                 `json:"status_code,omitempty"`
	LatencyMS  float64             `json:"latency_ms"`
	Redirected bool                `json:"redirected,omitempty"`
	ErrorKind  domain.ErrorKind    `json:"error_kind,omitempty"`
	Message    string              `json:"message,omitempty"`
	Attempts   int                 `json:"attempts"`
}

// handleCheck probes a URL once without adding it.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var p urlPayload
	if !decode(w, r, &p) {
		return
	}
	if !domain.ValidHTTPURL(p.URL) {
		s.fail(w, domain.ErrInvalidURL)
		return
	}
	if s.Checker == nil {
		writeError(w, http.StatusNotImplemented, "checker not configured")
		return
	}
	url := domain.NormalizeHTTPURL(p.URL)
	out := s.Checker.Check(r.Context(), url)
	s.Logger.Info("adhoc_check",
		zap.String("url", url),
		zap.String("status", string(out.Status)),
		zap.Float64("latency_ms", out.LatencyMS),
	)
	writeJSON(w, http.StatusOK, checkResponse{
		URL:        url,
		Status:     out.Status,
		StatusCode: out.StatusCode,
		LatencyMS:  out.LatencyMS,
		Redirected: out.Redirected,
		ErrorKind:  out.ErrorKind,
		Message:    out.Message,
		Attempts:   out.Attempts,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Engine.Status(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ns, err := s.Engine.Notifications(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if ns == nil {
		ns = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	ss, err := s.Engine.Summaries(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if ss == nil {
		ss = []domain.RunSummary{}
	}
	writeJSON(w, http.StatusOK, ss)
}

func (s *Server) handleSetReceiver(w http.ResponseWriter, r *http.Request) {
	var rc domain.ReceiverConfig
	if !decode(w, r, &rc) {
		return
	}
	rc.Name, rc.URL = strings.TrimSpace(rc.Name), strings.TrimSpace(rc.URL)
	if err := s.Engine.SetReceiver(r.Context(), rc); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receiver": rc, "enabled": rc.Enabled()})
}

type intervalPayload struct {
	Minutes int `json:"minutes"`
}

func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var p intervalPayload
	if !decode(w, r, &p) {
		return
	}
	if p.Minutes <= 0 {
		writeError(w, http.StatusBadRequest, "minutes must be positive")
		return
	}
	if err := s.Engine.SetInterval(r.Context(), p.Minutes); err != nil {
		s.fail(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleSetSource(w http.ResponseWriter, r *http.Request) {
	var p urlPayload
	if !decode(w, r, &p) {
		return
	}
	if err := s.Engine.SetSourceEndpoint(r.Context(), strings.TrimSpace(p.URL)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changeResponse struct {
	Added    []domain.Target `json:"added"`
	Removed  []domain.Target `json:"removed"`
	Modified []domain.Target `json:"modified"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ch, err := s.Engine.Sync(r.Context())
	if err != nil {
		if !errors.Is(err, engine.ErrNoSource) && !errors.Is(err, engine.ErrClosed) {
			// fetch failures are recorded as a sync_failed notification
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changeResponse{Added: ch.Added, Removed: ch.Removed, Modified: ch.Modified})
}

type startPayload struct {
	Receiver        *domain.ReceiverConfig `json:"receiver,omitempty"`
	IntervalMinutes int                    `json:"interval_minutes,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var p startPayload
	if r.ContentLength != 0 && !decode(w, r, &p) {
		return
	}
	var rc domain.ReceiverConfig
	if p.Receiver != nil {
		rc = *p.Receiver
	}
	if err := s.Engine.Start(r.Context(), rc, p.IntervalMinutes); err != nil {
		s.fail(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Stop(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	started, err := s.Engine.RunNow(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	code := http.StatusAccepted
	if !started {
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]bool{"started": started})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.CheckHealth(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.ClearAll(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	if s.Host == nil {
		writeError(w, http.StatusNotImplemented, "host not configured")
		return
	}
	s.Host.Suspend()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.Host == nil {
		writeError(w, http.StatusNotImplemented, "host not configured")
		return
	}
	s.Host.Resume()
	w.WriteHeader(http.StatusAccepted)
}

type backgroundPayload struct {
	Background bool `json:"background"`
}

func (s *Server) handleBackground(w http.ResponseWriter, r *http.Request) {
	var p backgroundPayload
	if !decode(w, r, &p) {
		return
	}
	if err := s.Engine.SetBackground(r.Context(), p.Background); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
