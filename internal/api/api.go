// Package api is the HTTP control plane: enqueue jobs, trigger bookings and
// inspect queues, leases and monitoring snapshots.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/autobook/internal/domain"
	"github.com/SirClappington/autobook/internal/queue"
	"github.com/SirClappington/autobook/internal/stages"
)

type Queue interface {
	Enqueue(ctx context.Context, j *domain.Job) error
	Length(ctx context.Context, stage domain.Stage) (int64, error)
	Delayed(ctx context.Context, stage domain.Stage) (int64, error)
}

type Ledger interface {
	GetMonitoringData(ctx context.Context, tripRequestID string) (*domain.MonitoringRecord, error)
}

type Locks interface {
	IsLocked(ctx context.Context, resourceID string) (bool, error)
}

// Pinger checks one backing dependency for /healthz.
type Pinger func(ctx context.Context) error

type Server struct {
	Queue  Queue
	Ledger Ledger
	Locks  Locks
	Checks map[string]Pinger
	Log    *zap.Logger
}

func (s *Server) Routes() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.RealIP)
	rtr.Use(s.logRequests)
	rtr.Use(middleware.Recoverer)
	rtr.Use(middleware.Timeout(15 * time.Second))

	rtr.Get("/healthz", s.health)
	rtr.Route("/v1", func(rtr chi.Router) {
		rtr.Post("/jobs", s.enqueueJob)
		rtr.Get("/queues/{stage}", s.queueStats)
		rtr.Post("/trips/{id}/book", s.bookTrip)
		rtr.Get("/trips/{id}/monitoring", s.monitoring)
		rtr.Get("/trips/{id}/lock", s.lock)
	})
	return rtr
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type enqueueRequest struct {
	TripRequestID string       `json:"trip_request_id"`
	OfferID       string       `json:"offer_id"`
	Stage         domain.Stage `json:"stage"`
	Priority      *int         `json:"priority"`
}

func defaultPriority(s domain.Stage) int {
	switch s {
	case domain.StageBook:
		return stages.PriorityBook
	case domain.StageNotify:
		return stages.PriorityNotify
	case domain.StageMonitor:
		return stages.PriorityMonitor
	default:
		return stages.PrioritySearch
	}
}

func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	job := &domain.Job{
		TripRequestID: req.TripRequestID,
		OfferID:       req.OfferID,
		Stage:         req.Stage,
		Priority:      defaultPriority(req.Stage),
	}
	if req.Priority != nil {
		job.Priority = *req.Priority
	}
	s.enqueue(w, r, job)
}

func (s *Server) bookTrip(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, &domain.Job{
		TripRequestID: chi.URLParam(r, "id"),
		Stage:         domain.StageBook,
		Priority:      stages.PriorityBook,
	})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, job *domain.Job) {
	err := s.Queue.Enqueue(r.Context(), job)
	switch {
	case errors.Is(err, queue.ErrInvalidJob):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		s.Log.Error("enqueue", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
	default:
		writeJSON(w, http.StatusAccepted, job)
	}
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stage := domain.Stage(chi.URLParam(r, "stage"))
	if !stage.Valid() {
		writeError(w, http.StatusNotFound, "unknown stage")
		return
	}
	ready, err := s.Queue.Length(r.Context(), stage)
	if err != nil {
		s.Log.Error("queue length", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "queue unavailable")
		return
	}
	delayed, err := s.Queue.Delayed(r.Context(), stage)
	if err != nil {
		s.Log.Error("queue delayed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stage": stage, "ready": ready, "delayed": delayed})
}

type monitoringResponse struct {
	TripRequestID string    `json:"trip_request_id"`
	LastPrice     string    `json:"last_price"`
	Currency      string    `json:"currency"`
	OfferID       string    `json:"offer_id"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	CheckCount    int64     `json:"check_count"`
}

func (s *Server) monitoring(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Ledger.GetMonitoringData(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.Log.Error("monitoring", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "monitoring unavailable")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no monitoring data")
		return
	}
	writeJSON(w, http.StatusOK, monitoringResponse{
		TripRequestID: rec.TripRequestID,
		LastPrice:     rec.LastPrice.String(),
		Currency:      rec.Currency,
		OfferID:       rec.OfferID,
		LastCheckedAt: rec.LastCheckedAt.UTC(),
		CheckCount:    rec.CheckCount,
	})
}

func (s *Server) lock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	locked, err := s.Locks.IsLocked(r.Context(), id)
	if err != nil {
		s.Log.Error("lock state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lease store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trip_request_id": id, "locked": locked})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status, out := http.StatusOK, map[string]string{}
	for name, ping := range s.Checks {
		if err := ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			out[name] = err.Error()
			continue
		}
		out[name] = "ok"
	}
	writeJSON(w, status, out)
}
