// Package httpapi serves the health probe and the external job triggers.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/cliffng14/accountably/internal/logger"
	"github.com/cliffng14/accountably/internal/scheduler"
	"github.com/cliffng14/accountably/internal/service"
)

const serviceName = "accountably"

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

type Server struct {
	jobs    *scheduler.Registry
	cronKey string
	log     *logger.Logger
	now     func() time.Time
}

func New(jobs *scheduler.Registry, cronKey string, log *logger.Logger) *Server {
	return &Server{jobs: jobs, cronKey: cronKey, log: log.With("component", "HTTP"), now: time.Now}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/health", http.HandlerFunc(s.health)).Methods(http.MethodGet)

	// Job triggers for external schedulers (protected via X-CRON-KEY header)
	r.Handle("/cron/{job}", http.HandlerFunc(s.runJob)).Methods(http.MethodPost)

	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().Unix(),
		"service":   serviceName,
	})
}

// POST /cron/{job}
func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-CRON-KEY")
	if key == "" || s.cronKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cronKey)) != 1 {
		WriteJSON(w, http.StatusUnauthorized, APIResponse{Success: false, Message: "Unauthorized"})
		return
	}

	name := mux.Vars(r)["job"]
	job, ok := s.jobs.Get(name)
	if !ok {
		WriteJSON(w, http.StatusNotFound, APIResponse{Success: false, Message: "Unknown job", Data: map[string]interface{}{"jobs": s.jobs.Names()}})
		return
	}

	// The run outlives the request: a client that gives up must not cut a sweep short.
	start := s.now()
	err := job(context.WithoutCancel(r.Context()))
	data := map[string]interface{}{"job": name, "duration_ms": s.now().Sub(start).Milliseconds()}

	var batch *service.BatchError
	switch {
	case err == nil:
		WriteJSON(w, http.StatusOK, APIResponse{Success: true, Message: "Job executed", Data: data})
	case errors.As(err, &batch):
		data["failed"], data["total"] = batch.Failed, batch.Total
		s.log.Warn("Job finished with failures", "job", name, "failed", batch.Failed, "total", batch.Total)
		WriteJSON(w, http.StatusOK, APIResponse{Success: false, Message: "Job executed with failures", Data: data})
	default:
		s.log.Error("Job failed", "job", name, "error", err)
		WriteJSON(w, http.StatusInternalServerError, APIResponse{Success: false, Message: "Job failed"})
	}
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
