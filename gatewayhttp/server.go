// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

// Package gatewayhttp carries the caller contract over HTTP: one submit
// endpoint, a health check, and Prometheus metrics. It is a thin shell
// around the coordinator, not a front end.
package gatewayhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/wardenai/warden/backend"
	"github.com/wardenai/warden/budget"
	"github.com/wardenai/warden/coordinator"
	"github.com/wardenai/warden/shared/logger"
)

// Submitter is the coordinator surface the server needs.
type Submitter interface {
	Submit(ctx context.Context, req coordinator.Request) coordinator.ExecutionResult
}

// Config wires a Server.
type Config struct {
	ListenAddr     string
	JWTSecret      string
	AllowedOrigins []string

	Submitter Submitter
	Ledger    *budget.Ledger
}

// Server is the HTTP surface.
type Server struct {
	submitter Submitter
	ledger    *budget.Ledger
	metrics   *Metrics
	log       *logger.Logger
	http      *http.Server
}

// New builds the server with routing, auth, CORS, and metrics wired.
func New(cfg Config) *Server {
	s := &Server{
		submitter: cfg.Submitter,
		ledger:    cfg.Ledger,
		metrics:   NewMetrics(),
		log:       logger.New("gatewayhttp"),
	}

	r := mux.NewRouter()
	r.Handle("/api/v1/submit",
		jwtMiddleware(cfg.JWTSecret, http.HandlerFunc(s.handleSubmit))).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      c.Handler(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// Handler exposes the full middleware stack, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks serving requests.
func (s *Server) ListenAndServe() error {
	s.log.Info("", "http server listening", map[string]interface{}{"addr": s.http.Addr})
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// submitPayload is the request body of POST /api/v1/submit.
type submitPayload struct {
	Text            string `json:"text"`
	Priority        string `json:"priority,omitempty"`
	SensitivityHint string `json:"sensitivity_hint,omitempty"`
	ForcedBackend   string `json:"forced_backend,omitempty"`
	TaskType        string `json:"task_type,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	res := s.submitter.Submit(r.Context(), coordinator.Request{
		Text:            payload.Text,
		Priority:        payload.Priority,
		SensitivityHint: payload.SensitivityHint,
		ForcedBackend:   payload.ForcedBackend,
		TaskType:        backend.TaskType(payload.TaskType),
	})

	s.observe(res, time.Since(started))
	writeJSON(w, statusFor(res), res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"budget_remaining": s.ledger.Remaining(),
	})
}

func (s *Server) observe(res coordinator.ExecutionResult, elapsed time.Duration) {
	s.metrics.requestsTotal.WithLabelValues(string(res.State)).Inc()
	if res.State == coordinator.StateBlocked {
		s.metrics.blockedTotal.WithLabelValues(blockReason(res)).Inc()
	}
	s.metrics.duration.Observe(elapsed.Seconds())

	st := s.ledger.Snapshot()
	s.metrics.spentUnits.Set(st.SpentUnits)
	s.metrics.remainingUnits.Set(st.Remaining())
}

// blockReason buckets blocked results for the metric label.
func blockReason(res coordinator.ExecutionResult) string {
	switch {
	case strings.Contains(res.Error, "secret"):
		return "secret"
	case strings.Contains(res.Error, "injection"):
		return "injection"
	case strings.Contains(res.Error, "budget"):
		return "budget"
	case strings.Contains(res.Error, "backend"):
		return "backend"
	default:
		return "other"
	}
}

// statusFor maps a result onto an HTTP status. The body always carries the
// full result either way.
func statusFor(res coordinator.ExecutionResult) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.State == coordinator.StateExecutionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusForbidden
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
