// Package api exposes the verification service over HTTP
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	ledgererrors "voter-ledger/errors"
	"voter-ledger/models"
	"voter-ledger/service"
)

type Server struct {
	service    *service.VerificationService
	queue      *service.QueueProcessor
	router     *mux.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind"`
	Missing []string `json:"missing,omitempty"`
}

type IntegrityResponse struct {
	VoterKey string `json:"voter_uuid"`
	Intact   bool   `json:"intact"`
}

// NewServer builds the HTTP server. When queue is non-nil, verification
// steps are recorded through it instead of directly on the service.
func NewServer(svc *service.VerificationService, queue *service.QueueProcessor, port int, logger zerolog.Logger) *Server {
	s := &Server{
		service: svc,
		queue:   queue,
		router:  mux.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.service.Metrics().Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/verifications", s.handleRecordStep).Methods(http.MethodPost)
	v1.HandleFunc("/records", s.handleListRecords).Methods(http.MethodGet)
	v1.HandleFunc("/records/{voterKey}", s.handleGetRecord).Methods(http.MethodGet)
	v1.HandleFunc("/records/{voterKey}/integrity", s.handleVerifyIntegrity).Methods(http.MethodGet)
	v1.HandleFunc("/records/{voterKey}/versions", s.handleGetVersions).Methods(http.MethodGet)
	v1.HandleFunc("/records/{voterKey}/chain", s.handleVerifyChain).Methods(http.MethodGet)
	v1.HandleFunc("/status/{voterKey}", s.handleGetStatus).Methods(http.MethodGet)
	v1.HandleFunc("/booths", s.handleListBooths).Methods(http.MethodGet)
	v1.HandleFunc("/booths/{boothID}", s.handleGetBooth).Methods(http.MethodGet)
	v1.HandleFunc("/history/{voterID}", s.handleGetHistory).Methods(http.MethodGet)
	v1.HandleFunc("/audit/export", s.handleExport).Methods(http.MethodGet)
	v1.HandleFunc("/fraud-attempts", s.handleFraudAttempts).Methods(http.MethodGet)
	v1.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("stopping API server")
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		event := s.logger.Debug()
		if rec.status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if session := s.service.Session(); session != nil {
		resp["session_active"] = session.IsActive()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordStep(w http.ResponseWriter, r *http.Request) {
	var req service.StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, ledgererrors.Wrap(err, ledgererrors.KindInvalidArgument, "invalid request body"))
		return
	}

	var (
		receipt *models.Receipt
		err     error
	)
	if s.queue != nil {
		receipt, err = s.queue.Submit(r.Context(), req)
	} else {
		receipt, err = s.service.RecordStep(r.Context(), req)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListVoteRecords(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.GetVoteRecord(mux.Vars(r)["voterKey"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	voterKey := mux.Vars(r)["voterKey"]
	intact, err := s.service.VerifyVoteIntegrity(voterKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, IntegrityResponse{VoterKey: voterKey, Intact: intact})
}

func (s *Server) handleGetVersions(w http.ResponseWriter, r *http.Request) {
	voterKey := mux.Vars(r)["voterKey"]
	if _, err := s.service.GetVoteRecord(voterKey); err != nil {
		s.writeError(w, err)
		return
	}
	versions, err := s.service.GetRecordVersions(voterKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.VerifyVoteChain(mux.Vars(r)["voterKey"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.GetVoterStatus(mux.Vars(r)["voterKey"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListBooths(w http.ResponseWriter, r *http.Request) {
	booths, err := s.service.GetAllBoothStats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if booths == nil {
		booths = []*models.BoothStats{}
	}
	writeJSON(w, http.StatusOK, booths)
}

func (s *Server) handleGetBooth(w http.ResponseWriter, r *http.Request) {
	boothID, err := strconv.ParseInt(mux.Vars(r)["boothID"], 10, 64)
	if err != nil {
		s.writeError(w, ledgererrors.New(ledgererrors.KindInvalidArgument, "booth ID must be an integer"))
		return
	}
	stats, err := s.service.GetPollingBoothStats(boothID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.service.GetVoteHistory(r.Context(), mux.Vars(r)["voterID"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	redact := query.Get("redact") == "true"

	if query.Get("sign") == "true" {
		signed, err := s.service.SignedAuditTrail(r.Context(), redact)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, signed)
		return
	}

	trail, err := s.service.ExportAuditTrail(r.Context(), redact)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func (s *Server) handleFraudAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, ledgererrors.New(ledgererrors.KindInvalidArgument, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	attempts, err := s.service.FraudAttempts(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.DashboardStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(err error) int {
	switch ledgererrors.KindOf(err) {
	case ledgererrors.KindNotFound:
		return http.StatusNotFound
	case ledgererrors.KindAlreadyVoted, ledgererrors.KindBoothMismatch, ledgererrors.KindVoterIDMismatch:
		return http.StatusConflict
	case ledgererrors.KindIncompleteVerification:
		return http.StatusPreconditionFailed
	case ledgererrors.KindInvalidStep, ledgererrors.KindInvalidArgument:
		return http.StatusBadRequest
	case ledgererrors.KindSessionClosed:
		return http.StatusForbidden
	case ledgererrors.KindQueueFull, ledgererrors.KindStorage:
		return http.StatusServiceUnavailable
	}
	if ledgererrors.Is(err, context.Canceled) || ledgererrors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	kind := ledgererrors.KindOf(err)
	if kind == "" {
		kind = ledgererrors.KindInternal
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Kind:    string(kind),
		Missing: ledgererrors.MissingSteps(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
