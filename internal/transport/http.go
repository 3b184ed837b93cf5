// Package transport provides the HTTP API and the WebSocket event stream.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/testnetbot/internal/app"
	"github.com/gateway-fm/testnetbot/internal/apperr"
	"github.com/gateway-fm/testnetbot/pkg/types"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 100
	readyTimeout     = 5 * time.Second
)

// BotAPI is the part of the bot service the handlers need.
type BotAPI interface {
	Status() types.Status
	Wallets() ([]types.Wallet, error)
	ListRuns(ctx context.Context, limit, offset int) (*types.PaginatedRuns, error)
	GetRun(ctx context.Context, id string) (*types.RunDetail, error)
	Start(req types.RunRequest) (types.RunResponse, error)
}

// HealthChecker probes the RPC endpoints for readiness.
type HealthChecker interface {
	CheckL1RPC(ctx context.Context) error
	CheckL2RPC(ctx context.Context) error
}

// Server handles HTTP requests for the bot.
type Server struct {
	api       BotAPI
	health    HealthChecker
	hub       *EventHub
	metrics   http.Handler
	logger    *slog.Logger
	startTime time.Time

	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a new HTTP server. hub may be nil to disable /v1/ws.
func NewServer(api BotAPI, health HealthChecker, hub *EventHub, logger *slog.Logger, corsAllowedOrigins []string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		api:       api,
		health:    health,
		hub:       hub,
		metrics:   promhttp.Handler(),
		logger:    logger,
		startTime: time.Now(),
	}
	if len(corsAllowedOrigins) == 0 || (len(corsAllowedOrigins) == 1 && corsAllowedOrigins[0] == "*") {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = corsAllowedOrigins
	}
	return s
}

// SetMetricsHandler replaces the default Prometheus handler, for a
// custom registry.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/wallets", s.corsMiddleware(s.handleWallets))
	mux.HandleFunc("/v1/runs", s.corsMiddleware(s.handleRuns))
	mux.HandleFunc("/v1/runs/", s.corsMiddleware(s.handleRunDetail))
	mux.HandleFunc("/v1/run", s.corsMiddleware(s.handleRun))
	if s.hub != nil {
		mux.HandleFunc("/v1/ws", s.hub.Handler())
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", s.metrics)

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.api.Status())
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	wallets, err := s.api.Wallets()
	if err != nil {
		s.writeJSONError(w, "Failed to load wallets: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallets": wallets,
		"total":   len(wallets),
	})
}

// handleRuns returns run history with optional pagination.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultRunsLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= maxRunsLimit {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil && o >= 0 {
			offset = o
		}
	}

	result, err := s.api.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.writeLedgerError(w, "Failed to list runs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleRunDetail handles GET /v1/runs/{id}.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/")
	if id == "" || strings.Contains(id, "/") {
		s.writeJSONError(w, "Missing run ID", http.StatusBadRequest)
		return
	}

	detail, err := s.api.GetRun(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, "Failed to get run", err)
		return
	}
	if detail == nil {
		s.writeJSONError(w, "Run not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// handleRun starts a command in the background.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.api.Start(req)
	switch {
	case err == nil:
		s.logger.Info("Run accepted", slog.String("run", resp.ID), slog.String("command", string(resp.Command)))
		s.writeJSON(w, http.StatusAccepted, resp)
	case errors.Is(err, app.ErrBusy):
		s.writeJSONError(w, err.Error(), http.StatusConflict)
	case apperr.IsKind(err, apperr.KindConfiguration):
		s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("Failed to start run", slog.String("error", err.Error()))
		s.writeJSONError(w, "Failed to start run: "+err.Error(), http.StatusInternalServerError)
	}
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		probes := []struct {
			name  string
			check func(context.Context) error
		}{
			{"l1-rpc", s.health.CheckL1RPC},
			{"l2-rpc", s.health.CheckL2RPC},
		}
		for _, p := range probes {
			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			start := time.Now()
			err := p.check(ctx)
			cancel()

			check := ReadinessCheck{Name: p.name, Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				check.Status = "failed"
				check.Error = err.Error()
				allHealthy = false
			}
			checks = append(checks, check)
		}
	}

	code := http.StatusOK
	if !allHealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	})
}

func (s *Server) writeLedgerError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, app.ErrLedgerDisabled) {
		s.writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.writeJSONError(w, message+": "+err.Error(), http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}
