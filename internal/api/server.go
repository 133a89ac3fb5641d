// Package api provides the HTTP surface consumed by the GreenProof UI:
// photo submission, confirmation of low-confidence claims, and read-only
// ledger, cooldown, and leaderboard views.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/greenproof/greenproof/internal/app/orchestrator"
	"github.com/greenproof/greenproof/internal/domain"
	"github.com/greenproof/greenproof/internal/ledger"
)

// Version is reported by /api/version.
const Version = "0.1.0"

// Server is the GreenProof HTTP API server.
type Server struct {
	orch           *orchestrator.Orchestrator
	ledger         *ledger.Ledger
	metricsEnabled bool
	limiter        *rate.Limiter
	log            *logrus.Entry
}

// NewServer creates a new API server. logger may be nil.
func NewServer(orch *orchestrator.Orchestrator, rl *ledger.Ledger, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{orch: orch, ledger: rl, log: logger.WithField("component", "api")}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// EnableRateLimit throttles all routes to rps requests per second with the
// given burst.
func (s *Server) EnableRateLimit(rps float64, burst int) {
	s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)
	if s.limiter != nil {
		r.Use(s.rateLimitMiddleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		r.Post("/verify", s.handleVerify)
		r.Post("/verify/confirm", s.handleConfirm)
		r.Post("/verify/decline", s.handleDecline)

		r.Get("/ledger/{userID}", s.handleLedger)
		r.Get("/cooldowns/{userID}", s.handleCooldowns)
		r.Get("/leaderboard/{userID}", s.handleLeaderboard)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Verification endpoints ─────────────────────────────────────────────────

type verifyRequest struct {
	UserID   string `json:"user_id"`
	Image    string `json:"image"` // base64-encoded photo bytes
	ImageRef string `json:"image_ref"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	imageBytes, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil || len(imageBytes) == 0 {
		writeError(w, http.StatusBadRequest, "image must be non-empty base64")
		return
	}

	decision, err := s.orch.Submit(r.Context(), req.UserID, imageBytes, req.ImageRef)
	if err != nil {
		s.writeVerifyFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// writeVerifyFault maps classification faults onto gateway statuses. These
// are retryable: the claim reached no decision.
func (s *Server) writeVerifyFault(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, domain.ErrNetwork) {
		status = http.StatusGatewayTimeout
	}
	s.log.WithError(err).Warn("verification fault")
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message":   err.Error(),
			"type":      "verification_fault",
			"retryable": true,
		},
	})
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	decision, err := s.orch.Confirm(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, domain.ErrConfirmationNotFound) {
			writeError(w, http.StatusNotFound, "confirmation not found or expired")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := s.orch.Decline(req.Token); err != nil {
		writeError(w, http.StatusNotFound, "confirmation not found or expired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"declined": true})
}

// ─── Read endpoints ─────────────────────────────────────────────────────────

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	snapshot := s.ledger.Load(r.Context(), userID)

	co2 := snapshot.TotalCO2Grams()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ledger":       snapshot,
		"co2_grams":    co2,
		"co2_car_km":   domain.CO2CarKmEquivalent(co2),
		"action_count": len(snapshot.Actions),
	})
}

type cooldownEntry struct {
	Category      domain.ActionCategory `json:"category"`
	OnCooldown    bool                  `json:"on_cooldown"`
	Remaining     string                `json:"remaining,omitempty"`
	RemainingSecs int                   `json:"remaining_seconds,omitempty"`
	PeriodMinutes int                   `json:"period_minutes"`
}

func (s *Server) handleCooldowns(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	statuses := s.orch.Cooldowns(userID)
	policy := domain.DefaultCooldownPolicy()

	entries := make([]cooldownEntry, 0, len(domain.Categories()))
	for _, cat := range domain.Categories() {
		status := statuses[cat]
		entry := cooldownEntry{
			Category:      cat,
			OnCooldown:    status.OnCooldown,
			PeriodMinutes: int(policy.Duration(cat).Minutes()),
		}
		if status.OnCooldown {
			entry.Remaining = domain.FormatCooldown(status.Remaining)
			entry.RemainingSecs = int(status.Remaining.Seconds())
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cooldowns": entries})
}

// ─── Middleware and helpers ─────────────────────────────────────────────────

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers for the mobile/web UI.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
