package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"derivbot/internal/config"
	"derivbot/internal/deriv"
	"derivbot/internal/domain"
	"derivbot/internal/engine"
	storepkg "derivbot/internal/store"
)

type contextKey string

const contextKeyTenant contextKey = "tenant_id"

// GatewayHealth is the read-only connection view the API exposes.
type GatewayHealth interface {
	Health() deriv.Health
}

type Server struct {
	cfg       config.Config
	scheduler *engine.Scheduler
	store     storepkg.Store
	gateway   GatewayHealth
}

func NewServer(cfg config.Config, scheduler *engine.Scheduler, st storepkg.Store, gateway GatewayHealth) *Server {
	return &Server{
		cfg:       cfg,
		scheduler: scheduler,
		store:     st,
		gateway:   gateway,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/auth/token", s.handleIssueToken)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireTenant)
		protected.Post("/bot/start", s.handleStart)
		protected.Post("/bot/stop", s.handleStop)
		protected.Get("/bot/status", s.handleStatus)
		protected.Post("/bot/force-trade", s.handleForceTrade)
		protected.Get("/bot/trades", s.handleListTrades)
		protected.Get("/bot/config", s.handleGetConfig)
		protected.Put("/bot/config", s.handleSaveConfig)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.gateway.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"deriv":  health,
	})
}

// handleIssueToken exchanges the shared connect code for a tenant-scoped
// bearer token.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectCode string `json:"connect_code"`
		TenantID    string `json:"tenant_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConnectCode != s.cfg.ConnectCode {
		writeError(w, http.StatusUnauthorized, "invalid connect code")
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	token, expiresAt, err := s.signTenantToken(req.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	var cfg domain.TradingConfig
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if len(cfg.Symbols) == 0 {
		stored, err := s.store.ReadTenantConfig(tenantID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "no trading symbols configured")
			return
		}
		cfg = stored
	}

	snapshot, err := s.scheduler.Start(tenantID, cfg)
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "bot already running, stop it first")
		return
	case errors.Is(err, engine.ErrNoSymbols):
		writeError(w, http.StatusBadRequest, "no trading symbols configured")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	s.scheduler.Stop(tenantID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	snapshot, err := s.scheduler.Status(tenantID)
	if err != nil {
		writeJSON(w, http.StatusOK, domain.BotSnapshot{
			TenantID:       tenantID,
			DerivConnected: s.gateway.Health().Status == deriv.StatusAuthorized,
		})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleForceTrade(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	var req struct {
		Symbol       string  `json:"symbol"`
		ContractType string  `json:"contract_type"`
		Amount       float64 `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	contractType := domain.ContractType(strings.ToUpper(req.ContractType))
	if contractType != domain.ContractCall && contractType != domain.ContractPut {
		writeError(w, http.StatusBadRequest, "contract_type must be CALL or PUT")
		return
	}

	trade, err := s.scheduler.ForceTrade(tenantID, req.Symbol, contractType, req.Amount)
	if err != nil {
		status, reason := classifyTradeError(err)
		writeJSON(w, status, map[string]string{"error": err.Error(), "reason": reason})
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// classifyTradeError distinguishes a timeout from an explicit venue
// rejection from gateway unavailability, so callers see why the trade
// failed rather than a generic error.
func classifyTradeError(err error) (int, string) {
	var apiErr *deriv.APIError
	switch {
	case errors.Is(err, engine.ErrNotRunning):
		return http.StatusConflict, "bot_not_running"
	case errors.Is(err, deriv.ErrRequestTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &apiErr):
		return http.StatusUnprocessableEntity, "rejected:" + apiErr.Code
	case errors.Is(err, deriv.ErrConnectionDead),
		errors.Is(err, deriv.ErrNotConnected),
		errors.Is(err, deriv.ErrConnectionClosed):
		return http.StatusServiceUnavailable, "gateway_unavailable"
	case errors.Is(err, engine.ErrNoProposal):
		return http.StatusUnprocessableEntity, "no_proposal"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	trades, err := s.store.ListTrades(tenantID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	cfg, err := s.store.ReadTenantConfig(tenantID)
	if err != nil {
		if errors.Is(err, storepkg.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no configuration saved")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	var cfg domain.TradingConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(cfg.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols must not be empty")
		return
	}
	if err := s.store.SaveTenantConfig(tenantID, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) signTenantToken(tenantID string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(24 * time.Hour)
	claims := jwt.MapClaims{
		"sub": tenantID,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (any, error) {
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid claims")
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			writeError(w, http.StatusUnauthorized, "invalid subject")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyTenant, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFromContext(ctx context.Context) string {
	tenantID, _ := ctx.Value(contextKeyTenant).(string)
	return tenantID
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
