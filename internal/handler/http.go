package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spotclaim/internal/config"
	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/service"
)

// Handler provides HTTP handlers for the spot ownership API
type Handler struct {
	service *service.Service
	auth    config.AuthConfig
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.Service, auth config.AuthConfig, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		auth:    auth,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/leaderboards/users", h.GetUserLeaderboard)
		r.Get("/leaderboards/teams", h.GetTeamLeaderboard)
		r.Get("/territories/{territoryID}", h.GetTerritory)
		r.Get("/clips/{clipID}", h.GetClip)

		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)

			r.Post("/clips/{clipID}/vote", h.CastVote)
			r.Post("/invite-codes", h.GenerateInviteCode)
			r.Post("/teams", h.CreateTeam)
			r.Post("/teams/join", h.JoinTeam)
			r.Delete("/teams/membership", h.LeaveTeam)
			r.Get("/teams/mine", h.GetMyTeam)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)

			r.Post("/territories", h.CreateTerritory)
			r.Delete("/territories/{territoryID}", h.DeleteTerritory)
			r.Post("/territories/{territoryID}/recalc", h.RecalcOwner)
			r.Post("/clips", h.CreateClip)
			r.Delete("/clips/{clipID}", h.DeleteClip)
			r.Put("/profiles/{userID}", h.UpsertProfile)
			r.Post("/recalc", h.RecalcAllOwners)
			r.Post("/rebuild-counts", h.RebuildVoteCounts)
		})
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Admin-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeCreated writes a 201 JSON response
func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps an engine error onto a status code. Unknown errors
// are logged and reported as internal errors.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		h.writeError(w, http.StatusUnauthorized, domain.ErrNotAuthenticated)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, rootError(err))
	case errors.Is(err, domain.ErrDuplicateVote),
		errors.Is(err, domain.ErrAlreadyMember),
		errors.Is(err, domain.ErrConcurrentConflict):
		h.writeError(w, http.StatusConflict, rootError(err))
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, domain.ErrInviteCodeExhausted):
		h.logger.Error("failed to "+op, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, rootError(err))
	default:
		h.logger.Error("failed to "+op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// rootError returns the domain sentinel behind err so storage details never
// reach the client
func rootError(err error) error {
	for _, sentinel := range []error{
		domain.ErrInvalidClip,
		domain.ErrVoteNotFound,
		domain.ErrTerritoryNotFound,
		domain.ErrTeamNotFound,
		domain.ErrInvalidInviteCode,
		domain.ErrDuplicateVote,
		domain.ErrAlreadyMember,
		domain.ErrConcurrentConflict,
		domain.ErrStorageUnavailable,
		domain.ErrInviteCodeExhausted,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return domain.ErrInternalError
}

// decodeBody decodes a JSON request body, rejecting unknown fields
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports whether the store is reachable
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrStorageUnavailable)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// limitParam parses ?limit=, returning 0 (the configured default) when absent
func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, domain.ErrInvalidRequest
	}
	return limit, nil
}

// GetUserLeaderboard returns the user ownership leaderboard
func (h *Handler) GetUserLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	standings, err := h.service.UserLeaderboard(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "get user leaderboard", err)
		return
	}
	h.writeSuccess(w, standings)
}

// GetTeamLeaderboard returns the team ownership leaderboard
func (h *Handler) GetTeamLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	standings, err := h.service.TeamLeaderboard(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "get team leaderboard", err)
		return
	}
	h.writeSuccess(w, standings)
}

// GetTerritory returns a territory with its ranked clips
func (h *Handler) GetTerritory(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetTerritory(r.Context(), chi.URLParam(r, "territoryID"))
	if err != nil {
		h.writeServiceError(w, "get territory", err)
		return
	}
	h.writeSuccess(w, detail)
}

// GetClip returns a clip
func (h *Handler) GetClip(w http.ResponseWriter, r *http.Request) {
	clip, err := h.service.GetClip(r.Context(), chi.URLParam(r, "clipID"))
	if err != nil {
		h.writeServiceError(w, "get clip", err)
		return
	}
	h.writeSuccess(w, clip)
}

// CastVote toggles or moves the caller's vote
func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CastVote(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "clipID"))
	if err != nil {
		h.writeServiceError(w, "cast vote", err)
		return
	}
	h.writeSuccess(w, result)
}

// GenerateInviteCode reserves a fresh invite code
func (h *Handler) GenerateInviteCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.service.GenerateInviteCode(r.Context())
	if err != nil {
		h.writeServiceError(w, "generate invite code", err)
		return
	}
	h.writeCreated(w, map[string]string{"invite_code": code})
}

// CreateTeam creates a team owned by the caller
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTeamRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	team, err := h.service.CreateTeam(r.Context(), UserIDFromContext(r.Context()), req.Name)
	if err != nil {
		h.writeServiceError(w, "create team", err)
		return
	}
	h.writeCreated(w, team)
}

// JoinTeam adds the caller to the team behind an invite code
func (h *Handler) JoinTeam(w http.ResponseWriter, r *http.Request) {
	var req domain.JoinTeamRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	team, err := h.service.JoinTeam(r.Context(), UserIDFromContext(r.Context()), req.InviteCode)
	if err != nil {
		h.writeServiceError(w, "join team", err)
		return
	}
	h.writeSuccess(w, team)
}

// LeaveTeam removes the caller from their team
func (h *Handler) LeaveTeam(w http.ResponseWriter, r *http.Request) {
	if err := h.service.LeaveTeam(r.Context(), UserIDFromContext(r.Context())); err != nil {
		h.writeServiceError(w, "leave team", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "left"})
}

// GetMyTeam returns the caller's team
func (h *Handler) GetMyTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.service.TeamForUser(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, "get team", err)
		return
	}
	h.writeSuccess(w, team)
}
