package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spotclaim/internal/domain"
)

type createTerritoryRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createClipRequest struct {
	ID          string `json:"id"`
	TerritoryID string `json:"territory_id"`
	OwnerID     string `json:"owner_id"`
}

type upsertProfileRequest struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
}

// CreateTerritory registers a territory
func (h *Handler) CreateTerritory(w http.ResponseWriter, r *http.Request) {
	var req createTerritoryRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	territory, err := h.service.CreateTerritory(r.Context(), domain.Territory{ID: req.ID, Name: req.Name})
	if err != nil {
		h.writeServiceError(w, "create territory", err)
		return
	}
	h.writeCreated(w, territory)
}

// DeleteTerritory removes a territory with its clips and votes
func (h *Handler) DeleteTerritory(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteTerritory(r.Context(), chi.URLParam(r, "territoryID")); err != nil {
		h.writeServiceError(w, "delete territory", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// CreateClip attaches a clip to a territory
func (h *Handler) CreateClip(w http.ResponseWriter, r *http.Request) {
	var req createClipRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	clip, err := h.service.CreateClip(r.Context(), domain.Clip{
		ID:          req.ID,
		TerritoryID: req.TerritoryID,
		OwnerID:     req.OwnerID,
	})
	if err != nil {
		h.writeServiceError(w, "create clip", err)
		return
	}
	h.writeCreated(w, clip)
}

// DeleteClip removes a clip and its votes
func (h *Handler) DeleteClip(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteClip(r.Context(), chi.URLParam(r, "clipID")); err != nil {
		h.writeServiceError(w, "delete clip", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// UpsertProfile records a user's handle and display name
func (h *Handler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req upsertProfileRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	profile := domain.Profile{
		ID:          chi.URLParam(r, "userID"),
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
	}
	stored, err := h.service.UpsertProfile(r.Context(), profile)
	if err != nil {
		h.writeServiceError(w, "upsert profile", err)
		return
	}
	h.writeSuccess(w, stored)
}

// RecalcOwner recomputes one territory's owner
func (h *Handler) RecalcOwner(w http.ResponseWriter, r *http.Request) {
	territoryID := chi.URLParam(r, "territoryID")
	owner, err := h.service.RecalcOwner(r.Context(), territoryID)
	if err != nil {
		h.writeServiceError(w, "recalculate owner", err)
		return
	}
	h.writeSuccess(w, map[string]*string{"territory_id": &territoryID, "owner_id": owner})
}

// RecalcAllOwners recomputes every territory's owner
func (h *Handler) RecalcAllOwners(w http.ResponseWriter, r *http.Request) {
	changed, err := h.service.RecalcAllOwners(r.Context())
	if err != nil {
		h.writeServiceError(w, "recalculate owners", err)
		return
	}
	h.writeSuccess(w, map[string]int{"owners_changed": changed})
}

// RebuildVoteCounts recounts projected vote counts from the ledger
func (h *Handler) RebuildVoteCounts(w http.ResponseWriter, r *http.Request) {
	drifted, err := h.service.RebuildVoteCounts(r.Context())
	if err != nil {
		h.writeServiceError(w, "rebuild vote counts", err)
		return
	}
	h.writeSuccess(w, map[string]int{"clips_repaired": drifted})
}
