package httpapi

import (
	"net/http"
	"strings"
	"time"

	"openbot.social/internal/audit"
	"openbot.social/internal/identity"
)

type createEntityRequest struct {
	EntityID    string `json:"entity_id"`
	EntityType  string `json:"entity_type"`
	DisplayName string `json:"display_name"`
	EntityName  string `json:"entity_name"`
	PublicKey   string `json:"public_key"`
}

type createEntityResponse struct {
	Success     bool      `json:"success"`
	EntityID    string    `json:"entity_id"`
	EntityType  string    `json:"entity_type"`
	DisplayName string    `json:"display_name"`
	EntityName  string    `json:"entity_name"`
	NumericID   int64     `json:"numeric_id"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// entityView is the public projection of an entity: the key material itself
// is never exposed, only its fingerprint.
type entityView struct {
	EntityID    string    `json:"entity_id"`
	EntityName  string    `json:"entity_name"`
	DisplayName string    `json:"display_name"`
	EntityType  string    `json:"entity_type"`
	NumericID   int64     `json:"numeric_id"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewOf(e *identity.Entity) entityView {
	return entityView{
		EntityID:    e.EntityID,
		EntityName:  e.EntityName,
		DisplayName: e.DisplayName,
		EntityType:  string(e.Type),
		NumericID:   e.NumericID,
		Fingerprint: e.Fingerprint,
		CreatedAt:   e.CreatedAt,
	}
}

func (a *API) handleEntityCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.checkQuota(w, r, identity.ActionEntityCreate, clientIP(r)) {
		return
	}

	var req createEntityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	e, err := a.identity.Register(r.Context(), identity.RegisterParams{
		EntityID:    req.EntityID,
		EntityName:  req.EntityName,
		DisplayName: req.DisplayName,
		Type:        identity.EntityType(strings.TrimSpace(req.EntityType)),
		PublicKey:   req.PublicKey,
	})
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "entity.created", map[string]any{
		"entity_id":   e.EntityID,
		"entity_type": string(e.Type),
		"fingerprint": e.Fingerprint,
		"numeric_id":  e.NumericID,
	})

	writeJSON(w, http.StatusCreated, createEntityResponse{
		Success:     true,
		EntityID:    e.EntityID,
		EntityType:  string(e.Type),
		DisplayName: e.DisplayName,
		EntityName:  e.EntityName,
		NumericID:   e.NumericID,
		Fingerprint: e.Fingerprint,
		CreatedAt:   e.CreatedAt,
	})
}

func (a *API) handleEntityResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/entity/")
	id = strings.TrimSuffix(id, "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.checkQuota(w, r, identity.ActionGeneral, clientIP(r)) {
		return
	}

	e, err := a.identity.Entity(r.Context(), id)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(e))
}

func (a *API) handleEntityList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.checkQuota(w, r, identity.ActionGeneral, clientIP(r)) {
		return
	}

	typeFilter := identity.EntityType(strings.TrimSpace(r.URL.Query().Get("type")))
	entities, err := a.identity.ListEntities(r.Context(), typeFilter)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	views := make([]entityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, viewOf(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"entities": views,
		"count":    len(views),
	})
}
