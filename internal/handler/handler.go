// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/internal/repository"
	"github.com/hackletloose/hall-events/internal/service"
	"github.com/hackletloose/hall-events/pkg/logger"
)

// Handler holds all HTTP handlers for the signup API.
type Handler struct {
	events  *service.EventService
	signups *service.SignupService
}

// New constructs a Handler.
func New(events *service.EventService, signups *service.SignupService) *Handler {
	return &Handler{events: events, signups: signups}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// fail maps service errors to status codes. Unexpected errors are logged and
// hidden behind a generic message.
func fail(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, repository.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, repository.ErrAlreadySignedUp):
		writeError(w, http.StatusConflict, "you are already signed up for this event")
	case errors.Is(err, repository.ErrNotActivelySignedUp):
		writeError(w, http.StatusConflict, "you are not signed up")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg(action + " failed")
		writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var in model.EventInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	event, err := h.events.CreateEvent(r.Context(), in)
	if err != nil {
		fail(w, r, err, "create event")
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	if err != nil {
		fail(w, r, err, "list events")
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err, "get event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// UpdateEvent handles PUT /events/{id}
// The response lists waiting entries promoted into newly opened slots.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var in model.EventInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	out, err := h.events.UpdateEvent(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, err, "update event")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteEvent handles DELETE /events/{id}
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.events.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err, "delete event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Signups ──────────────────────────────────────────────────────────────────

// RequestSignup handles POST /events/{id}/signups
// Responds 201 with status active, or 202 when the user was queued.
func (h *Handler) RequestSignup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.EventID = chi.URLParam(r, "id")

	out, err := h.signups.RequestSignup(r.Context(), req)
	if err != nil {
		fail(w, r, err, "sign up")
		return
	}
	status := http.StatusCreated
	if out.Status == model.StatusWaiting {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

// ListSignups handles GET /events/{id}/signups
// Without a status filter it returns the active lineup in join order;
// status=all returns the whole ledger.
func (h *Handler) ListSignups(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status := r.URL.Query().Get("status")

	if status == "" {
		entries, err := h.signups.ListActiveSignups(r.Context(), id)
		if err != nil {
			fail(w, r, err, "list signups")
			return
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}
	if status == "all" {
		status = ""
	}
	signups, err := h.signups.ListSignups(r.Context(), id, model.Status(status))
	if err != nil {
		fail(w, r, err, "list signups")
		return
	}
	if signups == nil {
		signups = []model.Signup{}
	}
	writeJSON(w, http.StatusOK, signups)
}

// CountActive handles GET /events/{id}/signups/count?side=&role=
func (h *Handler) CountActive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, role := model.Side(q.Get("side")), model.Role(q.Get("role"))
	n, err := h.signups.CountActive(r.Context(), chi.URLParam(r, "id"), side, role)
	if err != nil {
		fail(w, r, err, "count signups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"side": side, "role": role, "active": n})
}

// HasOpenSignup handles GET /events/{id}/signups/{userID}
func (h *Handler) HasOpenSignup(w http.ResponseWriter, r *http.Request) {
	ok, err := h.signups.HasOpenSignup(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, r, err, "look up signup")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"signed_up": ok})
}

// CancelEventSignup handles DELETE /events/{id}/signups/{userID}
func (h *Handler) CancelEventSignup(w http.ResponseWriter, r *http.Request) {
	out, err := h.signups.CancelEventSignup(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, r, err, "cancel signup")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CancelSignup handles POST /signups/cancel
// Cancels the caller's most recent active signup across all events.
func (h *Handler) CancelSignup(w http.ResponseWriter, r *http.Request) {
	var req model.CancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	out, err := h.signups.CancelSignup(r.Context(), req.UserID)
	if err != nil {
		fail(w, r, err, "cancel signup")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Roster handles GET /events/{id}/roster
func (h *Handler) Roster(w http.ResponseWriter, r *http.Request) {
	roster, err := h.signups.Roster(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err, "build roster")
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

// SignupOptions handles GET /events/{id}/options?side=
func (h *Handler) SignupOptions(w http.ResponseWriter, r *http.Request) {
	side := model.Side(r.URL.Query().Get("side"))
	options, err := h.signups.SignupOptions(r.Context(), chi.URLParam(r, "id"), side)
	if err != nil {
		fail(w, r, err, "list signup options")
		return
	}
	writeJSON(w, http.StatusOK, options)
}

// ─── Capacity ─────────────────────────────────────────────────────────────────

// Capacity handles GET /capacity
// Computes the slot count for a side and role from squad counts given as
// query parameters, without touching any event.
func Capacity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, err := model.ParseSide(q.Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := model.ParseRole(q.Get("role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var cfg model.SideConfig
	for _, p := range []struct {
		key string
		dst *int
	}{
		{"infantry_squads", &cfg.InfantrySquads},
		{"tank_squads", &cfg.TankSquads},
		{"sniper_squads", &cfg.SniperSquads},
		{"commanders", &cfg.Commanders},
	} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, p.key+" must be an integer")
			return
		}
		*p.dst = n
	}

	squads := model.SquadConfig{Allies: cfg}
	if side == model.SideAxis {
		squads = model.SquadConfig{Axis: cfg}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"side":     side,
		"role":     role,
		"capacity": model.Capacity(squads, side, role),
	})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
