package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/canceldesk/internal/cancellation"
	"github.com/kiwari-pos/canceldesk/internal/middleware"
	"github.com/kiwari-pos/canceldesk/internal/service"
	"go.uber.org/zap"
)

// Desk defines the desk methods needed by cancel request handlers.
// Satisfied by *service.Desk; narrow interface for testability.
type Desk interface {
	Refresh(ctx context.Context) error
	Snapshot(includeSuperseded bool) service.Snapshot
	Get(id string) (service.View, error)
	Approve(ctx context.Context, id string, actor service.Actor) (cancellation.CancelRequest, error)
	Reject(ctx context.Context, id string, actor service.Actor, reason string) (cancellation.CancelRequest, error)
}

// CancelRequestHandler serves the owner's cancel request desk.
type CancelRequestHandler struct {
	desk Desk
	log  *zap.Logger
}

// NewCancelRequestHandler creates a new CancelRequestHandler.
func NewCancelRequestHandler(desk Desk, log *zap.Logger) *CancelRequestHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CancelRequestHandler{desk: desk, log: log.Named("handler")}
}

// RegisterRoutes registers cancel request endpoints on the given Chi router.
// Expected to be mounted at /cancel-requests behind owner/manager auth.
func (h *CancelRequestHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/refresh", h.Refresh)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
}

// --- Request / Response types ---

type rejectRequest struct {
	Reason string `json:"reason"`
}

type cancelRequestResponse struct {
	service.View
	DisplayReason string `json:"display_reason"`
}

type listResponse struct {
	Requests  []cancelRequestResponse `json:"requests"`
	Summary   cancellation.Summary    `json:"summary"`
	FetchedAt *time.Time              `json:"fetched_at"`
}

func toResponse(v service.View) cancelRequestResponse {
	return cancelRequestResponse{View: v, DisplayReason: v.DisplayReason()}
}

// --- Handlers ---

// List returns the reconciled requests and their summary. When the last
// list fetch failed the whole page is an error the dashboard offers to retry.
func (h *CancelRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	includeSuperseded := r.URL.Query().Get("include_superseded") == "true"
	h.writeSnapshot(w, h.desk.Snapshot(includeSuperseded))
}

// Refresh re-reads the backend and returns the fresh list.
func (h *CancelRequestHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.desk.Refresh(r.Context()); err != nil {
		if errors.Is(err, service.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "service shutting down")
			return
		}
		h.log.Warn("refresh failed", zap.Error(err))
	}
	includeSuperseded := r.URL.Query().Get("include_superseded") == "true"
	h.writeSnapshot(w, h.desk.Snapshot(includeSuperseded))
}

func (h *CancelRequestHandler) writeSnapshot(w http.ResponseWriter, snap service.Snapshot) {
	if snap.FetchErr != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "failed to load cancel requests",
			"retry": "/cancel-requests/refresh",
		})
		return
	}

	resp := listResponse{
		Requests: make([]cancelRequestResponse, 0, len(snap.Requests)),
		Summary:  snap.Summary,
	}
	for _, v := range snap.Requests {
		resp.Requests = append(resp.Requests, toResponse(v))
	}
	if !snap.FetchedAt.IsZero() {
		at := snap.FetchedAt
		resp.FetchedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns one request, superseded or not.
func (h *CancelRequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.desk.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(v))
}

// Approve resolves a pending request as approved.
func (h *CancelRequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	updated, err := h.desk.Approve(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(service.View{CancelRequest: updated}))
}

// Reject resolves a pending request as rejected. The body is optional.
func (h *CancelRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.desk.Reject(r.Context(), chi.URLParam(r, "id"), actor, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeDeskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(service.View{CancelRequest: updated}))
}

func actorFromRequest(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return service.Actor{}, false
	}
	return service.Actor{ID: claims.UserID, Username: claims.Username}, true
}

func (h *CancelRequestHandler) writeDeskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSuperseded),
		errors.Is(err, service.ErrAlreadyResolved),
		errors.Is(err, service.ErrAlreadyProcessed),
		errors.Is(err, service.ErrActionInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrActionFailed):
		writeError(w, http.StatusBadGateway, "backend rejected the action; the request is still pending")
	case errors.Is(err, service.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "service shutting down")
	default:
		h.log.Error("unexpected desk error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
