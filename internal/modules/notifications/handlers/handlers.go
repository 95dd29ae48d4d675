// Package handlers provides HTTP and websocket endpoints for
// notifications.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/domain"
	"github.com/esx-sim/esx/internal/modules/notifications"
	"github.com/esx-sim/esx/internal/web"
)

// Handler handles notification HTTP requests.
type Handler struct {
	repo *notifications.Repository
	hub  *notifications.Hub
	log  zerolog.Logger
}

// NewHandler creates a new notifications handler.
func NewHandler(repo *notifications.Repository, hub *notifications.Hub, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		hub:  hub,
		log:  log.With().Str("handler", "notifications").Logger(),
	}
}

// HandleList handles GET /api/notifications for the calling user.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"
	all, err := h.repo.ListByUser(ident.UserID, unreadOnly)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, all)
}

// HandleMarkRead handles POST /api/notifications/{id}/read.
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request, id string) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	if id == "" {
		web.WriteError(w, h.log, domain.ErrValidation)
		return
	}

	if err := h.repo.MarkRead(id, ident.UserID); err != nil {
		web.WriteError(w, h.log, err)
		return
	}
	web.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{"id": id, "is_read": true})
}

// HandleWebsocket handles GET /ws/notifications.
func (h *Handler) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	ident, err := web.CallerIdentity(r)
	if err != nil {
		web.WriteError(w, h.log, err)
		return
	}

	if err := h.hub.Serve(w, r, ident.UserID); err != nil {
		h.log.Debug().Err(err).Msg("Websocket upgrade failed")
	}
}

// RegisterRoutes registers the REST notification routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/{id}/read", func(w http.ResponseWriter, r *http.Request) {
			h.HandleMarkRead(w, r, chi.URLParam(r, "id"))
		})
	})
}

// RegisterWebsocket registers the websocket route, outside the /api
// subtree.
func (h *Handler) RegisterWebsocket(r chi.Router) {
	r.Get("/ws/notifications", h.HandleWebsocket)
}
