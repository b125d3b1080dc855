package hub

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rickgao/notify-channel/internal/wire"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Routes mounts the websocket endpoint and the notification REST API.
func (h *Hub) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws/notifications", h.ServeWS)
	r.Route("/api/notifications", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/send", h.handleSend)
		r.Get("/connections", h.handleConnections)
	})
	return r
}

// handleList serves GET /api/notifications?user_id=&limit=. Store errors
// yield an empty list.
func (h *Hub) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	list, err := h.Recent(r.Context(), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		h.logger.Error("fetch notifications failed", "error", err)
		list = nil
	}
	if list == nil {
		list = []wire.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleSend serves POST /api/notifications/send. The request is read from a
// JSON body, or from query parameters when the body is not JSON.
func (h *Hub) handleSend(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	} else {
		q := r.URL.Query()
		req = PublishRequest{
			Type:     q.Get("notification_type"),
			Title:    q.Get("title"),
			Message:  q.Get("message"),
			UserID:   q.Get("user_id"),
			Platform: q.Get("platform"),
		}
	}

	n, delivered, err := h.Publish(r.Context(), req)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "sent",
		"id":          n.ID,
		"delivered":   delivered,
		"connections": h.Stats().TotalConnections,
	})
}

func (h *Hub) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
