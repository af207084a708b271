package api

import (
	"log/slog"
	"net/http"

	"github.com/notes-bin/crystal/internal/storage"

	"github.com/go-chi/chi/v5"
)

// ServeFile serves a stored upload. Names are content hashes, so responses
// never change.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !storage.ValidName(name) || !h.storage.Exists(name) {
		respondError(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, h.storage.GetFilePath(name))
}

// ServeThumbnail serves the thumbnail of a stored upload, creating it on
// first request. Thumbnails have no thumbnails of their own.
func (h *Handler) ServeThumbnail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !storage.IsOriginal(name) || !h.storage.Exists(name) {
		respondError(w, http.StatusNotFound, "File not found")
		return
	}
	thumb, err := h.storage.Thumbnail(name)
	if err != nil {
		slog.Error("Failed to create thumbnail", "file", name, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create thumbnail")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, h.storage.GetFilePath(thumb))
}

// Subscribe upgrades to a websocket that receives a snapshot of the topic
// and then its change events.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	snapshot, err := h.gallery.Snapshot(r.Context(), topic)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.hub.ServeWS(w, r, topic, snapshot); err != nil {
		slog.Warn("WebSocket upgrade failed", "topic", topic, "error", err)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.redis.Ping(r.Context()).Err(); err != nil {
		slog.Error("Health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
