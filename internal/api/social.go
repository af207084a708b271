package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) LikeStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.gallery.LikeStatus(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handler) Like(w http.ResponseWriter, r *http.Request) {
	status, err := h.gallery.Like(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handler) Unlike(w http.ResponseWriter, r *http.Request) {
	status, err := h.gallery.Unlike(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handler) ListLikes(w http.ResponseWriter, r *http.Request) {
	likes, err := h.gallery.ListLikes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, likes)
}

func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	comment, err := h.gallery.AddComment(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, comment)
}

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.gallery.ListComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, comments)
}

func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	err := h.gallery.DeleteComment(r.Context(), actorFrom(r), chi.URLParam(r, "id"), chi.URLParam(r, "commentID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Comment deleted"})
}
