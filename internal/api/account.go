package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/notes-bin/crystal/internal/auth"
	"github.com/notes-bin/crystal/internal/gallery"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.auth.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	token, err := h.auth.GenerateToken(user, h.tokenTTL(0))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	slog.Info("User registered", "gallery_id", user.ID)
	respondJSON(w, http.StatusCreated, map[string]any{"user": user.Account(), "token": token})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		ExpiresIn int    `json:"expires_in"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	token, err := h.auth.Login(r.Context(), req.Email, req.Password, h.tokenTTL(req.ExpiresIn))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// RefreshToken issues a new token from the stored user, so admin changes
// take effect.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExpiresIn int `json:"expires_in"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	user, err := h.redis.GetUser(r.Context(), actorFrom(r).UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if user == nil {
		respondError(w, http.StatusUnauthorized, "User no longer exists")
		return
	}
	token, err := h.auth.GenerateToken(user, h.tokenTTL(req.ExpiresIn))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	account, err := h.gallery.GetAccount(r.Context(), actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req gallery.ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	account, err := h.gallery.UpdateProfile(r.Context(), actorFrom(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if err := h.gallery.DeleteAccount(r.Context(), actor, actor.UserID); err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.auth.ChangePassword(r.Context(), actorFrom(r).UserID, req.OldPassword, req.NewPassword)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		respondError(w, http.StatusForbidden, "Current password is incorrect")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "If the address is registered, a reset link has been sent"})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Password reset"})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.gallery.ListAccounts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, accounts)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	gid := chi.URLParam(r, "gid")
	if err := h.gallery.DeleteAccount(r.Context(), actorFrom(r), gid); err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}

func (h *Handler) Recount(w http.ResponseWriter, r *http.Request) {
	fixed, err := h.gallery.RecountAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"fixed": fixed})
}
