package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/notes-bin/crystal/internal/auth"
	"github.com/notes-bin/crystal/internal/config"
	"github.com/notes-bin/crystal/internal/gallery"
	"github.com/notes-bin/crystal/internal/metrics"
	"github.com/notes-bin/crystal/internal/realtime"
	"github.com/notes-bin/crystal/internal/redis"
	"github.com/notes-bin/crystal/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	config  *config.Config
	auth    *auth.Auth
	gallery *gallery.Service
	storage *storage.Storage
	redis   *redis.Client
	hub     *realtime.Hub
}

func NewHandler(config *config.Config, auth *auth.Auth, gallery *gallery.Service, storage *storage.Storage, redis *redis.Client, hub *realtime.Hub) *Handler {
	return &Handler{config: config, auth: auth, gallery: gallery, storage: storage, redis: redis, hub: hub}
}

func SetupRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSMiddleware(h.config.AllowedOrigin))
	r.Use(RateLimitMiddleware(h.config.RateLimit.Requests, h.config.RateLimit.Duration))

	// public
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/password/forgot", h.ForgotPassword)
	r.Post("/password/reset", h.ResetPassword)

	r.Get("/galleries/{gid}", h.GetGallery)
	r.Get("/galleries/{gid}/collections", h.ListGalleryCollections)
	r.Get("/galleries/{gid}/images", h.ListGalleryImages)
	r.Get("/collections/{id}", h.GetCollection)
	r.Get("/collections/{id}/images", h.ListCollectionImages)
	r.Get("/images/{id}", h.GetImage)
	r.Get("/images/{id}/likes", h.ListLikes)
	r.Get("/images/{id}/comments", h.ListComments)
	r.Get("/popular", h.Popular)

	r.Get("/files/{name}", h.ServeFile)
	r.Get("/files/{name}/thumbnail", h.ServeThumbnail)
	r.Get("/ws", h.Subscribe)
	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	// authenticated
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Get("/me", h.Me)
		r.Patch("/me", h.UpdateMe)
		r.Delete("/me", h.DeleteMe)
		r.Post("/me/password", h.ChangePassword)
		r.Post("/refresh-token", h.RefreshToken)

		r.Post("/collections", h.CreateCollection)
		r.Patch("/collections/{id}", h.UpdateCollection)
		r.Delete("/collections/{id}", h.DeleteCollection)

		r.Post("/images", h.AddImage)
		r.Post("/upload", h.UploadImage)
		r.Post("/batch-upload", h.BatchUploadImages)
		r.Patch("/images/{id}", h.UpdateImage)
		r.Delete("/images/{id}", h.DeleteImage)
		r.Post("/batch-delete", h.BatchDeleteImages)

		r.Get("/images/{id}/like", h.LikeStatus)
		r.Put("/images/{id}/like", h.Like)
		r.Delete("/images/{id}/like", h.Unlike)
		r.Post("/images/{id}/comments", h.AddComment)
		r.Delete("/images/{id}/comments/{commentID}", h.DeleteComment)

		// admin
		r.Group(func(r chi.Router) {
			r.Use(h.AdminMiddleware)
			r.Get("/admin/users", h.ListUsers)
			r.Delete("/admin/users/{gid}", h.DeleteUser)
			r.Post("/admin/recount", h.Recount)
		})
	})

	return r
}

func (h *Handler) tokenTTL(seconds int) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if h.config.TokenTTL > 0 {
		return time.Duration(h.config.TokenTTL) * time.Second
	}
	return 24 * time.Hour
}

// decodeJSON reads the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return false
	}
	return true
}

// pageParams parses offset and limit query parameters; both are optional.
func pageParams(r *http.Request) (offset, limit int, err error) {
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, err
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, err
		}
	}
	return offset, limit, nil
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gallery.ErrInvalid),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidGalleryID),
		errors.Is(err, auth.ErrInvalidResetToken):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, gallery.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, gallery.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, gallery.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, redis.ErrEmailTaken),
		errors.Is(err, redis.ErrGalleryTaken),
		errors.Is(err, redis.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrUnsupportedType):
		status = http.StatusUnsupportedMediaType
	}

	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
		respondJSON(w, status, map[string]string{"error": "Internal server error"})
		return
	}
	respondError(w, status, err.Error())
}

func respondError(w http.ResponseWriter, status int, message string) {
	slog.Warn("Request failed", "status", status, "message", message)
	respondJSON(w, status, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
