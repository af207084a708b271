package api

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/notes-bin/crystal/internal/cache"
	"github.com/notes-bin/crystal/internal/gallery"
	"github.com/notes-bin/crystal/internal/model"

	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of a multipart form is kept in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

func (h *Handler) GetGallery(w http.ResponseWriter, r *http.Request) {
	g, err := h.gallery.GetGallery(r.Context(), chi.URLParam(r, "gid"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (h *Handler) ListGalleryCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := h.gallery.ListCollections(r.Context(), chi.URLParam(r, "gid"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, collections)
}

func (h *Handler) ListGalleryImages(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := pageParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid offset or limit")
		return
	}
	images, err := h.gallery.ListImages(r.Context(), chi.URLParam(r, "gid"), r.URL.Query().Get("q"), offset, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, images)
}

func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req gallery.CollectionInput
	if !decodeJSON(w, r, &req) {
		return
	}
	col, err := h.gallery.CreateCollection(r.Context(), actorFrom(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, col)
}

func (h *Handler) GetCollection(w http.ResponseWriter, r *http.Request) {
	col, err := h.gallery.GetCollection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, col)
}

func (h *Handler) UpdateCollection(w http.ResponseWriter, r *http.Request) {
	var req gallery.CollectionUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	col, err := h.gallery.UpdateCollection(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, col)
}

func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.gallery.DeleteCollection(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Collection deleted"})
}

func (h *Handler) ListCollectionImages(w http.ResponseWriter, r *http.Request) {
	images, err := h.gallery.ListCollectionImages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, images)
}

func (h *Handler) AddImage(w http.ResponseWriter, r *http.Request) {
	var req gallery.ImageInput
	if !decodeJSON(w, r, &req) {
		return
	}
	img, err := h.gallery.AddImageURL(r.Context(), actorFrom(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, img)
}

func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.gallery.GetImage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, img)
}

func (h *Handler) UpdateImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         *string         `json:"name"`
		Description  *string         `json:"description"`
		CollectionID json.RawMessage `json:"collection_id"` // null clears, absent keeps
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	update := gallery.ImageUpdate{Name: req.Name, Description: req.Description}
	if len(req.CollectionID) > 0 {
		var id *string
		if err := json.Unmarshal(req.CollectionID, &id); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid collection_id")
			return
		}
		update.CollectionID = &id
	}

	img, err := h.gallery.UpdateImage(r.Context(), actorFrom(r), chi.URLParam(r, "id"), update)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, img)
}

func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := h.gallery.DeleteImage(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Image deleted"})
}

func (h *Handler) BatchDeleteImages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	deleted, err := h.gallery.BatchDeleteImages(r.Context(), actorFrom(r), req.IDs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"deleted": deleted})
}

// parseUpload limits the body to the configured upload size and parses the
// multipart form. It answers the request itself on failure.
func (h *Handler) parseUpload(w http.ResponseWriter, r *http.Request, files int) bool {
	if h.config.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(files)*h.config.MaxUploadSize+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return false
	}
	return true
}

func uploadInput(r *http.Request) gallery.ImageInput {
	in := gallery.ImageInput{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
	}
	if id := r.FormValue("collection_id"); id != "" {
		in.CollectionID = &id
	}
	return in
}

func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if !h.parseUpload(w, r, 1) {
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid file")
		return
	}
	defer file.Close()

	img, err := h.gallery.AddImageFile(r.Context(), actorFrom(r), file, header.Filename, uploadInput(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, img)
}

type uploadFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// BatchUploadImages stores every file of the images field. Files that fail
// are reported next to the images that were created.
func (h *Handler) BatchUploadImages(w http.ResponseWriter, r *http.Request) {
	if !h.parseUpload(w, r, maxBatchFiles) {
		return
	}
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "No files")
		return
	}
	if len(files) > maxBatchFiles {
		respondError(w, http.StatusBadRequest, "Too many files")
		return
	}

	in := uploadInput(r)
	in.Name = ""
	images := []*model.Image{}
	failures := []uploadFailure{}
	for _, fileHeader := range files {
		img, err := h.addUpload(r, fileHeader, in)
		if err != nil {
			failures = append(failures, uploadFailure{Filename: fileHeader.Filename, Error: err.Error()})
			continue
		}
		images = append(images, img)
	}

	status := http.StatusCreated
	if len(images) == 0 {
		status = http.StatusBadRequest
	}
	respondJSON(w, status, map[string]any{"images": images, "errors": failures})
}

const maxBatchFiles = 20

func (h *Handler) addUpload(r *http.Request, fileHeader *multipart.FileHeader, in gallery.ImageInput) (*model.Image, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return h.gallery.AddImageFile(r.Context(), actorFrom(r), file, fileHeader.Filename, in)
}

func (h *Handler) Popular(w http.ResponseWriter, r *http.Request) {
	ids, err := cache.Popular(r.Context(), h.redis)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	images, err := h.gallery.GetImages(r.Context(), ids)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, images)
}
