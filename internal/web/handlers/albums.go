package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/pixpursuit/internal/database"
)

// AlbumsHandler handles album endpoints
type AlbumsHandler struct {
	albums  database.AlbumWriter
	library Deleter
}

// NewAlbumsHandler creates a new albums handler
func NewAlbumsHandler(albums database.AlbumWriter, library Deleter) *AlbumsHandler {
	return &AlbumsHandler{albums: albums, library: library}
}

// AlbumResponse represents an album in API responses
type AlbumResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Parent    string   `json:"parent"`
	Sons      []string `json:"sons"`
	Images    []string `json:"images"`
	CreatedAt string   `json:"created_at"`
}

func albumToResponse(a *database.Album) AlbumResponse {
	return AlbumResponse{
		ID:        a.ID,
		Name:      a.Name,
		Parent:    a.Parent,
		Sons:      nonNil(a.Sons),
		Images:    nonNil(a.Images),
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

type createAlbumRequest struct {
	Name     string   `json:"name" validate:"required,max=200"`
	ParentID string   `json:"parent_id"`
	ImageIDs []string `json:"image_ids"`
}

// Create creates an album, optionally seeded with existing images.
func (h *AlbumsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAlbumRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	album, err := h.albums.CreateAlbum(r.Context(), req.Name, req.ParentID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if len(req.ImageIDs) > 0 {
		if err := h.albums.AddPhotosToAlbum(r.Context(), album.ID, req.ImageIDs); err != nil {
			respondServiceError(w, r, err)
			return
		}
		album.Images = append(album.Images, req.ImageIDs...)
	}
	respondJSON(w, http.StatusCreated, albumToResponse(album))
}

// Get returns a single album.
func (h *AlbumsHandler) Get(w http.ResponseWriter, r *http.Request) {
	album, err := h.albums.GetAlbum(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, albumToResponse(album))
}

// List returns the children of ?parent=, or of the root album.
func (h *AlbumsHandler) List(w http.ResponseWriter, r *http.Request) {
	albums, err := h.albums.ListAlbums(r.Context(), r.URL.Query().Get("parent"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	out := make([]AlbumResponse, len(albums))
	for i := range albums {
		out[i] = albumToResponse(&albums[i])
	}
	respondJSON(w, http.StatusOK, out)
}

type renameAlbumRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// Rename renames an album.
func (h *AlbumsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameAlbumRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.albums.RenameAlbum(r.Context(), chi.URLParam(r, "id"), req.Name); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deleteAlbumsRequest struct {
	AlbumIDs []string `json:"album_ids" validate:"required,min=1,dive,required"`
}

// Delete removes albums recursively together with their images.
func (h *AlbumsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteAlbumsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.library.DeleteAlbums(r.Context(), req.AlbumIDs)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type addImagesRequest struct {
	ImageIDs []string `json:"image_ids" validate:"required,min=1,dive,required"`
}

// AddImages appends existing images to an album.
func (h *AlbumsHandler) AddImages(w http.ResponseWriter, r *http.Request) {
	var req addImagesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.albums.AddPhotosToAlbum(r.Context(), chi.URLParam(r, "id"), req.ImageIDs); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
