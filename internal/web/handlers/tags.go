package handlers

import (
	"net/http"

	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/web/middleware"
)

// TagsHandler handles user tags and tag feedback. Every edit queues a
// training step for the touched images; a failed enqueue is logged only.
type TagsHandler struct {
	catalog database.Catalog
	trainer Trainer
}

// NewTagsHandler creates a new tags handler
func NewTagsHandler(catalog database.Catalog, trainer Trainer) *TagsHandler {
	return &TagsHandler{catalog: catalog, trainer: trainer}
}

// TagResponse represents a tag in API responses
type TagResponse struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// List returns the live tag vocabulary.
func (h *TagsHandler) List(w http.ResponseWriter, r *http.Request) {
	tags, err := h.catalog.ListTags(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	out := make([]TagResponse, len(tags))
	for i, t := range tags {
		out[i] = TagResponse{Name: t.Name, Count: t.Count}
	}
	respondJSON(w, http.StatusOK, out)
}

type addTagsRequest struct {
	ID   string   `json:"id" validate:"required"`
	Tags []string `json:"tags" validate:"required,min=1"`
}

// AddToImage adds user tags to an image.
func (h *TagsHandler) AddToImage(w http.ResponseWriter, r *http.Request) {
	var req addTagsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(database.NormalizeTags(req.Tags)) == 0 {
		respondError(w, http.StatusBadRequest, "tags must contain a non-empty tag")
		return
	}
	if _, err := h.catalog.GetImage(r.Context(), req.ID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	if err := h.catalog.AddTagsToImages(r.Context(), req.Tags, []string{req.ID}); err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.train(r, req.ID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addAlbumTagsRequest struct {
	Tags     []string `json:"tags" validate:"required,min=1"`
	AlbumIDs []string `json:"album_ids" validate:"required,min=1,dive,required"`
}

// AddToAlbums tags every image in the albums and their descendants.
func (h *TagsHandler) AddToAlbums(w http.ResponseWriter, r *http.Request) {
	var req addAlbumTagsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(database.NormalizeTags(req.Tags)) == 0 {
		respondError(w, http.StatusBadRequest, "tags must contain a non-empty tag")
		return
	}
	if err := h.catalog.AddTagsToAlbums(r.Context(), req.Tags, req.AlbumIDs); err != nil {
		respondServiceError(w, r, err)
		return
	}
	if err := h.trainer.TrainInitAlbums(r.Context(), req.AlbumIDs); err != nil {
		apiLog().Warn().Err(err).Int("albums", len(req.AlbumIDs)).Msg("failed to queue training")
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type removeTagsRequest struct {
	ID   string   `json:"id" validate:"required"`
	Tags []string `json:"tags" validate:"required,min=1"`
}

// Remove removes user tags from one image.
func (h *TagsHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req removeTagsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.catalog.RemoveTagsFromImage(r.Context(), req.ID, req.Tags); err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.train(r, req.ID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type feedbackRequest struct {
	ID         string `json:"id" validate:"required"`
	Tag        string `json:"tag" validate:"required"`
	IsPositive *bool  `json:"is_positive" validate:"required"`
}

// Feedback records the current user's vote on a tag of an image.
func (h *TagsHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user := middleware.UserFromContext(r.Context())
	if err := h.catalog.AddFeedback(r.Context(), req.Tag, *req.IsPositive, user, req.ID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.train(r, req.ID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *TagsHandler) train(r *http.Request, id string) {
	if err := h.trainer.TrainingInit(r.Context(), []string{id}); err != nil {
		apiLog().Warn().Err(err).Str("image", id).Msg("failed to queue training")
	}
}
