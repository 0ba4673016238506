package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/imaging"
	"github.com/kozaktomas/pixpursuit/internal/ingest"
	"github.com/kozaktomas/pixpursuit/internal/sources"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/kozaktomas/pixpursuit/internal/web/middleware"
)

// ImagesHandler handles uploads, imports and per-image endpoints.
type ImagesHandler struct {
	catalog    database.Catalog
	ingester   sources.Ingester
	library    Deleter
	index      *database.FeatureIndex
	dispatcher tasks.Dispatcher
	zip        ZipImporter
	scraper    Scraper
	sharePoint bool
}

// ImagesConfig groups the collaborators of ImagesHandler.
type ImagesConfig struct {
	Catalog    database.Catalog
	Ingester   sources.Ingester
	Library    Deleter
	Index      *database.FeatureIndex // nil disables the in-memory index
	Dispatcher tasks.Dispatcher
	Zip        ZipImporter
	Scraper    Scraper
	SharePoint bool // SharePoint credentials are configured
}

// NewImagesHandler creates a new images handler.
func NewImagesHandler(cfg ImagesConfig) *ImagesHandler {
	return &ImagesHandler{
		catalog:    cfg.Catalog,
		ingester:   cfg.Ingester,
		library:    cfg.Library,
		index:      cfg.Index,
		dispatcher: cfg.Dispatcher,
		zip:        cfg.Zip,
		scraper:    cfg.Scraper,
		sharePoint: cfg.SharePoint,
	}
}

// ImageResponse represents an image in API responses
type ImageResponse struct {
	ID            string                            `json:"id"`
	Filename      string                            `json:"filename"`
	ImageURL      string                            `json:"image_url"`
	ThumbnailURL  string                            `json:"thumbnail_url"`
	Metadata      map[string]string                 `json:"metadata"`
	UserTags      []string                          `json:"user_tags"`
	AutoTags      []string                          `json:"auto_tags"`
	Feedback      map[string]database.FeedbackCount `json:"feedback"`
	Description   string                            `json:"description"`
	Likes         int                               `json:"likes"`
	LikedBy       []string                          `json:"liked_by"`
	Views         int                               `json:"views"`
	UserFaces     []string                          `json:"user_faces"`
	EmbeddingsBox []database.Box                    `json:"embeddings_box"`
	AddedBy       string                            `json:"added_by"`
	AlbumID       string                            `json:"album_id"`
	AlbumName     string                            `json:"album_name"`
	Analysed      bool                              `json:"analysed"`
	CreatedAt     string                            `json:"created_at"`
}

func imageToResponse(img *database.Image) ImageResponse {
	return ImageResponse{
		ID:            img.ID,
		Filename:      img.Filename,
		ImageURL:      img.ImageURL,
		ThumbnailURL:  img.ThumbnailURL,
		Metadata:      img.Metadata,
		UserTags:      nonNil(img.UserTags),
		AutoTags:      nonNil(img.AutoTags),
		Feedback:      img.Feedback,
		Description:   img.Description,
		Likes:         img.Likes,
		LikedBy:       nonNil(img.LikedBy),
		Views:         img.Views,
		UserFaces:     nonNil(img.UserFaces),
		EmbeddingsBox: nonNil(img.EmbeddingsBox),
		AddedBy:       img.AddedBy,
		AlbumID:       img.AlbumID,
		AlbumName:     img.AlbumName,
		Analysed:      img.HasFeatures(),
		CreatedAt:     img.CreatedAt.Format(time.RFC3339),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// readFiles loads multipart files into ingest sources.
func readFiles(files []*multipart.FileHeader) ([]ingest.Source, error) {
	out := make([]ingest.Source, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, ingest.Source{Name: fh.Filename, Data: data})
	}
	return out, nil
}

// Process handles multipart image uploads into an album.
func (h *ImagesHandler) Process(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		files = r.MultipartForm.File["images[]"]
	}
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no images provided")
		return
	}

	srcs, err := readFiles(files)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	user := middleware.UserFromContext(r.Context())
	ids, err := h.ingester.IngestBatch(r.Context(), srcs, user, r.FormValue("album_id"), nil)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"inserted_ids": ids})
}

// UploadZip imports a zip archive as albums under parent_id.
func (h *ImagesHandler) UploadZip(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var size *imaging.Size
	if raw := r.FormValue("size"); raw != "" {
		s, err := imaging.ParseSize(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		size = s
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	user := middleware.UserFromContext(r.Context())
	ids, err := h.zip.Import(r.Context(), data, user, r.FormValue("parent_id"), size)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"inserted_ids": ids})
}

type scrapeRequest struct {
	URL     string `json:"url" validate:"required,url"`
	AlbumID string `json:"album_id"`
}

// Scrape downloads the images of a gallery page into an album.
func (h *ImagesHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	srcs, err := h.scraper.Scrape(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, sources.ErrURLNotAllowed) {
			respondServiceError(w, r, err)
			return
		}
		respondError(w, http.StatusBadGateway, "failed to fetch page")
		return
	}
	if len(srcs) == 0 {
		respondJSON(w, http.StatusOK, map[string]any{"inserted_ids": []string{}})
		return
	}

	user := middleware.UserFromContext(r.Context())
	ids, err := h.ingester.IngestBatch(r.Context(), srcs, user, req.AlbumID, nil)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"inserted_ids": ids})
}

type sharePointRequest struct {
	Folder  string `json:"folder" validate:"required"`
	AlbumID string `json:"album_id"`
}

// SharePointUpload queues an import of a SharePoint folder.
func (h *ImagesHandler) SharePointUpload(w http.ResponseWriter, r *http.Request) {
	if !h.sharePoint {
		respondError(w, http.StatusServiceUnavailable, "sharepoint is not configured")
		return
	}
	var req sharePointRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AlbumID != "" {
		if _, err := h.catalog.GetAlbum(r.Context(), req.AlbumID); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}

	payload := tasks.SharePointIngestPayload{
		Folder:  req.Folder,
		AlbumID: req.AlbumID,
		User:    middleware.UserFromContext(r.Context()),
	}
	if err := h.dispatcher.Enqueue(r.Context(), tasks.SharePointIngest, payload); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type deleteImagesRequest struct {
	ImageIDs []string `json:"image_ids" validate:"required,min=1,dive,required"`
}

// Delete removes images and everything derived from them.
func (h *ImagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteImagesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.library.DeleteImages(r.Context(), req.ImageIDs)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type relocateRequest struct {
	ImageIDs    []string `json:"image_ids"`
	PrevAlbumID string   `json:"prev_album_id" validate:"required"`
	NewAlbumID  string   `json:"new_album_id"`
}

// Relocate moves images from one album to another (root when new_album_id
// is empty). Without image_ids a batch of the album's images is moved.
func (h *ImagesHandler) Relocate(w http.ResponseWriter, r *http.Request) {
	var req relocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	moved, err := h.catalog.RelocateToAlbum(r.Context(), req.PrevAlbumID, req.NewAlbumID, req.ImageIDs)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"moved": moved})
}

type similarRequest struct {
	ImageID string `json:"image_id" validate:"required"`
	Limit   int    `json:"limit" validate:"omitempty,min=1,max=100"`
}

// SimilarImage is one nearest neighbour
type SimilarImage struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// FindSimilar returns images whose features are closest to the given image.
func (h *ImagesHandler) FindSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = constants.DefaultSimilarLimit
	}

	ids, dists, err := database.SimilarImages(r.Context(), h.catalog, h.index, req.ImageID, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	out := make([]SimilarImage, len(ids))
	for i := range ids {
		out[i] = SimilarImage{ID: ids[i], Distance: dists[i]}
	}
	respondJSON(w, http.StatusOK, map[string]any{"similar_images": out})
}

// Get returns one image.
func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	img, err := h.catalog.GetImage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, imageToResponse(img))
}

type likeRequest struct {
	ID         string `json:"id" validate:"required"`
	IsPositive *bool  `json:"is_positive" validate:"required"`
}

// Like likes or unlikes an image for the current user.
func (h *ImagesHandler) Like(w http.ResponseWriter, r *http.Request) {
	var req likeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user := middleware.UserFromContext(r.Context())
	if err := h.catalog.AddLike(r.Context(), *req.IsPositive, user, req.ID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// View counts one view of the image.
func (h *ImagesHandler) View(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.AddView(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type descriptionRequest struct {
	ID          string `json:"id" validate:"required"`
	Description string `json:"description" validate:"max=2000"`
}

// Description replaces the image description.
func (h *ImagesHandler) Description(w http.ResponseWriter, r *http.Request) {
	var req descriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.catalog.SetDescription(r.Context(), req.ID, req.Description); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
