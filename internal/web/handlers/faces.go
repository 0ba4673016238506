package handlers

import (
	"net/http"
)

// FacesHandler handles face naming
type FacesHandler struct {
	namer FaceNamer
}

// NewFacesHandler creates a new faces handler
func NewFacesHandler(namer FaceNamer) *FacesHandler {
	return &FacesHandler{namer: namer}
}

type addNameRequest struct {
	ID    string `json:"id" validate:"required"`
	Index *int   `json:"index" validate:"required,min=0"`
	Name  string `json:"name" validate:"required,max=100"`
}

// AddName names the face at slot index of an image. The rename spreads to
// every image showing the same person in the background.
func (h *FacesHandler) AddName(w http.ResponseWriter, r *http.Request) {
	var req addNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.namer.AddNames(r.Context(), req.ID, *req.Index, req.Name); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
