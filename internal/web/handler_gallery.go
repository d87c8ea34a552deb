package web

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/vbonduro/purrfect/internal/service"
)

type galleryRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CoverImage  string `json:"coverImage"`
}

func (s *Server) handleCreateGallery(w http.ResponseWriter, r *http.Request) {
	categoryID := chi.URLParam(r, "id")

	var req galleryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	title, ok := validName(req.Title)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "gallery title required")
		return
	}

	gal, err := s.service.AddGallery(r.Context(), categoryID, title, req.Description, req.CoverImage)
	if errors.Is(err, service.ErrCategoryNotFound) {
		writeError(w, r, http.StatusNotFound, "category not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("category_id", categoryID).Msg("create gallery failed")
		writeError(w, r, http.StatusInternalServerError, "failed to create gallery")
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, gal)
}

func (s *Server) handleUpdateGallery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req galleryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	title, ok := validName(req.Title)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "gallery title required")
		return
	}

	if !s.service.UpdateGallery(r.Context(), id, title, req.Description, req.CoverImage) {
		writeError(w, r, http.StatusNotFound, "gallery not found")
		return
	}
	gal, _ := s.service.Gallery(id)
	render.JSON(w, r, gal)
}

func (s *Server) handleDeleteGallery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.service.DeleteGallery(r.Context(), id); err != nil {
		s.logger.Error().Err(err).Str("gallery_id", id).Msg("delete gallery failed")
		writeError(w, r, http.StatusInternalServerError, "gallery removed but media cleanup failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
