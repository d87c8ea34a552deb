package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CoverImage  string `json:"coverImage"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.service.Snapshot())
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	name, ok := validName(req.Name)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "category name required")
		return
	}

	cat := s.service.AddCategory(r.Context(), name, req.Description, req.CoverImage)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, cat)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req categoryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	name, ok := validName(req.Name)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "category name required")
		return
	}

	if !s.service.UpdateCategory(r.Context(), id, name, req.Description, req.CoverImage) {
		writeError(w, r, http.StatusNotFound, "category not found")
		return
	}
	cat, _ := s.service.Category(id)
	render.JSON(w, r, cat)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.service.DeleteCategory(r.Context(), id); err != nil {
		s.logger.Error().Err(err).Str("category_id", id).Msg("delete category failed")
		writeError(w, r, http.StatusInternalServerError, "category removed but media cleanup failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
