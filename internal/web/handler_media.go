package web

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/vbonduro/purrfect/internal/blobstore"
	"github.com/vbonduro/purrfect/internal/displayref"
	"github.com/vbonduro/purrfect/internal/domain"
	"github.com/vbonduro/purrfect/internal/service"
)

// mediaTypeFor maps a sniffed MIME type to the coarse media tag. Anything
// that is neither an image nor a video is rejected.
func mediaTypeFor(mime string) (domain.MediaType, bool) {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return domain.MediaPhoto, true
	case strings.HasPrefix(mime, "video/"):
		return domain.MediaVideo, true
	default:
		return "", false
	}
}

func (s *Server) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	galleryID := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "failed to parse form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file required")
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close upload file")
		}
	}()

	payload, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error().Err(err).Str("gallery_id", galleryID).Msg("read upload failed")
		writeError(w, r, http.StatusInternalServerError, "failed to read file")
		return
	}

	mime := mimetype.Detect(payload)
	mediaType, ok := mediaTypeFor(mime.String())
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unsupported media format "+mime.String())
		return
	}

	item, err := s.service.AddMedia(r.Context(), &blobstore.Record{
		GalleryID: galleryID,
		Type:      mediaType,
		Payload:   payload,
		FileName:  filepath.Base(header.Filename),
	})
	switch {
	case errors.Is(err, service.ErrGalleryNotFound):
		writeError(w, r, http.StatusNotFound, "gallery not found")
		return
	case errors.Is(err, service.ErrClosed):
		writeError(w, r, http.StatusServiceUnavailable, "media store closed")
		return
	case err != nil:
		s.logger.Error().Err(err).Str("gallery_id", galleryID).Msg("upload media failed")
		writeError(w, r, http.StatusInternalServerError, "failed to store media")
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, item)
}

func (s *Server) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.service.DeleteMedia(r.Context(), id); err != nil {
		s.logger.Error().Err(err).Str("media_id", id).Msg("delete media failed")
		writeError(w, r, http.StatusInternalServerError, "media removed but payload cleanup failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleServeMedia(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if !displayref.Ref(ref).Valid() {
		http.NotFound(w, r)
		return
	}

	payload, mime, ok := s.service.Resolve(ref)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(payload); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write media response")
	}
}
