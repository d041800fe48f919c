package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/kjannette/botdash-backend/internal/external"
	"github.com/kjannette/botdash-backend/internal/httputil"
	"github.com/kjannette/botdash-backend/internal/models"
)

type extractResponse struct {
	Screenshots []models.ScreenshotRecord `json:"screenshots"`
}

// handleExtract forwards one uploaded screenshot (multipart field "image") to
// the vision extractor.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.deps.Extractor == nil {
		writeError(w, http.StatusServiceUnavailable, external.ErrVisionNotConfigured.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageBody)
	if err := r.ParseMultipartForm(maxImageBody); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image field")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	if len(image) == 0 {
		writeError(w, http.StatusBadRequest, "image is empty")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(image)
	}

	shots, err := s.deps.Extractor.Extract(r.Context(), image, contentType)
	if err != nil {
		if errors.Is(err, external.ErrVisionNotConfigured) {
			writeStoreError(w, err)
			return
		}
		var se *httputil.StatusError
		if errors.As(err, &se) && se.Rejected() {
			writeError(w, http.StatusUnprocessableEntity, "vision service rejected the image: "+se.Body)
			return
		}
		log.WithError(err).Warn("extraction failed")
		writeError(w, http.StatusBadGateway, "extraction failed: "+err.Error())
		return
	}
	if shots == nil {
		shots = []models.ScreenshotRecord{}
	}
	writeJSON(w, http.StatusOK, extractResponse{Screenshots: shots})
}
