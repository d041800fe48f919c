package api

import (
	"net/http"

	"github.com/kjannette/botdash-backend/internal/report"
)

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusServiceUnavailable, "reporting not configured")
		return
	}
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if !validateDate(from) || !validateDate(to) {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD")
		return
	}
	rng, err := report.ParseRange(from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := s.deps.Reports.Report(r.Context(), rng)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
