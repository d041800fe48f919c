package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/botdash-backend/internal/calc"
	"github.com/kjannette/botdash-backend/internal/models"
	"github.com/kjannette/botdash-backend/internal/observability"
	"github.com/kjannette/botdash-backend/internal/repository"
)

type updateRequest struct {
	Screenshots     calc.Screenshots  `json:"screenshots"`
	Modes           models.Modes      `json:"modes"`
	IsStartMetric   bool              `json:"isStartMetric"`
	ManualOverrides map[string]string `json:"manualOverrides,omitempty"`
	Status          models.Status     `json:"status,omitempty"`
	UploadedAt      *time.Time        `json:"uploadedAt,omitempty"`
}

type updateResponse struct {
	Update     *models.StoredUpdate `json:"update"`
	StartDated bool                 `json:"startDatePinned"`
}

// calculate runs one calculation and records its outcome.
func (s *Server) calculate(in calc.Input) (*calc.Result, error) {
	if in.UploadedAt.IsZero() {
		in.UploadedAt = s.now()
	}
	start := time.Now()
	res, err := calc.Calculate(in)
	outcome := "ok"
	if err != nil {
		outcome = string(calc.Classify(err))
	}
	observability.RecordCalculation(outcome, time.Since(start).Seconds())
	return res, err
}

// writeBodyError reports an undecodable request. Field-level failures keep
// their field names.
func writeBodyError(w http.ResponseWriter, err error) {
	var ve *calc.ValidationError
	if errors.As(err, &ve) {
		writeCalcError(w, err)
		return
	}
	writeJSON(w, http.StatusBadRequest, apiError{
		Error:    "invalid request body",
		Details:  err.Error(),
		Category: string(calc.CategoryValidation),
	})
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var in calc.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeBodyError(w, err)
		return
	}

	res, err := s.calculate(in)
	if err != nil {
		writeCalcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCreateUpdate calculates against the stored lineage and appends the result.
func (s *Server) handleCreateUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.BotTypes == nil || s.deps.Updates == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bot type id")
		return
	}

	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	status, ok := models.ParseStatus(string(req.Status))
	if !ok {
		writeCalcError(w, &calc.ValidationError{Field: "status", Reason: "unknown status " + strconv.Quote(string(req.Status))})
		return
	}

	ctx := r.Context()
	if _, err := s.deps.BotTypes.Get(ctx, id); err != nil {
		writeStoreError(w, err)
		return
	}

	in := calc.Input{
		Screenshots:     req.Screenshots,
		Modes:           req.Modes,
		IsStartMetric:   req.IsStartMetric,
		ManualOverrides: req.ManualOverrides,
		Status:          status,
	}
	if req.UploadedAt != nil {
		in.UploadedAt = *req.UploadedAt
	}
	if !req.IsStartMetric {
		prev, err := s.deps.Updates.Latest(ctx, id, status)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			writeStoreError(w, err)
			return
		default:
			in.PreviousUpdateRecord = prev.Values
		}
	}

	res, err := s.calculate(in)
	if err != nil {
		writeCalcError(w, err)
		return
	}

	stored, err := s.deps.Updates.Insert(ctx, id, res.Values)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	observability.RecordUpdatePersisted(string(status))

	pinned := false
	if req.IsStartMetric {
		start := res.Values.Date
		if res.Values.StartDate != nil {
			start = *res.Values.StartDate
		}
		if pinned, err = s.deps.BotTypes.PinStartDate(ctx, id, start); err != nil {
			log.WithError(err).WithField("bot_type", id).Warn("start date not pinned")
		}
	}

	log.WithFields(logrus.Fields{
		"bot_type": id,
		"version":  stored.Version,
		"status":   status,
	}).Info("update stored")
	writeJSON(w, http.StatusCreated, updateResponse{Update: stored, StartDated: pinned})
}

func (s *Server) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	if s.deps.Updates == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bot type id")
		return
	}
	list, err := s.deps.Updates.List(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Updates == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bot type id")
		return
	}
	version, ok := pathID(r, "version")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	if err := s.deps.Updates.Delete(r.Context(), id, int(version)); err != nil {
		writeStoreError(w, err)
		return
	}
	log.WithFields(logrus.Fields{"bot_type": id, "version": version}).Info("update deleted")
	w.WriteHeader(http.StatusNoContent)
}
