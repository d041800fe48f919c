package api

import (
	"net/http"
	"strings"
)

type createBotTypeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleListBotTypes(w http.ResponseWriter, r *http.Request) {
	if s.deps.BotTypes == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	list, err := s.deps.BotTypes.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateBotType(w http.ResponseWriter, r *http.Request) {
	if s.deps.BotTypes == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	var req createBotTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	bt, err := s.deps.BotTypes.Create(r.Context(), req.Name, strings.TrimSpace(req.Description))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	log.WithField("bot_type", bt.ID).Infof("bot type %q created", bt.Name)
	writeJSON(w, http.StatusCreated, bt)
}
