package api

import (
	"net/http"
	"time"

	"github.com/kjannette/botdash-backend/internal/models"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Database  databaseHealth `json:"database"`
	Sync      syncHealth     `json:"sync"`
	Vision    string         `json:"vision"`
	Reports   string         `json:"reports"`
}

type databaseHealth struct {
	State     string `json:"state"`
	LatencyMS int64  `json:"latencyMs,omitempty"`
	Error     string `json:"error,omitempty"`
}

type syncHealth struct {
	State    string `json:"state"`
	DeviceID string `json:"deviceId,omitempty"`
	Pairs    int    `json:"pairs"`
	Alarms   int    `json:"pendingAlarms"`
}

// handleHealth always answers 200 so load balancers and monitors can read the body; a database
// outage is reported as "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Database:  databaseHealth{State: "not configured"},
		Sync:      syncHealth{State: "not configured"},
		Vision:    "not configured",
		Reports:   "not configured",
	}

	if s.deps.DB != nil {
		start := time.Now()
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			res.Database = databaseHealth{State: "disconnected", Error: err.Error()}
			res.Status = "degraded"
		} else {
			res.Database = databaseHealth{State: "connected", LatencyMS: time.Since(start).Milliseconds()}
		}
	}

	if s.deps.Sync != nil {
		snap := s.deps.Sync.Snapshot()
		res.Sync = syncHealth{State: "enabled", DeviceID: snap.DeviceID, Pairs: len(snap.Watchlist.Pairs)}
		for _, a := range snap.Alarms.Items {
			if a.Status == models.AlarmPending {
				res.Sync.Alarms++
			}
		}
		if loop, ok := s.deps.Sync.(interface{ Running() bool }); ok {
			res.Sync.State = "stopped"
			if loop.Running() {
				res.Sync.State = "running"
			}
		}
	}

	if s.deps.Extractor != nil {
		res.Vision = "enabled"
	}
	if s.deps.Reports != nil {
		res.Reports = "enabled"
	}

	writeJSON(w, http.StatusOK, res)
}
