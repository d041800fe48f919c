package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kjannette/botdash-backend/internal/models"
	"github.com/kjannette/botdash-backend/internal/watchlist"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errPairNotWatched = errors.New("pair is not on the watchlist")

func (s *Server) syncReady(w http.ResponseWriter) bool {
	if s.deps.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist sync not configured")
		return false
	}
	return true
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.syncReady(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sync.Snapshot())
}

// handlePushSnapshot merges a device's copy and answers with the merged snapshot.
func (s *Server) handlePushSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.syncReady(w) {
		return
	}
	var incoming models.Snapshot
	if err := decodeJSON(w, r, &incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot: "+err.Error())
		return
	}
	merged, err := s.deps.Sync.Receive(r.Context(), incoming)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

// handleSyncSocket streams every merged snapshot to the device and merges the
// snapshots the device sends back.
func (s *Server) handleSyncSocket(w http.ResponseWriter, r *http.Request) {
	if !s.syncReady(w) {
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := s.deps.Sync.Subscribe()
	defer cancel()

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			var incoming models.Snapshot
			if err := conn.ReadJSON(&incoming); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Debug("websocket read ended")
				}
				return
			}
			if _, err := s.deps.Sync.Receive(ctx, incoming); err != nil {
				log.WithError(err).Warn("websocket snapshot rejected")
			}
		}
	}()

	send := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v) == nil
	}
	if !send(s.deps.Sync.Snapshot()) {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case snap := <-updates:
			if !send(snap) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleAddPair(w http.ResponseWriter, r *http.Request) {
	if !s.syncReady(w) {
		return
	}
	pair := watchlist.NormalizePair(r.PathValue("pair"))
	if pair == "" {
		writeError(w, http.StatusBadRequest, "pair is required")
		return
	}
	snap, err := s.deps.Sync.Update(r.Context(), func(snap models.Snapshot, at int64) (models.Snapshot, error) {
		return watchlist.AddPair(snap, pair, at), nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRemovePair drops the pair and deactivates its thresholds.
func (s *Server) handleRemovePair(w http.ResponseWriter, r *http.Request) {
	if !s.syncReady(w) {
		return
	}
	pair := watchlist.NormalizePair(r.PathValue("pair"))
	snap, err := s.deps.Sync.Update(r.Context(), func(snap models.Snapshot, at int64) (models.Snapshot, error) {
		if !watchlist.HasPair(snap, pair) {
			return snap, errPairNotWatched
		}
		return watchlist.RemovePair(snap, pair, at), nil
	})
	if errors.Is(err, errPairNotWatched) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSetThresholds replaces all thresholds of a watched pair.
func (s *Server) handleSetThresholds(w http.ResponseWriter, r *http.Request) {
	if !s.syncReady(w) {
		return
	}
	pair := watchlist.NormalizePair(r.PathValue("pair"))

	var body []models.Threshold
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid thresholds: "+err.Error())
		return
	}
	ths := make([]models.Threshold, 0, len(body))
	for _, th := range body {
		th.Pair = pair
		valid, err := watchlist.Validate(th)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if valid.ID == "" {
			valid.ID = s.newID()
			valid.IsActive = true
		}
		ths = append(ths, valid)
	}

	snap, err := s.deps.Sync.Update(r.Context(), func(snap models.Snapshot, at int64) (models.Snapshot, error) {
		if !watchlist.HasPair(snap, pair) {
			return snap, errPairNotWatched
		}
		return watchlist.SetThresholds(snap, pair, ths, at), nil
	})
	if errors.Is(err, errPairNotWatched) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDismissAlarm(w http.ResponseWriter, r *http.Request) {
	if !s.syncReady(w) {
		return
	}
	id := r.PathValue("id")
	errUnknown := errors.New("no pending alarm " + id)
	snap, err := s.deps.Sync.Update(r.Context(), func(snap models.Snapshot, at int64) (models.Snapshot, error) {
		out, ok := watchlist.DismissAlarm(snap, id, at)
		if !ok {
			return snap, errUnknown
		}
		return out, nil
	})
	if errors.Is(err, errUnknown) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
