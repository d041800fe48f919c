package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/botdash-backend/internal/logging"
	"github.com/kjannette/botdash-backend/internal/models"
	"github.com/kjannette/botdash-backend/internal/observability"
	"github.com/kjannette/botdash-backend/internal/report"
)

const (
	maxJSONBody  = 1 << 20
	maxImageBody = 10 << 20
)

var (
	log        = logging.For("api")
	dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

type BotTypeStore interface {
	Create(ctx context.Context, name, description string) (*models.BotType, error)
	Get(ctx context.Context, id int64) (*models.BotType, error)
	List(ctx context.Context) ([]models.BotType, error)
	PinStartDate(ctx context.Context, id int64, date time.Time) (bool, error)
}

type UpdateStore interface {
	Insert(ctx context.Context, botTypeID int64, rec *models.UpdateRecord) (*models.StoredUpdate, error)
	Latest(ctx context.Context, botTypeID int64, status models.Status) (*models.StoredUpdate, error)
	List(ctx context.Context, botTypeID int64) ([]models.StoredUpdate, error)
	Delete(ctx context.Context, botTypeID int64, version int) error
}

type Extractor interface {
	Extract(ctx context.Context, image []byte, contentType string) ([]models.ScreenshotRecord, error)
}

type Reporter interface {
	Report(ctx context.Context, rng report.Range) (*report.Report, error)
}

// SnapshotSyncer is the watchlist store shared with other devices.
type SnapshotSyncer interface {
	Snapshot() models.Snapshot
	Update(ctx context.Context, fn func(snap models.Snapshot, at int64) (models.Snapshot, error)) (models.Snapshot, error)
	Receive(ctx context.Context, incoming models.Snapshot) (models.Snapshot, error)
	Subscribe() (<-chan models.Snapshot, func())
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Nil members disable their routes
// with 503.
type Deps struct {
	DB        Pinger
	BotTypes  BotTypeStore
	Updates   UpdateStore
	Extractor Extractor
	Reports   Reporter
	Sync      SnapshotSyncer
}

type Options struct {
	Port       int
	APIKey     string
	CORSOrigin string
	Now        func() time.Time
	NewID      func() string
}

type Server struct {
	deps       Deps
	apiKey     string
	now        func() time.Time
	newID      func() string
	handler    http.Handler
	httpServer *http.Server
}

func NewServer(deps Deps, opts Options) *Server {
	s := &Server{
		deps:   deps,
		apiKey: opts.APIKey,
		now:    opts.Now,
		newID:  opts.NewID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = newUUID
	}

	mux := http.NewServeMux()

	// Calculation routes
	mux.HandleFunc("POST /v1/calculate", s.handleCalculate)
	mux.HandleFunc("POST /v1/extract", s.handleExtract)

	// Bot type routes
	mux.HandleFunc("GET /v1/bot-types", s.handleListBotTypes)
	mux.HandleFunc("POST /v1/bot-types", s.handleCreateBotType)
	mux.HandleFunc("GET /v1/bot-types/{id}/updates", s.handleListUpdates)
	mux.HandleFunc("POST /v1/bot-types/{id}/updates", s.handleCreateUpdate)
	mux.HandleFunc("DELETE /v1/bot-types/{id}/updates/{version}", s.handleDeleteUpdate)

	// Report routes
	mux.HandleFunc("GET /v1/reports", s.handleReport)

	// Watchlist routes
	mux.HandleFunc("GET /v1/sync", s.handleGetSnapshot)
	mux.HandleFunc("PUT /v1/sync", s.handlePushSnapshot)
	mux.HandleFunc("GET /v1/sync/ws", s.handleSyncSocket)
	mux.HandleFunc("POST /v1/watchlist/{pair}", s.handleAddPair)
	mux.HandleFunc("DELETE /v1/watchlist/{pair}", s.handleRemovePair)
	mux.HandleFunc("PUT /v1/thresholds/{pair}", s.handleSetThresholds)
	mux.HandleFunc("POST /v1/alarms/{id}/dismiss", s.handleDismissAlarm)

	// No auth required
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())

	s.handler = metricsMiddleware(s.authMiddleware(corsMiddleware(mux, opts.CORSOrigin)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	return s
}

// Handler exposes the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	log.Infof("REST API server started on http://localhost%s", s.httpServer.Addr)
	log.Infof("health check: http://localhost%s/health", s.httpServer.Addr)
	if s.apiKey != "" {
		log.Info("authentication: enabled (Bearer token)")
	} else {
		log.Warn("authentication: disabled (no API_KEY configured)")
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func isPublic(path string) bool {
	return path == "/health" || path == "/metrics"
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || isPublic(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			// browsers cannot set headers on websocket upgrades
			if tok := r.URL.Query().Get("token"); tok != "" && r.URL.Path == "/v1/sync/ws" {
				auth = "Bearer " + tok
			}
		}
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		observability.RecordHTTPRequest(route, rec.status, time.Since(start).Seconds())
	})
}

// --- validation helpers ---

func validateDate(date string) bool {
	if !dateRegexp.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}
