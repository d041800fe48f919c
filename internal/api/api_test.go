package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/botdash-backend/internal/devicesync"
	"github.com/kjannette/botdash-backend/internal/httputil"
	"github.com/kjannette/botdash-backend/internal/models"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	srv       *Server
	bots      *fakeBotTypes
	updates   *fakeUpdates
	extractor *fakeExtractor
	reports   *fakeReports
	sync      *devicesync.Syncer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	syncer, err := devicesync.NewSyncer(devicesync.SyncerConfig{
		DeviceID: "server",
		Local:    devicesync.NewFileStore(filepath.Join(t.TempDir(), "snapshot.json")),
	})
	require.NoError(t, err)

	h := &harness{
		bots:      newFakeBotTypes(),
		updates:   newFakeUpdates(),
		extractor: &fakeExtractor{},
		reports:   &fakeReports{},
		sync:      syncer,
	}
	ids := 0
	h.srv = NewServer(Deps{
		BotTypes:  h.bots,
		Updates:   h.updates,
		Extractor: h.extractor,
		Reports:   h.reports,
		Sync:      h.sync,
	}, Options{
		Now: func() time.Time { return fixedNow },
		NewID: func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		},
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

const oneScreenshot = `[{"botName":"BTCUSDT","direction":"Long","leverage":"10x","runtime":"5h",
	"investment":"100","extraMargin":0,"totalProfitUsdt":"+%s USDT","gridProfitUsdt":4,"trendPnlUsdt":6}]`

func calcBody(profit, profitMode string, start bool) string {
	return fmt.Sprintf(`{"screenshots":%s,
		"modes":{"investment":"Neu","profit":%q,"trend":"Neu","grid":"Neu"},
		"isStartMetric":%t}`, fmt.Sprintf(oneScreenshot, profit), profitMode, start)
}

// ---------- calculation ----------

func TestCalculate_Neu(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodPost, "/v1/calculate", calcBody("10", "Neu", true))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	res := decode[struct {
		Values map[string]any `json:"values"`
	}](t, rr)
	assert.Equal(t, "100.00", res.Values[models.KeyInvestment])
	assert.Equal(t, "10.00", res.Values[models.KeyProfit])
	assert.Equal(t, "10.00", res.Values[models.KeyProfitPercent+models.SuffixGesamtinvestment])
	assert.Equal(t, float64(1), res.Values[models.KeyVersion])
	assert.Equal(t, "Update Metrics", res.Values[models.KeyStatus])
	assert.Equal(t, "2025-06-01T12:00:00Z", res.Values[models.KeyDate])
}

func TestCalculate_ErrorCategories(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		status   int
		category string
	}{
		{
			name:     "bad body",
			body:     `{"screenshots":`,
			status:   http.StatusBadRequest,
			category: "validation",
		},
		{
			name: "unparseable runtime",
			body: `{"screenshots":[{"investment":1,"runtime":"soon"}],
				"modes":{"investment":"Neu","profit":"Neu","trend":"Neu","grid":"Neu"}}`,
			status:   http.StatusBadRequest,
			category: "validation",
		},
		{
			name: "incomplete history",
			body: `{"screenshots":[{"investment":1,"runtime":"1h"}],
				"modes":{"investment":"Vergleich","profit":"Neu","trend":"Neu","grid":"Neu"},
				"previousUpdateRecord":{"investment":"5.00"}}`,
			status:   http.StatusConflict,
			category: "incomplete_history",
		},
		{
			name: "malformed previous",
			body: `{"screenshots":[{"investment":1,"runtime":"1h"}],
				"modes":{"investment":"Neu","profit":"Neu","trend":"Neu","grid":"Neu"},
				"previousUpdateRecord":"{not json"}`,
			status:   http.StatusUnprocessableEntity,
			category: "malformed_json",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			rr := h.do(t, http.MethodPost, "/v1/calculate", tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			body := decode[apiError](t, rr)
			assert.Equal(t, tc.category, body.Category)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestCalculate_IncompleteHistoryNamesFields(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodPost, "/v1/calculate", `{"screenshots":[{"investment":1,"runtime":"1h"}],
		"modes":{"investment":"Vergleich","profit":"Neu","trend":"Neu","grid":"Neu"},
		"previousUpdateRecord":{"investment":"5.00"}}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	body := decode[apiError](t, rr)
	assert.Contains(t, body.Fields, models.KeyExtraMargin)
	assert.Contains(t, body.Fields, models.KeyTotalInvestment)
}

func TestCalculate_UnreadableAmountNamesScreenshot(t *testing.T) {
	body := `{"screenshots":[{"investment":"100","runtime":"1h"},{"investment":"lots","runtime":"1h"}],
		"modes":{"investment":"Neu","profit":"Neu","trend":"Neu","grid":"Neu"},"isStartMetric":true}`

	for _, path := range []string{"/v1/calculate", "/v1/bot-types/1/updates"} {
		t.Run(path, func(t *testing.T) {
			h := newHarness(t)
			rr := h.do(t, http.MethodPost, path, body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			got := decode[apiError](t, rr)
			assert.Equal(t, "validation", got.Category)
			assert.Equal(t, []string{"screenshots[1].investment"}, got.Fields)
		})
	}
}

// ---------- bot types and lineage ----------

func TestBotTypes_CreateAndList(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodPost, "/v1/bot-types", map[string]string{"name": " Grid BTC "})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	bt := decode[models.BotType](t, rr)
	assert.Equal(t, "Grid BTC", bt.Name)

	rr = h.do(t, http.MethodPost, "/v1/bot-types", map[string]string{"name": "Grid BTC"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = h.do(t, http.MethodPost, "/v1/bot-types", map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(t, http.MethodGet, "/v1/bot-types", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]models.BotType](t, rr), 1)
}

func TestUpdates_LineageUsesPreviousRecord(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodPost, "/v1/bot-types", map[string]string{"name": "Grid BTC"})
	bt := decode[models.BotType](t, rr)
	path := fmt.Sprintf("/v1/bot-types/%d/updates", bt.ID)

	rr = h.do(t, http.MethodPost, path, calcBody("10", "Neu", true))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	first := decode[updateResponse](t, rr)
	assert.Equal(t, 1, first.Update.Version)
	assert.True(t, first.StartDated)

	rr = h.do(t, http.MethodPost, path, calcBody("25", "Vergleich", false))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	second := decode[updateResponse](t, rr)
	assert.Equal(t, 2, second.Update.Version)
	assert.False(t, second.StartDated)

	flat, err := models.ParseFlatRecord(second.Update.Values)
	require.NoError(t, err)
	profit, _ := flat.String(models.KeyProfit)
	pct, _ := flat.String(models.KeyProfitPercent)
	assert.Equal(t, "15.00", profit)
	assert.Equal(t, "150.00", pct)

	got, _ := h.bots.Get(context.Background(), bt.ID)
	require.NotNil(t, got.StartDate)
	assert.True(t, got.StartDate.Equal(fixedNow))

	rr = h.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]models.StoredUpdate](t, rr), 2)
}

func TestUpdates_UnknownBotType(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodPost, "/v1/bot-types/42/updates", calcBody("1", "Neu", true))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = h.do(t, http.MethodPost, "/v1/bot-types/abc/updates", calcBody("1", "Neu", true))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdates_DeleteNewestOnly(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodPost, "/v1/bot-types", map[string]string{"name": "Grid ETH"})
	bt := decode[models.BotType](t, rr)
	path := fmt.Sprintf("/v1/bot-types/%d/updates", bt.ID)
	for i := 0; i < 2; i++ {
		rr = h.do(t, http.MethodPost, path, calcBody("10", "Neu", i == 0))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodDelete, path+"/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, path+"/9", nil).Code)
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, path+"/2", nil).Code)
}

// ---------- extraction and reports ----------

func TestExtract_ForwardsImage(t *testing.T) {
	h := newHarness(t)
	h.extractor.shots = []models.ScreenshotRecord{{BotName: "BTCUSDT", Runtime: "1h"}}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "shot.png")
	require.NoError(t, err)
	png := []byte("\x89PNG\r\n\x1a\n0000")
	_, _ = part.Write(png)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/extract", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, png, h.extractor.got)
	assert.Equal(t, "image/png", h.extractor.contentType)
	res := decode[extractResponse](t, rr)
	require.Len(t, res.Screenshots, 1)
	assert.Equal(t, "BTCUSDT", res.Screenshots[0].BotName)
}

func TestExtract_UpstreamErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want int
	}{
		{"rejected image", fmt.Errorf("vision request: %w", &httputil.StatusError{Upstream: "vision", Status: 415, Body: "unsupported"}), http.StatusUnprocessableEntity},
		{"upstream down", fmt.Errorf("vision request: %w", &httputil.StatusError{Upstream: "vision", Status: 503}), http.StatusBadGateway},
		{"transport", errors.New("connection refused"), http.StatusBadGateway},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.extractor.err = tc.err

			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			part, err := mw.CreateFormFile("image", "shot.png")
			require.NoError(t, err)
			_, _ = part.Write([]byte("img"))
			require.NoError(t, mw.Close())

			req := httptest.NewRequest(http.MethodPost, "/v1/extract", &body)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			rr := httptest.NewRecorder()
			h.srv.Handler().ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}
}

func TestExtract_MissingImage(t *testing.T) {
	h := newHarness(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "no file"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/extract", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRoutes_UnconfiguredDependencies(t *testing.T) {
	srv := NewServer(Deps{}, Options{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/extract"},
		{http.MethodGet, "/v1/bot-types"},
		{http.MethodGet, "/v1/reports?from=2025-01-01&to=2025-01-02"},
		{http.MethodGet, "/v1/sync"},
	} {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, tc.path)
	}
}

func TestReports(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodGet, "/v1/reports?from=2025-03-01&to=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), h.reports.rng.To)

	for _, q := range []string{"", "?from=2025-03-01", "?from=2025-3-1&to=2025-03-02", "?from=2025-03-05&to=2025-03-01"} {
		rr = h.do(t, http.MethodGet, "/v1/reports"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

// ---------- watchlist ----------

func TestWatchlist_ThresholdLifecycle(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodPut, "/v1/thresholds/BTCUSDT", `[{"value":"100000","notifyOnIncrease":true}]`)
	assert.Equal(t, http.StatusNotFound, rr.Code, "thresholds need a watched pair")

	rr = h.do(t, http.MethodPost, "/v1/watchlist/btc-usdt", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode[models.Snapshot](t, rr)
	assert.Equal(t, []string{"BTCUSDT"}, snap.Watchlist.Pairs)

	rr = h.do(t, http.MethodPut, "/v1/thresholds/BTCUSDT", `[{"value":"abc","notifyOnIncrease":true}]`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(t, http.MethodPut, "/v1/thresholds/BTCUSDT", `[{"value":"100000","notifyOnIncrease":true}]`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	snap = decode[models.Snapshot](t, rr)
	ths := snap.Thresholds.ByPair["BTCUSDT"]
	require.Len(t, ths, 1)
	assert.Equal(t, "id-1", ths[0].ID)
	assert.True(t, ths[0].IsActive)
	assert.Equal(t, models.FrequencyOnce, ths[0].IncreaseFrequency)

	rr = h.do(t, http.MethodDelete, "/v1/watchlist/BTCUSDT", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	snap = decode[models.Snapshot](t, rr)
	assert.Empty(t, snap.Watchlist.Pairs)
	assert.False(t, snap.Thresholds.ByPair["BTCUSDT"][0].IsActive)

	rr = h.do(t, http.MethodDelete, "/v1/watchlist/BTCUSDT", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// re-adding does not reactivate
	rr = h.do(t, http.MethodPost, "/v1/watchlist/BTCUSDT", nil)
	snap = decode[models.Snapshot](t, rr)
	assert.False(t, snap.Thresholds.ByPair["BTCUSDT"][0].IsActive)
}

func TestWatchlist_DismissUnknownAlarm(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodPost, "/v1/alarms/nope/dismiss", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWatchlist_DismissReleasesThreshold(t *testing.T) {
	h := newHarness(t)
	_, err := h.sync.Update(context.Background(), func(s models.Snapshot, at int64) (models.Snapshot, error) {
		s.Watchlist.Pairs = []string{"ETHUSDT"}
		s.Watchlist.UpdatedAt = at
		s.Thresholds.ByPair = map[string][]models.Threshold{"ETHUSDT": {{
			ID: "th-1", Pair: "ETHUSDT", Value: "3000", NotifyOnIncrease: true,
			IncreaseFrequency: models.FrequencyRepeating, DecreaseFrequency: models.FrequencyOnce,
			IsActive: true, ActiveAlarmID: "alarm-1", TriggerCount: 1,
		}}}
		s.Thresholds.UpdatedAt = at
		s.Alarms.Items = []models.Alarm{{ID: "alarm-1", ThresholdID: "th-1", Pair: "ETHUSDT", Status: models.AlarmPending}}
		s.Alarms.UpdatedAt = at
		return s, nil
	})
	require.NoError(t, err)

	rr := h.do(t, http.MethodPost, "/v1/alarms/alarm-1/dismiss", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	snap := decode[models.Snapshot](t, rr)
	assert.Equal(t, models.AlarmDismissed, snap.Alarms.Items[0].Status)
	assert.Empty(t, snap.Thresholds.ByPair["ETHUSDT"][0].ActiveAlarmID)
}

func TestSync_PushMergesDeviceCopy(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/v1/watchlist/BTCUSDT", nil)

	device := models.Snapshot{
		DeviceID:  "phone",
		Watchlist: models.WatchlistSection{Pairs: []string{"SOLUSDT"}, UpdatedAt: time.Now().Add(time.Hour).UnixMilli()},
	}
	rr := h.do(t, http.MethodPut, "/v1/sync", device)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	merged := decode[models.Snapshot](t, rr)
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, merged.Watchlist.Pairs)
	assert.Equal(t, "server", merged.DeviceID)

	rr = h.do(t, http.MethodGet, "/v1/sync", nil)
	assert.Equal(t, merged.Watchlist.Pairs, decode[models.Snapshot](t, rr).Watchlist.Pairs)
}

func TestSync_WebsocketRelaysChanges(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sync/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial models.Snapshot
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Empty(t, initial.Watchlist.Pairs)

	resp, err := http.Post(ts.URL+"/v1/watchlist/ADAUSDT", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	var next models.Snapshot
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, []string{"ADAUSDT"}, next.Watchlist.Pairs)

	// device pushes over the socket
	push := models.Snapshot{
		DeviceID:  "tablet",
		Watchlist: models.WatchlistSection{Pairs: []string{"XRPUSDT"}, UpdatedAt: time.Now().Add(time.Hour).UnixMilli()},
	}
	require.NoError(t, conn.WriteJSON(push))
	var merged models.Snapshot
	require.NoError(t, conn.ReadJSON(&merged))
	assert.Equal(t, []string{"ADAUSDT", "XRPUSDT"}, merged.Watchlist.Pairs)
}

func TestMetricsAndHealthArePublic(t *testing.T) {
	srv := NewServer(Deps{}, Options{APIKey: "secret"})
	for _, path := range []string{"/health", "/metrics"} {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sync", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealth_ReportsDependencies(t *testing.T) {
	h := newHarness(t)
	_, err := h.sync.Update(context.Background(), func(s models.Snapshot, at int64) (models.Snapshot, error) {
		s.Watchlist.Pairs = []string{"BTCUSDT", "ETHUSDT"}
		s.Watchlist.UpdatedAt = at
		return s, nil
	})
	require.NoError(t, err)

	srv := NewServer(Deps{DB: pinger{errors.New("connection refused")}, Sync: h.sync}, Options{Now: func() time.Time { return fixedNow }})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	res := decode[healthResponse](t, rr)
	assert.Equal(t, "degraded", res.Status)
	assert.Equal(t, "disconnected", res.Database.State)
	assert.Equal(t, "connection refused", res.Database.Error)
	assert.Equal(t, "stopped", res.Sync.State)
	assert.Equal(t, "server", res.Sync.DeviceID)
	assert.Equal(t, 2, res.Sync.Pairs)
	assert.Equal(t, "not configured", res.Vision)
	assert.Equal(t, "2025-06-01T12:00:00Z", res.Timestamp)

	srv = NewServer(Deps{DB: pinger{}}, Options{})
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	res = decode[healthResponse](t, rr)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, "connected", res.Database.State)
}
