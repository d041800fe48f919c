package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kjannette/botdash-backend/internal/logging"
	"github.com/kjannette/botdash-backend/internal/models"
	"github.com/kjannette/botdash-backend/internal/observability"
	"github.com/kjannette/botdash-backend/internal/watchlist"
)

var log = logging.For("watcher")

type PriceSource interface {
	GetPrices(ctx context.Context, pairs []string) (map[string]float64, error)
}

type Notifier interface {
	SendAlarm(ctx context.Context, a models.Alarm, note string) error
}

// SnapshotStore is the watchlist state the watcher reads and updates.
type SnapshotStore interface {
	Snapshot() models.Snapshot
	Update(ctx context.Context, fn func(models.Snapshot, int64) (models.Snapshot, error)) (models.Snapshot, error)
}

type PriceWatcherConfig struct {
	Interval time.Duration
	NewID    func() string
	Now      func() time.Time
}

// PriceWatcher polls prices for watched pairs, fires due thresholds and
// sends a notification per alarm.
type PriceWatcher struct {
	prices   PriceSource
	store    SnapshotStore
	notifier Notifier
	cfg      PriceWatcherConfig

	checkMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewPriceWatcher(prices PriceSource, store SnapshotStore, notifier Notifier, cfg PriceWatcherConfig) *PriceWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &PriceWatcher{
		prices:   prices,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
	}
}

func (w *PriceWatcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		log.Info("already running")
		return
	}
	w.running = true
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	w.stopCh, w.doneCh = stopCh, doneCh
	w.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Interval)
				if _, err := w.CheckNow(ctx); err != nil {
					log.Warnf("price check failed: %v", err)
				}
				cancel()
			}
		}
	}()

	log.Infof("started (every %s)", w.cfg.Interval)
}

func (w *PriceWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	done := w.doneCh
	w.running = false
	w.mu.Unlock()

	<-done
	log.Info("stopped")
}

func (w *PriceWatcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// CheckNow runs one evaluation pass and returns the alarms it raised.
func (w *PriceWatcher) CheckNow(ctx context.Context) ([]models.Alarm, error) {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	current := w.store.Snapshot()
	pairs := armedPairs(current)
	if len(pairs) == 0 {
		return nil, nil
	}

	prices, err := w.prices.GetPrices(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}

	// dry run, so quiet checks do not touch the store
	if _, due := watchlist.Evaluate(current, prices, w.cfg.Now(), func() string { return "" }, 0); len(due) == 0 {
		return nil, nil
	}

	var fired []models.Alarm
	snap, err := w.store.Update(ctx, func(s models.Snapshot, at int64) (models.Snapshot, error) {
		next, alarms := watchlist.Evaluate(s, prices, w.cfg.Now(), w.cfg.NewID, at)
		fired = alarms
		if len(alarms) == 0 {
			return s, nil
		}
		return next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record alarms: %w", err)
	}

	for _, a := range fired {
		observability.RecordAlarm(string(a.Direction))
		log.WithField("pair", a.Pair).Infof("threshold %s fired (%s at %v)", a.ThresholdID, a.Direction, a.Price)
		if w.notifier == nil {
			continue
		}
		if err := w.notifier.SendAlarm(ctx, a, thresholdNote(snap, a)); err != nil {
			observability.RecordNotificationFailure()
			log.Warnf("alarm %s not delivered: %v", a.ID, err)
		}
	}
	return fired, nil
}

// armedPairs lists watched pairs with at least one active threshold.
func armedPairs(s models.Snapshot) []string {
	var out []string
	for _, p := range s.Watchlist.Pairs {
		for _, th := range s.Thresholds.ByPair[p] {
			if th.IsActive {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func thresholdNote(s models.Snapshot, a models.Alarm) string {
	for _, th := range s.Thresholds.ByPair[a.Pair] {
		if th.ID == a.ThresholdID {
			return th.Note
		}
	}
	return ""
}
