package devicesync

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/kjannette/botdash-backend/internal/logging"
	"github.com/kjannette/botdash-backend/internal/models"
	"github.com/kjannette/botdash-backend/internal/observability"
	"github.com/kjannette/botdash-backend/internal/watchlist"
)

var log = logging.For("sync")

type SyncerConfig struct {
	DeviceID string
	Interval time.Duration
	Local    LocalStore
	Remote   Replica // nil for local-only operation
	Now      func() time.Time
}

// Syncer owns this process's copy of the watchlist snapshot. Every change is
// written to the local store first and then pushed to the replica; a
// background loop pulls and merges remote changes.
type Syncer struct {
	cfg SyncerConfig

	mu      sync.Mutex // guards snap and clock
	snap    models.Snapshot
	clock   int64
	subs    map[chan models.Snapshot]struct{}
	subsMu  sync.Mutex
	running bool
	runMu   sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Local == nil {
		return nil, fmt.Errorf("local store is required")
	}

	snap, err := cfg.Local.Load()
	if err != nil {
		return nil, fmt.Errorf("load local snapshot: %w", err)
	}
	snap.DeviceID = cfg.DeviceID

	return &Syncer{
		cfg:   cfg,
		snap:  snap,
		clock: watchlist.Clock(snap),
		subs:  map[chan models.Snapshot]struct{}{},
	}, nil
}

// Snapshot returns a copy of the current merged snapshot.
func (s *Syncer) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return watchlist.Clone(s.snap)
}

// Update applies fn to the snapshot with a fresh logical timestamp, persists
// the result locally and pushes it to the replica.
func (s *Syncer) Update(ctx context.Context, fn func(snap models.Snapshot, at int64) (models.Snapshot, error)) (models.Snapshot, error) {
	s.mu.Lock()
	at := s.tick()
	next, err := fn(watchlist.Clone(s.snap), at)
	if err != nil {
		s.mu.Unlock()
		return models.Snapshot{}, err
	}
	next.DeviceID = s.cfg.DeviceID
	if err := s.cfg.Local.Save(next); err != nil {
		s.mu.Unlock()
		return models.Snapshot{}, fmt.Errorf("save local snapshot: %w", err)
	}
	s.snap = next
	s.mu.Unlock()

	s.push(ctx)
	return s.publish(), nil
}

// Receive merges a snapshot pushed by another device and returns the merged copy.
func (s *Syncer) Receive(ctx context.Context, incoming models.Snapshot) (models.Snapshot, error) {
	if err := s.merge(incoming, "device"); err != nil {
		return models.Snapshot{}, err
	}
	s.push(ctx)
	return s.publish(), nil
}

// SyncOnce pulls the replica, merges it into the local copy and pushes back
// anything the replica was missing.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	if s.cfg.Remote == nil {
		return nil
	}
	remote, ok, err := s.cfg.Remote.Pull(ctx)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	if ok {
		if err := s.merge(remote, "pull"); err != nil {
			return err
		}
	}

	cur := s.Snapshot()
	if ok && reflect.DeepEqual(normalize(cur), normalize(remote)) {
		return nil
	}
	s.push(ctx)
	s.publish()
	return nil
}

// ReloadLocal merges the local store's content, after an outside write to it.
func (s *Syncer) ReloadLocal() error {
	disk, err := s.cfg.Local.Load()
	if err != nil {
		return err
	}
	if err := s.merge(disk, "file"); err != nil {
		return err
	}
	s.publish()
	return nil
}

// Subscribe returns a channel that receives the snapshot after every change.
// Slow subscribers only see the latest snapshot.
func (s *Syncer) Subscribe() (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, ch)
			s.subsMu.Unlock()
		})
	}
}

func (s *Syncer) Start() {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		log.Info("already running")
		return
	}
	s.running = true
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.stopCh, s.doneCh = stopCh, doneCh
	s.runMu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.runOnce()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.runOnce()
			}
		}
	}()

	log.Infof("started (device %s, every %s)", s.cfg.DeviceID, s.cfg.Interval)
}

// Stop ends the loop and waits for an in-flight sync to finish.
func (s *Syncer) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.running = false
	s.runMu.Unlock()

	<-done
	log.Info("stopped")
}

func (s *Syncer) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Syncer) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval+10*time.Second)
	defer cancel()
	if err := s.SyncOnce(ctx); err != nil {
		log.Warnf("sync failed: %v", err)
	}
}

func (s *Syncer) merge(other models.Snapshot, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := watchlist.Merge(s.snap, other)
	merged.DeviceID = s.cfg.DeviceID
	if reflect.DeepEqual(merged, s.snap) {
		return nil
	}
	if err := s.cfg.Local.Save(merged); err != nil {
		return fmt.Errorf("save local snapshot: %w", err)
	}
	s.snap = merged
	s.clock = max(s.clock, watchlist.Clock(merged))
	observability.RecordSyncMerge(source)
	return nil
}

// push sends the current snapshot to the replica and adopts what comes back.
// Failures are logged; the next sync retries.
func (s *Syncer) push(ctx context.Context) {
	if s.cfg.Remote == nil {
		return
	}
	back, err := s.cfg.Remote.Push(ctx, s.Snapshot())
	if err != nil {
		log.Warnf("push to replica failed: %v", err)
		return
	}
	if err := s.merge(back, "push"); err != nil {
		log.Warnf("%v", err)
	}
}

func (s *Syncer) publish() models.Snapshot {
	snap := s.Snapshot()
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- watchlist.Clone(snap):
		default:
		}
	}
	return snap
}

// tick must be called with mu held.
func (s *Syncer) tick() int64 {
	s.clock = watchlist.Tick(max(s.clock, watchlist.Clock(s.snap)), s.cfg.Now())
	return s.clock
}

// normalize drops the fields that differ between copies of the same data.
func normalize(s models.Snapshot) models.Snapshot {
	n := watchlist.Merge(s, s)
	n.DeviceID = ""
	return n
}
