// Package devicesync keeps the watchlist snapshot in a two-tier store: an
// authoritative local cache plus a remote replica shared by all devices.
// Reads merge both tiers with watchlist.Merge.
package devicesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kjannette/botdash-backend/internal/models"
	"github.com/kjannette/botdash-backend/internal/watchlist"
)

// LocalStore is the authoritative tier.
type LocalStore interface {
	Load() (models.Snapshot, error)
	Save(models.Snapshot) error
}

// Replica is the shared tier. Push merges s into the replica and returns what
// the replica holds afterwards.
type Replica interface {
	Pull(ctx context.Context) (models.Snapshot, bool, error)
	Push(ctx context.Context, s models.Snapshot) (models.Snapshot, error)
}

// FileStore keeps the local snapshot as a JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

// Load returns an empty snapshot when the file does not exist yet.
func (f *FileStore) Load() (models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("read %s: %w", f.path, err)
	}
	var s models.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return models.Snapshot{}, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return watchlist.Clone(s), nil
}

// Save writes through a temp file and rename so readers never see a partial file.
func (f *FileStore) Save(s models.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

// Watch calls onChange whenever the snapshot file is written by anyone,
// until ctx is done. The directory is watched because Save replaces the file.
func (f *FileStore) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.Close()
		return err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(f.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					onChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("file watcher: %v", err)
			}
		}
	}()
	return nil
}

// MemoryReplica is an in-process replica, used when no Redis is configured.
type MemoryReplica struct {
	mu   sync.Mutex
	snap *models.Snapshot
}

func NewMemoryReplica() *MemoryReplica { return &MemoryReplica{} }

func (m *MemoryReplica) Pull(ctx context.Context) (models.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return models.Snapshot{}, false, nil
	}
	return watchlist.Clone(*m.snap), true, nil
}

func (m *MemoryReplica) Push(ctx context.Context, s models.Snapshot) (models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := watchlist.Clone(s)
	if m.snap != nil {
		merged = watchlist.Merge(s, *m.snap)
	}
	m.snap = &merged
	return watchlist.Clone(merged), nil
}

func emptySnapshot() models.Snapshot {
	return models.Snapshot{
		Watchlist:  models.WatchlistSection{Pairs: []string{}},
		Thresholds: models.ThresholdSection{ByPair: map[string][]models.Threshold{}},
		Alarms:     models.AlarmSection{Items: []models.Alarm{}},
	}
}
