package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kjannette/botdash-backend/internal/models"
	"github.com/kjannette/botdash-backend/internal/report"
	"github.com/kjannette/botdash-backend/internal/repository"
)

type fakeBotTypes struct {
	mu    sync.Mutex
	items map[int64]*models.BotType
	next  int64
}

func newFakeBotTypes() *fakeBotTypes {
	return &fakeBotTypes{items: map[int64]*models.BotType{}}
}

func (f *fakeBotTypes) Create(_ context.Context, name, description string) (*models.BotType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bt := range f.items {
		if bt.Name == name {
			return nil, repository.ErrDuplicate
		}
	}
	f.next++
	bt := &models.BotType{ID: f.next, Name: name, Description: description, CreatedAt: time.Now()}
	f.items[bt.ID] = bt
	return bt, nil
}

func (f *fakeBotTypes) Get(_ context.Context, id int64) (*models.BotType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bt, ok := f.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *bt
	return &cp, nil
}

func (f *fakeBotTypes) List(context.Context) ([]models.BotType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.BotType{}
	for _, bt := range f.items {
		out = append(out, *bt)
	}
	return out, nil
}

func (f *fakeBotTypes) PinStartDate(_ context.Context, id int64, date time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bt, ok := f.items[id]
	if !ok || bt.StartDate != nil {
		return false, nil
	}
	d := date.UTC()
	bt.StartDate = &d
	return true, nil
}

type fakeUpdates struct {
	mu      sync.Mutex
	lineage map[int64][]models.StoredUpdate
}

func newFakeUpdates() *fakeUpdates {
	return &fakeUpdates{lineage: map[int64][]models.StoredUpdate{}}
}

func (f *fakeUpdates) Insert(_ context.Context, botTypeID int64, rec *models.UpdateRecord) (*models.StoredUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *rec
	stored.Version = len(f.lineage[botTypeID]) + 1
	payload, err := json.Marshal(&stored)
	if err != nil {
		return nil, err
	}
	u := models.StoredUpdate{
		ID:        int64(stored.Version),
		BotTypeID: botTypeID,
		Version:   stored.Version,
		Status:    stored.Status,
		Date:      stored.Date,
		Values:    payload,
		CreatedAt: time.Now(),
	}
	f.lineage[botTypeID] = append(f.lineage[botTypeID], u)
	return &u, nil
}

func (f *fakeUpdates) Latest(_ context.Context, botTypeID int64, status models.Status) (*models.StoredUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lineage[botTypeID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Status == status {
			u := list[i]
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUpdates) List(_ context.Context, botTypeID int64) ([]models.StoredUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.StoredUpdate{}, f.lineage[botTypeID]...), nil
}

func (f *fakeUpdates) Delete(_ context.Context, botTypeID int64, version int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lineage[botTypeID]
	switch {
	case version <= 0 || version > len(list):
		return repository.ErrNotFound
	case version != len(list):
		return repository.ErrNotLatest
	}
	f.lineage[botTypeID] = list[:len(list)-1]
	return nil
}

type fakeExtractor struct {
	got         []byte
	contentType string
	shots       []models.ScreenshotRecord
	err         error
}

func (f *fakeExtractor) Extract(_ context.Context, image []byte, contentType string) ([]models.ScreenshotRecord, error) {
	f.got = image
	f.contentType = contentType
	return f.shots, f.err
}

type fakeReports struct {
	rng report.Range
}

func (f *fakeReports) Report(_ context.Context, rng report.Range) (*report.Report, error) {
	f.rng = rng
	return report.Build(nil, rng), nil
}
