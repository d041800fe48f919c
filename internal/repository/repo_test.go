package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/botdash-backend/internal/models"
	"github.com/kjannette/botdash-backend/internal/repository"
	"github.com/kjannette/botdash-backend/internal/testutil"
)

func newBotType(t *testing.T, repo *repository.BotTypeRepo) *models.BotType {
	t.Helper()
	name := fmt.Sprintf("grid-%d", time.Now().UnixNano())
	bt, err := repo.Create(context.Background(), name, "test lineage")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return bt
}

func record(profit string, status models.Status, date time.Time) *models.UpdateRecord {
	return &models.UpdateRecord{
		Investment:      decimal.RequireFromString("100"),
		TotalInvestment: decimal.RequireFromString("100"),
		Profit:          decimal.RequireFromString(profit),
		ProfitPercent:   models.NeuPercent{},
		Date:            date,
		Version:         99,
		Status:          status,
	}
}

// ---------- BotTypeRepo ----------

func TestBotTypeRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewBotTypeRepo(pool)
	ctx := context.Background()

	bt := newBotType(t, repo)
	if bt.ID == 0 {
		t.Fatal("expected non-zero ID")
	}
	if bt.StartDate != nil {
		t.Fatal("new bot type should have no start date")
	}

	if _, err := repo.Create(ctx, bt.Name, ""); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("duplicate name: got %v, want ErrDuplicate", err)
	}

	got, err := repo.Get(ctx, bt.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != bt.Name {
		t.Fatalf("name mismatch: got %s want %s", got.Name, bt.Name)
	}

	if _, err := repo.Get(ctx, -1); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Get missing: got %v, want ErrNotFound", err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("expected at least one bot type")
	}
}

func TestBotTypeRepo_PinStartDateOnce(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewBotTypeRepo(pool)
	ctx := context.Background()
	bt := newBotType(t, repo)

	first := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	pinned, err := repo.PinStartDate(ctx, bt.ID, first)
	if err != nil || !pinned {
		t.Fatalf("first pin: pinned=%v err=%v", pinned, err)
	}

	pinned, err = repo.PinStartDate(ctx, bt.ID, first.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("second pin: %v", err)
	}
	if pinned {
		t.Fatal("start date must not be overwritten")
	}

	got, _ := repo.Get(ctx, bt.ID)
	if got.StartDate == nil || !got.StartDate.Equal(first) {
		t.Fatalf("start date: got %v want %v", got.StartDate, first)
	}
}

// ---------- UpdateRepo ----------

func TestUpdateRepo_Lineage(t *testing.T) {
	pool := testutil.SetupPool(t)
	bots := repository.NewBotTypeRepo(pool)
	repo := repository.NewUpdateRepo(pool)
	ctx := context.Background()
	bt := newBotType(t, bots)

	if _, err := repo.Latest(ctx, bt.ID, models.StatusUpdateMetrics); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Latest on empty lineage: got %v", err)
	}

	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	u1, err := repo.Insert(ctx, bt.ID, record("10", models.StatusUpdateMetrics, day))
	if err != nil {
		t.Fatalf("Insert 1: %v", err)
	}
	if u1.Version != 1 {
		t.Fatalf("first version: got %d want 1", u1.Version)
	}

	u2, err := repo.Insert(ctx, bt.ID, record("25", models.StatusClosedBots, day.Add(24*time.Hour)))
	if err != nil {
		t.Fatalf("Insert 2: %v", err)
	}
	if u2.Version != 2 {
		t.Fatalf("second version: got %d want 2", u2.Version)
	}

	// stored payload carries the assigned version, not the caller's
	flat, err := models.ParseFlatRecord(u2.Values)
	if err != nil {
		t.Fatalf("stored payload: %v", err)
	}
	if v, _ := flat.Int(models.KeyVersion); v != 2 {
		t.Fatalf("payload version: got %d want 2", v)
	}

	latest, err := repo.Latest(ctx, bt.ID, models.StatusUpdateMetrics)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Version != 1 {
		t.Fatalf("latest Update Metrics: got version %d want 1", latest.Version)
	}

	list, err := repo.List(ctx, bt.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Version != 1 || list[1].Version != 2 {
		t.Fatalf("List order: %+v", list)
	}
}

func TestUpdateRepo_Insert_UnknownBotType(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewUpdateRepo(pool)

	_, err := repo.Insert(context.Background(), -1, record("1", models.StatusUpdateMetrics, time.Now()))
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateRepo_DeleteNewestOnly(t *testing.T) {
	pool := testutil.SetupPool(t)
	bots := repository.NewBotTypeRepo(pool)
	repo := repository.NewUpdateRepo(pool)
	ctx := context.Background()
	bt := newBotType(t, bots)

	now := time.Now().UTC()
	for _, p := range []string{"1", "2", "3"} {
		if _, err := repo.Insert(ctx, bt.ID, record(p, models.StatusUpdateMetrics, now)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	if err := repo.Delete(ctx, bt.ID, 2); !errors.Is(err, repository.ErrNotLatest) {
		t.Fatalf("delete middle: got %v, want ErrNotLatest", err)
	}
	if err := repo.Delete(ctx, bt.ID, 7); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("delete unknown: got %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, bt.ID, 3); err != nil {
		t.Fatalf("delete newest: %v", err)
	}

	next, err := repo.Insert(ctx, bt.ID, record("4", models.StatusUpdateMetrics, now))
	if err != nil {
		t.Fatalf("Insert after delete: %v", err)
	}
	if next.Version != 3 {
		t.Fatalf("version after delete: got %d want 3", next.Version)
	}
}

func TestUpdateRepo_ConcurrentInsertsStaySequential(t *testing.T) {
	pool := testutil.SetupPool(t)
	bots := repository.NewBotTypeRepo(pool)
	repo := repository.NewUpdateRepo(pool)
	ctx := context.Background()
	bt := newBotType(t, bots)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := repo.Insert(ctx, bt.ID, record("1", models.StatusUpdateMetrics, time.Now()))
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent Insert: %v", err)
		}
	}

	list, err := repo.List(ctx, bt.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for i, u := range list {
		if u.Version != i+1 {
			t.Fatalf("gap in lineage at %d: version %d", i, u.Version)
		}
	}
}
