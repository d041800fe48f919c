package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/botdash-backend/internal/models"
)

const updateColumns = `id, bot_type_id, version, status, record_date, payload, created_at`

// UpdateRepo stores the append-only update lineage of each bot type.
type UpdateRepo struct {
	pool *pgxpool.Pool
}

func NewUpdateRepo(pool *pgxpool.Pool) *UpdateRepo {
	return &UpdateRepo{pool: pool}
}

// Insert appends rec as the next version of the bot type's lineage.
// The stored version is assigned here and overrides rec.Version.
func (r *UpdateRepo) Insert(ctx context.Context, botTypeID int64, rec *models.UpdateRecord) (*models.StoredUpdate, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `SELECT id FROM bot_types WHERE id = $1 FOR UPDATE`, botTypeID).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("bot type %d: %w", botTypeID, notFound(err))
	}

	var last int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM bot_updates WHERE bot_type_id = $1`,
		botTypeID,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("max version: %w", err)
	}

	stored := *rec
	stored.Version = last + 1
	payload, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	modes, err := json.Marshal(stored.Modes)
	if err != nil {
		return nil, fmt.Errorf("marshal modes: %w", err)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO bot_updates (bot_type_id, version, status, record_date, payload, modes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+updateColumns,
		botTypeID, stored.Version, string(stored.Status), stored.Date.UTC(), json.RawMessage(payload), json.RawMessage(modes),
	)
	u, err := scanUpdate(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("bot type %d version %d: %w", botTypeID, stored.Version, ErrVersionConflict)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

// Latest returns the newest update of the given status.
func (r *UpdateRepo) Latest(ctx context.Context, botTypeID int64, status models.Status) (*models.StoredUpdate, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+updateColumns+` FROM bot_updates
		 WHERE bot_type_id = $1 AND status = $2
		 ORDER BY version DESC LIMIT 1`,
		botTypeID, string(status),
	)
	u, err := scanUpdate(row)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (r *UpdateRepo) List(ctx context.Context, botTypeID int64) ([]models.StoredUpdate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+updateColumns+` FROM bot_updates
		 WHERE bot_type_id = $1 ORDER BY version`,
		botTypeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUpdates(rows)
}

// Delete removes a mistaken upload. Only the newest version may go, so the
// lineage never has gaps.
func (r *UpdateRepo) Delete(ctx context.Context, botTypeID int64, version int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT id FROM bot_types WHERE id = $1 FOR UPDATE`, botTypeID); err != nil {
		return fmt.Errorf("lock bot type: %w", err)
	}

	var last *int
	err = tx.QueryRow(ctx,
		`SELECT MAX(version) FROM bot_updates WHERE bot_type_id = $1`,
		botTypeID,
	).Scan(&last)
	if err != nil {
		return fmt.Errorf("max version: %w", err)
	}
	if last == nil {
		return ErrNotFound
	}
	if *last != version {
		if version < *last && version > 0 {
			return fmt.Errorf("version %d (newest is %d): %w", version, *last, ErrNotLatest)
		}
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM bot_updates WHERE bot_type_id = $1 AND version = $2`,
		botTypeID, version,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- scan helpers ---

func scanUpdate(row scannable) (*models.StoredUpdate, error) {
	var u models.StoredUpdate
	var status string
	if err := row.Scan(&u.ID, &u.BotTypeID, &u.Version, &status, &u.Date, &u.Values, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Status = models.Status(status)
	return &u, nil
}

func collectUpdates(rows rowsIter) ([]models.StoredUpdate, error) {
	out := []models.StoredUpdate{}
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}
