package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/botdash-backend/internal/models"
)

type BotTypeRepo struct {
	pool *pgxpool.Pool
}

func NewBotTypeRepo(pool *pgxpool.Pool) *BotTypeRepo {
	return &BotTypeRepo{pool: pool}
}

func (r *BotTypeRepo) Create(ctx context.Context, name, description string) (*models.BotType, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO bot_types (name, description)
		 VALUES ($1, $2)
		 RETURNING id, name, description, start_date, created_at`,
		name, description,
	)
	bt, err := scanBotType(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("bot type %q: %w", name, ErrDuplicate)
		}
		return nil, err
	}
	return bt, nil
}

func (r *BotTypeRepo) Get(ctx context.Context, id int64) (*models.BotType, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, description, start_date, created_at
		 FROM bot_types WHERE id = $1`,
		id,
	)
	bt, err := scanBotType(row)
	if err != nil {
		return nil, notFound(err)
	}
	return bt, nil
}

func (r *BotTypeRepo) List(ctx context.Context) ([]models.BotType, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, start_date, created_at
		 FROM bot_types ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBotTypes(rows)
}

// PinStartDate sets the start date of a bot type unless one is already set.
// It reports whether the date was written.
func (r *BotTypeRepo) PinStartDate(ctx context.Context, id int64, date time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bot_types SET start_date = $2
		 WHERE id = $1 AND start_date IS NULL`,
		id, date.UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// --- scan helpers ---

func scanBotType(row scannable) (*models.BotType, error) {
	var bt models.BotType
	if err := row.Scan(&bt.ID, &bt.Name, &bt.Description, &bt.StartDate, &bt.CreatedAt); err != nil {
		return nil, err
	}
	return &bt, nil
}

func collectBotTypes(rows rowsIter) ([]models.BotType, error) {
	out := []models.BotType{}
	for rows.Next() {
		bt, err := scanBotType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bt)
	}
	return out, rows.Err()
}
