package report

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/kjannette/botdash-backend/internal/logging"
)

var log = logging.For("report")

// Loader reads stored updates for reporting over its own database/sql pool,
// separate from the write path.
type Loader struct {
	db *sqlx.DB
}

func NewLoader(ctx context.Context, dsn string) (*Loader, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open report db: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping report db: %w", err)
	}
	return &Loader{db: db}, nil
}

func (l *Loader) Close() error {
	return l.db.Close()
}

// Rows returns, per lineage, every version up to the newest one dated before
// the end of rng, oldest first. Earlier rows are needed to turn Vergleich
// deltas back into totals.
// Rows stored without modes fall back to the payload shape: an unsuffixed
// profit percent only appears on a diffed profit.
func (l *Loader) Rows(ctx context.Context, rng Range) ([]Row, error) {
	query := `
		SELECT u.bot_type_id, b.name AS bot_name, u.version, u.status, u.record_date,
		       u.payload->>'totalInvestment' AS total_investment,
		       u.payload->>'profit' AS profit,
		       COALESCE(u.modes->>'investment', '') AS investment_mode,
		       COALESCE(u.modes->>'profit',
		                CASE WHEN u.payload ? 'profitPercent' THEN 'Vergleich' ELSE '' END) AS profit_mode
		FROM bot_updates u
		JOIN bot_types b ON b.id = u.bot_type_id
		WHERE u.version <= (
			SELECT MAX(v.version) FROM bot_updates v
			WHERE v.bot_type_id = u.bot_type_id AND v.status = u.status AND v.record_date < $1)
		ORDER BY u.bot_type_id, u.status, u.version`

	var rows []Row
	if err := l.db.SelectContext(ctx, &rows, query, rng.End()); err != nil {
		return nil, fmt.Errorf("select report rows: %w", err)
	}
	return rows, nil
}

func (l *Loader) Report(ctx context.Context, rng Range) (*Report, error) {
	rows, err := l.Rows(ctx, rng)
	if err != nil {
		return nil, err
	}
	rep := Build(rows, rng)
	log.WithField("updates", rep.Updates).Debugf("report %s..%s built", rep.From, rep.To)
	return rep, nil
}
