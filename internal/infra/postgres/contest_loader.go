package postgres

import (
	"context"
	"errors"
	"fmt"

	"offline-contest/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ContestLoader serves contest documents stored as JSONB.
type ContestLoader struct {
	pool *pgxpool.Pool
}

func NewContestLoader(pool *pgxpool.Pool) *ContestLoader {
	return &ContestLoader{pool: pool}
}

func (l *ContestLoader) FetchContest(ctx context.Context, contestID string) ([]byte, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM contests WHERE id=$1`, contestID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrContestNotFound, contestID)
	}
	if err != nil {
		return nil, fmt.Errorf("load contest: %w", err)
	}
	return raw, nil
}

// SaveContest inserts or replaces a contest document.
func (l *ContestLoader) SaveContest(ctx context.Context, contestID string, doc []byte) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO contests (id, data) VALUES ($1, $2::jsonb)
		 ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`,
		contestID, string(doc))
	if err != nil {
		return fmt.Errorf("save contest: %w", err)
	}
	return nil
}
