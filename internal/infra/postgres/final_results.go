package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"offline-contest/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// FinalResultRepository keeps one final result per (contest, user). A repeated
// submission of the same result is accepted without creating a duplicate.
type FinalResultRepository struct {
	pool *pgxpool.Pool
}

func NewFinalResultRepository(pool *pgxpool.Pool) *FinalResultRepository {
	return &FinalResultRepository{pool: pool}
}

// Save stores result and reports whether it was new.
func (r *FinalResultRepository) Save(ctx context.Context, result domain.FinalResult) (bool, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal final result: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO final_results (contest_id, user_id, total_score, penalty_points, data, submitted_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, now())
		 ON CONFLICT (contest_id, user_id) DO NOTHING`,
		result.ContestID, result.UserID, result.TotalScore, result.PenaltyPoints, string(data))
	if err != nil {
		return false, fmt.Errorf("save final result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *FinalResultRepository) Get(ctx context.Context, contestID, userID string) (domain.FinalResult, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data FROM final_results WHERE contest_id=$1 AND user_id=$2`, contestID, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FinalResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FinalResult{}, fmt.Errorf("load final result: %w", err)
	}
	var result domain.FinalResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.FinalResult{}, fmt.Errorf("unmarshal final result: %w", err)
	}
	return result, nil
}

// Leaderboard lists final scores for a contest, best first.
func (r *FinalResultRepository) Leaderboard(ctx context.Context, contestID string) ([]domain.FinalResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT data FROM final_results WHERE contest_id=$1 ORDER BY total_score DESC, submitted_at ASC`, contestID)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.FinalResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan final result: %w", err)
		}
		var result domain.FinalResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal final result: %w", err)
		}
		out = append(out, result)
	}
	return out, rows.Err()
}
