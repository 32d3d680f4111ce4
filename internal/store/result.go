package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MatchResult is one participant's outcome in one finished match.
type MatchResult struct {
	ID                 int64     `json:"id"`
	MatchID            string    `json:"match_id"`
	PlayerID           string    `json:"player_id"`
	Score              int       `json:"score"`
	SequencesCompleted int       `json:"sequences_completed"`
	MaxMultiplier      int       `json:"max_multiplier"`
	Placement          int       `json:"placement"`
	CreatedAt          time.Time `json:"created_at"`
}

type ResultStore struct {
	db *pgxpool.Pool
}

func NewResultStore(db *pgxpool.Pool) *ResultStore {
	return &ResultStore{db: db}
}

func (s *ResultStore) Record(ctx context.Context, r MatchResult) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO match_results (match_id, player_id, score, sequences_completed, max_multiplier, placement)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.MatchID, r.PlayerID, r.Score, r.SequencesCompleted, r.MaxMultiplier, r.Placement)
	return err
}

func (s *ResultStore) PlayerHistory(ctx context.Context, playerID string, limit int) ([]MatchResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, match_id, player_id, score, sequences_completed, max_multiplier, placement, created_at
		FROM match_results WHERE player_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, playerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchResult
	for rows.Next() {
		var r MatchResult
		if err := rows.Scan(&r.ID, &r.MatchID, &r.PlayerID, &r.Score,
			&r.SequencesCompleted, &r.MaxMultiplier, &r.Placement, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
