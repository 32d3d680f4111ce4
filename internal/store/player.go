package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Player struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	GamesPlayed int       `json:"games_played"`
	GamesWon    int       `json:"games_won"`
	TotalScore  int64     `json:"total_score"`
	BestScore   int       `json:"best_score"`
	CreatedAt   time.Time `json:"created_at"`
}

type PlayerStore struct {
	db *pgxpool.Pool
}

func NewPlayerStore(db *pgxpool.Pool) *PlayerStore {
	return &PlayerStore{db: db}
}

func (s *PlayerStore) Upsert(ctx context.Context, id, displayName string) (*Player, error) {
	p := &Player{}
	err := s.db.QueryRow(ctx, `
		INSERT INTO players (id, display_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, games_played, games_won, total_score, best_score, created_at
	`, id, displayName).Scan(
		&p.ID, &p.DisplayName, &p.GamesPlayed, &p.GamesWon, &p.TotalScore, &p.BestScore, &p.CreatedAt,
	)
	return p, err
}

func (s *PlayerStore) Get(ctx context.Context, id string) (*Player, error) {
	p := &Player{}
	err := s.db.QueryRow(ctx, `
		SELECT id, display_name, games_played, games_won, total_score, best_score, created_at
		FROM players WHERE id = $1
	`, id).Scan(
		&p.ID, &p.DisplayName, &p.GamesPlayed, &p.GamesWon, &p.TotalScore, &p.BestScore, &p.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// RecordResult folds one finished match into the player's aggregates.
func (s *PlayerStore) RecordResult(ctx context.Context, id string, score int, won bool) error {
	wonDelta := 0
	if won {
		wonDelta = 1
	}
	_, err := s.db.Exec(ctx, `
		UPDATE players
		SET games_played = games_played + 1,
		    games_won = games_won + $2,
		    total_score = total_score + $3,
		    best_score = GREATEST(best_score, $3)
		WHERE id = $1
	`, id, wonDelta, score)
	return err
}
