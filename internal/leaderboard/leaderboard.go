package leaderboard

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/Jacobolevy/simon-game-app-sub000/internal/cache"
)

type Entry struct {
	PlayerID string  `json:"player_id"`
	Score    float64 `json:"score"`
	Rank     int64   `json:"rank"`
}

type Service struct {
	rdb *redis.Client
}

func NewService(rdb *redis.Client) *Service {
	return &Service{rdb: rdb}
}

// RecordMatch folds one finished match into both boards: the running total
// and the best single-match score.
func (s *Service) RecordMatch(ctx context.Context, playerID string, score int) error {
	pipe := s.rdb.Pipeline()
	pipe.ZIncrBy(ctx, cache.KeyTotalScoreBoard, float64(score), playerID)
	// ZADD GT keeps the existing member when the new score is lower.
	pipe.ZAddGT(ctx, cache.KeyBestScoreBoard, redis.Z{Score: float64(score), Member: playerID})
	_, err := pipe.Exec(ctx)
	return err
}

// TopTotalScore returns the top N players by lifetime score.
func (s *Service) TopTotalScore(ctx context.Context, count int64) ([]Entry, error) {
	return s.topFromSortedSet(ctx, cache.KeyTotalScoreBoard, count)
}

// TopBestScore returns the top N players by best single-match score.
func (s *Service) TopBestScore(ctx context.Context, count int64) ([]Entry, error) {
	return s.topFromSortedSet(ctx, cache.KeyBestScoreBoard, count)
}

// PlayerRank returns a player's rank and score on the total board.
func (s *Service) PlayerRank(ctx context.Context, playerID string) (*Entry, error) {
	rank, err := s.rdb.ZRevRank(ctx, cache.KeyTotalScoreBoard, playerID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	score, err := s.rdb.ZScore(ctx, cache.KeyTotalScoreBoard, playerID).Result()
	if err != nil {
		return nil, err
	}

	return &Entry{PlayerID: playerID, Score: score, Rank: rank + 1}, nil
}

func (s *Service) topFromSortedSet(ctx context.Context, key string, count int64) ([]Entry, error) {
	results, err := s.rdb.ZRevRangeWithScores(ctx, key, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(results))
	for i, z := range results {
		member, _ := z.Member.(string)
		entries = append(entries, Entry{
			PlayerID: member,
			Score:    z.Score,
			Rank:     int64(i + 1),
		})
	}
	return entries, nil
}
