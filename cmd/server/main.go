package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/Jacobolevy/simon-game-app-sub000/internal/auth"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/cache"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/config"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/game"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/leaderboard"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/room"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/server"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect db", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	playerStore := store.NewPlayerStore(db)
	resultStore := store.NewResultStore(db)
	boards := leaderboard.NewService(rdb)

	rooms := room.NewManager()
	timers := game.NewRegistry()
	defer timers.Stop()
	tokens := auth.NewService(cfg.JWTSecret)

	// End-of-match callback: persist results and update the boards.
	onEnd := func(m *game.Match, names map[string]string) {
		endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer endCancel()

		// Placement mirrors the broadcast standings: score desc, id asc.
		ordered := append([]string(nil), m.TurnOrder...)
		sort.Slice(ordered, func(i, j int) bool {
			si, sj := m.Players[ordered[i]].Score, m.Players[ordered[j]].Score
			if si != sj {
				return si > sj
			}
			return ordered[i] < ordered[j]
		})
		placements := make(map[string]int, len(ordered))
		for i, pid := range ordered {
			placements[pid] = i + 1
		}

		for pid, ps := range m.Players {
			if err := resultStore.Record(endCtx, store.MatchResult{
				MatchID:            m.ID,
				PlayerID:           pid,
				Score:              ps.Score,
				SequencesCompleted: ps.SequencesCompleted,
				MaxMultiplier:      ps.MaxMultiplier,
				Placement:          placements[pid],
			}); err != nil {
				logger.Error("record result", "match", m.ID, "player", pid, "err", err)
			}
			if err := playerStore.RecordResult(endCtx, pid, ps.Score, pid == m.WinnerID); err != nil {
				logger.Error("update player aggregates", "player", pid, "err", err)
			}
			if err := boards.RecordMatch(endCtx, pid, ps.Score); err != nil {
				logger.Error("update leaderboard", "player", pid, "err", err)
			}
		}

		logger.Info("match persisted",
			"match", m.ID,
			"room", m.RoomCode,
			"winner", m.WinnerID,
			"players", len(m.Players),
		)
	}

	// Wire engine and hub (circular dependency resolved via SetHub)
	engine := game.NewEngine(rooms, nil, timers, cfg.Timing, logger, onEnd)
	hub := server.NewHub(tokens, cfg.WSReadLimit, engine, logger)
	engine.SetHub(hub)

	srv := server.New(cfg, db, rdb, hub, tokens, logger)
	hub.SetMetrics(srv.Metrics())
	engine.SetMetrics(srv.Metrics())

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}
