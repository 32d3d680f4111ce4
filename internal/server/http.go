package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Jacobolevy/simon-game-app-sub000/internal/auth"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/config"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/leaderboard"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/store"
)

const maxDisplayNameLen = 24

type Server struct {
	cfg         *config.Config
	db          *pgxpool.Pool
	rdb         *redis.Client
	hub         *Hub
	tokens      *auth.Service
	logger      *slog.Logger
	mux         *http.ServeMux
	players     *store.PlayerStore
	results     *store.ResultStore
	leaderboard *leaderboard.Service
	metrics     *Metrics
}

func New(cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client, hub *Hub, tokens *auth.Service, logger *slog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		db:          db,
		rdb:         rdb,
		hub:         hub,
		tokens:      tokens,
		logger:      logger,
		mux:         http.NewServeMux(),
		players:     store.NewPlayerStore(db),
		results:     store.NewResultStore(db),
		leaderboard: leaderboard.NewService(rdb),
		metrics:     NewMetrics(),
	}
	s.routes()
	return s
}

// Metrics exposes the counters so the hub and engine can share them.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.metrics.ServeHTTP)
	s.mux.Handle("GET /ws", s.hub)

	s.mux.HandleFunc("POST /api/auth/guest", s.handleGuestAuth)

	s.mux.HandleFunc("GET /api/player/{id}", s.handleGetPlayer)
	s.mux.HandleFunc("GET /api/player/{id}/history", s.handlePlayerHistory)

	s.mux.HandleFunc("GET /api/leaderboard/total", s.handleTotalLeaderboard)
	s.mux.HandleFunc("GET /api/leaderboard/best", s.handleBestLeaderboard)
	s.mux.HandleFunc("GET /api/leaderboard/rank/{playerID}", s.handlePlayerRank)

	// Static files for the web client
	s.mux.Handle("GET /", http.FileServer(http.Dir("web")))
}

// handleGuestAuth mints a fresh player identity and its signed token.
func (s *Server) handleGuestAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		http.Error(w, "display_name is required", http.StatusBadRequest)
		return
	}
	if len(name) > maxDisplayNameLen {
		name = name[:maxDisplayNameLen]
	}

	playerID := uuid.New().String()
	if _, err := s.players.Upsert(r.Context(), playerID, name); err != nil {
		s.logger.Error("upsert player", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	token, err := s.tokens.IssueToken(playerID, name)
	if err != nil {
		s.logger.Error("issue token", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{
		"player_id":    playerID,
		"display_name": name,
		"token":        token,
	})
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.players.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if player == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, player)
}

func (s *Server) handlePlayerHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	results, err := s.results.PlayerHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, results)
}

func (s *Server) handleTotalLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.leaderboard.TopTotalScore(r.Context(), countParam(r))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleBestLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.leaderboard.TopBestScore(r.Context(), countParam(r))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handlePlayerRank(w http.ResponseWriter, r *http.Request) {
	entry, err := s.leaderboard.PlayerRank(r.Context(), r.PathValue("playerID"))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, "not ranked", http.StatusNotFound)
		return
	}
	writeJSON(w, entry)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}

	if err := s.db.Ping(ctx); err != nil {
		status["db"] = "down"
		status["status"] = "degraded"
	} else {
		status["db"] = "ok"
	}

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		status["redis"] = "down"
		status["status"] = "degraded"
	} else {
		status["redis"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if status["status"] != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("write json", "err", err)
	}
}

func (s *Server) Handler() http.Handler {
	limiter := NewRateLimiter(10, 20)
	return ChainMiddleware(s.mux,
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(limiter, s.logger),
	)
}

func countParam(r *http.Request) int64 {
	count := int64(50)
	if c := r.URL.Query().Get("count"); c != "" {
		if n, err := strconv.ParseInt(c, 10, 64); err == nil && n > 0 && n <= 100 {
			count = n
		}
	}
	return count
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
}
