package game

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jacobolevy/simon-game-app-sub000/internal/config"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/room"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/server"
)

// Broadcaster is the outbound surface the engine needs from the websocket
// hub. Narrowed to an interface so engine tests run against a recorder.
type Broadcaster interface {
	BroadcastRoom(roomCode string, msg server.WSMessage)
	SendTo(playerID string, msg server.WSMessage)
	JoinRoom(playerID, roomCode string)
	LeaveRoom(playerID string)
}

// EndCallback fires once per finished match, off the transition path.
type EndCallback func(m *Match, names map[string]string)

// ValidTurnDurations is the enumerated set a host may pick from.
var ValidTurnDurations = map[int]bool{30: true, 60: true, 90: true}

// liveMatch pairs a match with the mutex that serializes its transitions.
// Within one match every mutation happens under this lock, so a timeout and
// a near-simultaneous submit resolve strictly first-transition-wins.
type liveMatch struct {
	mu sync.Mutex
	m  *Match
}

// Engine owns every running match and applies all state transitions.
type Engine struct {
	rooms  *room.Manager
	hub    Broadcaster
	timers Scheduler
	timing config.TimingConfig
	logger *slog.Logger
	onEnd  EndCallback

	metrics *server.Metrics
	now     func() time.Time

	mu         sync.Mutex
	matches    map[string]*liveMatch // matchID -> match
	byRoom     map[string]string     // room code -> matchID
	playerRoom map[string]string     // player id -> room code
}

func NewEngine(rooms *room.Manager, hub Broadcaster, timers Scheduler, timing config.TimingConfig, logger *slog.Logger, onEnd EndCallback) *Engine {
	return &Engine{
		rooms:      rooms,
		hub:        hub,
		timers:     timers,
		timing:     timing,
		logger:     logger,
		onEnd:      onEnd,
		now:        time.Now,
		matches:    make(map[string]*liveMatch),
		byRoom:     make(map[string]string),
		playerRoom: make(map[string]string),
	}
}

// SetHub sets the hub reference (used to break circular init).
func (e *Engine) SetHub(hub Broadcaster) {
	e.hub = hub
}

// SetMetrics wires the match counters (optional).
func (e *Engine) SetMetrics(m *server.Metrics) {
	e.metrics = m
}

// ---------------------------------------------------------------------------
// Inbound dispatch (server.MessageHandler)
// ---------------------------------------------------------------------------

func (e *Engine) HandleMessage(ctx context.Context, client *server.Client, msg server.WSMessage) {
	switch msg.Type {
	case "create_room":
		e.createRoom(client)

	case "join_room":
		var payload struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		e.joinRoom(client, payload.Code)

	case "leave_room":
		e.leaveRoom(client.ID)

	case "start_match":
		var payload struct {
			TurnTotalSeconds int `json:"turn_total_seconds"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		e.StartMatch(client.RoomCode, client.ID, payload.TurnTotalSeconds)

	case "submit_sequence":
		var payload struct {
			Sequence []string `json:"sequence"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		seq, ok := ParseColors(payload.Sequence)
		if !ok {
			// Malformed payloads get the same silent treatment as any
			// other protocol violation.
			return
		}
		e.Submit(client.RoomCode, client.ID, seq)

	case "play_again":
		e.playAgain(client.RoomCode, client.ID)

	case "room_state":
		e.sendSnapshot(client.ID, client.RoomCode)
	}
}

// HandleConnect runs after a transport registers. A player returning inside
// the grace window is restored instead of removed.
func (e *Engine) HandleConnect(playerID string) {
	e.mu.Lock()
	code, ok := e.playerRoom[playerID]
	e.mu.Unlock()
	if !ok {
		return
	}
	r, found := e.rooms.Get(code)
	if !found {
		return
	}

	e.timers.Cancel(TimerKey{Scope: code, PlayerID: playerID, Kind: TimerGrace})

	if !r.MarkConnected(playerID) {
		return
	}
	e.hub.JoinRoom(playerID, code)
	e.broadcast(code, "player_reconnected", map[string]any{"player_id": playerID})
	e.sendSnapshot(playerID, code)
}

// HandleDisconnect marks the player disconnected and arms the grace timer.
// Match state is not touched here; only the grace expiry mutates anything.
func (e *Engine) HandleDisconnect(playerID string) {
	e.mu.Lock()
	code, ok := e.playerRoom[playerID]
	e.mu.Unlock()
	if !ok {
		return
	}
	r, found := e.rooms.Get(code)
	if !found || !r.MarkDisconnected(playerID) {
		return
	}
	e.broadcast(code, "player_disconnected", map[string]any{"player_id": playerID})

	// Grace timers scope to the room, not the match: the removal contract
	// must hold even when the match finishes during the grace window, and
	// match teardown sweeps everything keyed to the match id.
	e.timers.Schedule(TimerKey{Scope: code, PlayerID: playerID, Kind: TimerGrace}, e.timing.DisconnectGrace, func() {
		e.removeIfStillGone(code, playerID)
	})
}

// ---------------------------------------------------------------------------
// Room lifecycle
// ---------------------------------------------------------------------------

func (e *Engine) createRoom(client *server.Client) {
	r, err := e.rooms.Create(client.ID)
	if err != nil {
		e.logger.Error("create room", "err", err)
		e.sendError(client.ID, "could not create room")
		return
	}
	r.AddPlayer(client.ID, client.Name)
	e.trackPlayer(client.ID, r.Code)
	e.hub.JoinRoom(client.ID, r.Code)
	client.RoomCode = r.Code
	e.broadcastRoster(r)
	e.logger.Info("room created", "code", r.Code, "host", client.ID)
}

func (e *Engine) joinRoom(client *server.Client, code string) {
	r, ok := e.rooms.Get(code)
	if !ok {
		e.sendError(client.ID, "room not found")
		return
	}
	if !r.AddPlayer(client.ID, client.Name) {
		e.sendError(client.ID, "room not joinable")
		return
	}
	e.trackPlayer(client.ID, r.Code)
	e.hub.JoinRoom(client.ID, r.Code)
	client.RoomCode = r.Code
	e.broadcastRoster(r)
}

func (e *Engine) leaveRoom(playerID string) {
	e.mu.Lock()
	code, ok := e.playerRoom[playerID]
	e.mu.Unlock()
	if !ok {
		return
	}
	e.removePlayer(code, playerID)
}

// playAgain resets a finished room back to waiting. Host only.
func (e *Engine) playAgain(code, playerID string) {
	r, ok := e.rooms.Get(code)
	if !ok || !r.IsHost(playerID) {
		return
	}
	if !r.Reset() {
		return
	}
	e.dropMatchForRoom(code)
	e.broadcastRoster(r)
}

// removeIfStillGone fires when a disconnect grace period expires.
func (e *Engine) removeIfStillGone(code, playerID string) {
	r, ok := e.rooms.Get(code)
	if !ok || r.IsConnected(playerID) {
		return
	}
	e.removePlayer(code, playerID)
}

// removePlayer drops a player from the roster and, when it was the active
// player's turn, ends that turn the same way a timeout would.
func (e *Engine) removePlayer(code, playerID string) {
	r, ok := e.rooms.Get(code)
	if !ok {
		return
	}
	if !r.RemovePlayer(playerID) {
		return
	}
	e.mu.Lock()
	delete(e.playerRoom, playerID)
	e.mu.Unlock()
	e.hub.LeaveRoom(playerID)
	e.timers.Cancel(TimerKey{Scope: code, PlayerID: playerID, Kind: TimerGrace})

	if r.PlayerCount() == 0 {
		e.teardownRoom(code)
		return
	}
	e.broadcastRoster(r)

	if lm, live := e.matchForRoom(code); live {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if lm.m.CurrentPlayerID() == playerID {
			e.endTurnLocked(lm, "time")
		}
	}
}

// teardownRoom closes an emptied room and sweeps everything keyed to it.
func (e *Engine) teardownRoom(code string) {
	e.timers.CancelScope(code)
	e.dropMatchForRoom(code)
	e.rooms.Remove(code)
	e.logger.Info("room closed", "code", code)
}

// ---------------------------------------------------------------------------
// Match transitions
// ---------------------------------------------------------------------------

// StartMatch freezes the roster into a turn order and begins the match.
func (e *Engine) StartMatch(code, playerID string, turnTotalSeconds int) {
	r, ok := e.rooms.Get(code)
	if !ok {
		e.sendError(playerID, "room not found")
		return
	}
	if !r.IsHost(playerID) {
		e.sendError(playerID, "not authorized")
		return
	}
	if !r.CanStart() || !ValidTurnDurations[turnTotalSeconds] {
		return
	}

	m := NewMatch(uuid.New().String(), code, r.Roster(), time.Duration(turnTotalSeconds)*time.Second, e.now())
	lm := &liveMatch{m: m}

	e.mu.Lock()
	if _, exists := e.byRoom[code]; exists {
		e.mu.Unlock()
		return
	}
	e.matches[m.ID] = lm
	e.byRoom[code] = m.ID
	e.mu.Unlock()

	r.SetState(room.StateActive)
	if e.metrics != nil {
		e.metrics.IncrMatches()
	}
	e.logger.Info("match started", "room", code, "match", m.ID,
		"players", len(m.TurnOrder), "turn_seconds", turnTotalSeconds)

	e.broadcast(code, "match_start", map[string]any{
		"match_id":           m.ID,
		"turn_order":         m.TurnOrder,
		"turn_total_seconds": turnTotalSeconds,
	})

	// Brief pause so clients can show the order before the first turn.
	e.timers.Schedule(TimerKey{Scope: m.ID, Kind: TimerAdvance}, e.timing.TurnCooldown, func() {
		e.startTurn(m.ID)
	})
}

func (e *Engine) startTurn(matchID string) {
	lm, ok := e.match(matchID)
	if !ok {
		return
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.m.Phase != PhaseBetweenTurns {
		return
	}
	e.startTurnLocked(lm)
}

// startTurnLocked opens the turn at the current cursor, skipping over
// players removed from the roster while they waited.
func (e *Engine) startTurnLocked(lm *liveMatch) {
	m := lm.m
	r, ok := e.rooms.Get(m.RoomCode)
	if !ok {
		return
	}
	for m.CurrentTurnIndex < len(m.TurnOrder) && !r.Has(m.TurnOrder[m.CurrentTurnIndex]) {
		m.CurrentTurnIndex++
	}
	if m.CurrentTurnIndex >= len(m.TurnOrder) {
		e.finishMatchLocked(lm)
		return
	}

	now := e.now()
	playerID := m.TurnOrder[m.CurrentTurnIndex]
	m.TurnEndsAt = now.Add(m.TurnTotal)
	m.SequenceLength = InitialSequenceLength
	m.AttemptIndex = 0
	m.SequencesCompletedThisTurn = 0
	m.Multiplier = 1
	m.CurrentSequence = GenerateSequence(m.ID, playerID, m.AttemptIndex, m.SequenceLength)
	m.Phase = PhaseShowing

	e.broadcast(m.RoomCode, "turn_start", map[string]any{
		"current_player_id":  playerID,
		"turn_ends_at":       m.TurnEndsAt.UnixMilli(),
		"turn_total_seconds": int(m.TurnTotal.Seconds()),
		"scores":             m.ScoreSnapshot(),
	})
	e.broadcastShowSequence(m, playerID)

	// One hard deadline for the whole turn; reveal windows rearm per attempt
	// but this timer is only armed here and only cancelled by turn end.
	e.timers.Schedule(TimerKey{Scope: m.ID, Kind: TimerTurn}, m.TurnTotal, func() {
		e.HandleTimeout(m.ID)
	})
	e.armRevealTimer(m)
}

// RevealComplete moves turn_showing to turn_input once playback time has
// passed. Purely a phase change.
func (e *Engine) RevealComplete(matchID string) {
	lm, ok := e.match(matchID)
	if !ok {
		return
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	m := lm.m
	if m.Phase != PhaseShowing {
		return
	}
	m.Phase = PhaseInput
	e.broadcast(m.RoomCode, "input_phase", map[string]any{
		"current_player_id": m.CurrentPlayerID(),
		"turn_ends_at":      m.TurnEndsAt.UnixMilli(),
	})
}

// Submit applies one answer from the active player. Anything that is not
// the active player submitting during turn_input is silently ignored: a
// late submit racing a timeout must look identical to a hostile retry.
func (e *Engine) Submit(code, playerID string, submitted []Color) {
	matchID, live := e.matchIDForRoom(code)
	if !live {
		return
	}
	lm, ok := e.match(matchID)
	if !ok {
		return
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	m := lm.m
	if m.Phase != PhaseInput || m.CurrentPlayerID() != playerID {
		return
	}
	if e.metrics != nil {
		e.metrics.IncrSubmissions()
	}

	if !SequencesEqual(submitted, m.CurrentSequence) {
		e.endTurnLocked(lm, "fail")
		return
	}

	secondsRemaining := m.TurnEndsAt.Sub(e.now()).Seconds()
	if secondsRemaining < 0 {
		secondsRemaining = 0
	}
	speed, mult, earned := ScoreSubmission(secondsRemaining, m.TurnTotal.Seconds(), m.SequencesCompletedThisTurn)

	ps := m.Players[playerID]
	ps.Score += earned
	ps.SequencesCompleted++
	if mult > ps.MaxMultiplier {
		ps.MaxMultiplier = mult
	}
	m.SequencesCompletedThisTurn++
	m.Multiplier = StreakMultiplier(m.SequencesCompletedThisTurn)
	m.SequenceLength += SequenceLengthIncrement
	m.AttemptIndex++
	m.CurrentSequence = GenerateSequence(m.ID, playerID, m.AttemptIndex, m.SequenceLength)

	e.broadcast(m.RoomCode, "sequence_scored", map[string]any{
		"player_id":            playerID,
		"earned":               earned,
		"speed_points":         speed,
		"multiplier":           mult,
		"new_score":            ps.Score,
		"next_sequence_length": m.SequenceLength,
	})

	if secondsRemaining <= 0 {
		e.endTurnLocked(lm, "time")
		return
	}

	m.Phase = PhaseShowing
	e.broadcastShowSequence(m, playerID)
	e.armRevealTimer(m)
}

// HandleTimeout fires at the hard turn deadline. If a submission already
// resolved the turn, the phase guard makes this a no-op.
func (e *Engine) HandleTimeout(matchID string) {
	lm, ok := e.match(matchID)
	if !ok {
		return
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	m := lm.m
	if m.Phase != PhaseShowing && m.Phase != PhaseInput {
		return
	}
	e.endTurnLocked(lm, "time")
}

// endTurnLocked concludes the active player's turn and schedules the
// advance after the cool-down. Caller holds lm.mu.
func (e *Engine) endTurnLocked(lm *liveMatch, reason string) {
	m := lm.m
	playerID := m.TurnOrder[m.CurrentTurnIndex]
	ps := m.Players[playerID]

	e.timers.Cancel(TimerKey{Scope: m.ID, Kind: TimerTurn})
	e.timers.Cancel(TimerKey{Scope: m.ID, Kind: TimerReveal})

	m.Phase = PhaseBetweenTurns
	m.CurrentSequence = nil
	m.TurnEndsAt = time.Time{}

	e.broadcast(m.RoomCode, "turn_end", map[string]any{
		"player_id":           playerID,
		"reason":              reason,
		"final_score":         ps.Score,
		"sequences_completed": ps.SequencesCompleted,
		"max_multiplier":      ps.MaxMultiplier,
	})

	e.timers.Schedule(TimerKey{Scope: m.ID, Kind: TimerAdvance}, e.timing.TurnCooldown, func() {
		e.advanceTurn(m.ID)
	})
}

// advanceTurn moves the cursor to the next player or finishes the match.
func (e *Engine) advanceTurn(matchID string) {
	lm, ok := e.match(matchID)
	if !ok {
		return
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	m := lm.m
	if m.Phase != PhaseBetweenTurns {
		return
	}
	m.CurrentTurnIndex++
	e.startTurnLocked(lm)
}

// finishMatchLocked resolves the winner and seals the match. Winner choice
// is total and deterministic: highest score, ties to the smaller player id.
func (e *Engine) finishMatchLocked(lm *liveMatch) {
	m := lm.m
	if m.Phase == PhaseFinished {
		return
	}
	m.Phase = PhaseFinished
	m.TurnEndsAt = time.Time{}
	m.CurrentSequence = nil

	standings := append([]string(nil), m.TurnOrder...)
	sort.SliceStable(standings, func(i, j int) bool {
		si, sj := m.Players[standings[i]].Score, m.Players[standings[j]].Score
		if si != sj {
			return si > sj
		}
		return standings[i] < standings[j]
	})
	if len(standings) > 0 {
		m.WinnerID = standings[0]
	}

	names := make(map[string]string, len(m.TurnOrder))
	if r, ok := e.rooms.Get(m.RoomCode); ok {
		for _, pid := range m.TurnOrder {
			names[pid] = r.DisplayName(pid)
		}
		r.SetState(room.StateFinished)
	}

	type standing struct {
		Rank     int    `json:"rank"`
		PlayerID string `json:"player_id"`
		Name     string `json:"name"`
		Score    int    `json:"score"`
	}
	table := make([]standing, len(standings))
	for i, pid := range standings {
		table[i] = standing{Rank: i + 1, PlayerID: pid, Name: names[pid], Score: m.Players[pid].Score}
	}
	winner := map[string]any{}
	if m.WinnerID != "" {
		winner = map[string]any{
			"player_id": m.WinnerID,
			"name":      names[m.WinnerID],
			"score":     m.Players[m.WinnerID].Score,
		}
	}

	e.timers.CancelScope(m.ID)
	e.broadcast(m.RoomCode, "match_finished", map[string]any{
		"winner":    winner,
		"standings": table,
	})
	if e.metrics != nil {
		e.metrics.DecrMatches()
		e.metrics.IncrMatchesPlayed()
	}
	e.logger.Info("match finished", "room", m.RoomCode, "match", m.ID, "winner", m.WinnerID)

	if e.onEnd != nil {
		go e.onEnd(m, names)
	}

	// The match lingers so late snapshot requests still resolve, then gets
	// collected unless "play again" already dropped it.
	e.timers.Schedule(TimerKey{Scope: m.ID, Kind: TimerCleanup}, e.timing.MatchLinger, func() {
		e.dropMatch(m.ID)
	})
}

// ---------------------------------------------------------------------------
// Lookups and helpers
// ---------------------------------------------------------------------------

func (e *Engine) match(matchID string) (*liveMatch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lm, ok := e.matches[matchID]
	return lm, ok
}

func (e *Engine) matchForRoom(code string) (*liveMatch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	matchID, ok := e.byRoom[code]
	if !ok {
		return nil, false
	}
	lm, ok := e.matches[matchID]
	return lm, ok
}

func (e *Engine) matchIDForRoom(code string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	matchID, ok := e.byRoom[code]
	return matchID, ok
}

func (e *Engine) trackPlayer(playerID, code string) {
	e.mu.Lock()
	e.playerRoom[playerID] = code
	e.mu.Unlock()
}

func (e *Engine) dropMatch(matchID string) {
	e.timers.CancelScope(matchID)
	e.mu.Lock()
	if lm, ok := e.matches[matchID]; ok {
		delete(e.matches, matchID)
		if e.byRoom[lm.m.RoomCode] == matchID {
			delete(e.byRoom, lm.m.RoomCode)
		}
	}
	e.mu.Unlock()
}

func (e *Engine) dropMatchForRoom(code string) {
	if matchID, ok := e.matchIDForRoom(code); ok {
		e.dropMatch(matchID)
	}
}

func unixMillisOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (e *Engine) armRevealTimer(m *Match) {
	d := e.timing.RevealBase + time.Duration(len(m.CurrentSequence))*e.timing.RevealPerColor
	e.timers.Schedule(TimerKey{Scope: m.ID, Kind: TimerReveal}, d, func() {
		e.RevealComplete(m.ID)
	})
}

func (e *Engine) broadcastShowSequence(m *Match, playerID string) {
	e.broadcast(m.RoomCode, "show_sequence", map[string]any{
		"current_player_id": playerID,
		"sequence":          ColorNames(m.CurrentSequence),
		"sequence_length":   m.SequenceLength,
	})
}

func (e *Engine) broadcast(code, msgType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("marshal broadcast", "type", msgType, "err", err)
		return
	}
	e.hub.BroadcastRoom(code, server.WSMessage{Type: msgType, Payload: data})
}

func (e *Engine) sendTo(playerID, msgType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("marshal send", "type", msgType, "err", err)
		return
	}
	e.hub.SendTo(playerID, server.WSMessage{Type: msgType, Payload: data})
}

func (e *Engine) sendError(playerID, message string) {
	e.sendTo(playerID, "error", map[string]any{"message": message})
}

func (e *Engine) broadcastRoster(r *room.Room) {
	type entry struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Connected bool   `json:"connected"`
		Host      bool   `json:"host"`
	}
	roster := r.RosterSnapshot()
	out := make([]entry, len(roster))
	for i, p := range roster {
		out[i] = entry{ID: p.ID, Name: p.DisplayName, Connected: p.Connected, Host: p.ID == r.HostID}
	}
	e.broadcast(r.Code, "roster_update", map[string]any{
		"code":   r.Code,
		"state":  r.GetState().String(),
		"roster": out,
	})
}

// sendSnapshot resyncs one client with the full observable state. The
// current sequence is included: it is deterministic, so a reconnecting
// player sees exactly what everyone else was shown.
func (e *Engine) sendSnapshot(playerID, code string) {
	r, ok := e.rooms.Get(code)
	if !ok {
		return
	}
	payload := map[string]any{
		"code":  r.Code,
		"state": r.GetState().String(),
	}
	if lm, live := e.matchForRoom(code); live {
		lm.mu.Lock()
		m := lm.m
		payload["match"] = map[string]any{
			"match_id":           m.ID,
			"phase":              m.Phase.String(),
			"turn_order":         m.TurnOrder,
			"current_player_id":  m.CurrentPlayerID(),
			"turn_ends_at":       unixMillisOrZero(m.TurnEndsAt),
			"turn_total_seconds": int(m.TurnTotal.Seconds()),
			"sequence":           ColorNames(m.CurrentSequence),
			"sequence_length":    m.SequenceLength,
			"scores":             m.ScoreSnapshot(),
			"winner_id":          m.WinnerID,
		}
		lm.mu.Unlock()
	}
	e.sendTo(playerID, "room_snapshot", payload)
}
