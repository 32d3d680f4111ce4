package game

import (
	"time"
)

type Phase int

const (
	PhaseBetweenTurns Phase = iota
	PhaseShowing
	PhaseInput
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseBetweenTurns:
		return "between_turns"
	case PhaseShowing:
		return "turn_showing"
	case PhaseInput:
		return "turn_input"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// PlayerScore accumulates one player's results across the match. Score only
// ever increases during play; a wrong answer ends the turn, it never deducts.
type PlayerScore struct {
	Score              int
	SequencesCompleted int
	MaxMultiplier      int
}

// Match is the authoritative state of one turn-based game. All mutation goes
// through the Engine, which serializes transitions per match.
type Match struct {
	ID       string
	RoomCode string

	TurnOrder        []string
	CurrentTurnIndex int
	Phase            Phase

	TurnTotal  time.Duration
	TurnEndsAt time.Time // zero outside an active turn

	// The puzzle the current player must reproduce right now.
	SequenceLength  int
	CurrentSequence []Color
	AttemptIndex    int

	SequencesCompletedThisTurn int
	Multiplier                 int

	Players  map[string]*PlayerScore
	WinnerID string

	CreatedAt time.Time
}

// NewMatch builds the starting state from the roster order. Turn order is
// fixed here and never changes afterwards.
func NewMatch(id, roomCode string, roster []string, turnTotal time.Duration, now time.Time) *Match {
	m := &Match{
		ID:        id,
		RoomCode:  roomCode,
		TurnOrder: append([]string(nil), roster...),
		Phase:     PhaseBetweenTurns,
		TurnTotal: turnTotal,
		Players:   make(map[string]*PlayerScore, len(roster)),
		CreatedAt: now,
	}
	for _, pid := range roster {
		m.Players[pid] = &PlayerScore{}
	}
	return m
}

// CurrentPlayerID is the single player whose turn it is, or "" between
// turns and after the match finishes.
func (m *Match) CurrentPlayerID() string {
	if m.Phase != PhaseShowing && m.Phase != PhaseInput {
		return ""
	}
	if m.CurrentTurnIndex < 0 || m.CurrentTurnIndex >= len(m.TurnOrder) {
		return ""
	}
	return m.TurnOrder[m.CurrentTurnIndex]
}

// ScoreSnapshot copies the per-player totals for broadcast.
func (m *Match) ScoreSnapshot() map[string]int {
	out := make(map[string]int, len(m.Players))
	for pid, ps := range m.Players {
		out[pid] = ps.Score
	}
	return out
}
