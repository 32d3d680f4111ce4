package game

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Jacobolevy/simon-game-app-sub000/internal/config"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/room"
	"github.com/Jacobolevy/simon-game-app-sub000/internal/server"
)

var testTiming = config.TimingConfig{
	RevealBase:      500 * time.Millisecond,
	RevealPerColor:  500 * time.Millisecond,
	TurnCooldown:    2 * time.Second,
	DisconnectGrace: 10 * time.Second,
	MatchLinger:     30 * time.Second,
}

// fakeClock lets tests move match time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// manualScheduler implements Scheduler but only fires when the test says so.
type manualScheduler struct {
	mu        sync.Mutex
	scheduled map[TimerKey]func()
	durations map[TimerKey]time.Duration
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{
		scheduled: make(map[TimerKey]func()),
		durations: make(map[TimerKey]time.Duration),
	}
}

func (s *manualScheduler) Schedule(key TimerKey, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[key] = fn
	s.durations[key] = d
}

func (s *manualScheduler) Cancel(key TimerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, key)
	delete(s.durations, key)
}

func (s *manualScheduler) CancelScope(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.scheduled {
		if key.Scope == scope {
			delete(s.scheduled, key)
			delete(s.durations, key)
		}
	}
}

func (s *manualScheduler) has(key TimerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scheduled[key]
	return ok
}

func (s *manualScheduler) pendingIn(scope string) []TimerKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TimerKey
	for key := range s.scheduled {
		if key.Scope == scope {
			out = append(out, key)
		}
	}
	return out
}

func (s *manualScheduler) fire(t *testing.T, key TimerKey) {
	t.Helper()
	s.mu.Lock()
	fn, ok := s.scheduled[key]
	delete(s.scheduled, key)
	delete(s.durations, key)
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no timer scheduled for %+v", key)
	}
	fn()
}

// recordingHub captures everything the engine broadcasts.
type recordingHub struct {
	mu         sync.Mutex
	broadcasts []server.WSMessage
	direct     map[string][]server.WSMessage
	joined     map[string]string
}

func newRecordingHub() *recordingHub {
	return &recordingHub{
		direct: make(map[string][]server.WSMessage),
		joined: make(map[string]string),
	}
}

func (h *recordingHub) BroadcastRoom(roomCode string, msg server.WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcasts = append(h.broadcasts, msg)
}

func (h *recordingHub) SendTo(playerID string, msg server.WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.direct[playerID] = append(h.direct[playerID], msg)
}

func (h *recordingHub) JoinRoom(playerID, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joined[playerID] = roomCode
}

func (h *recordingHub) LeaveRoom(playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.joined, playerID)
}

func (h *recordingHub) count(msgType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.broadcasts {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func (h *recordingHub) last(t *testing.T, msgType string, into any) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.broadcasts) - 1; i >= 0; i-- {
		if h.broadcasts[i].Type == msgType {
			if err := json.Unmarshal(h.broadcasts[i].Payload, into); err != nil {
				t.Fatalf("decode %s: %v", msgType, err)
			}
			return
		}
	}
	t.Fatalf("no %s broadcast recorded", msgType)
}

func (h *recordingHub) lastDirect(t *testing.T, playerID, msgType string, into any) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.direct[playerID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == msgType {
			if err := json.Unmarshal(msgs[i].Payload, into); err != nil {
				t.Fatalf("decode %s: %v", msgType, err)
			}
			return
		}
	}
	t.Fatalf("no %s sent to %s", msgType, playerID)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, playerIDs ...string) (*Engine, *recordingHub, *manualScheduler, *fakeClock, string) {
	t.Helper()
	rooms := room.NewManager()
	r, err := rooms.Create(playerIDs[0])
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	hub := newRecordingHub()
	sched := newManualScheduler()
	clock := newFakeClock()
	e := NewEngine(rooms, hub, sched, testTiming, discardLogger(), nil)
	e.now = clock.Now
	for _, pid := range playerIDs {
		if !r.AddPlayer(pid, "Player "+pid) {
			t.Fatalf("add player %s", pid)
		}
		e.trackPlayer(pid, r.Code)
	}
	return e, hub, sched, clock, r.Code
}

// beginFirstTurn fires the post-match_start pause so the first turn opens.
func beginFirstTurn(t *testing.T, e *Engine, sched *manualScheduler, code string) string {
	t.Helper()
	matchID, ok := e.matchIDForRoom(code)
	if !ok {
		t.Fatal("no live match for room")
	}
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerAdvance})
	return matchID
}

func matchState(t *testing.T, e *Engine, code string) *Match {
	t.Helper()
	lm, ok := e.matchForRoom(code)
	if !ok {
		t.Fatal("no live match for room")
	}
	return lm.m
}

func activeSequence(t *testing.T, e *Engine, code string) []Color {
	t.Helper()
	return append([]Color(nil), matchState(t, e, code).CurrentSequence...)
}

// submitCurrent answers correctly on behalf of the active player.
func submitCurrent(t *testing.T, e *Engine, sched *manualScheduler, code, matchID, playerID string) {
	t.Helper()
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerReveal})
	e.Submit(code, playerID, activeSequence(t, e, code))
}

// ---------------------------------------------------------------------------
// Match start and turn opening
// ---------------------------------------------------------------------------

func TestStartMatchOpensFirstTurn(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a", "b")

	e.StartMatch(code, "a", 60)
	if hub.count("match_start") != 1 {
		t.Fatal("match_start not broadcast")
	}

	var start struct {
		TurnOrder        []string `json:"turn_order"`
		TurnTotalSeconds int      `json:"turn_total_seconds"`
	}
	hub.last(t, "match_start", &start)
	if len(start.TurnOrder) != 2 || start.TurnOrder[0] != "a" || start.TurnOrder[1] != "b" {
		t.Fatalf("turn order = %v, want roster order [a b]", start.TurnOrder)
	}
	if start.TurnTotalSeconds != 60 {
		t.Fatalf("turn_total_seconds = %d, want 60", start.TurnTotalSeconds)
	}

	matchID := beginFirstTurn(t, e, sched, code)
	m := matchState(t, e, code)
	if m.Phase != PhaseShowing {
		t.Fatalf("phase = %v, want turn_showing", m.Phase)
	}
	if m.CurrentPlayerID() != "a" {
		t.Fatalf("current player = %q, want a", m.CurrentPlayerID())
	}
	if len(m.CurrentSequence) != InitialSequenceLength {
		t.Fatalf("sequence length = %d, want %d", len(m.CurrentSequence), InitialSequenceLength)
	}
	if !sched.has(TimerKey{Scope: matchID, Kind: TimerTurn}) {
		t.Fatal("hard turn timer not armed")
	}
	if !sched.has(TimerKey{Scope: matchID, Kind: TimerReveal}) {
		t.Fatal("reveal timer not armed")
	}
	if hub.count("turn_start") != 1 || hub.count("show_sequence") != 1 {
		t.Fatal("turn_start/show_sequence not broadcast")
	}
}

func TestStartMatchRejectsNonHostAndBadDuration(t *testing.T) {
	e, hub, _, _, code := newTestEngine(t, "a", "b")

	e.StartMatch(code, "b", 60) // not the host
	if _, live := e.matchIDForRoom(code); live {
		t.Fatal("non-host started a match")
	}
	if len(hub.direct["b"]) == 0 {
		t.Fatal("expected error ack for non-host")
	}

	e.StartMatch(code, "a", 45) // not in {30,60,90}
	if _, live := e.matchIDForRoom(code); live {
		t.Fatal("invalid duration accepted")
	}
}

func TestStartMatchIsIdempotentPerRoom(t *testing.T) {
	e, hub, _, _, code := newTestEngine(t, "a")
	e.StartMatch(code, "a", 30)
	first, _ := e.matchIDForRoom(code)
	e.StartMatch(code, "a", 30)
	second, _ := e.matchIDForRoom(code)
	if first != second {
		t.Fatal("second start replaced the live match")
	}
	if hub.count("match_start") != 1 {
		t.Fatalf("match_start broadcast %d times", hub.count("match_start"))
	}
}

// The deterministic generator means the broadcast sequence can always be
// recomputed from (matchID, playerID, attempt).
func TestShownSequenceMatchesGenerator(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a")
	e.StartMatch(code, "a", 60)
	matchID := beginFirstTurn(t, e, sched, code)

	var shown struct {
		Sequence []string `json:"sequence"`
	}
	hub.last(t, "show_sequence", &shown)
	want := ColorNames(GenerateSequence(matchID, "a", 0, InitialSequenceLength))
	if len(shown.Sequence) != len(want) {
		t.Fatalf("sequence = %v, want %v", shown.Sequence, want)
	}
	for i := range want {
		if shown.Sequence[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", shown.Sequence, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Reveal and input phases
// ---------------------------------------------------------------------------

func TestRevealCompleteOpensInput(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a")
	e.StartMatch(code, "a", 60)
	matchID := beginFirstTurn(t, e, sched, code)

	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerReveal})
	if m := matchState(t, e, code); m.Phase != PhaseInput {
		t.Fatalf("phase = %v, want turn_input", m.Phase)
	}
	if hub.count("input_phase") != 1 {
		t.Fatal("input_phase not broadcast")
	}
}

func TestSubmitIgnoredDuringReveal(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a")
	e.StartMatch(code, "a", 60)
	beginFirstTurn(t, e, sched, code)

	e.Submit(code, "a", activeSequence(t, e, code))
	if m := matchState(t, e, code); m.Phase != PhaseShowing {
		t.Fatalf("submit during reveal mutated phase to %v", m.Phase)
	}
	if hub.count("sequence_scored") != 0 {
		t.Fatal("submit during reveal was scored")
	}
}

func TestSubmitIgnoredFromWrongPlayer(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a", "b")
	e.StartMatch(code, "a", 60)
	matchID := beginFirstTurn(t, e, sched, code)
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerReveal})

	e.Submit(code, "b", activeSequence(t, e, code))
	m := matchState(t, e, code)
	if m.Players["b"].Score != 0 || m.Players["a"].Score != 0 {
		t.Fatal("wrong-actor submit changed a score")
	}
	if hub.count("sequence_scored") != 0 || hub.count("turn_end") != 0 {
		t.Fatal("wrong-actor submit produced events")
	}
}

// ---------------------------------------------------------------------------
// Scoring flow
// ---------------------------------------------------------------------------

// Spec scenario: 2-length sequence completed with 55 of 60 seconds left
// earns round(100*(0.3+0.7*0.9167^2)) = 89 at multiplier 1; a wrong answer
// afterwards ends the turn with the score intact.
func TestCorrectThenWrongScenario(t *testing.T) {
	e, hub, sched, clock, code := newTestEngine(t, "a")
	e.StartMatch(code, "a", 60)
	matchID := beginFirstTurn(t, e, sched, code)

	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerReveal})
	clock.Advance(5 * time.Second)
	e.Submit(code, "a", activeSequence(t, e, code))

	var scored struct {
		Earned             int `json:"earned"`
		SpeedPoints        int `json:"speed_points"`
		Multiplier         int `json:"multiplier"`
		NewScore           int `json:"new_score"`
		NextSequenceLength int `json:"next_sequence_length"`
	}
	hub.last(t, "sequence_scored", &scored)
	if scored.SpeedPoints != 89 || scored.Multiplier != 1 || scored.Earned != 89 {
		t.Fatalf("got speed=%d mult=%d earned=%d, want 89/1/89",
			scored.SpeedPoints, scored.Multiplier, scored.Earned)
	}
	if scored.NextSequenceLength != InitialSequenceLength+SequenceLengthIncrement {
		t.Fatalf("next length = %d", scored.NextSequenceLength)
	}

	// Wrong answer on the grown sequence.
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerReveal})
	wrong := activeSequence(t, e, code)
	wrong[0] = (wrong[0] + 1) % ColorCount
	e.Submit(code, "a", wrong)

	var end struct {
		PlayerID   string `json:"player_id"`
		Reason     string `json:"reason"`
		FinalScore int    `json:"final_score"`
	}
	hub.last(t, "turn_end", &end)
	if end.Reason != "fail" {
		t.Fatalf("reason = %q, want fail", end.Reason)
	}
	if end.FinalScore != 89 {
		t.Fatalf("final score = %d, want 89 (wrong answers never deduct)", end.FinalScore)
	}
	m := matchState(t, e, code)
	if m.Phase != PhaseBetweenTurns {
		t.Fatalf("phase = %v, want between_turns", m.Phase)
	}
	if m.CurrentSequence != nil {
		t.Fatal("sequence not cleared at turn end")
	}
	if sched.has(TimerKey{Scope: matchID, Kind: TimerTurn}) {
		t.Fatal("hard turn timer survived the turn")
	}
}

func TestMultiplierKicksInOnSixthCompletion(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a")
	e.StartMatch(code, "a", 60)
	matchID := beginFirstTurn(t, e, sched, code)

	var scored struct {
		Multiplier int `json:"multiplier"`
		NewScore   int `json:"new_score"`
	}
	for i := 0; i < 6; i++ {
		submitCurrent(t, e, sched, code, matchID, "a")
		hub.last(t, "sequence_scored", &scored)
		wantMult := 1
		if i == 5 {
			wantMult = 2
		}
		if scored.Multiplier != wantMult {
			t.Fatalf("completion %d: multiplier = %d, want %d", i+1, scored.Multiplier, wantMult)
		}
	}
	// Five completions at 100, the sixth at 200 (clock never advanced).
	if scored.NewScore != 700 {
		t.Fatalf("score = %d, want 700", scored.NewScore)
	}
	if m := matchState(t, e, code); m.Players["a"].MaxMultiplier != 2 {
		t.Fatalf("max multiplier = %d, want 2", m.Players["a"].MaxMultiplier)
	}
}

func TestScoreNeverDecreases(t *testing.T) {
	e, hub, sched, clock, code := newTestEngine(t, "a")
	e.StartMatch(code, "a", 90)
	matchID := beginFirstTurn(t, e, sched, code)

	prev := 0
	var scored struct {
		NewScore int `json:"new_score"`
	}
	for i := 0; i < 10; i++ {
		clock.Advance(3 * time.Second)
		submitCurrent(t, e, sched, code, matchID, "a")
		hub.last(t, "sequence_scored", &scored)
		if scored.NewScore < prev {
			t.Fatalf("score decreased: %d -> %d", prev, scored.NewScore)
		}
		prev = scored.NewScore
	}
}

// A correct answer landing exactly as time runs out still scores (at the
// floor) but ends the turn with reason time.
func TestSubmitAfterDeadlineScoresFloorThenEndsTurn(t *testing.T) {
	e, hub, sched, clock, code := newTestEngine(t, "a")
	e.StartMatch(code, "a", 30)
	matchID := beginFirstTurn(t, e, sched, code)

	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerReveal})
	clock.Advance(31 * time.Second) // past the deadline, timer not yet fired
	e.Submit(code, "a", activeSequence(t, e, code))

	var scored struct {
		SpeedPoints int `json:"speed_points"`
	}
	hub.last(t, "sequence_scored", &scored)
	if scored.SpeedPoints != 30 {
		t.Fatalf("speed points = %d, want floor 30", scored.SpeedPoints)
	}
	var end struct {
		Reason string `json:"reason"`
	}
	hub.last(t, "turn_end", &end)
	if end.Reason != "time" {
		t.Fatalf("reason = %q, want time", end.Reason)
	}
}

// ---------------------------------------------------------------------------
// Timeouts and races
// ---------------------------------------------------------------------------

func TestTimeoutDuringRevealEndsTurn(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a")
	e.StartMatch(code, "a", 30)
	matchID := beginFirstTurn(t, e, sched, code)

	// Still in turn_showing; the hard deadline fires anyway.
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerTurn})

	var end struct {
		Reason string `json:"reason"`
	}
	hub.last(t, "turn_end", &end)
	if end.Reason != "time" {
		t.Fatalf("reason = %q, want time", end.Reason)
	}
	if m := matchState(t, e, code); m.Phase != PhaseBetweenTurns {
		t.Fatalf("phase = %v, want between_turns", m.Phase)
	}
}

func TestLateSubmitAfterTimeoutIsNoop(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a", "b")
	e.StartMatch(code, "a", 30)
	matchID := beginFirstTurn(t, e, sched, code)
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerReveal})
	seq := activeSequence(t, e, code)

	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerTurn})
	if hub.count("turn_end") != 1 {
		t.Fatal("timeout did not end the turn")
	}

	// The submission that lost the race: no score, no second turn_end.
	e.Submit(code, "a", seq)
	if hub.count("turn_end") != 1 {
		t.Fatal("late submit produced a duplicate turn_end")
	}
	if hub.count("sequence_scored") != 0 {
		t.Fatal("late submit was scored")
	}
	if m := matchState(t, e, code); m.Players["a"].Score != 0 {
		t.Fatalf("late submit changed score to %d", m.Players["a"].Score)
	}
}

func TestDuplicateTimeoutIsNoop(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a")
	e.StartMatch(code, "a", 30)
	matchID := beginFirstTurn(t, e, sched, code)

	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerTurn})
	e.HandleTimeout(matchID) // replayed timeout
	if hub.count("turn_end") != 1 {
		t.Fatalf("turn_end broadcast %d times", hub.count("turn_end"))
	}
}

// ---------------------------------------------------------------------------
// Whole-match progression
// ---------------------------------------------------------------------------

// A match where nobody ever answers still terminates: one timeout per
// player, then finished after exactly len(roster) turn_end events.
func TestMatchWithOnlyTimeoutsTerminates(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a", "b", "c")
	e.StartMatch(code, "a", 30)
	matchID := beginFirstTurn(t, e, sched, code)

	for i := 0; i < 3; i++ {
		sched.fire(t, TimerKey{Scope: matchID, Kind: TimerTurn})
		sched.fire(t, TimerKey{Scope: matchID, Kind: TimerAdvance})
	}

	if hub.count("turn_end") != 3 {
		t.Fatalf("turn_end count = %d, want 3", hub.count("turn_end"))
	}
	if hub.count("match_finished") != 1 {
		t.Fatal("match did not finish")
	}
	m := matchState(t, e, code)
	if m.Phase != PhaseFinished {
		t.Fatalf("phase = %v, want finished", m.Phase)
	}
	// All scores zero: the tie breaks to the smallest player id.
	if m.WinnerID != "a" {
		t.Fatalf("winner = %q, want a", m.WinnerID)
	}
	// Only the linger cleanup may remain armed for this match.
	for _, key := range sched.pendingIn(matchID) {
		if key.Kind != TimerCleanup {
			t.Fatalf("timer %+v outlived the match", key)
		}
	}
}

func TestWinnerIsHighestScore(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a", "b")
	e.StartMatch(code, "a", 60)
	matchID := beginFirstTurn(t, e, sched, code)

	// Player a times out with nothing; player b completes one sequence.
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerTurn})
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerAdvance})

	submitCurrent(t, e, sched, code, matchID, "b")
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerTurn})
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerAdvance})

	var finished struct {
		Winner struct {
			PlayerID string `json:"player_id"`
			Score    int    `json:"score"`
		} `json:"winner"`
		Standings []struct {
			Rank     int    `json:"rank"`
			PlayerID string `json:"player_id"`
			Score    int    `json:"score"`
		} `json:"standings"`
	}
	hub.last(t, "match_finished", &finished)
	if finished.Winner.PlayerID != "b" {
		t.Fatalf("winner = %q, want b", finished.Winner.PlayerID)
	}
	if len(finished.Standings) != 2 || finished.Standings[0].PlayerID != "b" || finished.Standings[0].Rank != 1 {
		t.Fatalf("standings = %+v", finished.Standings)
	}
	if finished.Standings[1].PlayerID != "a" || finished.Standings[1].Rank != 2 {
		t.Fatalf("standings = %+v", finished.Standings)
	}
}

// The current player has exactly one identity at any instant, and only
// while a turn is live.
func TestSingleActiveActor(t *testing.T) {
	e, _, sched, _, code := newTestEngine(t, "a", "b")
	e.StartMatch(code, "a", 30)
	matchID := beginFirstTurn(t, e, sched, code)

	if got := matchState(t, e, code).CurrentPlayerID(); got != "a" {
		t.Fatalf("current = %q, want a", got)
	}
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerTurn})
	if got := matchState(t, e, code).CurrentPlayerID(); got != "" {
		t.Fatalf("current = %q between turns, want none", got)
	}
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerAdvance})
	if got := matchState(t, e, code).CurrentPlayerID(); got != "b" {
		t.Fatalf("current = %q, want b", got)
	}
}

func TestSoloMatchFinishes(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a")
	e.StartMatch(code, "a", 30)
	matchID := beginFirstTurn(t, e, sched, code)

	submitCurrent(t, e, sched, code, matchID, "a")
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerTurn})
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerAdvance})

	var finished struct {
		Winner struct {
			PlayerID string `json:"player_id"`
		} `json:"winner"`
		Standings []struct {
			PlayerID string `json:"player_id"`
		} `json:"standings"`
	}
	hub.last(t, "match_finished", &finished)
	if finished.Winner.PlayerID != "a" || len(finished.Standings) != 1 {
		t.Fatalf("degenerate single-player finish broken: %+v", finished)
	}
}

// ---------------------------------------------------------------------------
// Disconnects
// ---------------------------------------------------------------------------

func TestDisconnectGraceThenRemovalEndsCurrentTurn(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a", "b")
	e.StartMatch(code, "a", 60)
	beginFirstTurn(t, e, sched, code)

	e.HandleDisconnect("a")
	if hub.count("player_disconnected") != 1 {
		t.Fatal("player_disconnected not broadcast")
	}
	graceKey := TimerKey{Scope: code, PlayerID: "a", Kind: TimerGrace}
	if !sched.has(graceKey) {
		t.Fatal("grace timer not armed")
	}
	// Match state untouched during the grace window.
	if m := matchState(t, e, code); m.CurrentPlayerID() != "a" {
		t.Fatal("disconnect mutated match state before grace expiry")
	}

	sched.fire(t, graceKey)

	var end struct {
		PlayerID string `json:"player_id"`
		Reason   string `json:"reason"`
	}
	hub.last(t, "turn_end", &end)
	if end.PlayerID != "a" || end.Reason != "time" {
		t.Fatalf("turn_end = %+v, want a/time", end)
	}
	if hub.count("roster_update") == 0 {
		t.Fatal("roster not rebroadcast after removal")
	}
}

func TestReconnectWithinGraceRestoresPlayer(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a", "b")
	e.StartMatch(code, "a", 60)
	beginFirstTurn(t, e, sched, code)

	e.HandleDisconnect("b")
	e.HandleConnect("b")

	if sched.has(TimerKey{Scope: code, PlayerID: "b", Kind: TimerGrace}) {
		t.Fatal("grace timer survived reconnect")
	}
	if hub.count("player_reconnected") != 1 {
		t.Fatal("player_reconnected not broadcast")
	}

	// The returning player gets a snapshot including the live sequence,
	// which is recomputable so it matches what everyone else saw.
	var snap struct {
		Match struct {
			Phase    string   `json:"phase"`
			Sequence []string `json:"sequence"`
		} `json:"match"`
	}
	hub.lastDirect(t, "b", "room_snapshot", &snap)
	if snap.Match.Phase != "turn_showing" {
		t.Fatalf("snapshot phase = %q", snap.Match.Phase)
	}
	want := ColorNames(matchState(t, e, code).CurrentSequence)
	if len(snap.Match.Sequence) != len(want) {
		t.Fatalf("snapshot sequence = %v, want %v", snap.Match.Sequence, want)
	}
}

func TestRemovedPlayerTurnIsSkipped(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a", "b", "c")
	e.StartMatch(code, "a", 60)
	matchID := beginFirstTurn(t, e, sched, code)

	// b leaves while a is still playing; b's slot is skipped later.
	e.HandleDisconnect("b")
	sched.fire(t, TimerKey{Scope: code, PlayerID: "b", Kind: TimerGrace})

	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerTurn})    // a times out
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerAdvance}) // should land on c

	if got := matchState(t, e, code).CurrentPlayerID(); got != "c" {
		t.Fatalf("current = %q, want c (b removed)", got)
	}

	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerTurn})
	sched.fire(t, TimerKey{Scope: matchID, Kind: TimerAdvance})

	if hub.count("match_finished") != 1 {
		t.Fatal("match did not finish after skipping removed player")
	}
	// Removed players still appear in the final standings.
	var finished struct {
		Standings []struct {
			PlayerID string `json:"player_id"`
		} `json:"standings"`
	}
	hub.last(t, "match_finished", &finished)
	if len(finished.Standings) != 3 {
		t.Fatalf("standings = %+v, want all 3 participants", finished.Standings)
	}
}

// A player still disconnected when the match ends must not escape removal.
// Grace timers are scoped to the room code, so the sweep at match finish
// cannot collect them.
func TestDisconnectedPlayerRemovedAfterMatchFinish(t *testing.T) {
	e, hub, sched, _, code := newTestEngine(t, "a", "b")
	e.StartMatch(code, "a", 30)
	matchID := beginFirstTurn(t, e, sched, code)

	e.HandleDisconnect("b")
	graceKey := TimerKey{Scope: code, PlayerID: "b", Kind: TimerGrace}

	// Both turns time out and the match finishes with b still gone.
	for i := 0; i < 2; i++ {
		sched.fire(t, TimerKey{Scope: matchID, Kind: TimerTurn})
		sched.fire(t, TimerKey{Scope: matchID, Kind: TimerAdvance})
	}
	if hub.count("match_finished") != 1 {
		t.Fatal("match did not finish")
	}
	if !sched.has(graceKey) {
		t.Fatal("grace timer swept by match finish")
	}

	sched.fire(t, graceKey)

	r, ok := e.rooms.Get(code)
	if !ok {
		t.Fatal("room gone before removal")
	}
	if r.Has("b") {
		t.Fatal("disconnected player survived grace expiry")
	}
	if hub.count("roster_update") == 0 {
		t.Fatal("roster not rebroadcast after removal")
	}
}
