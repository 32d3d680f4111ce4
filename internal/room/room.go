package room

import (
	"sync"
	"time"
)

// Room holds the roster for a single game room. Turn order at match start
// is the roster order, so the roster is kept as an ordered slice.
type Room struct {
	mu sync.RWMutex

	Code      string
	HostID    string
	State     RoomState
	CreatedAt time.Time

	roster []*Player
	byID   map[string]*Player
}

func NewRoom(code, hostID string) *Room {
	return &Room{
		Code:      code,
		HostID:    hostID,
		State:     StateWaiting,
		CreatedAt: time.Now(),
		byID:      make(map[string]*Player),
	}
}

// AddPlayer appends a player to the roster. Join is only allowed while the
// room is waiting; mid-match joins would break the fixed turn order.
func (r *Room) AddPlayer(id, displayName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State != StateWaiting {
		return false
	}
	if len(r.roster) >= MaxPlayers {
		return false
	}
	if _, exists := r.byID[id]; exists {
		return false
	}
	p := &Player{
		ID:          id,
		DisplayName: displayName,
		Connected:   true,
		JoinedAt:    time.Now(),
	}
	r.roster = append(r.roster, p)
	r.byID[id] = p
	return true
}

// RemovePlayer drops a player from the roster. Host reassigns to the next
// roster entry if the host leaves. Returns false if the player wasn't here.
func (r *Room) RemovePlayer(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, p := range r.roster {
		if p.ID == id {
			r.roster = append(r.roster[:i], r.roster[i+1:]...)
			break
		}
	}
	if r.HostID == id && len(r.roster) > 0 {
		r.HostID = r.roster[0].ID
	}
	return true
}

func (r *Room) Get(id string) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

func (r *Room) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// DisplayName resolves a player id to a name; empty string if unknown.
func (r *Room) DisplayName(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byID[id]; ok {
		return p.DisplayName
	}
	return ""
}

// Roster returns player IDs in insertion order.
func (r *Room) Roster() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.roster))
	for i, p := range r.roster {
		out[i] = p.ID
	}
	return out
}

// RosterSnapshot copies the roster entries for broadcast.
func (r *Room) RosterSnapshot() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Player, len(r.roster))
	for i, p := range r.roster {
		out[i] = *p
	}
	return out
}

func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roster)
}

// MarkDisconnected flags a player as transport-disconnected. Not removal;
// the grace window still applies.
func (r *Room) MarkDisconnected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return false
	}
	p.Connected = false
	return true
}

// MarkConnected clears the disconnected flag (player reconnected).
func (r *Room) MarkConnected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return false
	}
	p.Connected = true
	return true
}

func (r *Room) IsConnected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return ok && p.Connected
}

func (r *Room) IsHost(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.HostID == id
}

// CanStart reports whether the host may start a match right now.
func (r *Room) CanStart() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.State == StateWaiting && len(r.roster) >= MinPlayers
}

// SetState transitions the room's coarse lifecycle state.
func (r *Room) SetState(s RoomState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = s
}

func (r *Room) GetState() RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.State
}

// Reset puts a finished room back to waiting ("play again"). The roster is
// kept so the same group can rematch without re-entering the code.
func (r *Room) Reset() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State != StateFinished {
		return false
	}
	r.State = StateWaiting
	return true
}
