package room

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Ambiguous characters (0/O, 1/I) are excluded from game codes.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const codeLength = 6

// Manager tracks every open room, keyed by game code.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// Create makes a new waiting room with a fresh game code and the creator as host.
func (m *Manager) Create(hostID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; attempt < 32; attempt++ {
		code := randomCode()
		if _, taken := m.rooms[code]; taken {
			continue
		}
		r := NewRoom(code, hostID)
		m.rooms[code] = r
		return r, nil
	}
	return nil, fmt.Errorf("could not allocate a unique game code")
}

func (m *Manager) Get(code string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[strings.ToUpper(code)]
	return r, ok
}

func (m *Manager) Remove(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, code)
}

func (m *Manager) ListByState(state RoomState) []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Room
	for _, r := range m.rooms {
		if r.GetState() == state {
			out = append(out, r)
		}
	}
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func randomCode() string {
	var sb strings.Builder
	for i := 0; i < codeLength; i++ {
		sb.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}
	return sb.String()
}
