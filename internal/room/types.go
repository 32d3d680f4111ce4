package room

import "time"

type RoomState int

const (
	StateWaiting RoomState = iota
	StateActive
	StateFinished
)

func (s RoomState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

const (
	MinPlayers = 1
	MaxPlayers = 8
)

// Player is a roster entry. Identity is stable for the life of a match;
// Connected flips with the transport, the ID never does.
type Player struct {
	ID          string
	DisplayName string
	Connected   bool
	JoinedAt    time.Time
}
