package domain

import "time"

// ServerID identifies one managed game-server process. Opaque and stable for
// the lifetime of the server record; every per-process table keys on it.
type ServerID = string

// Server lifecycle states as reported by the process supervisor.
const (
	StatusStopped  = "stopped"
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopping = "stopping"
	StatusCrashed  = "crashed"
)

// GameServer is a managed game-server process known to the panel.
type GameServer struct {
	ID         ServerID
	Name       string
	Game       string
	Status     string
	LastSeenAt time.Time
	CreatedAt  time.Time
}

// ValidStatus reports whether s is a recognised lifecycle state.
func ValidStatus(s string) bool {
	switch s {
	case StatusStopped, StatusStarting, StatusRunning, StatusStopping, StatusCrashed:
		return true
	}
	return false
}
