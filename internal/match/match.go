// Package match describes the game currently being played and the events
// recorded into its history.
package match

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoMatch is returned for events recorded outside any match.
var ErrNoMatch = errors.New("no match started")

// Kind classifies a recorded event.
type Kind string

const (
	Join     Kind = "join"
	Leave    Kind = "leave"
	Spawn    Kind = "spawn"
	Kill     Kind = "kill"
	Capture  Kind = "capture"
	FlagGrab Kind = "flag_grab"
	FlagDrop Kind = "flag_drop"
	Kick     Kind = "kick"
	GameOver Kind = "game_over"
)

// Event is one entry of the match history.
type Event struct {
	Kind     Kind      `json:"kind"`
	MatchID  uuid.UUID `json:"matchId"`
	Time     time.Time `json:"time"`
	Slot     int       `json:"slot"`
	Callsign string    `json:"callsign,omitempty"`
	Team     uint16    `json:"team"`
	// Other is the second party: the killer of a kill, the team of a
	// capture. -1 when absent.
	Other  int    `json:"other"`
	Flag   string `json:"flag,omitempty"`
	Reason string `json:"reason,omitempty"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
}

// Info is the persistent description of a match.
type Info struct {
	ID          uuid.UUID
	Title       string
	WorldDigest string
	GameStyle   uint16
	Started     time.Time
	Ended       time.Time
}

// Context holds the current match. The game loop replaces it and storage
// goroutines read it, hence the lock.
type Context struct {
	mu      sync.RWMutex
	info    Info
	players int
}

// NewContext creates a Context with no match running.
func NewContext() *Context {
	return &Context{info: Info{Title: "No match running"}}
}

// Start begins a new match and returns it.
func (mc *Context) Start(title, digest string, style uint16, now time.Time) Info {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.info = Info{ID: uuid.New(), Title: title, WorldDigest: digest, GameStyle: style, Started: now}
	return mc.info
}

// End stamps the end of the current match and returns it.
func (mc *Context) End(now time.Time) Info {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.info.Ended.IsZero() {
		mc.info.Ended = now
	}
	return mc.info
}

// Current returns the running match.
func (mc *Context) Current() Info {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.info
}

// SetPlayers records the joined player count.
func (mc *Context) SetPlayers(n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.players = n
}

// Players returns the joined player count.
func (mc *Context) Players() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.players
}
