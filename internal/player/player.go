// Package player holds the game half of a slot: lifecycle state, scores,
// team membership, lag statistics and the hunted-player selection.
package player

import (
	"time"

	"github.com/bzfsd/bzfsd/internal/protocol"
)

// State is the player lifecycle.
type State uint8

const (
	NoExist State = iota
	InLimbo
	Dead
	Alive
)

func (s State) String() string {
	switch s {
	case NoExist:
		return "NoExist"
	case InLimbo:
		return "InLimbo"
	case Dead:
		return "Dead"
	case Alive:
		return "Alive"
	}
	return "Unknown"
}

// CanTransition reports whether from -> to is an edge of the lifecycle
// graph. Any state may fall back to NoExist on teardown.
func CanTransition(from, to State) bool {
	switch to {
	case NoExist:
		return from != NoExist
	case InLimbo:
		return from == NoExist
	case Dead:
		return from == InLimbo || from == Alive
	case Alive:
		return from == Dead
	}
	return false
}

// Type is the kind of client driving the slot.
type Type uint16

const (
	Tank Type = iota
	Computer
	Chat
)

// Player is one slot's game record.
type Player struct {
	Callsign string
	Email    string
	Type     Type
	Team     Team
	State    State
	Paused   bool

	LastState protocol.PlayerState
	// Flag is the held flag index or -1.
	Flag    int
	History History

	Wins   int
	Losses int
	TKs    int

	JoinedAt   time.Time
	LastUpdate time.Time
	LastMsg    time.Time

	Lag        Lag
	ToBeKicked bool
	Operator   bool
	// PasswordAttempts counts failed operator logins.
	PasswordAttempts int
}

// New returns a fresh record in InLimbo for a just-accepted connection.
func New(now time.Time) Player {
	p := Player{State: InLimbo, Flag: -1, Team: NoTeam, JoinedAt: now, LastUpdate: now, LastMsg: now}
	p.Lag.Reset(now)
	return p
}

// IsObserver reports whether the player only watches.
func (p *Player) IsObserver() bool { return p.Team == Observer }

// Joined reports whether the player has passed the enter handshake.
func (p *Player) Joined() bool { return p.State > InLimbo }

// CountsActive reports whether the player adds to its team's active size:
// non-observer tanks and all bots.
func (p *Player) CountsActive() bool {
	return (p.Type == Tank && !p.IsObserver()) || p.Type == Computer
}

// Score orders candidates for the hunted role.
func (p *Player) Score() int { return (p.Wins - p.Losses) * p.Wins }

// ScoreEntry is the wire form of the player's score.
func (p *Player) ScoreEntry(slot int) protocol.ScoreEntry {
	return protocol.ScoreEntry{Player: byte(slot), Wins: uint16(p.Wins), Losses: uint16(p.Losses), TKs: uint16(p.TKs)}
}

// AddPlayer is the MsgAddPlayer body announcing this player.
func (p *Player) AddPlayer(slot int) protocol.AddPlayer {
	return protocol.AddPlayer{
		ID:       byte(slot),
		Type:     uint16(p.Type),
		Team:     uint16(p.Team),
		Wins:     uint16(p.Wins),
		Losses:   uint16(p.Losses),
		TKs:      uint16(p.TKs),
		Callsign: p.Callsign,
		Email:    p.Email,
	}
}

const maxHistory = 10

// History is the rolling list of flag abbreviations a player has held.
type History struct {
	items []string
}

// Push records a grab, evicting the oldest entry past ten.
func (h *History) Push(abbrev string) {
	if len(h.items) >= maxHistory {
		h.items = h.items[1:]
	}
	h.items = append(h.items, abbrev)
}

func (h *History) Items() []string { return append([]string(nil), h.items...) }
func (h *History) Clear()          { h.items = nil }
