package player

import (
	"time"

	"github.com/bzfsd/bzfsd/internal/protocol"
)

// Team is a team color.
type Team uint16

const (
	Rogue Team = iota
	Red
	Green
	Blue
	Purple
	Observer

	NoTeam Team = 0xFFFF
)

const (
	// NumTeams counts every team including observers.
	NumTeams = 6
	// CtfTeams counts the teams that play (rogue plus the four colors).
	CtfTeams = 5
)

var teamNames = [NumTeams]string{"Rogue", "Red Team", "Green Team", "Blue Team", "Purple Team", "Observer"}

func (t Team) String() string {
	if int(t) < NumTeams {
		return teamNames[t]
	}
	return "No Team"
}

// Valid reports whether t names a real team.
func (t Team) Valid() bool { return int(t) < NumTeams }

// Colored reports whether t is one of the four flag-owning colors.
func (t Team) Colored() bool { return t >= Red && t <= Purple }

// TeamRecord is one team's membership and score.
type TeamRecord struct {
	Size        int
	ActiveSize  int
	Won         int
	Lost        int
	FlagTimeout time.Time
}

// Teams is the per-color table.
type Teams [NumTeams]TeamRecord

// Join counts a player entering t.
func (ts *Teams) Join(t Team, active bool) {
	if !t.Valid() {
		return
	}
	ts[t].Size++
	if active {
		ts[t].ActiveSize++
	}
}

// Leave undoes Join; counts never go negative.
func (ts *Teams) Leave(t Team, active bool) {
	if !t.Valid() {
		return
	}
	if ts[t].Size > 0 {
		ts[t].Size--
	}
	if active && ts[t].ActiveSize > 0 {
		ts[t].ActiveSize--
	}
}

// Reset clears every record, as when the world is redefined.
func (ts *Teams) Reset() {
	*ts = Teams{}
}

// Active returns the active size of t, or 0 for an invalid team.
func (ts *Teams) Active(t Team) int {
	if !t.Valid() {
		return 0
	}
	return ts[t].ActiveSize
}

// Info is the scoreboard row for t.
func (ts *Teams) Info(t Team) protocol.TeamInfo {
	r := ts[t]
	return protocol.TeamInfo{
		Team:       uint16(t),
		Size:       uint16(r.Size),
		ActiveSize: uint16(r.ActiveSize),
		Won:        uint16(r.Won),
		Lost:       uint16(r.Lost),
	}
}
