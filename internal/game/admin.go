package game

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/bzfsd/bzfsd/internal/flag"
	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

// Operator actions. They are called from the command collaborator while a
// chat frame is being handled, so their effects go out with that frame's.

// Lookup finds a connected player by exact callsign.
func (c *Core) Lookup(callsign string) (int, bool) {
	for i := 0; i < c.reg.CurMax(); i++ {
		if c.reg.Connected(i) && c.players[i].Joined() && c.players[i].Callsign == callsign {
			return i, true
		}
	}
	return -1, false
}

// Kick disconnects slot after telling it message.
func (c *Core) Kick(slot int, message, reason string) {
	if !c.reg.Connected(slot) {
		return
	}
	c.kick(slot, message, reason)
}

// KickMatching kicks every connected player whose address matches and
// returns how many went.
func (c *Core) KickMatching(match func(netip.Addr) bool, message, reason string) int {
	n := 0
	for i := 0; i < c.reg.CurMax(); i++ {
		s := c.reg.Get(i)
		if !s.Connected() || !match(s.Addr.Addr()) {
			continue
		}
		c.kick(i, message, reason)
		n++
	}
	return n
}

// ResetFlags sends every flag home. With onlyUnused, held flags stay put.
func (c *Core) ResetFlags(onlyUnused bool) {
	now := c.now()
	for i := 0; i < c.flags.Len(); i++ {
		held := c.flags.Get(i).Owner >= 0
		switch {
		case held && !onlyUnused:
			c.zapFlag(i, now)
		case !held:
			c.resetFlag(i, now)
		}
	}
}

// FlagsUp takes every team flag off the field; they come back through
// the normal reset path.
func (c *Core) FlagsUp() {
	now := c.now()
	for i := 0; i < c.flags.Len(); i++ {
		if !c.flags.Get(i).Desc.IsTeam() {
			continue
		}
		if holder := c.flags.SendAway(i, now); holder >= 0 {
			c.players[holder].Flag = -1
			c.broadcast(protocol.MsgDropFlag, protocol.DropFlag{
				Player: byte(holder), Index: uint16(i), Flag: c.flags.Info(i),
			}.Encode())
		}
		c.sendFlagUpdate(i)
	}
}

// FlagReport lists every flag one line each.
func (c *Core) FlagReport() []string {
	out := make([]string, 0, c.flags.Len())
	for i := 0; i < c.flags.Len(); i++ {
		f := c.flags.Get(i)
		out = append(out, fmt.Sprintf("%d p:%d r:%t g:%d i:%s s:%s p:%3.1fx%3.1fx%3.1f",
			i, f.Owner, f.Required, f.Grabs, f.Desc.Abbrev, f.Status, f.Pos[0], f.Pos[1], f.Pos[2]))
	}
	return out
}

// SuperKill disconnects everybody and ends the game.
func (c *Core) SuperKill() {
	for i := 0; i < c.reg.CurMax(); i++ {
		c.removePlayer(i, "/superkill", true)
	}
	c.setGameOver(c.now())
}

// EndGame announces slot as the winner and ends the game.
func (c *Core) EndGame(slot int) {
	c.broadcast(protocol.MsgScoreOver, protocol.ScoreOver{Player: byte(slot), Team: uint16(player.NoTeam)}.Encode())
	c.setGameOver(c.now())
}

// StartCountdown restarts the timed game, clears the team scores and
// recalls every flag. It reports false without a time limit.
func (c *Core) StartCountdown() bool {
	now := c.now()
	started := c.cfg.Game.TimeLimit > 0
	if started {
		c.gameStart = now
		c.timeElapsed = 0
		c.countdown = true
		if c.gameOver {
			c.gameOver = false
			c.match.Start(c.cfg.Game.Title, c.world.Digest(), c.cfg.Game.Style.Bits(), now)
		}
		c.broadcast(protocol.MsgTimeUpdate, protocol.EncodeU16(uint16(c.cfg.Game.TimeLimit/time.Second)))
	}
	for t := player.Red; t <= player.Purple; t++ {
		c.teams[t].Won, c.teams[t].Lost = 0, 0
	}
	c.sendTeamUpdate(-1)
	for i := 0; i < c.flags.Len(); i++ {
		c.zapFlag(i, now)
	}
	return started
}

// Stop disconnects everybody and withdraws the list-server entry. The
// reactor calls it once on the way out.
func (c *Core) Stop() {
	defer c.commit()
	c.SuperKill()
	if c.lister != nil {
		c.lister.Remove()
	}
}

// Shutdown asks the reactor to stop.
func (c *Core) Shutdown() {
	c.stopOnce.Do(func() { close(c.done) })
}

// LagWarn is the current lag warning threshold.
func (c *Core) LagWarn() time.Duration { return c.lagWarn }

// SetLagWarn changes the lag warning threshold; zero disables warnings.
func (c *Core) SetLagWarn(d time.Duration) { c.lagWarn = max(d, 0) }

// eachPlaying calls fn for joined non-observers in slot order.
func (c *Core) eachPlaying(fn func(slot int, p *player.Player)) {
	for i := 0; i < c.reg.CurMax(); i++ {
		if p := &c.players[i]; p.Joined() && !p.IsObserver() {
			fn(i, p)
		}
	}
}

// LagStats lists average lag and lost pings per player.
func (c *Core) LagStats() []string {
	var out []string
	c.eachPlaying(func(_ int, p *player.Player) {
		line := fmt.Sprintf("%-16s : %4dms (%d)", p.Callsign, p.Lag.Avg.Milliseconds(), p.Lag.Count)
		if p.Lag.Lost > 0 {
			line += fmt.Sprintf(" %d lost", p.Lag.Lost)
		}
		out = append(out, line)
	})
	return out
}

// IdleStats lists how long each player has been silent.
func (c *Core) IdleStats() []string {
	now := c.now()
	var out []string
	c.eachPlaying(func(_ int, p *player.Player) {
		out = append(out, fmt.Sprintf("%-16s : %4ds", p.Callsign, int(now.Sub(p.LastUpdate).Seconds())))
	})
	return out
}

// FlagHistory lists the flags each player has carried. Good flags show
// as their initial, the rest by abbreviation.
func (c *Core) FlagHistory() []string {
	var out []string
	c.eachPlaying(func(_ int, p *player.Player) {
		var b strings.Builder
		fmt.Fprintf(&b, "%-16s : ", p.Callsign)
		for _, abbrev := range p.History.Items() {
			if d, ok := flag.Lookup(abbrev); ok && d.Good && d.Name != "" {
				fmt.Fprintf(&b, "(*%c) ", d.Name[0])
			} else {
				fmt.Fprintf(&b, "(%s) ", abbrev)
			}
		}
		out = append(out, strings.TrimRight(b.String(), " "))
	})
	return out
}

// PlayerList lists joined players with their address.
func (c *Core) PlayerList() []string {
	var out []string
	for i := 0; i < c.reg.CurMax(); i++ {
		p := &c.players[i]
		s := c.reg.Get(i)
		if !p.Joined() || s == nil {
			continue
		}
		udp := ""
		if s.UDPLinked {
			udp = " udp"
		}
		out = append(out, fmt.Sprintf("[%d]%-16s: %s%s", i, p.Callsign, s.Addr.Addr(), udp))
	}
	return out
}
