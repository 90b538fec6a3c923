package game

import (
	"strings"
	"time"
	"unicode"

	"github.com/bzfsd/bzfsd/internal/flag"
	"github.com/bzfsd/bzfsd/internal/match"
	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

func cleanCallsign(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
	return strings.Trim(s, " ")
}

func (c *Core) reject(slot int, code uint16) {
	c.log.Info("rejecting player", "slot", slot, "code", code)
	c.unicast(slot, protocol.MsgReject, protocol.EncodeU16(code))
}

// admission checks an enter request against the current tables and
// returns the reject code, or ok.
func (c *Core) admission(slot int, p *player.Player) (uint16, bool) {
	for i := 0; i < c.reg.CurMax(); i++ {
		if i == slot || !c.players[i].Joined() {
			continue
		}
		if strings.EqualFold(c.players[i].Callsign, p.Callsign) {
			return protocol.RejectRepeatCallsign, false
		}
	}
	if p.Callsign == "" {
		return protocol.RejectBadCallsign, false
	}

	t := p.Team
	switch {
	case p.Type != player.Tank && p.Type != player.Computer:
		return protocol.RejectBadType, false
	case !t.Valid():
		return protocol.RejectBadTeam, false
	case t == player.Rogue && !c.cfg.Game.Style.Rogues:
		return protocol.RejectNoRogues, false
	}

	active := 0
	for i := range c.teams {
		active += c.teams[i].ActiveSize
	}
	observers := 0
	for i := 0; i < c.reg.CurMax(); i++ {
		if i != slot && c.players[i].Joined() && c.players[i].IsObserver() {
			observers++
		}
	}
	if (t != player.Observer && active >= c.cfg.Network.MaxPlayers) ||
		(t == player.Observer && observers >= c.cfg.Network.MaxObservers) {
		return protocol.RejectServerFull, false
	}

	if c.teams[t].ActiveSize >= c.cfg.MaxTeamSize(t) {
		for o := player.Team(0); o < player.NumTeams; o++ {
			if c.teams[o].ActiveSize < c.cfg.MaxTeamSize(o) {
				return protocol.RejectTeamFull, false
			}
		}
		return protocol.RejectServerFull, false
	}
	return 0, true
}

// addPlayer handles MsgEnter for a session still in limbo.
func (c *Core) addPlayer(slot int, m protocol.Enter, now time.Time) {
	p := &c.players[slot]
	p.Type = player.Type(m.Type)
	p.Team = player.Team(m.Team)
	p.Callsign = cleanCallsign(m.Callsign)
	p.Email = m.Email

	if code, ok := c.admission(slot, p); !ok {
		c.reject(slot, code)
		return
	}

	p.ToBeKicked = false
	p.Operator = false
	p.LastUpdate = now
	p.LastMsg = now
	p.Lag.Reset(now)

	c.unicast(slot, protocol.MsgAccept, []byte{byte(slot)})
	for _, body := range c.setVars {
		c.unicast(slot, protocol.MsgSetVar, body)
	}

	p.State = player.Dead
	p.Flag = -1
	p.Wins, p.Losses, p.TKs = 0, 0, 0

	active := p.CountsActive()
	c.teams.Join(p.Team, active)
	resetTeamFlag := -1
	if active && c.teams[p.Team].ActiveSize == 1 {
		c.teams[p.Team].Won = 0
		c.teams[p.Team].Lost = 0
		if i := c.flags.TeamFlag(p.Team); c.ctf() && i >= 0 && c.flags.Get(i).Status == flag.NoExist {
			resetTeamFlag = i
		}
	}

	if p.Type != player.Computer {
		c.sendTeamUpdate(slot)
		c.sendAllFlags(slot)
		for i := 0; i < c.reg.CurMax(); i++ {
			if i != slot && c.players[i].Joined() {
				c.sendAddPlayer(i, slot)
			}
		}
	}

	frame := protocol.Encode(protocol.MsgAddPlayer, p.AddPlayer(slot).Encode())
	c.fx.Send(c.fan.Recipients(-1), frame)
	c.sendTeamUpdate(-1, p.Team)

	if c.rabbitMode() {
		c.unicast(slot, protocol.MsgNewRabbit, []byte{c.rabbitID()})
	}
	if c.countdown && p.Type != player.Computer {
		c.unicast(slot, protocol.MsgTimeUpdate, protocol.EncodeU16(uint16(c.timeLeft(now)/time.Second)))
	}

	if resetTeamFlag >= 0 {
		c.resetFlag(resetTeamFlag, now)
	}
	c.publishCounts()

	for _, line := range c.cfg.Game.Greeting {
		c.Tell(slot, line)
	}
	if p.IsObserver() {
		c.Tell(slot, "You are in observer mode.")
	}

	c.log.Info("player joined", "slot", slot, "callsign", p.Callsign, "team", p.Team.String(), "addr", c.addr(slot))
	c.record(match.Event{Kind: match.Join, Slot: slot, Callsign: p.Callsign, Team: uint16(p.Team), Other: -1})
}

// removePlayer tears a slot down. It is safe to call more than once and
// from inside any handler.
func (c *Core) removePlayer(slot int, reason string, notify bool) {
	if !c.reg.Live(slot) {
		return
	}
	p := &c.players[slot]
	if p.State == player.NoExist {
		c.fx.Close(slot)
		return
	}

	c.log.Info("player removed", "slot", slot, "callsign", p.Callsign, "reason", reason)
	if notify {
		c.unicast(slot, protocol.MsgSuperKill, nil)
	}
	c.fx.Close(slot)

	if p.State == player.InLimbo {
		*p = player.Player{State: player.NoExist, Flag: -1, Team: player.NoTeam}
		return
	}

	now := c.now()
	wasActive := p.CountsActive()
	p.State = player.NoExist
	p.History.Clear()

	if c.rabbitMode() && slot == c.rabbit {
		c.anointRabbit()
	}

	if i := p.Flag; i >= 0 {
		if c.flags.Get(i).Desc.IsTeam() {
			c.dropFlag(slot, p.LastState.Pos, now)
		} else {
			c.zapFlag(i, now)
		}
	}

	c.broadcast(protocol.MsgRemovePlayer, []byte{byte(slot)})
	t := p.Team
	c.teams.Leave(t, wasActive)

	if i := c.flags.TeamFlag(t); c.ctf() && t != player.Rogue && wasActive && i >= 0 && c.teams[t].ActiveSize == 0 {
		holder := c.flags.Get(i).Owner
		if holder == -1 || c.players[holder].Team == t {
			c.zapFlag(i, now)
		}
	}
	c.sendTeamUpdate(-1, t)
	c.publishCounts()

	c.record(match.Event{Kind: match.Leave, Slot: slot, Callsign: p.Callsign, Team: uint16(t),
		Wins: p.Wins, Losses: p.Losses, Reason: reason, Other: -1})
	*p = player.Player{State: player.NoExist, Flag: -1, Team: player.NoTeam}

	if c.joinedCount() == 0 {
		c.redefineWorld(now)
	}
}

// redefineWorld resets teams and flags once the last player has left.
func (c *Core) redefineWorld(now time.Time) {
	c.log.Info("server empty, resetting world")
	c.teams.Reset()
	c.flags.ResetAll(now)
	c.rabbit = -1
	if !c.gameOver {
		c.endMatch(now)
	}
	c.gameOver = true
	c.countdown = false
	c.Publicize()
}

func (c *Core) endMatch(now time.Time) {
	info := c.match.End(now)
	c.record(match.Event{Kind: match.GameOver, Time: now, Other: -1, Reason: info.Title})
}

func (c *Core) rabbitID() byte {
	if c.rabbit < 0 {
		return protocol.NoPlayer
	}
	return byte(c.rabbit)
}

// anointRabbit picks the next hunted player and announces a change.
func (c *Core) anointRabbit() {
	old := c.rabbit
	c.rabbit = player.SelectRabbit(c.players[:c.reg.CurMax()], old)
	if c.rabbit != old {
		c.broadcast(protocol.MsgNewRabbit, []byte{c.rabbitID()})
	}
}

func (c *Core) pausePlayer(slot int, paused bool) {
	c.players[slot].Paused = paused
	if c.rabbitMode() {
		if paused && slot == c.rabbit {
			c.anointRabbit()
		} else if !paused && c.rabbit < 0 {
			c.anointRabbit()
		}
	}
	c.broadcast(protocol.MsgPause, protocol.Pause{Player: byte(slot), Paused: paused}.Encode())
}

func (c *Core) playerAlive(slot int, m protocol.Alive) {
	p := &c.players[slot]
	p.State = player.Alive
	p.Flag = -1
	if p.IsObserver() {
		return
	}
	c.broadcast(protocol.MsgAlive, protocol.AliveNotice{Player: byte(slot), Alive: m}.Encode())
	if c.rabbitMode() && c.rabbit < 0 {
		c.anointRabbit()
	}
	c.record(match.Event{Kind: match.Spawn, Slot: slot, Callsign: p.Callsign, Team: uint16(p.Team), Other: -1})
}
