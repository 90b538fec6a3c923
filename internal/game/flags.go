package game

import (
	"time"

	"github.com/bzfsd/bzfsd/internal/flag"
	"github.com/bzfsd/bzfsd/internal/match"
	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

// resetFlag returns a flag to its spawn point and tells everyone.
func (c *Core) resetFlag(i int, now time.Time) {
	c.flags.Reset(i, now)
	c.sendFlagUpdate(i)
}

// zapFlag makes a flag vanish without a flight. A holder is told to drop
// it first.
func (c *Core) zapFlag(i int, now time.Time) {
	if !c.flags.Valid(i) {
		return
	}
	if holder := c.flags.Release(i); holder >= 0 {
		c.players[holder].Flag = -1
		c.broadcast(protocol.MsgDropFlag, protocol.DropFlag{
			Player: byte(holder), Index: uint16(i), Flag: c.flags.Info(i),
		}.Encode())
	}
	c.resetFlag(i, now)
}

func (c *Core) grabFlag(slot, i int) {
	p := &c.players[slot]
	if p.IsObserver() || p.State != player.Alive || p.Flag != -1 || !c.flags.Valid(i) {
		return
	}
	if !c.flags.Grab(i, slot, p.LastState.Pos) {
		c.log.Debug("grab refused", "slot", slot, "callsign", p.Callsign, "flag", i)
		return
	}
	p.Flag = i
	f := c.flags.Get(i)
	p.History.Push(f.Desc.Abbrev)
	c.broadcast(protocol.MsgGrabFlag, protocol.GrabFlag{
		Player: byte(slot), Index: uint16(i), Flag: c.flags.Info(i),
	}.Encode())
	c.record(match.Event{Kind: match.FlagGrab, Slot: slot, Callsign: p.Callsign, Team: uint16(p.Team), Flag: f.Desc.Abbrev, Other: -1})
}

// dropFlag throws the flag slot holds from pos.
func (c *Core) dropFlag(slot int, pos protocol.Vec3, now time.Time) {
	p := &c.players[slot]
	i := p.Flag
	if i < 0 || !c.flags.Drop(i, pos, now) {
		return
	}
	p.Flag = -1
	c.broadcast(protocol.MsgDropFlag, protocol.DropFlag{
		Player: byte(slot), Index: uint16(i), Flag: c.flags.Info(i),
	}.Encode())
	c.sendFlagUpdate(i)
	c.record(match.Event{Kind: match.FlagDrop, Slot: slot, Callsign: p.Callsign, Team: uint16(p.Team), Flag: c.flags.Get(i).Desc.Abbrev, Other: -1})
}

// captureFlag scores a team flag brought to a base.
func (c *Core) captureFlag(slot int, captured player.Team, now time.Time) {
	p := &c.players[slot]
	i := p.Flag
	if i < 0 || !c.flags.Get(i).Desc.IsTeam() {
		return
	}
	flagTeam := c.flags.Get(i).Desc.Team

	p.Flag = -1
	c.flags.Release(i)
	c.resetFlag(i, now)
	c.broadcast(protocol.MsgCaptureFlag, protocol.CaptureFlag{
		Player: byte(slot), Index: uint16(i), Team: uint16(captured),
	}.Encode())

	for k := 0; k < c.reg.CurMax(); k++ {
		if c.reg.Connected(k) && c.players[k].Team == flagTeam && c.players[k].State == player.Alive {
			c.players[k].State = player.Dead
		}
	}

	winner := player.NoTeam
	if flagTeam != p.Team {
		winner = p.Team
		c.teams[winner].Won++
	}
	c.teams[flagTeam].Lost++
	c.sendTeamUpdate(-1, winner, flagTeam)
	c.record(match.Event{Kind: match.Capture, Slot: slot, Callsign: p.Callsign, Team: uint16(p.Team),
		Flag: c.flags.Get(i).Desc.Abbrev, Other: int(captured)})
	if winner != player.NoTeam {
		c.checkTeamScore(slot, winner, now)
	}
}

// transferFlag moves a flag between two tanks, as the thief flag does.
func (c *Core) transferFlag(slot int, m protocol.TransferFlag, now time.Time) {
	from, to := int(m.From), int(m.To)
	if from == to || (slot != from && slot != to) || !c.joinedSlot(from) || !c.joinedSlot(to) {
		return
	}
	i := c.players[from].Flag
	if i < 0 {
		return
	}
	if held := c.players[to].Flag; held >= 0 {
		c.zapFlag(held, now)
	}
	c.flags.Transfer(i, to)
	c.players[to].Flag = i
	c.players[from].Flag = -1
	c.players[to].History.Push(c.flags.Get(i).Desc.Abbrev)
	c.broadcast(protocol.MsgTransferFlag, protocol.TransferNotice{
		From: m.From, To: m.To, Index: uint16(i), Flag: c.flags.Info(i),
	}.Encode())
}

func (c *Core) joinedSlot(slot int) bool {
	return slot >= 0 && slot < c.reg.CurMax() && c.players[slot].Joined()
}

// sweepFlags lands or recycles flags whose flight has ended.
func (c *Core) sweepFlags(now time.Time) {
	for _, i := range c.flags.Tick(now) {
		c.sendFlagUpdate(i)
	}
}

// expireTeamFlags removes abandoned team flags whose timeout passed.
func (c *Core) expireTeamFlags(now time.Time) {
	for _, i := range c.flags.ExpireTeamFlags(now) {
		c.log.Debug("team flag timed out", "flag", c.flags.Get(i).Desc.Abbrev)
		c.sendFlagUpdate(i)
	}
}

func (c *Core) insertExtraFlag(now time.Time) {
	if i := c.flags.InsertExtra(now); i >= 0 {
		c.sendFlagUpdate(i)
	}
}

// heldDesc is the descriptor of the flag slot holds, or Null.
func (c *Core) heldDesc(slot int) *flag.Descriptor {
	if i := c.players[slot].Flag; c.flags.Valid(i) {
		return c.flags.Get(i).Desc
	}
	return flag.Null
}
