package game

import (
	"fmt"
	"strings"

	"github.com/bzfsd/bzfsd/internal/dispatcher"
	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
	"github.com/bzfsd/bzfsd/internal/world"
)

func (c *Core) inLimbo(e dispatcher.Event) bool { return c.players[e.Slot].State == player.InLimbo }
func (c *Core) joined(e dispatcher.Event) bool  { return c.players[e.Slot].Joined() }
func (c *Core) playing(e dispatcher.Event) bool {
	return c.players[e.Slot].Joined() && !c.players[e.Slot].IsObserver()
}

// register fills the opcode table. Opcodes that may not arrive over UDP
// get a guard refusing datagrams.
func (c *Core) register() {
	on := func(code protocol.Code, h dispatcher.HandlerFunc, opts ...dispatcher.Option) {
		if !code.UDPEligible() {
			opts = append(opts, dispatcher.Guard(func(e dispatcher.Event) bool { return !e.UDP }))
		}
		c.disp.Register(code, h, opts...)
	}
	joined := dispatcher.Guard(c.joined)
	playing := dispatcher.Guard(c.playing)

	on(protocol.MsgEnter, dispatcher.Route(protocol.DecodeEnter, c.onEnter), dispatcher.Guard(c.inLimbo), dispatcher.Logged())
	on(protocol.MsgExit, c.onExit, dispatcher.Logged())
	on(protocol.MsgNegotiateFlags, c.onNegotiateFlags)
	on(protocol.MsgGetWorld, dispatcher.Route(protocol.DecodeU32, c.onGetWorld))
	on(protocol.MsgWantWHash, c.onWantWHash)
	on(protocol.MsgQueryGame, c.onQueryGame)
	on(protocol.MsgQueryPlayers, c.onQueryPlayers)

	on(protocol.MsgAlive, dispatcher.Route(protocol.DecodeAlive, c.onAlive), joined, dispatcher.Logged())
	on(protocol.MsgKilled, dispatcher.Route(protocol.DecodeKilled, c.onKilled), playing, dispatcher.Logged())
	on(protocol.MsgGrabFlag, dispatcher.Route(protocol.DecodeU16, c.onGrabFlag), playing)
	on(protocol.MsgDropFlag, dispatcher.Route(protocol.DecodeVec, c.onDropFlag), playing)
	on(protocol.MsgCaptureFlag, dispatcher.Route(protocol.DecodeU16, c.onCaptureFlag), playing, dispatcher.Logged())
	on(protocol.MsgTransferFlag, dispatcher.Route(protocol.DecodeTransferFlag, c.onTransferFlag), playing)

	on(protocol.MsgShotBegin, c.onShotBegin, playing)
	on(protocol.MsgShotEnd, dispatcher.Route(protocol.DecodeShotEnd, c.onShotEnd), playing)
	on(protocol.MsgTeleport, dispatcher.Route(protocol.DecodeTeleport, c.onTeleport), playing)
	on(protocol.MsgMessage, dispatcher.Route(protocol.DecodeMessage, c.onMessage), joined)

	on(protocol.MsgUDPLinkRequest, dispatcher.Route(protocol.DecodeU16, c.onUDPLinkRequest))
	on(protocol.MsgUDPLinkEstablished, c.onUDPLinkEstablished)
	on(protocol.MsgNewRabbit, c.onNewRabbit, joined)
	on(protocol.MsgPause, dispatcher.Route(protocol.DecodeU8, c.onPause), joined)
	on(protocol.MsgLagPing, dispatcher.Route(protocol.DecodeU16, c.onLagPing), joined)

	on(protocol.MsgPlayerUpdate, dispatcher.Route(protocol.DecodePlayerUpdate, c.onPlayerUpdate), joined)
	on(protocol.MsgGMUpdate, c.onGMUpdate, playing)
}

func (c *Core) onEnter(e dispatcher.Event, m protocol.Enter) error {
	c.addPlayer(e.Slot, m, e.Timestamp)
	return nil
}

func (c *Core) onExit(e dispatcher.Event) error {
	c.removePlayer(e.Slot, "left", false)
	return nil
}

// onNegotiateFlags answers with the flags the client does not know.
func (c *Core) onNegotiateFlags(e dispatcher.Event) error {
	missing := c.flags.Missing(protocol.DecodeAbbrevs(e.Body))
	c.unicast(e.Slot, protocol.MsgNegotiateFlags, protocol.EncodeAbbrevs(missing))
	return nil
}

func (c *Core) onGetWorld(e dispatcher.Event, ptr uint32) error {
	if ptr == 0 {
		c.world.StampEpoch(uint32(e.Timestamp.Unix()))
	}
	c.unicast(e.Slot, protocol.MsgGetWorld, world.Chunk(c.world.Blob(), ptr).Encode())
	return nil
}

func (c *Core) onWantWHash(e dispatcher.Event) error {
	c.unicast(e.Slot, protocol.MsgWantWHash, append([]byte(c.world.Digest()), 0))
	return nil
}

func (c *Core) onQueryGame(e dispatcher.Event) error {
	c.unicast(e.Slot, protocol.MsgQueryGame, c.gameInfo().Encode())
	return nil
}

func (c *Core) onQueryPlayers(e dispatcher.Event) error {
	body := protocol.NewWriter(4).U16(player.NumTeams).U16(uint16(c.joinedCount())).Bytes()
	c.unicast(e.Slot, protocol.MsgQueryPlayers, body)
	c.sendTeamUpdate(e.Slot)
	for i := 0; i < c.reg.CurMax(); i++ {
		if c.players[i].Joined() {
			c.sendAddPlayer(i, e.Slot)
		}
	}
	return nil
}

func (c *Core) onAlive(e dispatcher.Event, m protocol.Alive) error {
	if c.players[e.Slot].State != player.Dead {
		return nil
	}
	c.playerAlive(e.Slot, m)
	return nil
}

func (c *Core) onKilled(e dispatcher.Event, m protocol.Killed) error {
	killer := -1
	if c.joinedSlot(int(m.Killer)) {
		killer = int(m.Killer)
	}
	c.playerKilled(e.Slot, killer, m.Reason, m.Shot, e.Timestamp)
	return nil
}

func (c *Core) onGrabFlag(e dispatcher.Event, i uint16) error {
	c.grabFlag(e.Slot, int(i))
	return nil
}

func (c *Core) onDropFlag(e dispatcher.Event, pos protocol.Vec3) error {
	pos = dropPosition(c.cfg, c.world.MaxHeight(), pos, c.players[e.Slot].LastState.Pos)
	c.dropFlag(e.Slot, pos, e.Timestamp)
	return nil
}

func (c *Core) onCaptureFlag(e dispatcher.Event, team uint16) error {
	c.captureFlag(e.Slot, player.Team(team), e.Timestamp)
	return nil
}

func (c *Core) onTransferFlag(e dispatcher.Event, m protocol.TransferFlag) error {
	c.transferFlag(e.Slot, m, e.Timestamp)
	return nil
}

func (c *Core) onShotBegin(e dispatcher.Event) error {
	c.shotFired(e.Slot, e.Body, e.Timestamp)
	return nil
}

func (c *Core) onShotEnd(e dispatcher.Event, m protocol.ShotEnd) error {
	c.shotEnded(m)
	return nil
}

func (c *Core) onTeleport(e dispatcher.Event, m protocol.Teleport) error {
	c.teleport(e.Slot, m)
	return nil
}

// onMessage relays chat, or hands a '/' line to the command collaborator
// with its command word lowercased.
func (c *Core) onMessage(e dispatcher.Event, m protocol.Message) error {
	p := &c.players[e.Slot]
	p.LastMsg = e.Timestamp
	text := strings.TrimRight(m.Text, "\x00")
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		word, rest, _ := strings.Cut(text, " ")
		line := strings.ToLower(word)
		if rest != "" {
			line += " " + rest
		}
		c.log.Info("command", "slot", e.Slot, "callsign", p.Callsign, "command", word)
		if c.commands != nil {
			c.commands.Run(e.Slot, line)
		}
		return nil
	}
	c.sendMessage(byte(e.Slot), m.To, text)
	return nil
}

// onUDPLinkRequest records the client's UDP port and answers with ours.
// The path is linked once a datagram from that address arrives.
func (c *Core) onUDPLinkRequest(e dispatcher.Event, port uint16) error {
	s := c.reg.Get(e.Slot)
	if s == nil {
		return nil
	}
	s.UDPLinked = false
	if !c.reg.SetUDPPort(e.Slot, port) {
		return nil
	}
	c.log.Debug("udp link requested", "slot", e.Slot, "addr", s.UDPAddr.String())
	c.unicast(e.Slot, protocol.MsgUDPLinkRequest, protocol.EncodeU16(uint16(c.cfg.Network.Port)))
	return nil
}

func (c *Core) onUDPLinkEstablished(e dispatcher.Event) error {
	c.log.Debug("udp link confirmed", "slot", e.Slot, "callsign", c.players[e.Slot].Callsign)
	return nil
}

func (c *Core) onNewRabbit(e dispatcher.Event) error {
	if c.rabbitMode() && e.Slot == c.rabbit {
		c.anointRabbit()
	}
	return nil
}

func (c *Core) onPause(e dispatcher.Event, v byte) error {
	c.pausePlayer(e.Slot, v != 0)
	return nil
}

func (c *Core) onLagPing(e dispatcher.Event, seq uint16) error {
	p := &c.players[e.Slot]
	rtt, ok := p.Lag.Pong(seq, e.Timestamp)
	if !ok {
		return nil
	}
	switch p.Lag.Record(rtt, c.lagWarn, c.cfg.Lag.MaxWarnings) {
	case player.LagWarn:
		c.Tell(e.Slot, fmt.Sprintf("*** Server Warning: your lag is too high (%d ms) ***", p.Lag.Avg.Milliseconds()))
	case player.LagKick:
		c.kick(e.Slot, fmt.Sprintf("You have been kicked due to excessive lag (you have been warned %d times).",
			c.cfg.Lag.MaxWarnings), "lag")
	}
	return nil
}

// onPlayerUpdate validates a movement sample and relays it. A bot
// controller may report for the bots it drives from the same address.
func (c *Core) onPlayerUpdate(e dispatcher.Event, m protocol.PlayerUpdate) error {
	slot := e.Slot
	if id := int(m.ID); id != slot {
		if !c.drivesBot(slot, id) {
			c.kick(slot, "Autokick: Using invalid PlayerId, don't cheat.", "invalid player id")
			return nil
		}
		slot = id
	}
	p := &c.players[slot]
	p.LastUpdate = e.Timestamp

	v := checkMovement(c.cfg, c.world.MaxHeight(), p.LastState, m.State, c.heldDesc(slot))
	switch v.Action {
	case Kick:
		c.log.Info("movement rejected", "slot", slot, "callsign", p.Callsign, "reason", v.Reason)
		c.kick(slot, v.Message, v.Reason)
		return nil
	case Drop:
		return nil
	case Warn:
		c.log.Info("movement suspicious", "slot", slot, "callsign", p.Callsign, "reason", v.Reason)
	}
	p.LastState = m.State

	if !p.IsObserver() {
		c.relay(e.Slot, protocol.Encode(e.Code, e.Body))
	}
	return nil
}

func (c *Core) drivesBot(slot, id int) bool {
	if !c.joinedSlot(id) || c.players[id].Type != player.Computer {
		return false
	}
	a, b := c.reg.Get(slot), c.reg.Get(id)
	return a != nil && b != nil && a.Addr.Addr() == b.Addr.Addr()
}

func (c *Core) onGMUpdate(e dispatcher.Event) error {
	c.relay(e.Slot, protocol.Encode(e.Code, e.Body))
	return nil
}
