package game

import (
	"time"

	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

const (
	maxWait          = 3 * time.Second
	countdownWait    = time.Second
	timeUpdatePeriod = 30 * time.Second
	reAddInterval    = 30 * time.Minute
	// flushRetry paces retries of output a peer did not take in one write.
	flushRetry = 20 * time.Millisecond
)

// NextWake is how long the reactor may block before something is due: a
// flag landing, a lag ping, the countdown, a buffered frame or output still
// waiting to be written.
func (c *Core) NextWake(now time.Time) time.Duration {
	wait := maxWait
	if c.countdown && c.cfg.Game.TimeLimit > 0 {
		wait = countdownWait
	}
	if next, ok := c.flags.NextDeadline(); ok {
		wait = min(wait, next.Sub(now))
	}
	for i := 0; i < c.reg.CurMax(); i++ {
		if c.players[i].State == player.Alive {
			wait = min(wait, c.players[i].Lag.NextPing.Sub(now))
		}
		if s := c.reg.Get(i); s.Connected() && s.Queued() > 0 {
			wait = min(wait, flushRetry)
		}
	}
	if c.Pending() {
		wait = 0
	}
	return max(wait, 0)
}

// Sweep lands or recycles flags whose flight ended.
func (c *Core) Sweep(now time.Time) {
	c.sweepFlags(now)
	c.commit()
}

// Housekeep runs the periodic checks of one reactor tick.
func (c *Core) Housekeep(now time.Time) {
	defer c.commit()

	c.checkTimeLimit(now)
	c.kickIdle(now)
	if c.ctf() {
		c.expireTeamFlags(now)
	}
	if !c.gameOver {
		c.insertExtraFlag(now)
	}
	c.sendLagPings(now)
	if c.lister != nil && now.Sub(c.lastAdd) > c.reAddInterval() {
		c.Publicize()
	}
	c.kickNoUDP()
}

func (c *Core) reAddInterval() time.Duration {
	if d := c.cfg.ListServer.ReAdd; d > 0 {
		return d
	}
	return reAddInterval
}

func (c *Core) timeLeft(now time.Time) time.Duration {
	return max(c.cfg.Game.TimeLimit-now.Sub(c.gameStart), 0)
}

// checkTimeLimit sends MsgTimeUpdate every 30 seconds of a countdown and
// ends the game when it runs out.
func (c *Core) checkTimeLimit(now time.Time) {
	if c.gameOver || !c.countdown || c.cfg.Game.TimeLimit <= 0 {
		return
	}
	elapsed := now.Sub(c.gameStart)
	left := c.timeLeft(now)
	if left == 0 {
		c.log.Info("time limit reached")
		c.setGameOver(now)
	}
	if left == 0 || elapsed-c.timeElapsed >= timeUpdatePeriod {
		c.broadcast(protocol.MsgTimeUpdate, protocol.EncodeU16(uint16(left/time.Second)))
		c.timeElapsed = elapsed
	}
}

// kickIdle removes dead tanks that stopped reporting. Players who chatted
// recently get three times as long.
func (c *Core) kickIdle(now time.Time) {
	limit := c.cfg.Game.IdleKick
	if limit <= 0 {
		return
	}
	for i := 0; i < c.reg.CurMax(); i++ {
		p := &c.players[i]
		if p.IsObserver() || p.State != player.Dead {
			continue
		}
		allowed := limit
		if now.Sub(p.LastMsg) < limit {
			allowed = 3 * limit
		}
		if idle := now.Sub(p.LastUpdate); idle > allowed {
			c.log.Info("idle player", "slot", i, "callsign", p.Callsign, "idle", idle)
			c.kick(i, "You were kicked because of idling too long", "idling")
		}
	}
}

func (c *Core) sendLagPings(now time.Time) {
	for i := 0; i < c.reg.CurMax(); i++ {
		p := &c.players[i]
		if p.State != player.Alive || !p.Lag.Due(now) {
			continue
		}
		c.unicast(i, protocol.MsgLagPing, protocol.EncodeU16(p.Lag.NextSeq(now)))
	}
}

func (c *Core) kickNoUDP() {
	if !c.cfg.Network.RequireUDP {
		return
	}
	for i := 0; i < c.reg.CurMax(); i++ {
		p := &c.players[i]
		if !p.ToBeKicked {
			continue
		}
		p.ToBeKicked = false
		c.Tell(i, "Your end is not using UDP, turn on udp")
		c.Tell(i, "upgrade your client or")
		c.kick(i, "Try another server, Bye!", "no UDP")
	}
}

// Stats is a point-in-time view of the server for monitoring.
type Stats struct {
	Players     int
	Observers   int
	Sessions    int
	FlagsInAir  int
	BytesQueued int
	GameOver    bool
	TimeLeft    time.Duration
}

// Stats summarizes the tables.
func (c *Core) Stats(now time.Time) Stats {
	st := Stats{FlagsInAir: c.flags.InAir(), GameOver: c.gameOver}
	if c.countdown {
		st.TimeLeft = c.timeLeft(now)
	}
	for i := 0; i < c.reg.CurMax(); i++ {
		s := c.reg.Get(i)
		if !s.Connected() {
			continue
		}
		st.Sessions++
		st.BytesQueued += s.Queued()
		switch p := &c.players[i]; {
		case !p.Joined():
		case p.IsObserver():
			st.Observers++
		default:
			st.Players++
		}
	}
	return st
}
