package game

import (
	"fmt"
	"time"

	"github.com/bzfsd/bzfsd/internal/match"
	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

// minTeamKills is how many team kills a player gets before the ratio kick
// applies.
const minTeamKills = 3

// teamKill reports whether killer shooting victim counts against the
// killer's own team.
func (c *Core) teamKill(victim, killer int) bool {
	v, k := &c.players[victim], &c.players[killer]
	return victim != killer && v.Team == k.Team && (v.Team != player.Rogue || c.rabbitMode())
}

func (c *Core) playerKilled(victim, killer int, reason, shot int16, now time.Time) {
	v := &c.players[victim]
	if killer < 0 || v.State != player.Alive {
		return
	}
	v.State = player.Dead
	k := &c.players[killer]

	kickKiller := false
	if c.teamKill(victim, killer) {
		k.TKs++
		ratio := c.cfg.Game.TeamKillRatio
		kickKiller = k.TKs >= minTeamKills && ratio > 0 && (k.Wins == 0 || k.TKs*100/k.Wins > ratio)
	}
	if kickKiller {
		defer c.kick(killer, "You have been automatically kicked for team killing", "teamkilling")
	}

	c.broadcast(protocol.MsgKilled, protocol.KilledNotice{
		Victim: byte(victim), Killer: byte(killer), Reason: reason, Shot: shot,
	}.Encode())

	if i := v.Flag; i >= 0 {
		if c.flags.Get(i).Desc.IsTeam() {
			c.dropFlag(victim, c.flags.Get(i).Pos, now)
		} else {
			c.zapFlag(i, now)
		}
	}

	v.Losses++
	if victim != killer {
		if c.teamKill(victim, killer) {
			if c.cfg.Game.TeamKillerDies {
				c.playerKilled(killer, killer, reason, -1, now)
			} else {
				k.Losses++
			}
		} else {
			k.Wins++
		}
	}
	c.broadcast(protocol.MsgScore, protocol.EncodeScore([]protocol.ScoreEntry{
		k.ScoreEntry(killer), v.ScoreEntry(victim),
	}))
	c.record(match.Event{Kind: match.Kill, Slot: victim, Callsign: v.Callsign, Team: uint16(v.Team),
		Other: killer, Reason: killReason(reason), Wins: k.Wins, Losses: v.Losses})

	if limit := c.cfg.Game.MaxPlayerScore; limit != 0 && k.Wins-k.Losses >= limit {
		c.broadcast(protocol.MsgScoreOver, protocol.ScoreOver{Player: byte(killer), Team: uint16(player.NoTeam)}.Encode())
		c.setGameOver(now)
	}

	if c.rabbitMode() {
		if victim == c.rabbit {
			c.anointRabbit()
		}
		return
	}
	if c.ctf() {
		return
	}

	winner := player.NoTeam
	killerTeam := player.NoTeam
	if v.Team == k.Team {
		if k.Team != player.Rogue || c.rabbitMode() {
			if killer == victim {
				c.teams[v.Team].Lost++
			} else {
				c.teams[v.Team].Lost += 2
			}
		}
	} else {
		if k.Team != player.Rogue {
			winner = k.Team
			c.teams[winner].Won++
		}
		if v.Team != player.Rogue {
			c.teams[v.Team].Lost++
		}
		killerTeam = k.Team
	}
	c.sendTeamUpdate(-1, v.Team, killerTeam)
	if winner != player.NoTeam {
		c.checkTeamScore(killer, winner, now)
	}
}

func (c *Core) checkTeamScore(slot int, t player.Team, now time.Time) {
	limit := c.cfg.Game.MaxTeamScore
	if limit == 0 || t == player.Rogue {
		return
	}
	if c.teams[t].Won-c.teams[t].Lost >= limit {
		c.broadcast(protocol.MsgScoreOver, protocol.ScoreOver{Player: byte(slot), Team: uint16(t)}.Encode())
		c.setGameOver(now)
	}
}

func (c *Core) setGameOver(now time.Time) {
	if c.gameOver {
		return
	}
	c.gameOver = true
	c.countdown = false
	c.endMatch(now)
}

func killReason(r int16) string {
	switch r {
	case protocol.KillGotShot:
		return "shot"
	case protocol.KillGotRunOver:
		return "run over"
	case protocol.KillGotCaptured:
		return "captured"
	case protocol.KillGenocideEffect:
		return "genocide"
	case protocol.KillSelfDestruct:
		return "self destruct"
	}
	return fmt.Sprintf("reason %d", r)
}

// shotFired validates a MsgShotBegin and relays it. Any failed check drops
// the shot without telling anyone.
func (c *Core) shotFired(slot int, body []byte, now time.Time) {
	p := &c.players[slot]
	if p.IsObserver() {
		return
	}
	fi, err := protocol.DecodeFiringInfo(body)
	if err != nil {
		c.log.Debug("bad shot", "slot", slot, "error", err)
		return
	}
	held := c.heldDesc(slot)
	v := checkShot(c.cfg, slot, p.LastState.Pos, held, &fi)
	switch v.Action {
	case Drop:
		c.log.Debug("shot dropped", "slot", slot, "callsign", p.Callsign, "reason", v.Reason)
		return
	case Warn:
		c.log.Debug("shot sanitized", "slot", slot, "callsign", p.Callsign, "reason", v.Reason)
		body = fi.Encode()
	}

	if i := p.Flag; i >= 0 {
		res := c.flags.Shot(i)
		switch {
		case res.Notify:
			c.Tell(slot, fmt.Sprintf("%d shots left", res.Left))
		case res.Exhausted:
			c.dropFlag(slot, p.LastState.Pos, now)
		}
	}
	c.broadcast(protocol.MsgShotBegin, body)
}

func (c *Core) shotEnded(m protocol.ShotEnd) {
	c.broadcast(protocol.MsgShotEnd, m.Encode())
}

func (c *Core) teleport(slot int, m protocol.Teleport) {
	c.broadcast(protocol.MsgTeleport, protocol.TeleportNotice{Player: byte(slot), Teleport: m}.Encode())
}
