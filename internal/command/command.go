// Package command runs the slash commands players type into chat.
package command

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/bzfsd/bzfsd/internal/acl"
	"github.com/bzfsd/bzfsd/internal/game"
	"github.com/bzfsd/bzfsd/internal/player"
)

const maxPasswordAttempts = 5

// Game is what the commands act on.
type Game interface {
	Player(slot int) *player.Player
	Tell(slot int, text string)
	Lookup(callsign string) (int, bool)
	Kick(slot int, message, reason string)
	KickMatching(match func(netip.Addr) bool, message, reason string) int
	ResetFlags(onlyUnused bool)
	FlagsUp()
	FlagReport() []string
	SuperKill()
	EndGame(slot int)
	StartCountdown() bool
	Shutdown()
	LagWarn() time.Duration
	SetLagWarn(d time.Duration)
	LagStats() []string
	IdleStats() []string
	FlagHistory() []string
	PlayerList() []string
}

var _ Game = (*game.Core)(nil)

// BanList is the address ban collaborator.
type BanList interface {
	Ban(pattern string, d time.Duration) error
	Unban(pattern string) bool
	Bans() []acl.Ban
	Banned(addr netip.Addr) bool
}

var _ BanList = (*acl.List)(nil)

type handler func(slot int, args string)

type entry struct {
	operator bool
	run      handler
}

// Runner implements game.Commands.
type Runner struct {
	game     Game
	bans     BanList
	password string
	log      *slog.Logger
	now      func() time.Time
	table    map[string]entry
}

var _ game.Commands = (*Runner)(nil)

// New builds the command table. bans may be nil, which leaves the ban
// commands out. An empty password disables operator login.
func New(g Game, bans BanList, password string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{game: g, bans: bans, password: password, log: log, now: time.Now}
	r.table = map[string]entry{
		"password":       {false, r.login},
		"shutdownserver": {true, func(int, string) { r.game.Shutdown() }},
		"superkill":      {true, func(int, string) { r.game.SuperKill() }},
		"gameover":       {true, func(slot int, _ string) { r.game.EndGame(slot) }},
		"countdown":      {true, r.countdown},
		"flag":           {true, r.flag},
		"kick":           {true, r.kick},
		"lagwarn":        {true, r.lagwarn},
		"lagstats":       {false, r.lines(g.LagStats)},
		"idlestats":      {false, r.lines(g.IdleStats)},
		"flaghistory":    {false, r.lines(g.FlagHistory)},
		"playerlist":     {true, r.lines(g.PlayerList)},
	}
	if bans != nil {
		r.table["ban"] = entry{true, r.ban}
		r.table["unban"] = entry{true, r.unban}
		r.table["banlist"] = entry{true, r.banlist}
	}
	return r
}

// Run executes one chat line that starts with '/'.
func (r *Runner) Run(slot int, line string) {
	word, args, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	args = strings.TrimSpace(args)
	e, ok := r.table[word]
	if !ok || (e.operator && !r.game.Player(slot).Operator) {
		r.game.Tell(slot, fmt.Sprintf("Unknown command [%s]", word))
		return
	}
	r.log.Debug("running command", "slot", slot, "command", word)
	e.run(slot, args)
}

func (r *Runner) lines(fn func() []string) handler {
	return func(slot int, _ string) {
		for _, l := range fn() {
			r.game.Tell(slot, l)
		}
	}
}

func (r *Runner) login(slot int, pw string) {
	p := r.game.Player(slot)
	if p.PasswordAttempts >= maxPasswordAttempts {
		r.game.Tell(slot, "Too many attempts")
		return
	}
	p.PasswordAttempts++
	if r.password == "" || pw != r.password {
		r.log.Warn("operator login failed", "slot", slot, "callsign", p.Callsign, "attempts", p.PasswordAttempts)
		r.game.Tell(slot, "Wrong Password!")
		return
	}
	p.PasswordAttempts = 0
	p.Operator = true
	r.log.Info("operator login", "slot", slot, "callsign", p.Callsign)
	r.game.Tell(slot, "You are now an administrator!")
}

func (r *Runner) countdown(slot int, _ string) {
	r.game.StartCountdown()
	r.game.Tell(slot, "Countdown started.")
}

func (r *Runner) flag(slot int, args string) {
	sub, rest, _ := strings.Cut(args, " ")
	switch sub {
	case "reset":
		r.game.ResetFlags(strings.TrimSpace(rest) == "unused")
	case "up":
		r.game.FlagsUp()
	case "show":
		for _, l := range r.game.FlagReport() {
			r.game.Tell(slot, l)
		}
	default:
		r.game.Tell(slot, "usage: /flag reset [unused] | up | show")
	}
}

func (r *Runner) kick(slot int, callsign string) {
	victim, ok := r.game.Lookup(callsign)
	if !ok {
		r.game.Tell(slot, fmt.Sprintf("player %s not found", callsign))
		return
	}
	r.game.Kick(victim, fmt.Sprintf("You were kicked off the server by %s", r.game.Player(slot).Callsign), "/kick")
}

func (r *Runner) ban(slot int, args string) {
	pattern, minutes, _ := strings.Cut(args, " ")
	var d time.Duration
	if n, err := strconv.Atoi(strings.TrimSpace(minutes)); err == nil && n > 0 {
		d = time.Duration(n) * time.Minute
	}
	if err := r.bans.Ban(pattern, d); err != nil {
		r.game.Tell(slot, "malformed address")
		return
	}
	r.game.Tell(slot, "IP pattern added to banlist")
	by := r.game.Player(slot).Callsign
	n := r.game.KickMatching(r.bans.Banned, fmt.Sprintf("You were banned from this server by %s", by), "/ban")
	r.log.Info("ban added", "pattern", pattern, "duration", d, "by", by, "kicked", n)
}

func (r *Runner) unban(slot int, pattern string) {
	if r.bans.Unban(pattern) {
		r.game.Tell(slot, "removed IP pattern")
		return
	}
	r.game.Tell(slot, "no pattern removed")
}

func (r *Runner) banlist(slot int, _ string) {
	r.game.Tell(slot, "IP Ban List")
	r.game.Tell(slot, "-----------")
	now := r.now()
	for _, b := range r.bans.Bans() {
		if b.Expires.IsZero() {
			r.game.Tell(slot, fmt.Sprintf("  %s", b.Pattern))
			continue
		}
		left := b.Expires.Sub(now).Round(time.Minute)
		r.game.Tell(slot, fmt.Sprintf("  %s (%d minutes)", b.Pattern, int(left.Minutes())))
	}
}

func (r *Runner) lagwarn(slot int, args string) {
	if args == "" {
		r.game.Tell(slot, fmt.Sprintf("lagwarn is set to %d ms", r.game.LagWarn().Milliseconds()))
		return
	}
	ms, _ := strconv.Atoi(args)
	r.game.SetLagWarn(time.Duration(ms) * time.Millisecond)
	r.game.Tell(slot, fmt.Sprintf("lagwarn is now %d ms", r.game.LagWarn().Milliseconds()))
}
