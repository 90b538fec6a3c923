package command

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzfsd/bzfsd/internal/acl"
	"github.com/bzfsd/bzfsd/internal/player"
)

type fakeGame struct {
	players  []player.Player
	addrs    []netip.Addr
	told     map[int][]string
	kicked   map[int]string
	calls    []string
	lagWarn  time.Duration
	unused   bool
	shutdown bool
}

func newFakeGame() *fakeGame {
	g := &fakeGame{told: map[int][]string{}, kicked: map[int]string{}, lagWarn: 300 * time.Millisecond}
	for i, cs := range []string{"alpha", "bravo", "charlie"} {
		g.players = append(g.players, player.Player{Callsign: cs, State: player.Alive})
		g.addrs = append(g.addrs, netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)}))
	}
	return g
}

func (g *fakeGame) Player(slot int) *player.Player { return &g.players[slot] }
func (g *fakeGame) Tell(slot int, text string)     { g.told[slot] = append(g.told[slot], text) }
func (g *fakeGame) Lookup(cs string) (int, bool) {
	for i := range g.players {
		if g.players[i].Callsign == cs {
			return i, true
		}
	}
	return -1, false
}
func (g *fakeGame) Kick(slot int, message, _ string) { g.kicked[slot] = message }
func (g *fakeGame) KickMatching(match func(netip.Addr) bool, message, reason string) int {
	n := 0
	for i, a := range g.addrs {
		if match(a) {
			g.Kick(i, message, reason)
			n++
		}
	}
	return n
}
func (g *fakeGame) ResetFlags(onlyUnused bool)  { g.unused = onlyUnused; g.calls = append(g.calls, "reset") }
func (g *fakeGame) FlagsUp()                    { g.calls = append(g.calls, "up") }
func (g *fakeGame) FlagReport() []string        { return []string{"0 p:-1", "1 p:2"} }
func (g *fakeGame) SuperKill()                  { g.calls = append(g.calls, "superkill") }
func (g *fakeGame) EndGame(int)                 { g.calls = append(g.calls, "gameover") }
func (g *fakeGame) StartCountdown() bool        { g.calls = append(g.calls, "countdown"); return true }
func (g *fakeGame) Shutdown()                   { g.shutdown = true }
func (g *fakeGame) LagWarn() time.Duration      { return g.lagWarn }
func (g *fakeGame) SetLagWarn(d time.Duration)  { g.lagWarn = d }
func (g *fakeGame) LagStats() []string          { return []string{"alpha : 40ms (3)"} }
func (g *fakeGame) IdleStats() []string         { return []string{"alpha : 2s"} }
func (g *fakeGame) FlagHistory() []string       { return []string{"alpha : (V)"} }
func (g *fakeGame) PlayerList() []string        { return []string{"[0]alpha: 10.0.0.1"} }

func setup(t *testing.T) (*Runner, *fakeGame, *acl.List) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bans, err := acl.New(0, 0, nil, log)
	require.NoError(t, err)
	g := newFakeGame()
	return New(g, bans, "sesame", log), g, bans
}

func (g *fakeGame) last(slot int) string {
	l := g.told[slot]
	if len(l) == 0 {
		return ""
	}
	return l[len(l)-1]
}

func TestPassword(t *testing.T) {
	r, g, _ := setup(t)

	r.Run(0, "/password wrong")
	assert.Equal(t, "Wrong Password!", g.last(0))
	assert.False(t, g.players[0].Operator)

	r.Run(0, "/password sesame")
	assert.Equal(t, "You are now an administrator!", g.last(0))
	assert.True(t, g.players[0].Operator)
	assert.Zero(t, g.players[0].PasswordAttempts)
}

func TestPassword_TooManyAttempts(t *testing.T) {
	r, g, _ := setup(t)
	for range maxPasswordAttempts {
		r.Run(1, "/password nope")
	}
	r.Run(1, "/password sesame")
	assert.Equal(t, "Too many attempts", g.last(1))
	assert.False(t, g.players[1].Operator)
}

func TestPassword_DisabledWhenUnset(t *testing.T) {
	g := newFakeGame()
	r := New(g, nil, "", nil)
	r.Run(0, "/password ")
	assert.Equal(t, "Wrong Password!", g.last(0))
	assert.False(t, g.players[0].Operator)
}

func TestOperatorOnly(t *testing.T) {
	r, g, _ := setup(t)
	for _, line := range []string{"/kick bravo", "/superkill", "/flag show", "/ban 10.0.0.2", "/playerlist"} {
		r.Run(0, line)
	}
	assert.Empty(t, g.kicked)
	assert.Empty(t, g.calls)
	assert.Equal(t, "Unknown command [playerlist]", g.last(0))
}

func TestPublicCommands(t *testing.T) {
	r, g, _ := setup(t)
	r.Run(2, "/lagstats")
	r.Run(2, "/idlestats")
	r.Run(2, "/flaghistory")
	assert.Equal(t, []string{"alpha : 40ms (3)", "alpha : 2s", "alpha : (V)"}, g.told[2])
}

func TestUnknown(t *testing.T) {
	r, g, _ := setup(t)
	r.Run(0, "/dance now")
	assert.Equal(t, "Unknown command [dance]", g.last(0))
}

func TestKick(t *testing.T) {
	r, g, _ := setup(t)
	g.players[0].Operator = true

	r.Run(0, "/kick bravo")
	assert.Equal(t, "You were kicked off the server by alpha", g.kicked[1])

	r.Run(0, "/kick delta")
	assert.Equal(t, "player delta not found", g.last(0))
}

func TestFlagCommands(t *testing.T) {
	r, g, _ := setup(t)
	g.players[0].Operator = true

	r.Run(0, "/flag reset unused")
	assert.True(t, g.unused)
	r.Run(0, "/flag reset")
	assert.False(t, g.unused)
	r.Run(0, "/flag up")
	assert.Equal(t, []string{"reset", "reset", "up"}, g.calls)

	r.Run(0, "/flag show")
	assert.Equal(t, []string{"0 p:-1", "1 p:2"}, g.told[0])
}

func TestBanCommands(t *testing.T) {
	r, g, bans := setup(t)
	g.players[0].Operator = true

	r.Run(0, "/ban 10.0.0.*x")
	assert.Equal(t, "malformed address", g.last(0))

	r.Run(0, "/ban 10.0.0.2 30")
	assert.Equal(t, "IP pattern added to banlist", g.last(0))
	assert.Equal(t, map[int]string{1: "You were banned from this server by alpha"}, g.kicked)
	require.Len(t, bans.Bans(), 1)
	assert.False(t, bans.Bans()[0].Expires.IsZero())

	r.Run(0, "/banlist")
	require.Len(t, g.told[0], 5)
	assert.Equal(t, "IP Ban List", g.told[0][2])
	assert.Contains(t, g.told[0][4], "10.0.0.2")

	r.Run(0, "/unban 10.0.0.2")
	assert.Equal(t, "removed IP pattern", g.last(0))
	r.Run(0, "/unban 10.0.0.2")
	assert.Equal(t, "no pattern removed", g.last(0))
}

func TestLagWarn(t *testing.T) {
	r, g, _ := setup(t)
	g.players[0].Operator = true

	r.Run(0, "/lagwarn")
	assert.Equal(t, "lagwarn is set to 300 ms", g.last(0))
	r.Run(0, "/lagwarn 450")
	assert.Equal(t, "lagwarn is now 450 ms", g.last(0))
	assert.Equal(t, 450*time.Millisecond, g.lagWarn)
}

func TestGameControl(t *testing.T) {
	r, g, _ := setup(t)
	g.players[0].Operator = true

	r.Run(0, "/countdown")
	assert.Equal(t, "Countdown started.", g.last(0))
	r.Run(0, "/gameover")
	r.Run(0, "/superkill")
	r.Run(0, "/shutdownserver")
	assert.Equal(t, []string{"countdown", "gameover", "superkill"}, g.calls)
	assert.True(t, g.shutdown)
}
