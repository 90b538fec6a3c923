package game

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/netip"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/flag"
	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
	"github.com/bzfsd/bzfsd/internal/session"
	"github.com/bzfsd/bzfsd/internal/world"
)

func testConfig() *config.Config {
	return &config.Config{
		Network: config.NetworkConfig{Port: 5154, MaxPlayers: 10, MaxObservers: 2},
		Game: config.GameConfig{
			Title:    "test",
			Style:    config.StyleConfig{Rogues: true},
			MaxShots: 1,
			MaxTeam:  []int{20, 20, 20, 20, 20, 3},
		},
		Physics: config.PhysicsConfig{
			Gravity:        -9.8,
			TankSpeed:      25,
			TankRadius:     4.32,
			TankHeight:     2.05,
			FlagRadius:     2.5,
			FlagAltitude:   11,
			FlagHeight:     10,
			ShieldFlight:   2.7,
			JumpVelocity:   19,
			BurrowDepth:    -1.32,
			BurrowSpeedAd:  0.8,
			VelocityAd:     1.5,
			ThiefVelAd:     1.67,
			ObeseFactor:    2.5,
			MuzzleFront:    6.6,
			MuzzleHeight:   1.57,
			ShotSpeed:      100,
			ReloadTime:     3.5,
			WorldSize:      800,
			SpeedTolerance: 1.125,
		},
		Flags: config.FlagsConfig{TeamFlagTimeout: 30 * time.Second},
		Lag:   config.LagConfig{MaxWarnings: 3},
		World: world.DefaultConfig(800, 10),
	}
}

// fakeConn accepts at most limit bytes per Write (negative = unlimited)
// and reports a deadline error for the rest.
type fakeConn struct {
	buf    bytes.Buffer
	limit  int
	closed bool
}

func (c *fakeConn) Write(b []byte) (int, error) {
	if c.limit >= 0 && len(b) > c.limit {
		c.buf.Write(b[:c.limit])
		return c.limit, os.ErrDeadlineExceeded
	}
	c.buf.Write(b)
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeUDP struct {
	sent []netip.AddrPort
}

func (u *fakeUDP) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	u.sent = append(u.sent, addr)
	return len(b), nil
}

type frame struct {
	code protocol.Code
	body []byte
}

type harness struct {
	t     *testing.T
	reg   *session.Registry
	udp   *fakeUDP
	core  *Core
	now   time.Time
	conns map[int]*fakeConn
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := world.New(cfg.World)
	require.NoError(t, err)

	h := &harness{
		t:     t,
		reg:   session.NewRegistry(cfg.Capacity(), log),
		udp:   &fakeUDP{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		conns: map[int]*fakeConn{},
	}
	h.core, err = New(Dependencies{
		Config:   cfg,
		Logger:   log,
		Registry: h.reg,
		Fanout:   session.NewFanout(h.reg, h.udp),
		World:    w,
		Clock:    func() time.Time { return h.now },
		Rand:     rand.New(rand.NewPCG(1, 2)),
	})
	require.NoError(t, err)
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) connect(addr string) int {
	h.t.Helper()
	conn := &fakeConn{limit: -1}
	s, err := h.core.Accept(conn, netip.MustParseAddrPort(addr))
	require.NoError(h.t, err)
	h.conns[s.Slot] = conn
	return s.Slot
}

func (h *harness) send(slot int, code protocol.Code, body []byte) {
	s := h.reg.Get(slot)
	require.NotNil(h.t, s)
	h.core.Received(slot, s.Gen, protocol.Encode(code, body))
	for h.core.Pending() {
		h.core.Service()
	}
}

func (h *harness) enter(slot int, team player.Team, callsign string) {
	h.send(slot, protocol.MsgEnter, protocol.Enter{
		Type: uint16(player.Tank), Team: uint16(team), Callsign: callsign,
	}.Encode())
}

func (h *harness) join(addr string, team player.Team, callsign string) int {
	h.t.Helper()
	slot := h.connect(addr)
	h.enter(slot, team, callsign)
	require.True(h.t, h.core.Player(slot).Joined(), "%s should have joined", callsign)
	return slot
}

func (h *harness) spawn(slot int) {
	h.send(slot, protocol.MsgAlive, protocol.NewWriter(24).Vec(protocol.Vec3{}).Vec(protocol.Vec3{1, 0, 0}).Bytes())
}

func (h *harness) update(slot int, order int32, pos protocol.Vec3) {
	h.send(slot, protocol.MsgPlayerUpdate, protocol.PlayerUpdate{
		ID: byte(slot), State: aliveState(order, pos, protocol.Vec3{}),
	}.Encode())
}

// received parses everything written to slot after the handshake.
func (h *harness) received(slot int) []frame {
	h.t.Helper()
	b := h.conns[slot].buf.Bytes()[len(protocol.Handshake(0)):]
	var out []frame
	for len(b) >= protocol.HeaderLen {
		hdr, err := protocol.ReadHeader(b)
		require.NoError(h.t, err)
		end := protocol.HeaderLen + int(hdr.Len)
		require.LessOrEqual(h.t, end, len(b))
		out = append(out, frame{code: hdr.Code, body: b[protocol.HeaderLen:end]})
		b = b[end:]
	}
	return out
}

func (h *harness) last(slot int, code protocol.Code) (frame, bool) {
	fs := h.received(slot)
	for i := len(fs) - 1; i >= 0; i-- {
		if fs[i].code == code {
			return fs[i], true
		}
	}
	return frame{}, false
}

func TestJoin_AcceptsAndAnnounces(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	b := h.join("10.0.0.2:4000", player.Green, "bravo")

	f, ok := h.last(b, protocol.MsgAccept)
	require.True(t, ok)
	assert.Equal(t, []byte{byte(b)}, f.body)

	f, ok = h.last(a, protocol.MsgAddPlayer)
	require.True(t, ok, "existing players hear about the newcomer")
	m, err := protocol.DecodeAddPlayer(f.body)
	require.NoError(t, err)
	assert.Equal(t, "bravo", m.Callsign)
	assert.Equal(t, uint16(player.Green), m.Team)

	assert.False(t, h.core.gameOver, "the first connection starts the game")
}

func TestJoin_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.Config)
		team     player.Team
		callsign string
		want     uint16
	}{
		{"repeat callsign", nil, player.Blue, "ALPHA", protocol.RejectRepeatCallsign},
		{"empty callsign", nil, player.Blue, " \x01 ", protocol.RejectBadCallsign},
		{"bad team", nil, player.Team(9), "charlie", protocol.RejectBadTeam},
		{"no rogues", func(c *config.Config) { c.Game.Style.Rogues = false }, player.Rogue, "charlie", protocol.RejectNoRogues},
		{"team full", func(c *config.Config) { c.Game.MaxTeam[player.Red] = 1 }, player.Red, "charlie", protocol.RejectTeamFull},
		{"server full", func(c *config.Config) { c.Network.MaxPlayers = 1 }, player.Blue, "charlie", protocol.RejectServerFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.mutate)
			h.join("10.0.0.1:4000", player.Red, "alpha")

			slot := h.connect("10.0.0.2:4000")
			h.enter(slot, tt.team, tt.callsign)

			assert.Equal(t, player.InLimbo, h.core.Player(slot).State)
			f, ok := h.last(slot, protocol.MsgReject)
			require.True(t, ok)
			assert.Equal(t, protocol.EncodeU16(tt.want), f.body)
		})
	}
}

func TestJoin_ObserverLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Network.MaxObservers = 1 })
	h.join("10.0.0.1:4000", player.Observer, "watcher")

	slot := h.connect("10.0.0.2:4000")
	h.enter(slot, player.Observer, "watcher2")
	f, ok := h.last(slot, protocol.MsgReject)
	require.True(t, ok)
	assert.Equal(t, protocol.EncodeU16(protocol.RejectServerFull), f.body)
}

func TestTeams_ActiveSize(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	h.join("10.0.0.2:4000", player.Red, "bravo")
	h.join("10.0.0.3:4000", player.Observer, "watcher")

	teams := h.core.Teams()
	assert.Equal(t, 2, teams[player.Red].ActiveSize)
	assert.Equal(t, 1, teams[player.Observer].Size)

	h.send(a, protocol.MsgExit, nil)
	teams = h.core.Teams()
	assert.Equal(t, 1, teams[player.Red].ActiveSize)
	assert.Nil(t, h.reg.Get(a), "the slot is freed")

	for i := range teams {
		members := 0
		for s := 0; s < h.reg.CurMax(); s++ {
			if p := h.core.Player(s); p.Joined() && p.Team == player.Team(i) && p.CountsActive() {
				members++
			}
		}
		assert.Equal(t, members, teams[i].ActiveSize, "team %d", i)
	}
}

func TestPlayerUpdate_OrderReplayIgnored(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	h.spawn(a)

	h.update(a, 5, protocol.Vec3{10, 10, 0})
	require.Equal(t, protocol.Vec3{10, 10, 0}, h.core.Player(a).LastState.Pos)

	h.update(a, 5, protocol.Vec3{20, 20, 0})
	h.update(a, 4, protocol.Vec3{30, 30, 0})
	assert.Equal(t, protocol.Vec3{10, 10, 0}, h.core.Player(a).LastState.Pos)
	assert.Equal(t, int32(5), h.core.Player(a).LastState.Order)

	h.update(a, 6, protocol.Vec3{20, 20, 0})
	assert.Equal(t, protocol.Vec3{20, 20, 0}, h.core.Player(a).LastState.Pos)
}

func TestPlayerUpdate_OutOfBoundsKicks(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	h.spawn(a)
	conn := h.conns[a]

	h.update(a, 1, protocol.Vec3{500, 0, 0})
	assert.True(t, conn.closed)
	assert.Nil(t, h.reg.Get(a))
	assert.Contains(t, conn.buf.String(), "XY pos out of bounds")
}

func TestPlayerUpdate_ForeignIDKicks(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	b := h.join("10.0.0.2:4000", player.Green, "bravo")

	h.send(a, protocol.MsgPlayerUpdate, protocol.PlayerUpdate{
		ID: byte(b), State: aliveState(1, protocol.Vec3{}, protocol.Vec3{}),
	}.Encode())
	assert.Nil(t, h.reg.Get(a))
	assert.NotNil(t, h.reg.Get(b))
}

func TestFlags_CTFGrabAndDrop(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Game.Style.CaptureTheFlag = true })
	h.join("10.0.0.1:4000", player.Red, "alpha")

	red := h.core.Flags().TeamFlag(player.Red)
	require.GreaterOrEqual(t, red, 0)
	f := h.core.Flags().Get(red)
	assert.Equal(t, flag.Coming, f.Status, "a team flag drops in once its team has a member")

	h.advance(5 * time.Second)
	h.core.Sweep(h.now)
	require.Equal(t, flag.OnGround, f.Status)
	home := f.Pos

	b := h.join("10.0.0.2:4000", player.Green, "bravo")
	h.spawn(b)
	h.update(b, 1, home)
	h.send(b, protocol.MsgGrabFlag, protocol.EncodeU16(uint16(red)))
	require.Equal(t, flag.OnTank, f.Status)
	assert.Equal(t, b, f.Owner)
	assert.Equal(t, red, h.core.Player(b).Flag)

	f.Grabs = 3
	h.send(b, protocol.MsgDropFlag, protocol.NewWriter(12).Vec(protocol.Vec3{50, 50, 3}).Bytes())
	assert.Equal(t, flag.InAir, f.Status)
	assert.Equal(t, protocol.Vec3{50, 50, 0}, f.LandingPos)
	assert.Equal(t, -1, f.Owner)
	assert.Equal(t, -1, h.core.Player(b).Flag)
	assert.Equal(t, 2, f.Grabs)

	h.core.Sweep(h.now)
	assert.Equal(t, flag.InAir, f.Status, "still flying")

	h.advance(5 * time.Second)
	h.core.Sweep(h.now)
	assert.Equal(t, flag.OnGround, f.Status)
	assert.Equal(t, protocol.Vec3{50, 50, 0}, f.Pos)
}

func TestFlags_GrabOutOfReachRefused(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Game.Style.CaptureTheFlag = true })
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	red := h.core.Flags().TeamFlag(player.Red)
	h.advance(5 * time.Second)
	h.core.Sweep(h.now)

	h.spawn(a)
	h.update(a, 1, protocol.Vec3{0, 200, 0})
	h.send(a, protocol.MsgGrabFlag, protocol.EncodeU16(uint16(red)))
	assert.Equal(t, flag.OnGround, h.core.Flags().Get(red).Status)
	assert.Equal(t, -1, h.core.Player(a).Flag)
}

// ctfWithRedFlagDown joins alpha on red and lands the red team flag.
func ctfWithRedFlagDown(t *testing.T) (*harness, int, int) {
	t.Helper()
	h := newHarness(t, func(c *config.Config) { c.Game.Style.CaptureTheFlag = true })
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	red := h.core.Flags().TeamFlag(player.Red)
	require.GreaterOrEqual(t, red, 0)
	h.advance(5 * time.Second)
	h.core.Sweep(h.now)
	require.Equal(t, flag.OnGround, h.core.Flags().Get(red).Status)
	return h, a, red
}

// grabAt moves slot onto the flag and picks it up.
func (h *harness) grabAt(slot, i int, order int32) {
	h.t.Helper()
	h.update(slot, order, h.core.Flags().Get(i).Pos)
	h.send(slot, protocol.MsgGrabFlag, protocol.EncodeU16(uint16(i)))
	require.Equal(h.t, i, h.core.Player(slot).Flag)
}

func (h *harness) killedBy(victim, killer int) {
	h.send(victim, protocol.MsgKilled, protocol.Killed{Killer: byte(killer), Reason: protocol.KillGotShot, Shot: -1}.Encode())
}

func TestFlags_DropFromHighAltitudeReturns(t *testing.T) {
	h, _, red := ctfWithRedFlagDown(t)
	b := h.join("10.0.0.2:4000", player.Green, "bravo")
	h.spawn(b)
	h.grabAt(b, red, 1)
	f := h.core.Flags().Get(red)
	f.Grabs = 3

	s := h.reg.Get(b)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.core.Received(b, s.Gen, protocol.Encode(protocol.MsgDropFlag,
			protocol.NewWriter(12).Vec(protocol.Vec3{50, 50, 1e9}).Bytes()))
		for h.core.Pending() {
			h.core.Service()
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("MsgDropFlag with z=1e9 hung the core")
	}

	assert.Equal(t, flag.InAir, f.Status)
	assert.Equal(t, protocol.Vec3{50, 50, 0}, f.LandingPos)
	limit := maxTankHeight(h.core.cfg.Physics, h.core.world.MaxHeight())
	assert.LessOrEqual(t, f.LaunchPos[2], limit+h.core.cfg.Physics.TankHeight)
}

func TestFlags_NonFiniteDropUsesLastPosition(t *testing.T) {
	h, _, red := ctfWithRedFlagDown(t)
	b := h.join("10.0.0.2:4000", player.Green, "bravo")
	h.spawn(b)
	h.grabAt(b, red, 1)
	f := h.core.Flags().Get(red)
	f.Grabs = 3
	last := h.core.Player(b).LastState.Pos

	nan := float32(math.NaN())
	h.send(b, protocol.MsgDropFlag, protocol.NewWriter(12).Vec(protocol.Vec3{nan, nan, nan}).Bytes())
	require.Equal(t, -1, f.Owner)
	assert.Equal(t, last[0], f.LandingPos[0])
	assert.Equal(t, last[1], f.LandingPos[1])
}

func TestPlayerUpdate_NonFiniteKicks(t *testing.T) {
	h, _, red := ctfWithRedFlagDown(t)
	b := h.join("10.0.0.2:4000", player.Green, "bravo")
	h.spawn(b)
	conn := h.conns[b]

	nan := float32(math.NaN())
	h.update(b, 1, protocol.Vec3{nan, nan, 0})
	assert.True(t, conn.closed)
	assert.Nil(t, h.reg.Get(b))
	assert.Equal(t, flag.OnGround, h.core.Flags().Get(red).Status, "the flag is still out of reach")
}

func TestCapture_ScoresAndKillsLosingTeam(t *testing.T) {
	h, a, red := ctfWithRedFlagDown(t)
	b := h.join("10.0.0.2:4000", player.Green, "bravo")
	c := h.join("10.0.0.3:4000", player.Red, "charlie")
	h.spawn(a)
	h.spawn(b)
	h.spawn(c)
	h.grabAt(b, red, 1)

	h.send(b, protocol.MsgCaptureFlag, protocol.EncodeU16(uint16(player.Green)))

	assert.Equal(t, player.Dead, h.core.Player(a).State)
	assert.Equal(t, player.Dead, h.core.Player(c).State)
	assert.Equal(t, player.Alive, h.core.Player(b).State, "the capturing team lives")
	assert.Equal(t, -1, h.core.Player(b).Flag)

	teams := h.core.Teams()
	assert.Equal(t, 1, teams[player.Green].Won)
	assert.Equal(t, 1, teams[player.Red].Lost)

	f := h.core.Flags().Get(red)
	assert.Equal(t, flag.Coming, f.Status, "the flag drops back in at its base")
	assert.Equal(t, h.core.world.BasePos(player.Red), f.Pos)
	assert.Equal(t, -1, f.Owner)

	fr, ok := h.last(a, protocol.MsgCaptureFlag)
	require.True(t, ok)
	assert.Equal(t, protocol.CaptureFlag{Player: byte(b), Index: uint16(red), Team: uint16(player.Green)}.Encode(), fr.body)
}

func TestCapture_WithoutTeamFlagIgnored(t *testing.T) {
	h, a, _ := ctfWithRedFlagDown(t)
	b := h.join("10.0.0.2:4000", player.Green, "bravo")
	h.spawn(a)
	h.spawn(b)

	h.send(b, protocol.MsgCaptureFlag, protocol.EncodeU16(uint16(player.Green)))
	assert.Equal(t, player.Alive, h.core.Player(a).State)
	assert.Zero(t, h.core.Teams()[player.Green].Won)
}

func TestKilled_UpdatesScores(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	b := h.join("10.0.0.2:4000", player.Green, "bravo")
	h.spawn(a)
	h.spawn(b)

	h.killedBy(a, b)
	assert.Equal(t, player.Dead, h.core.Player(a).State)
	assert.Equal(t, 1, h.core.Player(a).Losses)
	assert.Equal(t, 1, h.core.Player(b).Wins)
	teams := h.core.Teams()
	assert.Equal(t, 1, teams[player.Green].Won)
	assert.Equal(t, 1, teams[player.Red].Lost)

	f, ok := h.last(a, protocol.MsgScore)
	require.True(t, ok)
	scores, err := protocol.DecodeScore(f.body)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, protocol.ScoreEntry{Player: byte(b), Wins: 1}, scores[0])
	assert.Equal(t, protocol.ScoreEntry{Player: byte(a), Losses: 1}, scores[1])

	h.killedBy(a, b)
	assert.Equal(t, 1, h.core.Player(b).Wins, "the dead cannot die again")
}

func TestKilled_TeamKillsCountAndKick(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Game.TeamKillRatio = 100 })
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	c := h.join("10.0.0.2:4000", player.Red, "charlie")
	h.spawn(c)

	h.spawn(a)
	h.killedBy(a, c)
	assert.Equal(t, 1, h.core.Player(c).TKs)
	assert.Equal(t, 1, h.core.Player(c).Losses, "a team kill costs the killer")
	assert.Zero(t, h.core.Player(c).Wins)
	assert.Equal(t, 2, h.core.Teams()[player.Red].Lost)

	h.spawn(a)
	h.killedBy(a, c)
	require.NotNil(t, h.reg.Get(c), "below the minimum nobody is kicked")

	conn := h.conns[c]
	h.spawn(a)
	h.killedBy(a, c)
	assert.Nil(t, h.reg.Get(c))
	assert.True(t, conn.closed)
	assert.Contains(t, conn.buf.String(), "team killing")
}

func TestKilled_TeamKillerDies(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Game.TeamKillerDies = true })
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	c := h.join("10.0.0.2:4000", player.Red, "charlie")
	h.spawn(a)
	h.spawn(c)

	h.killedBy(a, c)
	assert.Equal(t, player.Dead, h.core.Player(c).State)
	assert.Equal(t, 1, h.core.Player(c).Losses)
}

func TestKilled_FlagsOnDeath(t *testing.T) {
	t.Run("team flag is dropped", func(t *testing.T) {
		h, a, red := ctfWithRedFlagDown(t)
		b := h.join("10.0.0.2:4000", player.Green, "bravo")
		h.spawn(a)
		h.spawn(b)
		h.grabAt(b, red, 1)
		f := h.core.Flags().Get(red)
		f.Grabs = 3

		h.killedBy(b, a)
		assert.Equal(t, -1, h.core.Player(b).Flag)
		assert.Equal(t, -1, f.Owner)
		assert.Equal(t, flag.InAir, f.Status)
	})

	t.Run("other flags are zapped", func(t *testing.T) {
		h := newHarness(t, func(c *config.Config) { c.Flags.Counts = map[string]int{"V": 1} })
		a := h.join("10.0.0.1:4000", player.Red, "alpha")
		b := h.join("10.0.0.2:4000", player.Green, "bravo")
		h.advance(10 * time.Second)
		h.core.Sweep(h.now)
		require.Equal(t, flag.OnGround, h.core.Flags().Get(0).Status)
		h.spawn(a)
		h.spawn(b)
		h.grabAt(b, 0, 1)

		h.killedBy(b, a)
		f := h.core.Flags().Get(0)
		assert.Equal(t, -1, h.core.Player(b).Flag)
		assert.Equal(t, -1, f.Owner)
		assert.Equal(t, flag.Coming, f.Status, "a zapped flag respawns from the sky")
	})
}

func TestKilled_PlayerScoreLimitEndsGame(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Game.MaxPlayerScore = 1 })
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	b := h.join("10.0.0.2:4000", player.Green, "bravo")
	h.spawn(a)
	h.spawn(b)

	h.killedBy(a, b)
	assert.True(t, h.core.gameOver)
	f, ok := h.last(a, protocol.MsgScoreOver)
	require.True(t, ok)
	assert.Equal(t, protocol.ScoreOver{Player: byte(b), Team: uint16(player.NoTeam)}.Encode(), f.body)
}

func TestRabbit_Reassignment(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Game.Style.RabbitChase = true })
	a := h.join("10.0.0.1:4000", player.Rogue, "alpha")
	b := h.join("10.0.0.2:4000", player.Rogue, "bravo")
	require.Equal(t, -1, h.core.rabbit)

	h.spawn(a)
	require.Equal(t, a, h.core.rabbit, "the first live tank is the rabbit")
	h.spawn(b)
	require.Equal(t, a, h.core.rabbit)

	h.killedBy(a, b)
	assert.Equal(t, b, h.core.rabbit, "killing the rabbit passes it on")
	f, ok := h.last(a, protocol.MsgNewRabbit)
	require.True(t, ok)
	assert.Equal(t, []byte{byte(b)}, f.body)

	h.send(b, protocol.MsgPause, []byte{1})
	assert.Equal(t, a, h.core.rabbit, "a paused rabbit hands over")

	h.send(a, protocol.MsgExit, nil)
	assert.Equal(t, -1, h.core.rabbit, "only a paused player is left")

	h.send(b, protocol.MsgPause, []byte{0})
	assert.Equal(t, b, h.core.rabbit)
}

func TestDatagram_FuzzyMatchLinks(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	h.spawn(a)

	h.send(a, protocol.MsgUDPLinkRequest, protocol.EncodeU16(17200))
	f, ok := h.last(a, protocol.MsgUDPLinkRequest)
	require.True(t, ok)
	assert.Equal(t, protocol.EncodeU16(5154), f.body)

	// NAT rewrote the source port.
	from := netip.MustParseAddrPort("10.0.0.1:17201")
	h.core.Datagram(from, protocol.Encode(protocol.MsgPlayerUpdate, protocol.PlayerUpdate{
		ID: byte(a), State: aliveState(1, protocol.Vec3{5, 5, 0}, protocol.Vec3{}),
	}.Encode()))

	s := h.reg.Get(a)
	assert.True(t, s.UDPLinked)
	assert.Equal(t, from, s.UDPAddr)
	assert.Equal(t, protocol.Vec3{5, 5, 0}, h.core.Player(a).LastState.Pos)

	h.core.Datagram(netip.MustParseAddrPort("10.9.9.9:17201"), protocol.Encode(protocol.MsgPlayerUpdate, nil))
	assert.Equal(t, protocol.Vec3{5, 5, 0}, h.core.Player(a).LastState.Pos, "unknown sources are ignored")
}

func TestDatagram_TCPOnlyOpcodeRefused(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	h.send(a, protocol.MsgUDPLinkRequest, protocol.EncodeU16(17200))

	h.core.Datagram(netip.MustParseAddrPort("10.0.0.1:17200"), protocol.Encode(protocol.MsgExit, nil))
	assert.True(t, h.core.Player(a).Joined())
}

func TestOutputOverflow_TearsDown(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	b := h.join("10.0.0.2:4000", player.Green, "bravo")
	h.conns[a].limit = 0

	text := strings.Repeat("x", 100)
	for i := 0; i < 200 && h.reg.Get(a) != nil; i++ {
		h.core.Announce(text)
		h.core.Sweep(h.now)
	}

	assert.Nil(t, h.reg.Get(a), "a full output queue drops the slot")
	assert.True(t, h.conns[a].closed)
	assert.Equal(t, player.NoExist, h.core.Player(a).State)

	f, ok := h.last(b, protocol.MsgRemovePlayer)
	require.True(t, ok)
	assert.Equal(t, []byte{byte(a)}, f.body)
}

func TestMessage_CommandsLowercased(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	cmds := &recordingCommands{}
	h.core.SetCommands(cmds)

	h.send(a, protocol.MsgMessage, protocol.Message{To: protocol.AllPlayers, Text: "/KICK Bravo now"}.Encode())
	require.Len(t, cmds.lines, 1)
	assert.Equal(t, "/kick Bravo now", cmds.lines[0])
}

func TestMessage_TeamChat(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	b := h.join("10.0.0.2:4000", player.Red, "bravo")
	c := h.join("10.0.0.3:4000", player.Green, "charlie")

	before := len(h.received(c))
	h.send(a, protocol.MsgMessage, protocol.Message{To: 250 - byte(player.Red), Text: "hold the base"}.Encode())

	_, ok := h.last(b, protocol.MsgMessage)
	assert.True(t, ok)
	assert.Len(t, h.received(c), before, "other teams do not hear it")
}

type fakeAdvertiser struct {
	adds    []protocol.GameInfo
	nums    [][player.NumTeams]int
	removed int
}

func (f *fakeAdvertiser) Add(info protocol.GameInfo)         { f.adds = append(f.adds, info) }
func (f *fakeAdvertiser) SetNum(counts [player.NumTeams]int) { f.nums = append(f.nums, counts) }
func (f *fakeAdvertiser) Remove()                            { f.removed++ }

func TestPublicize_StartupAndReAdd(t *testing.T) {
	h := newHarness(t, nil)
	ads := &fakeAdvertiser{}
	h.core.lister = ads

	h.core.Publicize()
	require.Len(t, ads.adds, 1, "a public server is listed as soon as it starts")

	for i := 0; i < 60; i++ {
		h.advance(10 * time.Second)
		h.core.Housekeep(h.now)
	}
	assert.Len(t, ads.adds, 1, "no re-add inside the interval")

	h.advance(reAddInterval)
	h.core.Housekeep(h.now)
	assert.Len(t, ads.adds, 2)
}

type recordingCommands struct{ lines []string }

func (r *recordingCommands) Run(_ int, line string) { r.lines = append(r.lines, line) }

func TestHousekeep_KicksIdle(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Game.IdleKick = time.Minute })
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	b := h.join("10.0.0.2:4000", player.Green, "bravo")
	h.spawn(b)

	h.advance(4 * time.Minute)
	h.core.Housekeep(h.now)
	assert.Nil(t, h.reg.Get(a), "dead and silent")
	assert.NotNil(t, h.reg.Get(b), "alive tanks are not idle-kicked")
}

func TestHousekeep_TimeLimitEndsGame(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Game.TimeLimit = time.Minute })
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	require.False(t, h.core.gameOver)

	h.advance(61 * time.Second)
	h.core.Housekeep(h.now)
	assert.True(t, h.core.gameOver)
	f, ok := h.last(a, protocol.MsgTimeUpdate)
	require.True(t, ok)
	assert.Equal(t, protocol.EncodeU16(0), f.body)
}

func TestNextWake(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, maxWait, h.core.NextWake(h.now))

	a := h.connect("10.0.0.1:4000")
	require.Equal(t, 0, a)
	h.core.players[a].State = player.Alive
	h.core.players[a].Lag.NextPing = h.now.Add(time.Second)
	assert.Equal(t, time.Second, h.core.NextWake(h.now))
	assert.Equal(t, time.Duration(0), h.core.NextWake(h.now.Add(2*time.Second)))
}

func TestNextWake_QueuedOutputRetriesSoon(t *testing.T) {
	h := newHarness(t, nil)
	a := h.join("10.0.0.1:4000", player.Red, "alpha")
	h.join("10.0.0.2:4000", player.Green, "bravo")
	idle := h.core.NextWake(h.now)
	require.Greater(t, idle, flushRetry)

	h.conns[a].limit = 0
	h.core.Announce("short write")
	h.core.Sweep(h.now)
	require.Positive(t, h.reg.Get(a).Queued())
	assert.LessOrEqual(t, h.core.NextWake(h.now), flushRetry)

	h.conns[a].limit = -1
	h.core.Service()
	assert.Zero(t, h.reg.Get(a).Queued())
	assert.Equal(t, idle, h.core.NextWake(h.now))
}

func TestStats(t *testing.T) {
	h := newHarness(t, nil)
	h.join("10.0.0.1:4000", player.Red, "alpha")
	h.join("10.0.0.2:4000", player.Observer, "watcher")
	h.connect("10.0.0.3:4000")

	st := h.core.Stats(h.now)
	assert.Equal(t, 1, st.Players)
	assert.Equal(t, 1, st.Observers)
	assert.Equal(t, 3, st.Sessions)
	assert.False(t, st.GameOver)
}

func TestDatagram_DiscoveryPing(t *testing.T) {
	h := newHarness(t, nil)
	h.join("10.0.0.1:4000", player.Red, "alpha")

	stranger := netip.MustParseAddrPort("192.168.1.9:5155")
	h.core.Datagram(stranger, protocol.Encode(protocol.MsgPingRequest, nil))
	require.Len(t, h.udp.sent, 1)
	assert.Equal(t, stranger, h.udp.sent[0])
	assert.Equal(t, -1, h.reg.BindUDP(stranger), "a ping does not bind a session")
}
