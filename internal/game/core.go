// Package game is the authoritative core: it owns the player table, routes
// decoded frames to their handlers, validates client reports and keeps the
// session, flag and team tables consistent between frames.
package game

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/dispatcher"
	"github.com/bzfsd/bzfsd/internal/effect"
	"github.com/bzfsd/bzfsd/internal/flag"
	"github.com/bzfsd/bzfsd/internal/match"
	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
	"github.com/bzfsd/bzfsd/internal/session"
	"github.com/bzfsd/bzfsd/internal/world"
)

// Advertiser is the list-server collaborator.
type Advertiser interface {
	Add(info protocol.GameInfo)
	SetNum(counts [player.NumTeams]int)
	Remove()
}

// Commands receives chat lines that start with '/'.
type Commands interface {
	Run(slot int, line string)
}

// Recorder receives match history events. It must not block.
type Recorder interface {
	Record(match.Event)
}

// Dependencies holds everything the core is built from.
type Dependencies struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *session.Registry
	Fanout   *session.Fanout
	World    *world.World
	Match    *match.Context

	// Optional collaborators.
	Lister   Advertiser
	Recorder Recorder
	Allow    func(netip.AddrPort) bool
	// DispatchLogger defaults to Logger.
	DispatchLogger dispatcher.Logger

	Clock func() time.Time
	Rand  *rand.Rand
}

// Core is the game state and its handlers. It is not safe for concurrent
// use; the reactor calls it from one goroutine.
type Core struct {
	cfg   *config.Config
	log   *slog.Logger
	reg   *session.Registry
	fan   *session.Fanout
	world *world.World
	flags *flag.Engine
	disp  *dispatcher.Dispatcher
	match *match.Context

	lister   Advertiser
	recorder Recorder
	commands Commands
	allow    func(netip.AddrPort) bool
	now      func() time.Time
	rng      *rand.Rand

	players []player.Player
	teams   player.Teams
	fx      effect.List
	setVars [][]byte

	rabbit      int
	gameOver    bool
	gameStart   time.Time
	countdown   bool
	timeElapsed time.Duration
	lastAdd     time.Time
	lagWarn     time.Duration
	done        chan struct{}
	stopOnce    sync.Once

	// OnKick observes server-initiated disconnects by reason.
	OnKick func(reason string)
}

// New builds the core, places the flags and packs the world header.
func New(deps Dependencies) (*Core, error) {
	if deps.Config == nil || deps.Registry == nil || deps.Fanout == nil || deps.World == nil {
		return nil, errors.New("game: config, registry, fanout and world are required")
	}
	c := &Core{
		cfg:      deps.Config,
		log:      deps.Logger,
		reg:      deps.Registry,
		fan:      deps.Fanout,
		world:    deps.World,
		match:    deps.Match,
		lister:   deps.Lister,
		recorder: deps.Recorder,
		allow:    deps.Allow,
		now:      deps.Clock,
		rng:      deps.Rand,
		players:  make([]player.Player, deps.Registry.Capacity()),
		rabbit:   -1,
		done:     make(chan struct{}),
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(c.cfg.Game.Seed, uint64(time.Now().UnixNano())))
	}
	if c.match == nil {
		c.match = match.NewContext()
	}

	var err error
	c.flags, err = flag.New(c.world, &c.teams, c.cfg.FlagSettings(), c.rng)
	if err != nil {
		return nil, fmt.Errorf("laying out flags: %w", err)
	}
	c.world.Pack(c.cfg.WorldHeader(c.flags.Len()))

	dlog := deps.DispatchLogger
	if dlog == nil {
		dlog = c.log
	}
	c.disp, err = dispatcher.New(dlog)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	c.register()

	c.fan.Audience = func(slot int) bool { return c.players[slot].Joined() }
	c.setVars = encodeSetVars(c.cfg)

	now := c.now()
	c.gameStart = now
	c.lastAdd = now
	c.lagWarn = c.cfg.Lag.Threshold
	c.flags.ResetAll(now)
	// The first connection starts the game.
	c.gameOver = true
	return c, nil
}

// SetCommands installs the chat command collaborator.
func (c *Core) SetCommands(cmds Commands) { c.commands = cmds }

// Done is closed when an operator asks the server to stop.
func (c *Core) Done() <-chan struct{} { return c.done }

// Flags exposes the flag table for reading.
func (c *Core) Flags() *flag.Engine { return c.flags }

// Player returns the record at slot.
func (c *Core) Player(slot int) *player.Player { return &c.players[slot] }

// Teams returns a copy of the team table.
func (c *Core) Teams() player.Teams { return c.teams }

// Config returns the configuration the core runs with.
func (c *Core) Config() *config.Config { return c.cfg }

func (c *Core) rabbitMode() bool {
	return c.cfg.Game.Style.Bits()&protocol.StyleRabbitChase != 0
}

func (c *Core) ctf() bool { return c.cfg.Game.Style.CaptureTheFlag }

// SendFrame and Close make the core the effect sink: frames go through the
// fan-out and a close frees the slot.
func (c *Core) SendFrame(slot int, frame []byte) { c.fan.SendFrame(slot, frame) }
func (c *Core) Close(slot int)                  { c.reg.Release(slot) }

// commit applies recorded effects, then tears down whatever failed on the
// way out, until nothing is left.
func (c *Core) commit() {
	for {
		c.fx.Apply(c)
		dropped := c.reg.TakeDropped()
		if len(dropped) == 0 {
			return
		}
		for _, slot := range dropped {
			c.removePlayer(slot, "connection lost", false)
		}
	}
}

// Accept admits a new connection.
func (c *Core) Accept(conn session.Conn, addr netip.AddrPort) (*session.Session, error) {
	defer c.commit()
	s, err := c.reg.Accept(conn, addr, c.allow)
	if err != nil {
		return nil, err
	}
	now := c.now()
	c.players[s.Slot] = player.New(now)

	joined := 0
	for i := 0; i < c.reg.CurMax(); i++ {
		if c.players[i].State >= player.InLimbo {
			joined++
		}
	}
	if c.gameOver && joined == 1 {
		c.gameOver = false
		c.gameStart = now
		c.timeElapsed = 0
		if c.cfg.Game.TimeLimit > 0 {
			c.countdown = true
		}
		c.match.Start(c.cfg.Game.Title, c.world.Digest(), c.cfg.Game.Style.Bits(), now)
	}
	c.log.Info("connection accepted", "slot", s.Slot, "addr", addr.String())
	return s, nil
}

// Received feeds TCP bytes read from slot. gen guards against bytes read
// for an earlier occupant of the slot.
func (c *Core) Received(slot int, gen uint64, b []byte) {
	s := c.reg.Get(slot)
	if s == nil || s.Gen != gen || !s.Connected() {
		return
	}
	if err := s.Feed(b); err != nil {
		c.log.Warn("input overflow", "slot", slot, "error", err)
		c.removePlayer(slot, "input overflow", false)
		c.commit()
	}
}

// Disconnected tears down slot after its reader saw EOF or an error.
func (c *Core) Disconnected(slot int, gen uint64, err error) {
	s := c.reg.Get(slot)
	if s == nil || s.Gen != gen {
		return
	}
	c.log.Debug("connection closed", "slot", slot, "error", err)
	c.removePlayer(slot, "disconnected", false)
	c.commit()
}

// Pending reports whether any session has a complete frame buffered.
func (c *Core) Pending() bool {
	for i := 0; i < c.reg.CurMax(); i++ {
		if s := c.reg.Get(i); s.Connected() && s.HasFrame() {
			return true
		}
	}
	return false
}

// Service flushes every session in slot order and handles at most one
// buffered frame from each.
func (c *Core) Service() {
	for i := 0; i < c.reg.CurMax(); i++ {
		s := c.reg.Get(i)
		if !s.Connected() {
			continue
		}
		if err := s.Flush(); err != nil {
			c.reg.Drop(i, err)
			c.commit()
			continue
		}
		frame, err := s.NextFrame()
		if err != nil {
			c.log.Warn("protocol violation", "slot", i, "error", err)
			c.removePlayer(i, "large packet", false)
			c.commit()
			continue
		}
		if frame == nil {
			continue
		}
		if c.cfg.Network.RequireUDP && c.players[i].Type != player.Computer &&
			protocol.Code(uint16(frame[2])<<8|uint16(frame[3])) == protocol.MsgShotBegin {
			c.players[i].ToBeKicked = true
		}
		c.handle(i, frame, false)
		c.commit()
	}
}

// Datagram handles one UDP datagram. Discovery pings are answered with
// the game summary whoever sends them.
func (c *Core) Datagram(from netip.AddrPort, b []byte) {
	h, err := protocol.ReadHeader(b)
	if err != nil || len(b) < protocol.HeaderLen+int(h.Len) {
		c.log.Debug("bad datagram", "from", from.String(), "len", len(b), "error", err)
		return
	}
	if h.Code == protocol.MsgPingRequest {
		c.fan.SendDatagram(from, protocol.Encode(protocol.MsgPingReply, c.gameInfo().Encode()))
		return
	}
	slot := c.reg.BindUDP(from)
	if slot < 0 {
		return
	}
	c.handle(slot, b[:protocol.HeaderLen+int(h.Len)], true)
	c.commit()
}

func (c *Core) handle(slot int, frame []byte, udp bool) {
	h, err := protocol.ReadHeader(frame)
	if err != nil {
		return
	}
	err = c.disp.Dispatch(dispatcher.Event{
		Slot:      slot,
		Code:      h.Code,
		Body:      frame[protocol.HeaderLen:],
		UDP:       udp,
		Timestamp: c.now(),
		Effects:   &c.fx,
	})
	switch {
	case err == nil, errors.Is(err, dispatcher.ErrRejected):
	case errors.Is(err, dispatcher.ErrUnknownOpcode):
		c.log.Info("unknown packet type", "slot", slot, "code", h.Code.String(), "addr", c.addr(slot))
	default:
		c.log.Warn("frame not handled", "slot", slot, "code", h.Code.String(), "error", err)
	}
}

func (c *Core) addr(slot int) string {
	if s := c.reg.Get(slot); s != nil {
		return s.Addr.String()
	}
	return ""
}

// broadcast records code for every joined player.
func (c *Core) broadcast(code protocol.Code, body []byte) {
	c.fx.Send(c.fan.Recipients(-1), protocol.Encode(code, body))
}

// relay forwards a client frame to every joined player except from.
func (c *Core) relay(from int, frame []byte) {
	c.fx.Send(c.fan.Recipients(from), frame)
}

func (c *Core) unicast(slot int, code protocol.Code, body []byte) {
	if !c.reg.Connected(slot) {
		return
	}
	c.fx.Unicast(slot, protocol.Encode(code, body))
}

// teamTarget decodes a chat address naming a team. Addresses count down
// from 250 for Rogue.
func teamTarget(to byte) (player.Team, bool) {
	if to < 250-player.NumTeams+1 || to > 250 {
		return player.NoTeam, false
	}
	return player.Team(250 - int(to)), true
}

// sendMessage delivers chat from one player (or the server) to a player,
// a team, or everyone.
func (c *Core) sendMessage(from byte, to byte, text string) {
	body := protocol.ChatMessage{From: from, To: to, Text: text}.Encode()
	if to <= protocol.LastRealPlayer {
		c.unicast(int(to), protocol.MsgMessage, body)
		return
	}
	if t, ok := teamTarget(to); ok {
		frame := protocol.Encode(protocol.MsgMessage, body)
		for i := 0; i < c.reg.CurMax(); i++ {
			if c.players[i].Joined() && c.players[i].Team == t && c.reg.Connected(i) {
				c.fx.Unicast(i, frame)
			}
		}
		return
	}
	c.broadcast(protocol.MsgMessage, body)
}

// Tell sends a server message to slot.
func (c *Core) Tell(slot int, text string) {
	c.sendMessage(protocol.ServerPlayer, byte(slot), text)
}

// Announce sends a server message to everyone.
func (c *Core) Announce(text string) {
	c.sendMessage(protocol.ServerPlayer, protocol.AllPlayers, text)
}

// kick tells slot why and removes it.
func (c *Core) kick(slot int, message, reason string) {
	c.log.Info("kicking player", "slot", slot, "callsign", c.players[slot].Callsign, "reason", reason)
	c.Tell(slot, message)
	c.removePlayer(slot, reason, true)
	if c.OnKick != nil {
		c.OnKick(reason)
	}
	c.record(match.Event{Kind: match.Kick, Slot: slot, Callsign: c.players[slot].Callsign, Reason: reason, Other: -1})
}

func (c *Core) record(e match.Event) {
	if c.recorder == nil {
		return
	}
	e.MatchID = c.match.Current().ID
	if e.Time.IsZero() {
		e.Time = c.now()
	}
	c.recorder.Record(e)
}

// sendTeamUpdate sends every playing team when teams is empty, else the
// listed ones. to is a slot or -1 for everyone.
func (c *Core) sendTeamUpdate(to int, teams ...player.Team) {
	var rows []protocol.TeamInfo
	if len(teams) == 0 {
		for t := player.Team(0); t < player.CtfTeams; t++ {
			rows = append(rows, c.teams.Info(t))
		}
	} else {
		for _, t := range teams {
			if t.Valid() {
				rows = append(rows, c.teams.Info(t))
			}
		}
	}
	if len(rows) == 0 {
		return
	}
	body := protocol.EncodeTeamUpdate(rows)
	if to < 0 {
		c.broadcast(protocol.MsgTeamUpdate, body)
		return
	}
	c.unicast(to, protocol.MsgTeamUpdate, body)
}

// sendFlagUpdate broadcasts one flag's state.
func (c *Core) sendFlagUpdate(i int) {
	body := protocol.EncodeFlagUpdate([]protocol.IndexedFlag{{Index: uint16(i), Flag: c.flags.Info(i)}})
	c.broadcast(protocol.MsgFlagUpdate, body)
}

// sendAllFlags sends every existing flag to slot in as few frames as fit.
func (c *Core) sendAllFlags(slot int) {
	var batch []protocol.IndexedFlag
	for i := 0; i < c.flags.Len(); i++ {
		if c.flags.Get(i).Status == flag.NoExist {
			continue
		}
		batch = append(batch, protocol.IndexedFlag{Index: uint16(i), Flag: c.flags.Info(i)})
		if len(batch) == protocol.FlagsPerUpdate {
			c.unicast(slot, protocol.MsgFlagUpdate, protocol.EncodeFlagUpdate(batch))
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		c.unicast(slot, protocol.MsgFlagUpdate, protocol.EncodeFlagUpdate(batch))
	}
}

func (c *Core) sendAddPlayer(about, to int) {
	c.unicast(to, protocol.MsgAddPlayer, c.players[about].AddPlayer(about).Encode())
}

// gameInfo is the MsgQueryGame reply, also advertised to list servers.
func (c *Core) gameInfo() protocol.GameInfo {
	g := protocol.GameInfo{
		Style:          c.cfg.Game.Style.Bits(),
		MaxPlayers:     uint16(c.cfg.Capacity()),
		MaxShots:       uint16(c.cfg.Game.MaxShots),
		ShakeWins:      uint16(c.cfg.Game.ShakeWins),
		ShakeTimeout:   uint16(c.cfg.Game.ShakeTimeout / (100 * time.Millisecond)),
		MaxPlayerScore: uint16(c.cfg.Game.MaxPlayerScore),
		MaxTeamScore:   uint16(c.cfg.Game.MaxTeamScore),
		MaxTime:        uint16(c.cfg.Game.TimeLimit / time.Second),
	}
	for t := player.Team(0); t < player.CtfTeams; t++ {
		g.TeamSize[t] = uint16(c.teams[t].ActiveSize)
		g.TeamMax[t] = uint16(c.cfg.MaxTeamSize(t))
	}
	return g
}

// publishCounts sends SETNUM to the list servers.
func (c *Core) publishCounts() {
	var counts [player.NumTeams]int
	if !c.gameOver {
		for t := range counts {
			counts[t] = c.teams[t].Size
		}
	}
	c.match.SetPlayers(c.joinedCount())
	if c.lister != nil {
		c.lister.SetNum(counts)
	}
}

// Publicize sends ADD to the list servers.
func (c *Core) Publicize() {
	c.lastAdd = c.now()
	if c.lister != nil {
		c.lister.Add(c.gameInfo())
	}
}

func (c *Core) joinedCount() int {
	n := 0
	for i := 0; i < c.reg.CurMax(); i++ {
		if c.players[i].Joined() {
			n++
		}
	}
	return n
}

func encodeSetVars(cfg *config.Config) [][]byte {
	f := func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
	p := cfg.Physics
	return protocol.EncodeSetVars([]protocol.SetVar{
		{Name: "_gravity", Value: f(p.Gravity)},
		{Name: "_tankSpeed", Value: f(p.TankSpeed)},
		{Name: "_tankRadius", Value: f(p.TankRadius)},
		{Name: "_tankHeight", Value: f(p.TankHeight)},
		{Name: "_flagRadius", Value: f(p.FlagRadius)},
		{Name: "_flagAltitude", Value: f(p.FlagAltitude)},
		{Name: "_flagHeight", Value: f(p.FlagHeight)},
		{Name: "_shieldFlight", Value: f(p.ShieldFlight)},
		{Name: "_jumpVelocity", Value: f(p.JumpVelocity)},
		{Name: "_burrowDepth", Value: f(p.BurrowDepth)},
		{Name: "_burrowSpeedAd", Value: f(p.BurrowSpeedAd)},
		{Name: "_velocityAd", Value: f(p.VelocityAd)},
		{Name: "_thiefVelAd", Value: f(p.ThiefVelAd)},
		{Name: "_obeseFactor", Value: f(p.ObeseFactor)},
		{Name: "_muzzleFront", Value: f(p.MuzzleFront)},
		{Name: "_muzzleHeight", Value: f(p.MuzzleHeight)},
		{Name: "_shotSpeed", Value: f(p.ShotSpeed)},
		{Name: "_reloadTime", Value: f(p.ReloadTime)},
		{Name: "_worldSize", Value: f(p.WorldSize)},
	})
}
