package flag

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
	"github.com/bzfsd/bzfsd/internal/world"
)

// halfLife is the mean spacing of extra flag insertions.
const halfLife = 45 * time.Second

// placementAttempts bounds the search for a clear random spot.
const placementAttempts = 1000

// World is the geometry the engine places flags in.
type World interface {
	Size() float32
	MaxHeight() float32
	InBuilding(x, y, z, r float32) *world.Obstacle
	WhoseBase(x, y, z float32) player.Team
	Base(t player.Team) (*world.Base, bool)
	BasePos(t player.Team) protocol.Vec3
}

// Physics holds the world constants flag flight depends on.
type Physics struct {
	Gravity      float32
	FlagAltitude float32
	ShieldFlight float32
	TankRadius   float32
	TankHeight   float32
	TankSpeed    float32
	FlagRadius   float32
	ObeseFactor  float32
}

// Settings lays out the flag table and its rules.
type Settings struct {
	Physics

	// TeamFlags puts one flag per colored team at indices 0..3.
	TeamFlags bool
	// Counts maps abbreviations to the number of permanent copies.
	Counts map[string]int
	// Extra is the number of slots for randomly inserted flags.
	Extra int
	// Disallowed abbreviations never appear as random flags.
	Disallowed []string
	// ShotLimits caps the shots a holder may fire per abbreviation.
	ShotLimits      map[string]int
	OnBuildings     bool
	TeamFlagTimeout time.Duration
}

// Engine owns the flag table.
type Engine struct {
	world World
	teams *player.Teams
	s     Settings
	rng   *rand.Rand

	flags     []Instance
	inAir     int
	teamIndex [player.NumTeams]int
	allowed   []*Descriptor
	limits    map[*Descriptor]int
	lastExtra time.Time

	// OnTransition observes every status change.
	OnTransition func(i int, from, to Status)
}

// New lays out the flag table. Flags are not placed until ResetAll.
func New(w World, teams *player.Teams, s Settings, rng *rand.Rand) (*Engine, error) {
	e := &Engine{world: w, teams: teams, s: s, rng: rng, limits: make(map[*Descriptor]int)}
	for i := range e.teamIndex {
		e.teamIndex[i] = -1
	}

	if s.TeamFlags {
		for t := player.Red; t <= player.Purple; t++ {
			if _, ok := w.Base(t); !ok {
				return nil, fmt.Errorf("team flags need a base for %s", t)
			}
			d, _ := ForTeam(t)
			e.teamIndex[t] = len(e.flags)
			e.flags = append(e.flags, Instance{Desc: d, Owner: -1, Required: true})
		}
	}

	abbrevs := make([]string, 0, len(s.Counts))
	for a := range s.Counts {
		abbrevs = append(abbrevs, a)
	}
	sort.Strings(abbrevs)
	for _, a := range abbrevs {
		d, ok := Lookup(a)
		if !ok || d == Null {
			return nil, fmt.Errorf("unknown flag %q", a)
		}
		if d.IsTeam() {
			return nil, fmt.Errorf("team flag %q cannot be counted", a)
		}
		for n := 0; n < s.Counts[a]; n++ {
			e.flags = append(e.flags, Instance{Desc: d, Owner: -1, Required: true})
		}
	}
	for n := 0; n < s.Extra; n++ {
		e.flags = append(e.flags, Instance{Desc: Null, Owner: -1, Extra: true})
	}

	disallowed := make(map[string]bool, len(s.Disallowed))
	for _, a := range s.Disallowed {
		if _, ok := Lookup(a); !ok {
			return nil, fmt.Errorf("unknown flag %q", a)
		}
		disallowed[a] = true
	}
	for _, d := range All() {
		if !d.IsTeam() && !disallowed[d.Abbrev] {
			e.allowed = append(e.allowed, d)
		}
	}

	for a, n := range s.ShotLimits {
		d, ok := Lookup(a)
		if !ok || d == Null {
			return nil, fmt.Errorf("unknown flag %q", a)
		}
		e.limits[d] = n
	}
	return e, nil
}

// Len is the table size.
func (e *Engine) Len() int { return len(e.flags) }

// Get returns flag i for reading.
func (e *Engine) Get(i int) *Instance { return &e.flags[i] }

// Valid reports whether i indexes the table.
func (e *Engine) Valid(i int) bool { return i >= 0 && i < len(e.flags) }

// InAir counts flags in flight.
func (e *Engine) InAir() int { return e.inAir }

// TeamFlag returns the index of t's flag or -1.
func (e *Engine) TeamFlag(t player.Team) int {
	if !t.Valid() {
		return -1
	}
	return e.teamIndex[t]
}

// Info is the wire form of flag i.
func (e *Engine) Info(i int) protocol.FlagInfo { return e.flags[i].Info() }

func (e *Engine) set(i int, to Status) {
	f := &e.flags[i]
	from := f.Status
	if from == to {
		return
	}
	if from.Flying() {
		e.inAir--
	}
	if to.Flying() {
		e.inAir++
	}
	f.Status = to
	if e.OnTransition != nil {
		e.OnTransition(i, from, to)
	}
}

// ResetAll places every flag, as when the world is (re)defined.
func (e *Engine) ResetAll(now time.Time) {
	for i := range e.flags {
		e.Reset(i, now)
	}
	e.lastExtra = now
}

// Reset returns flag i to its starting place. Team flags go home; other
// flags get a fresh random spot. Permanent flags are brought back into
// play straight away, except a team flag whose team has nobody playing.
func (e *Engine) Reset(i int, now time.Time) {
	f := &e.flags[i]
	f.Owner = -1
	e.set(i, NoExist)
	if f.Extra {
		f.Desc = Null
	}

	if f.Desc.IsTeam() {
		f.Pos = e.world.BasePos(f.Desc.Team)
		if f.Pos[2] > 0 {
			f.Pos[2]++
		}
	} else {
		f.Pos = e.randomPosition(f.Desc)
	}

	if !f.Required {
		return
	}
	switch {
	case f.Desc.IsTeam():
		if e.teams.Active(f.Desc.Team) > 0 {
			e.spawn(i, now)
		}
	case f.Desc == Null:
		e.randomize(i, now)
	default:
		e.spawn(i, now)
	}
}

func (e *Engine) randomPosition(d *Descriptor) protocol.Vec3 {
	r := e.s.TankRadius
	if d == Obesity {
		r *= 2 * e.s.ObeseFactor
	}
	span := e.world.Size() - world.BaseSize
	pick := func() protocol.Vec3 {
		return protocol.Vec3{span * (e.rng.Float32() - 0.5), span * (e.rng.Float32() - 0.5), 0}
	}

	pos := pick()
	for n := 0; n < placementAttempts; n++ {
		o := e.world.InBuilding(pos[0], pos[1], pos[2], r)
		if o == nil {
			return pos
		}
		if e.s.OnBuildings && o.Kind == world.InBox && o.Contains(pos[0], pos[1]) {
			pos[2] = o.Top()
		} else {
			pos = pick()
		}
	}
	return pos
}

// spawn drops flag i in from the sky at its current position.
func (e *Engine) spawn(i int, now time.Time) {
	f := &e.flags[i]
	e.set(i, Coming)
	t := 2 * sqrt32(-2*e.s.FlagAltitude/e.s.Gravity)
	f.FlightTime = 0
	f.FlightEnd = t
	f.InitialVelocity = -0.5 * e.s.Gravity * t
	f.DropDone = now.Add(seconds(t))
	if f.Desc.Endurance == Sticky {
		f.Grabs = 1
	} else {
		f.Grabs = e.rng.IntN(4) + 1
	}
}

// randomize gives flag i a random allowed kind and spawns it.
func (e *Engine) randomize(i int, now time.Time) {
	if len(e.allowed) == 0 {
		return
	}
	e.flags[i].Desc = e.allowed[e.rng.IntN(len(e.allowed))]
	e.spawn(i, now)
}

// Grab hands flag i to slot if it is on the ground within reach of pos.
// The reach allows for one tick of travel since the last position report.
func (e *Engine) Grab(i, slot int, pos protocol.Vec3) bool {
	f := &e.flags[i]
	if f.Status != OnGround {
		return false
	}
	reach := e.s.TankSpeed + e.s.TankRadius + e.s.FlagRadius
	dx, dy := pos[0]-f.Pos[0], pos[1]-f.Pos[1]
	if abs32(pos[2]-f.Pos[2]) < 0.1 && dx*dx+dy*dy > reach*reach {
		return false
	}
	e.set(i, OnTank)
	f.Owner = slot
	f.lastOwner = byte(slot)
	f.Shots = 0
	return true
}

// Drop throws held flag i from pos. The flag flies back down while it has
// grabs left, otherwise it leaves the game.
func (e *Engine) Drop(i int, pos protocol.Vec3, now time.Time) bool {
	f := &e.flags[i]
	if f.Status != OnTank {
		return false
	}
	f.Owner = -1
	f.Shots = 0
	status := Going
	if f.Desc.Endurance == Normal {
		f.Grabs--
		if f.Grabs > 0 {
			status = InAir
		}
	}

	// Nothing stands above the tallest obstacle, so both searches stay
	// within [0, ceiling].
	ceiling := e.world.MaxHeight()
	var top *world.Obstacle
	if c := e.world.InBuilding(pos[0], pos[1], pos[2], 0); c != nil {
		top = c
		for h := c.Top(); h <= ceiling; h += 0.1 {
			n := e.world.InBuilding(pos[0], pos[1], h, 0)
			if n == nil {
				break
			}
			top = n
		}
	} else {
		for h := min(pos[2], ceiling); h >= 0; h -= 0.1 {
			if c := e.world.InBuilding(pos[0], pos[1], h, 0); c != nil {
				top = c
				break
			}
		}
	}
	kind := world.NotInBuilding
	baseZ := pos[2]
	if top != nil {
		kind = top.Kind
		baseZ = top.Top() + 0.01
	}
	teamBase := e.world.WhoseBase(pos[0], pos[1], baseZ)
	flagTeam := f.Desc.Team
	isTeam := f.Desc.IsTeam()

	landing := pos
	switch {
	case status == Going:
	case isTeam && teamBase == flagTeam && kind == world.InBase:
		landing[2] = top.Top()
	case isTeam && teamBase != player.NoTeam && teamBase != flagTeam:
		if b, ok := e.world.Base(teamBase); ok {
			landing = b.Safety
		}
	case kind == world.NotInBuilding:
		landing[2] = 0
	case e.s.OnBuildings && (kind == world.InBox || kind == world.InBase):
		landing[2] = top.Top()
	case isTeam:
		if e.world.InBuilding(0, 0, 0, e.s.TankRadius) == nil {
			landing = protocol.Vec3{}
		} else {
			landing = e.world.BasePos(flagTeam)
		}
	default:
		status = Going
	}
	e.set(i, status)

	if isTeam && e.teams.Active(flagTeam) == 0 {
		e.teams[flagTeam].FlagTimeout = now.Add(e.s.TeamFlagTimeout)
	}

	f.Pos = landing
	f.LandingPos = landing
	f.LaunchPos = protocol.Vec3{pos[0], pos[1], pos[2] + e.s.TankHeight}

	thrown := e.s.FlagAltitude
	if f.Desc == Shield {
		thrown *= e.s.ShieldFlight
	}
	peak := pos[2] + thrown
	up := sqrt32(-2 * thrown / e.s.Gravity)
	down := sqrt32(-2 * (peak - pos[2]) / e.s.Gravity)
	flight := up + down
	f.DropDone = now.Add(seconds(flight))
	f.FlightTime = 0
	f.FlightEnd = flight
	f.InitialVelocity = -e.s.Gravity * up
	return true
}

// Release takes flag i off its holder without a flight and returns the
// former holder, or -1 when nobody held it.
func (e *Engine) Release(i int) int {
	f := &e.flags[i]
	prev := f.Owner
	if prev != -1 {
		f.Owner = -1
		e.set(i, NoExist)
	}
	return prev
}

// Zap makes flag i vanish and reset. It returns the former holder or -1.
func (e *Engine) Zap(i int, now time.Time) int {
	prev := e.Release(i)
	e.Reset(i, now)
	return prev
}

// SendAway releases flag i and flies it off the field. Extra flags lose
// their kind.
func (e *Engine) SendAway(i int, now time.Time) int {
	prev := e.Release(i)
	f := &e.flags[i]
	e.set(i, Going)
	f.DropDone = now
	if !f.Required {
		f.Desc = Null
	}
	return prev
}

// Transfer moves held flag i to slot to.
func (e *Engine) Transfer(i, to int) {
	f := &e.flags[i]
	f.Owner = to
	f.lastOwner = byte(to)
}

// Tick lands or retires flags whose flight ended by now and returns the
// indices that changed.
func (e *Engine) Tick(now time.Time) []int {
	if e.inAir == 0 {
		return nil
	}
	var changed []int
	for i := range e.flags {
		f := &e.flags[i]
		if !f.Status.Flying() || f.DropDone.After(now) {
			continue
		}
		if f.Status == Going {
			e.set(i, NoExist)
			e.Reset(i, now)
		} else {
			e.set(i, OnGround)
		}
		changed = append(changed, i)
	}
	return changed
}

// NextDeadline is the soonest end of a flight.
func (e *Engine) NextDeadline() (time.Time, bool) {
	var next time.Time
	found := false
	for i := range e.flags {
		f := &e.flags[i]
		if f.Status.Flying() && (!found || f.DropDone.Before(next)) {
			next, found = f.DropDone, true
		}
	}
	return next, found
}

// ExpireTeamFlags zaps idle team flags of empty teams whose timeout passed
// and returns their indices.
func (e *Engine) ExpireTeamFlags(now time.Time) []int {
	var zapped []int
	for t := player.Red; t <= player.Purple; t++ {
		i := e.teamIndex[t]
		if i < 0 {
			continue
		}
		rec := &e.teams[t]
		f := &e.flags[i]
		if rec.FlagTimeout.Before(now) && rec.ActiveSize == 0 && f.Status != NoExist && f.Owner == -1 {
			e.Zap(i, now)
			zapped = append(zapped, i)
		}
	}
	return zapped
}

// InsertExtra may fill an empty extra slot with a random flag. Insertions
// follow an exponential distribution with a 45 second half-life. It returns
// the filled index or -1.
func (e *Engine) InsertExtra(now time.Time) int {
	if e.s.Extra == 0 {
		return -1
	}
	keep := math.Exp(-math.Ln2 / halfLife.Seconds() * now.Sub(e.lastExtra).Seconds())
	if e.rng.Float64() <= keep {
		return -1
	}
	e.lastExtra = now
	for i := range e.flags {
		if e.flags[i].Extra && e.flags[i].Desc == Null {
			e.randomize(i, now)
			return i
		}
	}
	return -1
}

// ShotResult reports the effect of one shot on a limited flag.
type ShotResult struct {
	Left int
	// Notify asks for a "shots left" message.
	Notify bool
	// Exhausted means the flag must be dropped now.
	Exhausted bool
}

// Shot counts a shot fired by the holder of flag i.
func (e *Engine) Shot(i int) ShotResult {
	f := &e.flags[i]
	f.Shots++
	limit, ok := e.limits[f.Desc]
	if !ok {
		return ShotResult{}
	}
	left := limit - f.Shots
	if left > 0 {
		return ShotResult{Left: left, Notify: left%5 == 0 || left <= 3 || left == limit-1}
	}
	if left == 0 || limit == 0 {
		f.Grabs = 0
		return ShotResult{Exhausted: true}
	}
	return ShotResult{}
}

// Missing lists the abbreviations this server may field that a client
// does not know.
func (e *Engine) Missing(known []string) []string {
	has := make(map[string]bool, len(known))
	for _, a := range known {
		has[a] = true
	}
	need := make(map[string]bool)
	for i := range e.flags {
		if d := e.flags[i].Desc; e.flags[i].Required && d != Null {
			need[d.Abbrev] = true
		}
	}
	if e.s.Extra > 0 {
		for _, d := range e.allowed {
			need[d.Abbrev] = true
		}
	}
	var out []string
	for a := range need {
		if !has[a] {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

func sqrt32(v float32) float32 { return float32(math.Sqrt(float64(v))) }

func abs32(v float32) float32 { return float32(math.Abs(float64(v))) }

func seconds(s float32) time.Duration { return time.Duration(float64(s) * float64(time.Second)) }
