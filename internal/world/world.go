// Package world is the static arena: team bases and solid obstacles,
// geometry queries used by flag placement, and the serialized blob that
// clients download.
package world

import (
	"fmt"
	"math"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

// Kind classifies what a point is inside of.
type Kind int

const (
	NotInBuilding Kind = iota
	InBox
	InPyramid
	InBase
)

func (k Kind) String() string {
	switch k {
	case InBox:
		return "box"
	case InPyramid:
		return "pyramid"
	case InBase:
		return "base"
	}
	return "none"
}

// BaseSize is the margin kept free along the world edge when flags are
// scattered.
const BaseSize = 60

// Obstacle is a solid rotated rectangle prism. Size holds the half
// extents along x and y and the full height along z.
type Obstacle struct {
	Kind     Kind
	Pos      protocol.Vec3
	Rotation float32
	Size     protocol.Vec3
	Team     player.Team

	footprint geom.Geometry
}

// Top is the roof height.
func (o *Obstacle) Top() float32 { return o.Pos[2] + o.Size[2] }

// Base is a team's home pad.
type Base struct {
	Obstacle
	Safety protocol.Vec3
}

// World answers geometry queries for flag placement.
type World struct {
	size       float32
	flagHeight float32
	bases      [player.CtfTeams]*Base
	obstacles  []*Obstacle
	maxHeight  float32
	blob       []byte
	digest     string
}

// New builds the world. The blob carries an empty game header until Pack
// is called with the server's parameters.
func New(cfg Config) (*World, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("world size must be positive, got %v", cfg.Size)
	}
	w := &World{size: cfg.Size, flagHeight: cfg.FlagHeight}

	for _, b := range cfg.Bases {
		if !b.Team.Colored() {
			return nil, fmt.Errorf("base for %s: only colored teams have bases", b.Team)
		}
		if w.bases[b.Team] != nil {
			return nil, fmt.Errorf("duplicate base for %s", b.Team)
		}
		base := &Base{Obstacle: Obstacle{Kind: InBase, Pos: b.Pos, Rotation: b.Rotation, Size: b.Size, Team: b.Team}}
		if err := base.buildFootprint(); err != nil {
			return nil, fmt.Errorf("base for %s: %w", b.Team, err)
		}
		base.Safety = b.Safety
		if b.Safety == (protocol.Vec3{}) {
			base.Safety = defaultSafety(b.Pos, b.Size)
		}
		w.bases[b.Team] = base
		w.obstacles = append(w.obstacles, &base.Obstacle)
	}
	for i, o := range cfg.Boxes {
		if err := w.addObstacle(InBox, o); err != nil {
			return nil, fmt.Errorf("box %d: %w", i, err)
		}
	}
	for i, o := range cfg.Pyramids {
		if err := w.addObstacle(InPyramid, o); err != nil {
			return nil, fmt.Errorf("pyramid %d: %w", i, err)
		}
	}

	for _, o := range w.obstacles {
		w.maxHeight = max(w.maxHeight, o.Top())
	}
	w.Pack(Header{})
	return w, nil
}

func (w *World) addObstacle(kind Kind, c ObstacleConfig) error {
	o := &Obstacle{Kind: kind, Pos: c.Pos, Rotation: c.Rotation, Size: c.Size, Team: player.NoTeam}
	if err := o.buildFootprint(); err != nil {
		return err
	}
	w.obstacles = append(w.obstacles, o)
	return nil
}

// defaultSafety puts the safety point just outside the base on the side
// facing the world center.
func defaultSafety(pos, size protocol.Vec3) protocol.Vec3 {
	d := float32(math.Hypot(float64(pos[0]), float64(pos[1])))
	if d == 0 {
		return protocol.Vec3{pos[0] + 2*size[0], pos[1], 0}
	}
	reach := 2 * max(size[0], size[1])
	return protocol.Vec3{pos[0] - pos[0]/d*reach, pos[1] - pos[1]/d*reach, 0}
}

// buildFootprint turns the rotated rectangle into a polygon.
func (o *Obstacle) buildFootprint() error {
	if o.Size[0] <= 0 || o.Size[1] <= 0 || o.Size[2] < 0 {
		return fmt.Errorf("invalid size %v", o.Size)
	}
	c, s := math.Cos(float64(o.Rotation)), math.Sin(float64(o.Rotation))
	hx, hy := float64(o.Size[0]), float64(o.Size[1])
	corners := [4][2]float64{{-hx, -hy}, {hx, -hy}, {hx, hy}, {-hx, hy}}

	wkt := "POLYGON(("
	for i := 0; i <= 4; i++ {
		p := corners[i%4]
		x := float64(o.Pos[0]) + p[0]*c - p[1]*s
		y := float64(o.Pos[1]) + p[0]*s + p[1]*c
		if i > 0 {
			wkt += ","
		}
		wkt += fmt.Sprintf("%g %g", x, y)
	}
	wkt += "))"

	g, err := geom.UnmarshalWKT(wkt)
	if err != nil {
		return fmt.Errorf("footprint: %w", err)
	}
	o.footprint = g
	return nil
}

// covers reports whether a circle of radius r at (x, y) touches the
// footprint. Points that are not finite cover nothing.
func (o *Obstacle) covers(x, y, r float32) bool {
	point, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: float64(x), Y: float64(y)}})
	if err != nil {
		return false
	}
	pt := point.AsGeometry()
	if r <= 0 {
		return geom.Intersects(o.footprint, pt)
	}
	d, ok := geom.Distance(o.footprint, pt)
	return ok && d <= float64(r)
}

// Contains reports whether (x, y) lies on the footprint.
func (o *Obstacle) Contains(x, y float32) bool { return o.covers(x, y, 0) }

func (w *World) Size() float32 { return w.size }
func (w *World) MaxHeight() float32 { return w.maxHeight }
func (w *World) Blob() []byte { return w.blob }
func (w *World) Digest() string { return w.digest }
func (w *World) Obstacles() []*Obstacle { return w.obstacles }

// Base returns the base of t, if it has one.
func (w *World) Base(t player.Team) (*Base, bool) {
	if !t.Colored() || w.bases[t] == nil {
		return nil, false
	}
	return w.bases[t], true
}

// BasePos is the center of t's base pad, or the origin without a base.
func (w *World) BasePos(t player.Team) protocol.Vec3 {
	if b, ok := w.Base(t); ok {
		return b.Pos
	}
	return protocol.Vec3{}
}

// InBuilding returns the first obstacle whose vertical span overlaps a
// flag standing at z and whose footprint is within r of (x, y).
func (w *World) InBuilding(x, y, z, r float32) *Obstacle {
	for _, o := range w.obstacles {
		if o.Pos[2] < z+w.flagHeight && o.Top() > z && o.covers(x, y, r) {
			return o
		}
	}
	return nil
}

// WhoseBase returns the team owning the highest base pad under (x, y) at
// or below z, or NoTeam.
func (w *World) WhoseBase(x, y, z float32) player.Team {
	best := player.NoTeam
	highest := float32(-1)
	for t, b := range w.bases {
		if b == nil || b.Pos[2] > z || !b.covers(x, y, 0) {
			continue
		}
		if b.Pos[2] > highest {
			highest = b.Pos[2]
			best = player.Team(t)
		}
	}
	return best
}
