package flag

import (
	"time"

	"github.com/bzfsd/bzfsd/internal/protocol"
)

// Status is where a flag instance is in its lifecycle.
type Status uint16

const (
	NoExist Status = iota
	OnGround
	OnTank
	InAir
	Coming
	Going
)

func (s Status) String() string {
	switch s {
	case NoExist:
		return "NoExist"
	case OnGround:
		return "OnGround"
	case OnTank:
		return "OnTank"
	case InAir:
		return "InAir"
	case Coming:
		return "Coming"
	case Going:
		return "Going"
	}
	return "Unknown"
}

// Flying reports whether s counts toward the flags in the air.
func (s Status) Flying() bool { return s == InAir || s == Coming || s == Going }

// CanTransition reports whether from -> to is a lifecycle edge. Any flag
// may be reset to NoExist, and an operator may send any unheld flag away;
// a held flag never lands without a flight.
func CanTransition(from, to Status) bool {
	switch to {
	case NoExist:
		return true
	case Coming:
		return from == NoExist
	case OnGround:
		return from == Coming || from == InAir
	case OnTank:
		return from == OnGround
	case InAir:
		return from == OnTank
	case Going:
		return from != Going
	}
	return false
}

// Instance is one slot of the flag table.
type Instance struct {
	Desc   *Descriptor
	Status Status
	// Owner is the holding slot or -1.
	Owner     int
	lastOwner byte

	Pos             protocol.Vec3
	LaunchPos       protocol.Vec3
	LandingPos      protocol.Vec3
	FlightTime      float32
	FlightEnd       float32
	InitialVelocity float32
	DropDone        time.Time

	Grabs    int
	Shots    int
	Required bool
	Extra    bool
}

// Info is the wire form of the instance.
func (f *Instance) Info() protocol.FlagInfo {
	return protocol.FlagInfo{
		Abbrev:          f.Desc.Abbrev,
		Status:          uint16(f.Status),
		Endurance:       uint16(f.Desc.Endurance),
		Owner:           f.lastOwner,
		Pos:             f.Pos,
		LaunchPos:       f.LaunchPos,
		LandingPos:      f.LandingPos,
		FlightTime:      f.FlightTime,
		FlightEnd:       f.FlightEnd,
		InitialVelocity: f.InitialVelocity,
	}
}
