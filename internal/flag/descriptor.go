// Package flag holds the flag catalogue and the engine that moves flag
// instances through their lifecycle: spawning, grabs, thrown flight,
// landing, capture and reset.
package flag

import (
	"sort"

	"github.com/bzfsd/bzfsd/internal/player"
)

// Endurance decides what happens to a flag when it leaves a tank.
type Endurance uint16

const (
	// Normal flags fly back to the ground while grabs remain.
	Normal Endurance = iota
	// Unstable flags vanish when dropped and respawn elsewhere.
	Unstable
	// Sticky flags cannot be dropped at will.
	Sticky
)

// Descriptor is one kind of flag.
type Descriptor struct {
	Abbrev    string
	Name      string
	Endurance Endurance
	Team      player.Team
	Good      bool
}

// IsTeam reports whether d is a team's flag.
func (d *Descriptor) IsTeam() bool { return d.Team != player.NoTeam }

func (d *Descriptor) String() string {
	if d.Abbrev == "" {
		return "none"
	}
	return d.Abbrev
}

func good(abbrev, name string) *Descriptor {
	return &Descriptor{Abbrev: abbrev, Name: name, Endurance: Unstable, Team: player.NoTeam, Good: true}
}

func bad(abbrev, name string) *Descriptor {
	return &Descriptor{Abbrev: abbrev, Name: name, Endurance: Sticky, Team: player.NoTeam}
}

func team(abbrev, name string, t player.Team) *Descriptor {
	return &Descriptor{Abbrev: abbrev, Name: name, Endurance: Normal, Team: t, Good: true}
}

var (
	Null = &Descriptor{Name: "", Endurance: Normal, Team: player.NoTeam}

	RedTeam    = team("R*", "Red Team", player.Red)
	GreenTeam  = team("G*", "Green Team", player.Green)
	BlueTeam   = team("B*", "Blue Team", player.Blue)
	PurpleTeam = team("P*", "Purple Team", player.Purple)

	Velocity             = good("V", "High Speed")
	QuickTurn            = good("QT", "Quick Turn")
	Agility              = good("A", "Agility")
	OscillationOverdrive = good("OO", "Oscillation Overthruster")
	RapidFire            = good("F", "Rapid Fire")
	MachineGun           = good("MG", "Machine Gun")
	GuidedMissile        = good("GM", "Guided Missile")
	Laser                = good("L", "Laser")
	Ricochet             = good("R", "Ricochet")
	SuperBullet          = good("SB", "Super Bullet")
	InvisibleBullet      = good("IB", "Invisible Bullet")
	Stealth              = good("ST", "Stealth")
	Tiny                 = good("T", "Tiny")
	Narrow               = good("N", "Narrow")
	Shield               = good("SH", "Shield")
	Steamroller          = good("SR", "Steamroller")
	ShockWave            = good("SW", "Shock Wave")
	PhantomZone          = good("PZ", "Phantom Zone")
	Genocide             = good("G", "Genocide")
	Jumping              = good("JP", "Jumping")
	Identify             = good("ID", "Identify")
	Cloaking             = good("CL", "Cloaking")
	Useless              = good("US", "Useless")
	Masquerade           = good("MQ", "Masquerade")
	Seer                 = good("SE", "Seer")
	Thief                = good("TH", "Thief")
	Burrow               = good("BU", "Burrow")

	Colorblindness = bad("CB", "Colorblindness")
	Obesity        = bad("O", "Obesity")
	LeftTurnOnly   = bad("LT", "Left Turn Only")
	RightTurnOnly  = bad("RT", "Right Turn Only")
	Momentum       = bad("M", "Momentum")
	Blindness      = bad("B", "Blindness")
	Jamming        = bad("JM", "Jamming")
	WideAngle      = bad("WA", "Wide Angle")
	NoJumping      = bad("NJ", "No Jumping")
)

var catalogue = []*Descriptor{
	RedTeam, GreenTeam, BlueTeam, PurpleTeam,
	Velocity, QuickTurn, Agility, OscillationOverdrive, RapidFire, MachineGun,
	GuidedMissile, Laser, Ricochet, SuperBullet, InvisibleBullet, Stealth, Tiny,
	Narrow, Shield, Steamroller, ShockWave, PhantomZone, Genocide, Jumping,
	Identify, Cloaking, Useless, Masquerade, Seer, Thief, Burrow,
	Colorblindness, Obesity, LeftTurnOnly, RightTurnOnly, Momentum, Blindness,
	Jamming, WideAngle, NoJumping,
}

var byAbbrev = func() map[string]*Descriptor {
	m := make(map[string]*Descriptor, len(catalogue)+1)
	m[""] = Null
	for _, d := range catalogue {
		m[d.Abbrev] = d
	}
	return m
}()

// Lookup finds a descriptor by abbreviation.
func Lookup(abbrev string) (*Descriptor, bool) {
	d, ok := byAbbrev[abbrev]
	return d, ok
}

// All lists every real flag, Null excluded, sorted by abbreviation.
func All() []*Descriptor {
	out := append([]*Descriptor(nil), catalogue...)
	sort.Slice(out, func(i, j int) bool { return out[i].Abbrev < out[j].Abbrev })
	return out
}

// ForTeam returns the flag of a colored team.
func ForTeam(t player.Team) (*Descriptor, bool) {
	switch t {
	case player.Red:
		return RedTeam, true
	case player.Green:
		return GreenTeam, true
	case player.Blue:
		return BlueTeam, true
	case player.Purple:
		return PurpleTeam, true
	}
	return nil, false
}
