package game

import (
	"fmt"
	"math"

	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/flag"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

// Action is what the core does with a frame that failed a check.
type Action int

const (
	Accept Action = iota
	// Drop ignores the frame silently.
	Drop
	// Warn logs and carries on.
	Warn
	// Kick tells the player why and disconnects them.
	Kick
)

func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case Drop:
		return "drop"
	case Warn:
		return "warn"
	case Kick:
		return "kick"
	}
	return "unknown"
}

// Verdict is the outcome of a validation rule. Message is sent to the
// player on Kick.
type Verdict struct {
	Action  Action
	Reason  string
	Message string
}

var accepted = Verdict{Action: Accept}

const (
	boundsFudge         = 5
	shotLifetimeEpsilon = 1e-4
	shotSpeedSlack      = 1.01
)

// maxTankHeight is the highest a tank can get by jumping off the tallest
// obstacle.
func maxTankHeight(p config.PhysicsConfig, worldHeight float32) float32 {
	return worldHeight + 1 + p.JumpVelocity*p.JumpVelocity/(2*-p.Gravity)
}

// finite reports whether every component of vs is a real number. Bounds
// comparisons against NaN are always false, so callers check this first.
func finite(vs ...protocol.Vec3) bool {
	for _, v := range vs {
		for _, c := range v {
			f := float64(c)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return false
			}
		}
	}
	return true
}

// checkMovement applies the position and speed rules to a movement sample.
// last is the previous accepted sample and held the descriptor of the flag
// the player carries.
//
// The stale order check runs last on purpose: a replayed sample that is
// out of bounds still kicks.
func checkMovement(cfg *config.Config, worldHeight float32, last, state protocol.PlayerState, held *flag.Descriptor) Verdict {
	p := cfg.Physics
	pos := state.Pos

	if !finite(pos, state.Velocity) {
		return Verdict{
			Action:  Kick,
			Reason:  "non-finite position or velocity",
			Message: "Autokick: Out of world bounds, XY pos out of bounds, Don't cheat.",
		}
	}

	if limit := maxTankHeight(p, worldHeight); pos[2] > limit {
		return Verdict{
			Action:  Kick,
			Reason:  fmt.Sprintf("too high: z %.2f above %.2f", pos[2], limit),
			Message: "Autokick: Out of world bounds, Jump too high, Update your client.",
		}
	}

	edge := p.WorldSize/2 + boundsFudge
	if pos[0] >= edge || pos[0] <= -edge || pos[1] >= edge || pos[1] <= -edge || pos[2] < p.BurrowDepth {
		return Verdict{
			Action:  Kick,
			Reason:  "out of map bounds",
			Message: "Autokick: Out of world bounds, XY pos out of bounds, Don't cheat.",
		}
	}

	if p.LinearAcceleration == 0 {
		if v := checkSpeed(p, last, state, held); v.Action != Accept {
			return v
		}
	}

	if state.Order <= last.Order {
		return Verdict{Action: Drop, Reason: "stale order"}
	}
	return accepted
}

// dropPosition bounds a client supplied drop point to the space a tank can
// occupy. A point that is not finite falls back to the last accepted
// position.
func dropPosition(cfg *config.Config, worldHeight float32, pos, last protocol.Vec3) protocol.Vec3 {
	if !finite(pos) {
		pos = last
	}
	p := cfg.Physics
	edge := p.WorldSize / 2
	pos[0] = min(max(pos[0], -edge), edge)
	pos[1] = min(max(pos[1], -edge), edge)
	pos[2] = min(max(pos[2], p.BurrowDepth), maxTankHeight(p, worldHeight))
	return pos
}

// checkSpeed compares the squared planar speed with the fastest the held
// flag allows. Without a speed flag, a sample taken while falling, jumping
// or dead is only logged since the player may have just dropped one.
func checkSpeed(p config.PhysicsConfig, last, state protocol.PlayerState, held *flag.Descriptor) Verdict {
	vx, vy := state.Velocity[0], state.Velocity[1]
	speed2 := vx*vx + vy*vy

	mod := float32(1)
	logOnly := false
	switch held {
	case flag.Velocity:
		mod = p.VelocityAd
	case flag.Thief:
		mod = p.ThiefVelAd
	default:
		logOnly = last.Pos[2] != state.Pos[2] ||
			last.Velocity[2] != state.Velocity[2] ||
			state.Status&protocol.StatusAlive == 0
	}

	tol := p.SpeedTolerance
	if tol < 1 {
		tol = 1
	}
	limit := p.TankSpeed * mod * tol
	if speed2 <= limit*limit {
		return accepted
	}

	reason := fmt.Sprintf("tank too fast: %.2f allowed %.2f", math.Sqrt(float64(speed2)), limit)
	if logOnly {
		return Verdict{Action: Warn, Reason: reason}
	}
	return Verdict{
		Action:  Kick,
		Reason:  reason,
		Message: "Autokick: Tank moving too fast, Update your client.",
	}
}

// checkShot validates a shot against the shooter's last accepted position
// and held flag. A flag mismatch is corrected in fi and reported as Warn;
// every other failure is Drop.
func checkShot(cfg *config.Config, slot int, lastPos protocol.Vec3, held *flag.Descriptor, fi *protocol.FiringInfo) Verdict {
	p := cfg.Physics
	shot := fi.Shot

	if int(shot.Player) != slot {
		return Verdict{Action: Drop, Reason: "shot player id mismatch"}
	}
	if !finite(shot.Pos, shot.Vel) || math.IsNaN(float64(fi.Lifetime)) {
		return Verdict{Action: Drop, Reason: "non-finite shot"}
	}

	result := accepted
	claimed, ok := flag.Lookup(fi.Flag)
	if !ok {
		claimed = flag.Null
	}
	if claimed != flag.Null && claimed != held {
		result = Verdict{Action: Warn, Reason: fmt.Sprintf("shot flag mismatch %s %s", claimed, held)}
		fi.Flag = ""
		claimed = flag.Null
	}

	if int(shot.ID&0xff) > cfg.Game.MaxShots-1 {
		return Verdict{Action: Drop, Reason: fmt.Sprintf("shot id %d out of range", shot.ID&0xff)}
	}

	shotSpeed := p.ShotSpeed
	tankSpeed := p.TankSpeed
	switch {
	case claimed == flag.ShockWave:
		shotSpeed, tankSpeed = 0, 0
	case claimed == flag.Velocity:
		tankSpeed *= p.VelocityAd
	case claimed == flag.Thief:
		tankSpeed *= p.ThiefVelAd
	case claimed == flag.Burrow && shot.Pos[2] < p.MuzzleHeight:
		tankSpeed *= p.BurrowSpeedAd
	case lastPos[2] != shot.Pos[2]-p.MuzzleHeight:
		tankSpeed *= p.VelocityAd
	}
	shotSpeed += tankSpeed

	if math.Abs(float64(fi.Lifetime-p.ReloadTime)) > shotLifetimeEpsilon {
		return Verdict{Action: Drop, Reason: fmt.Sprintf("shot lifetime mismatch %f %f", fi.Lifetime, p.ReloadTime)}
	}

	v := shot.Vel
	if speed := math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])); speed > float64(shotSpeed)*shotSpeedSlack {
		return Verdict{Action: Drop, Reason: fmt.Sprintf("shot over speed %.2f %.2f", speed, shotSpeed)}
	}

	front := p.MuzzleFront
	if claimed == flag.Obesity {
		front *= p.ObeseFactor
	}
	dx, dy, dz := lastPos[0]-shot.Pos[0], lastPos[1]-shot.Pos[1], lastPos[2]-shot.Pos[2]
	reach := p.TankSpeed*p.VelocityAd + front
	if dx*dx+dy*dy+dz*dz > reach*reach {
		return Verdict{Action: Drop, Reason: "shot origin too far from tank"}
	}
	return result
}
