package world

import (
	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

// ObstacleConfig places one box or pyramid.
type ObstacleConfig struct {
	Pos      protocol.Vec3 `json:"pos" mapstructure:"pos"`
	Rotation float32       `json:"rotation" mapstructure:"rotation"`
	Size     protocol.Vec3 `json:"size" mapstructure:"size"`
}

// BaseConfig places a team base. A zero Safety is replaced by a point just
// outside the pad.
type BaseConfig struct {
	Team     player.Team   `json:"team" mapstructure:"team"`
	Pos      protocol.Vec3 `json:"pos" mapstructure:"pos"`
	Rotation float32       `json:"rotation" mapstructure:"rotation"`
	Size     protocol.Vec3 `json:"size" mapstructure:"size"`
	Safety   protocol.Vec3 `json:"safety" mapstructure:"safety"`
}

// Config describes a static world.
type Config struct {
	Size       float32          `json:"size" mapstructure:"size"`
	FlagHeight float32          `json:"flagHeight" mapstructure:"flagHeight"`
	Bases      []BaseConfig     `json:"bases" mapstructure:"bases"`
	Boxes      []ObstacleConfig `json:"boxes" mapstructure:"boxes"`
	Pyramids   []ObstacleConfig `json:"pyramids" mapstructure:"pyramids"`
}

// DefaultConfig is a square arena with a ground base for each colored team
// near the edges and a handful of buildings around the center.
func DefaultConfig(size, flagHeight float32) Config {
	edge := size/2 - BaseSize
	pad := protocol.Vec3{BaseSize / 2, BaseSize / 2, 0}
	return Config{
		Size:       size,
		FlagHeight: flagHeight,
		Bases: []BaseConfig{
			{Team: player.Red, Pos: protocol.Vec3{-edge, 0, 0}, Size: pad},
			{Team: player.Green, Pos: protocol.Vec3{edge, 0, 0}, Size: pad},
			{Team: player.Blue, Pos: protocol.Vec3{0, -edge, 0}, Size: pad},
			{Team: player.Purple, Pos: protocol.Vec3{0, edge, 0}, Size: pad},
		},
		Boxes: []ObstacleConfig{
			{Pos: protocol.Vec3{100, 100, 0}, Size: protocol.Vec3{30, 30, 9.42}},
			{Pos: protocol.Vec3{-100, 100, 0}, Size: protocol.Vec3{30, 30, 9.42}},
			{Pos: protocol.Vec3{100, -100, 0}, Size: protocol.Vec3{30, 30, 9.42}},
			{Pos: protocol.Vec3{-100, -100, 0}, Size: protocol.Vec3{30, 30, 9.42}},
		},
		Pyramids: []ObstacleConfig{
			{Pos: protocol.Vec3{0, 0, 0}, Size: protocol.Vec3{8.2, 8.2, 10.25}},
		},
	}
}
