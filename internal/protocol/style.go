package protocol

// Game style bits carried in the world header, MsgQueryGame and the list
// server advertisement.
const (
	StyleTeamFlag    uint16 = 1 << 0
	StyleSuperFlag   uint16 = 1 << 1
	StyleRogues      uint16 = 1 << 2
	StyleJumping     uint16 = 1 << 3
	StyleInertia     uint16 = 1 << 4
	StyleRicochet    uint16 = 1 << 5
	StyleShakable    uint16 = 1 << 6
	StyleAntidote    uint16 = 1 << 7
	StyleTimeSync    uint16 = 1 << 8
	StyleRabbitChase uint16 = 1 << 9
)
