package protocol

// Code is a two-letter message opcode, packed big-endian into a uint16.
type Code uint16

const (
	MsgAccept             Code = 'a'<<8 | 'c'
	MsgAddPlayer          Code = 'a'<<8 | 'p'
	MsgAlive              Code = 'a'<<8 | 'l'
	MsgCaptureFlag        Code = 'c'<<8 | 'f'
	MsgDropFlag           Code = 'd'<<8 | 'f'
	MsgEnter              Code = 'e'<<8 | 'n'
	MsgExit               Code = 'e'<<8 | 'x'
	MsgFlagUpdate         Code = 'f'<<8 | 'u'
	MsgGrabFlag           Code = 'g'<<8 | 'f'
	MsgGMUpdate           Code = 'g'<<8 | 'm'
	MsgGetWorld           Code = 'g'<<8 | 'w'
	MsgKilled             Code = 'k'<<8 | 'l'
	MsgLagPing            Code = 'p'<<8 | 'i'
	MsgMessage            Code = 'm'<<8 | 'g'
	MsgNegotiateFlags     Code = 'n'<<8 | 'f'
	MsgNewRabbit          Code = 'n'<<8 | 'R'
	MsgPause              Code = 'p'<<8 | 'a'
	MsgPlayerUpdate       Code = 'p'<<8 | 'u'
	MsgQueryGame          Code = 'q'<<8 | 'g'
	MsgQueryPlayers       Code = 'q'<<8 | 'p'
	MsgReject             Code = 'r'<<8 | 'j'
	MsgRemovePlayer       Code = 'r'<<8 | 'p'
	MsgScore              Code = 's'<<8 | 'c'
	MsgScoreOver          Code = 's'<<8 | 'o'
	MsgSetVar             Code = 's'<<8 | 'v'
	MsgShotBegin          Code = 's'<<8 | 'b'
	MsgShotEnd            Code = 's'<<8 | 'e'
	MsgSuperKill          Code = 's'<<8 | 'k'
	MsgTeamUpdate         Code = 't'<<8 | 'u'
	MsgTeleport           Code = 't'<<8 | 'p'
	MsgTimeUpdate         Code = 't'<<8 | 'o'
	MsgTransferFlag       Code = 't'<<8 | 'f'
	MsgUDPLinkEstablished Code = 'o'<<8 | 'g'
	MsgUDPLinkRequest     Code = 'o'<<8 | 'f'
	MsgWantWHash          Code = 'w'<<8 | 'h'

	// Discovery pings arrive on the game's UDP port from hosts that are
	// not connected.
	MsgPingRequest Code = 'p'<<8 | 'q'
	MsgPingReply   Code = 'p'<<8 | 'r'
)

var codeNames = map[Code]string{
	MsgAccept:             "Accept",
	MsgAddPlayer:          "AddPlayer",
	MsgAlive:              "Alive",
	MsgCaptureFlag:        "CaptureFlag",
	MsgDropFlag:           "DropFlag",
	MsgEnter:              "Enter",
	MsgExit:               "Exit",
	MsgFlagUpdate:         "FlagUpdate",
	MsgGrabFlag:           "GrabFlag",
	MsgGMUpdate:           "GMUpdate",
	MsgGetWorld:           "GetWorld",
	MsgKilled:             "Killed",
	MsgLagPing:            "LagPing",
	MsgMessage:            "Message",
	MsgNegotiateFlags:     "NegotiateFlags",
	MsgNewRabbit:          "NewRabbit",
	MsgPause:              "Pause",
	MsgPlayerUpdate:       "PlayerUpdate",
	MsgQueryGame:          "QueryGame",
	MsgQueryPlayers:       "QueryPlayers",
	MsgReject:             "Reject",
	MsgRemovePlayer:       "RemovePlayer",
	MsgScore:              "Score",
	MsgScoreOver:          "ScoreOver",
	MsgSetVar:             "SetVar",
	MsgShotBegin:          "ShotBegin",
	MsgShotEnd:            "ShotEnd",
	MsgSuperKill:          "SuperKill",
	MsgTeamUpdate:         "TeamUpdate",
	MsgTeleport:           "Teleport",
	MsgTimeUpdate:         "TimeUpdate",
	MsgTransferFlag:       "TransferFlag",
	MsgUDPLinkEstablished: "UDPLinkEstablished",
	MsgUDPLinkRequest:     "UDPLinkRequest",
	MsgWantWHash:          "WantWHash",
	MsgPingRequest:        "PingRequest",
	MsgPingReply:          "PingReply",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return string([]byte{byte(c >> 8), byte(c)})
}

// UDPEligible reports whether frames with this code may travel over a
// linked UDP path. Everything else always goes over TCP.
func (c Code) UDPEligible() bool {
	switch c {
	case MsgShotBegin, MsgShotEnd, MsgPlayerUpdate, MsgGMUpdate, MsgLagPing:
		return true
	}
	return false
}

// Reject reasons carried in MsgReject.
const (
	RejectBadRequest uint16 = iota
	RejectBadTeam
	RejectBadType
	RejectNoRogues
	RejectTeamFull
	RejectServerFull
	RejectBadCallsign
	RejectRepeatCallsign
)

// Kill reasons carried in MsgKilled.
const (
	KillGotShot int16 = iota
	KillGotRunOver
	KillGotCaptured
	KillGenocideEffect
	KillSelfDestruct
)
