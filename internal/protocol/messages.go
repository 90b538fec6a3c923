package protocol

// Vec3 is a position or velocity in world coordinates.
type Vec3 [3]float32

// Player status bits carried in PlayerState.Status.
const (
	StatusAlive       int16 = 1 << 0
	StatusPaused      int16 = 1 << 1
	StatusExploding   int16 = 1 << 2
	StatusTeleporting int16 = 1 << 3
	StatusFlagActive  int16 = 1 << 4
	StatusCrossing    int16 = 1 << 5
	StatusFalling     int16 = 1 << 6
)

// PlayerState is the movement sample a client reports in MsgPlayerUpdate.
type PlayerState struct {
	Order    int32
	Status   int16
	Pos      Vec3
	Velocity Vec3
	Azimuth  float32
	AngVel   float32
}

const playerStateLen = 4 + 2 + 12 + 12 + 4 + 4

func (s PlayerState) pack(w *Writer) {
	w.U32(uint32(s.Order)).I16(s.Status).Vec(s.Pos).Vec(s.Velocity).F32(s.Azimuth).F32(s.AngVel)
}

func unpackPlayerState(r *Reader) PlayerState {
	return PlayerState{
		Order:    int32(r.U32()),
		Status:   r.I16(),
		Pos:      r.Vec(),
		Velocity: r.Vec(),
		Azimuth:  r.F32(),
		AngVel:   r.F32(),
	}
}

// PlayerUpdate is the body of MsgPlayerUpdate.
type PlayerUpdate struct {
	ID    byte
	State PlayerState
}

func (m PlayerUpdate) Encode() []byte {
	w := NewWriter(1 + playerStateLen)
	w.U8(m.ID)
	m.State.pack(w)
	return w.Bytes()
}

func DecodePlayerUpdate(b []byte) (PlayerUpdate, error) {
	r := NewReader(b)
	m := PlayerUpdate{ID: r.U8(), State: unpackPlayerState(r)}
	return m, r.Err()
}

// Enter is the body of MsgEnter.
type Enter struct {
	Type     uint16
	Team     uint16
	Callsign string
	Email    string
}

func (m Enter) Encode() []byte {
	return NewWriter(4+CallSignLen+EmailLen).
		U16(m.Type).U16(m.Team).Str(m.Callsign, CallSignLen).Str(m.Email, EmailLen).Bytes()
}

func DecodeEnter(b []byte) (Enter, error) {
	r := NewReader(b)
	m := Enter{Type: r.U16(), Team: r.U16(), Callsign: r.Str(CallSignLen), Email: r.Str(EmailLen)}
	return m, r.Err()
}

// AddPlayer is the body of MsgAddPlayer.
type AddPlayer struct {
	ID       byte
	Type     uint16
	Team     uint16
	Wins     uint16
	Losses   uint16
	TKs      uint16
	Callsign string
	Email    string
}

func (m AddPlayer) Encode() []byte {
	return NewWriter(11+CallSignLen+EmailLen).
		U8(m.ID).U16(m.Type).U16(m.Team).U16(m.Wins).U16(m.Losses).U16(m.TKs).
		Str(m.Callsign, CallSignLen).Str(m.Email, EmailLen).Bytes()
}

func DecodeAddPlayer(b []byte) (AddPlayer, error) {
	r := NewReader(b)
	m := AddPlayer{
		ID: r.U8(), Type: r.U16(), Team: r.U16(), Wins: r.U16(), Losses: r.U16(), TKs: r.U16(),
		Callsign: r.Str(CallSignLen), Email: r.Str(EmailLen),
	}
	return m, r.Err()
}

// FlagInfo is the wire form of one flag instance.
type FlagInfo struct {
	Abbrev          string
	Status          uint16
	Endurance       uint16
	Owner           byte
	Pos             Vec3
	LaunchPos       Vec3
	LandingPos      Vec3
	FlightTime      float32
	FlightEnd       float32
	InitialVelocity float32
}

// FlagInfoLen is the packed size of a FlagInfo.
const FlagInfoLen = 2 + 2 + 2 + 1 + 12*3 + 4*3

func (f FlagInfo) Pack(w *Writer) {
	w.Raw(abbrevBytes(f.Abbrev)).U16(f.Status).U16(f.Endurance).U8(f.Owner).
		Vec(f.Pos).Vec(f.LaunchPos).Vec(f.LandingPos).
		F32(f.FlightTime).F32(f.FlightEnd).F32(f.InitialVelocity)
}

func UnpackFlagInfo(r *Reader) FlagInfo {
	return FlagInfo{
		Abbrev:          trimAbbrev(r.Raw(2)),
		Status:          r.U16(),
		Endurance:       r.U16(),
		Owner:           r.U8(),
		Pos:             r.Vec(),
		LaunchPos:       r.Vec(),
		LandingPos:      r.Vec(),
		FlightTime:      r.F32(),
		FlightEnd:       r.F32(),
		InitialVelocity: r.F32(),
	}
}

func abbrevBytes(a string) []byte {
	b := []byte{0, 0}
	copy(b, a)
	return b
}

func trimAbbrev(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// IndexedFlag pairs a flag index with its state, as carried in
// MsgFlagUpdate batches.
type IndexedFlag struct {
	Index uint16
	Flag  FlagInfo
}

// EncodeFlagUpdate packs a MsgFlagUpdate body: a count, then index+flag
// pairs.
func EncodeFlagUpdate(flags []IndexedFlag) []byte {
	w := NewWriter(2 + len(flags)*(2+FlagInfoLen))
	w.U16(uint16(len(flags)))
	for _, f := range flags {
		w.U16(f.Index)
		f.Flag.Pack(w)
	}
	return w.Bytes()
}

func DecodeFlagUpdate(b []byte) ([]IndexedFlag, error) {
	r := NewReader(b)
	n := int(r.U16())
	out := make([]IndexedFlag, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		idx := r.U16()
		out = append(out, IndexedFlag{Index: idx, Flag: UnpackFlagInfo(r)})
	}
	return out, r.Err()
}

// FlagsPerUpdate is how many flags fit into one MsgFlagUpdate frame.
const FlagsPerUpdate = (MaxPacketLen - HeaderLen - 2) / (2 + FlagInfoLen)

// GrabFlag is the server-to-client body of MsgGrabFlag.
type GrabFlag struct {
	Player byte
	Index  uint16
	Flag   FlagInfo
}

func (m GrabFlag) Encode() []byte {
	w := NewWriter(3 + FlagInfoLen)
	w.U8(m.Player).U16(m.Index)
	m.Flag.Pack(w)
	return w.Bytes()
}

// DropFlag is the server-to-client body of MsgDropFlag.
type DropFlag = GrabFlag

// DecodeU16 reads single-field bodies such as a client MsgGrabFlag (flag
// index) or MsgCaptureFlag (team).
func DecodeU16(b []byte) (uint16, error) {
	r := NewReader(b)
	v := r.U16()
	return v, r.Err()
}

func EncodeU16(v uint16) []byte { return NewWriter(2).U16(v).Bytes() }

func DecodeVec(b []byte) (Vec3, error) {
	r := NewReader(b)
	v := r.Vec()
	return v, r.Err()
}

func DecodeU8(b []byte) (byte, error) {
	r := NewReader(b)
	v := r.U8()
	return v, r.Err()
}

// CaptureFlag is the server-to-client body of MsgCaptureFlag.
type CaptureFlag struct {
	Player byte
	Index  uint16
	Team   uint16
}

func (m CaptureFlag) Encode() []byte {
	return NewWriter(5).U8(m.Player).U16(m.Index).U16(m.Team).Bytes()
}

// Killed is the client-to-server body of MsgKilled.
type Killed struct {
	Killer byte
	Reason int16
	Shot   int16
}

func (m Killed) Encode() []byte {
	return NewWriter(5).U8(m.Killer).I16(m.Reason).I16(m.Shot).Bytes()
}

func DecodeKilled(b []byte) (Killed, error) {
	r := NewReader(b)
	m := Killed{Killer: r.U8(), Reason: r.I16(), Shot: r.I16()}
	return m, r.Err()
}

// KilledNotice is the server-to-client body of MsgKilled.
type KilledNotice struct {
	Victim byte
	Killer byte
	Reason int16
	Shot   int16
}

func (m KilledNotice) Encode() []byte {
	return NewWriter(6).U8(m.Victim).U8(m.Killer).I16(m.Reason).I16(m.Shot).Bytes()
}

// ShotUpdate identifies a shot and its kinematics.
type ShotUpdate struct {
	Player byte
	ID     uint16
	Pos    Vec3
	Vel    Vec3
	DT     float32
}

// FiringInfo is the body of MsgShotBegin.
type FiringInfo struct {
	TimeSent float32
	Shot     ShotUpdate
	Flag     string
	Lifetime float32
}

const firingInfoLen = 4 + 1 + 2 + 12 + 12 + 4 + 2 + 4

func (m FiringInfo) Encode() []byte {
	w := NewWriter(firingInfoLen)
	w.F32(m.TimeSent).U8(m.Shot.Player).U16(m.Shot.ID).Vec(m.Shot.Pos).Vec(m.Shot.Vel).F32(m.Shot.DT)
	w.Raw(abbrevBytes(m.Flag)).F32(m.Lifetime)
	return w.Bytes()
}

func DecodeFiringInfo(b []byte) (FiringInfo, error) {
	r := NewReader(b)
	m := FiringInfo{TimeSent: r.F32()}
	m.Shot = ShotUpdate{Player: r.U8(), ID: r.U16(), Pos: r.Vec(), Vel: r.Vec(), DT: r.F32()}
	m.Flag = trimAbbrev(r.Raw(2))
	m.Lifetime = r.F32()
	return m, r.Err()
}

// ShotEnd is the body of MsgShotEnd.
type ShotEnd struct {
	Player byte
	Shot   int16
	Reason uint16
}

func (m ShotEnd) Encode() []byte {
	return NewWriter(5).U8(m.Player).I16(m.Shot).U16(m.Reason).Bytes()
}

func DecodeShotEnd(b []byte) (ShotEnd, error) {
	r := NewReader(b)
	m := ShotEnd{Player: r.U8(), Shot: r.I16(), Reason: r.U16()}
	return m, r.Err()
}

// Teleport is the client-to-server body of MsgTeleport.
type Teleport struct {
	From uint16
	To   uint16
}

func DecodeTeleport(b []byte) (Teleport, error) {
	r := NewReader(b)
	m := Teleport{From: r.U16(), To: r.U16()}
	return m, r.Err()
}

func (m Teleport) Encode() []byte { return NewWriter(4).U16(m.From).U16(m.To).Bytes() }

// TeleportNotice is the relayed form of a teleport.
type TeleportNotice struct {
	Player byte
	Teleport
}

func (m TeleportNotice) Encode() []byte {
	return NewWriter(5).U8(m.Player).U16(m.From).U16(m.To).Bytes()
}

// Message is the client-to-server body of MsgMessage.
type Message struct {
	To   byte
	Text string
}

func (m Message) Encode() []byte {
	return NewWriter(1 + MessageLen).U8(m.To).Str(m.Text, MessageLen).Bytes()
}

func DecodeMessage(b []byte) (Message, error) {
	r := NewReader(b)
	m := Message{To: r.U8()}
	n := r.Remaining()
	if n > MessageLen {
		n = MessageLen
	}
	m.Text = r.Str(n)
	return m, r.Err()
}

// ChatMessage is the server-to-client body of MsgMessage.
type ChatMessage struct {
	From byte
	To   byte
	Text string
}

func (m ChatMessage) Encode() []byte {
	return NewWriter(2 + MessageLen).U8(m.From).U8(m.To).Str(m.Text, MessageLen).Bytes()
}

func DecodeChatMessage(b []byte) (ChatMessage, error) {
	r := NewReader(b)
	m := ChatMessage{From: r.U8(), To: r.U8(), Text: r.Str(MessageLen)}
	return m, r.Err()
}

// TransferFlag is the client-to-server body of MsgTransferFlag.
type TransferFlag struct {
	From byte
	To   byte
}

func DecodeTransferFlag(b []byte) (TransferFlag, error) {
	r := NewReader(b)
	m := TransferFlag{From: r.U8(), To: r.U8()}
	return m, r.Err()
}

// TransferNotice is the server-to-client body of MsgTransferFlag.
type TransferNotice struct {
	From  byte
	To    byte
	Index uint16
	Flag  FlagInfo
}

func (m TransferNotice) Encode() []byte {
	w := NewWriter(4 + FlagInfoLen)
	w.U8(m.From).U8(m.To).U16(m.Index)
	m.Flag.Pack(w)
	return w.Bytes()
}

// Alive is the body of a client MsgAlive spawn request.
type Alive struct {
	Pos     Vec3
	Forward Vec3
}

func DecodeAlive(b []byte) (Alive, error) {
	r := NewReader(b)
	m := Alive{Pos: r.Vec(), Forward: r.Vec()}
	return m, r.Err()
}

// AliveNotice is the server-to-client body of MsgAlive.
type AliveNotice struct {
	Player byte
	Alive
}

func (m AliveNotice) Encode() []byte {
	return NewWriter(25).U8(m.Player).Vec(m.Pos).Vec(m.Forward).Bytes()
}

// TeamInfo is one team's scoreboard row.
type TeamInfo struct {
	Team       uint16
	Size       uint16
	ActiveSize uint16
	Won        uint16
	Lost       uint16
}

// EncodeTeamUpdate packs a MsgTeamUpdate body.
func EncodeTeamUpdate(teams []TeamInfo) []byte {
	w := NewWriter(1 + len(teams)*10)
	w.U8(uint8(len(teams)))
	for _, t := range teams {
		w.U16(t.Team).U16(t.Size).U16(t.ActiveSize).U16(t.Won).U16(t.Lost)
	}
	return w.Bytes()
}

func DecodeTeamUpdate(b []byte) ([]TeamInfo, error) {
	r := NewReader(b)
	n := int(r.U8())
	out := make([]TeamInfo, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		out = append(out, TeamInfo{Team: r.U16(), Size: r.U16(), ActiveSize: r.U16(), Won: r.U16(), Lost: r.U16()})
	}
	return out, r.Err()
}

// ScoreEntry is one row of MsgScore.
type ScoreEntry struct {
	Player byte
	Wins   uint16
	Losses uint16
	TKs    uint16
}

func EncodeScore(rows []ScoreEntry) []byte {
	w := NewWriter(1 + len(rows)*7)
	w.U8(uint8(len(rows)))
	for _, s := range rows {
		w.U8(s.Player).U16(s.Wins).U16(s.Losses).U16(s.TKs)
	}
	return w.Bytes()
}

func DecodeScore(b []byte) ([]ScoreEntry, error) {
	r := NewReader(b)
	n := int(r.U8())
	out := make([]ScoreEntry, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		out = append(out, ScoreEntry{Player: r.U8(), Wins: r.U16(), Losses: r.U16(), TKs: r.U16()})
	}
	return out, r.Err()
}

// ScoreOver is the body of MsgScoreOver.
type ScoreOver struct {
	Player byte
	Team   uint16
}

func (m ScoreOver) Encode() []byte { return NewWriter(3).U8(m.Player).U16(m.Team).Bytes() }

// WorldChunk is the reply to MsgGetWorld.
type WorldChunk struct {
	Remaining uint32
	Data      []byte
}

func (m WorldChunk) Encode() []byte {
	return NewWriter(4 + len(m.Data)).U32(m.Remaining).Raw(m.Data).Bytes()
}

func DecodeWorldChunk(b []byte) (WorldChunk, error) {
	r := NewReader(b)
	m := WorldChunk{Remaining: r.U32()}
	m.Data = r.Raw(r.Remaining())
	return m, r.Err()
}

func DecodeU32(b []byte) (uint32, error) {
	r := NewReader(b)
	v := r.U32()
	return v, r.Err()
}

// GameInfo is the body of the MsgQueryGame reply.
type GameInfo struct {
	Style          uint16
	MaxPlayers     uint16
	MaxShots       uint16
	TeamSize       [5]uint16
	TeamMax        [5]uint16
	ShakeWins      uint16
	ShakeTimeout   uint16
	MaxPlayerScore uint16
	MaxTeamScore   uint16
	MaxTime        uint16
}

func (m GameInfo) Encode() []byte {
	w := NewWriter(46)
	w.U16(m.Style).U16(m.MaxPlayers).U16(m.MaxShots)
	for _, v := range m.TeamSize {
		w.U16(v)
	}
	for _, v := range m.TeamMax {
		w.U16(v)
	}
	w.U16(m.ShakeWins).U16(m.ShakeTimeout).U16(m.MaxPlayerScore).U16(m.MaxTeamScore).U16(m.MaxTime)
	return w.Bytes()
}

func DecodeGameInfo(b []byte) (GameInfo, error) {
	r := NewReader(b)
	m := GameInfo{Style: r.U16(), MaxPlayers: r.U16(), MaxShots: r.U16()}
	for i := range m.TeamSize {
		m.TeamSize[i] = r.U16()
	}
	for i := range m.TeamMax {
		m.TeamMax[i] = r.U16()
	}
	m.ShakeWins, m.ShakeTimeout = r.U16(), r.U16()
	m.MaxPlayerScore, m.MaxTeamScore, m.MaxTime = r.U16(), r.U16(), r.U16()
	return m, r.Err()
}

// Pause is the server-to-client body of MsgPause.
type Pause struct {
	Player byte
	Paused bool
}

func (m Pause) Encode() []byte {
	var p byte
	if m.Paused {
		p = 1
	}
	return []byte{m.Player, p}
}

// SetVar is one name/value pair of a MsgSetVar batch.
type SetVar struct {
	Name  string
	Value string
}

// EncodeSetVars packs as many variables as fit into successive bodies.
func EncodeSetVars(vars []SetVar) [][]byte {
	var bodies [][]byte
	w := NewWriter(MaxPacketLen)
	w.U16(0)
	count := 0
	flush := func() {
		b := w.Bytes()
		b[0], b[1] = byte(count>>8), byte(count)
		bodies = append(bodies, b)
		w = NewWriter(MaxPacketLen)
		w.U16(0)
		count = 0
	}
	for _, v := range vars {
		need := 2 + len(v.Name) + len(v.Value)
		if count > 0 && w.Len()+need > MaxPacketLen-HeaderLen {
			flush()
		}
		w.U8(uint8(len(v.Name))).Raw([]byte(v.Name)).U8(uint8(len(v.Value))).Raw([]byte(v.Value))
		count++
	}
	if count > 0 {
		flush()
	}
	return bodies
}

func DecodeSetVars(b []byte) ([]SetVar, error) {
	r := NewReader(b)
	n := int(r.U16())
	out := make([]SetVar, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		name := string(r.Raw(int(r.U8())))
		value := string(r.Raw(int(r.U8())))
		out = append(out, SetVar{Name: name, Value: value})
	}
	return out, r.Err()
}

// DecodeAbbrevs reads the 2-byte flag abbreviations of MsgNegotiateFlags.
func DecodeAbbrevs(b []byte) []string {
	out := make([]string, 0, len(b)/2)
	for i := 0; i+2 <= len(b); i += 2 {
		out = append(out, trimAbbrev(b[i:i+2]))
	}
	return out
}

func EncodeAbbrevs(abbrevs []string) []byte {
	w := NewWriter(2 * len(abbrevs))
	for _, a := range abbrevs {
		w.Raw(abbrevBytes(a))
	}
	return w.Bytes()
}
