package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels lists every table of the match history schema.
var DatabaseModels = []any{
	&Match{},
	&PlayerSession{},
	&KillEvent{},
	&CaptureEvent{},
	&FlagEvent{},
	&GameEvent{},
	&ServerPerformance{},
}

////////////////////////
// MATCH MODELS
////////////////////////

// Match is one game, from its start until game over or shutdown.
type Match struct {
	ID          uint         `json:"id" gorm:"primarykey"`
	UUID        string       `json:"uuid" gorm:"size:36;uniqueIndex"`
	Title       string       `json:"title" gorm:"size:256"`
	WorldDigest string       `json:"worldDigest" gorm:"size:64"`
	GameStyle   uint16       `json:"gameStyle"`
	StartedAt   time.Time    `json:"startedAt" gorm:"index:idx_match_started_at"`
	EndedAt     sql.NullTime `json:"endedAt"`

	PlayerSessions []PlayerSession
	KillEvents     []KillEvent
	CaptureEvents  []CaptureEvent
	FlagEvents     []FlagEvent
	GameEvents     []GameEvent
}

func (*Match) TableName() string {
	return "matches"
}

// PlayerSession spans one player's stay in a match.
type PlayerSession struct {
	ID          uint         `json:"id" gorm:"primarykey"`
	MatchID     uint         `json:"matchId" gorm:"index:idx_session_match_slot"`
	Match       Match        `json:"-" gorm:"foreignkey:MatchID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Slot        int          `json:"slot" gorm:"index:idx_session_match_slot"`
	Callsign    string       `json:"callsign" gorm:"size:32;index:idx_session_callsign"`
	Team        uint16       `json:"team"`
	JoinedAt    time.Time    `json:"joinedAt"`
	LeftAt      sql.NullTime `json:"leftAt"`
	Wins        int          `json:"wins"`
	Losses      int          `json:"losses"`
	LeaveReason string       `json:"leaveReason" gorm:"size:128"`
}

func (*PlayerSession) TableName() string {
	return "player_sessions"
}

// KillEvent records a tank destroyed, by another player or by the world.
type KillEvent struct {
	ID             uint      `json:"id" gorm:"primarykey"`
	MatchID        uint      `json:"matchId" gorm:"index:idx_kill_match_id"`
	Match          Match     `json:"-" gorm:"foreignkey:MatchID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Time           time.Time `json:"time" gorm:"index:idx_kill_time"`
	VictimSlot     int       `json:"victimSlot"`
	VictimCallsign string    `json:"victimCallsign" gorm:"size:32"`
	VictimTeam     uint16    `json:"victimTeam"`
	KillerSlot     int       `json:"killerSlot"`
	Reason         string    `json:"reason" gorm:"size:32"`
	KillerWins     int       `json:"killerWins"`
	VictimLosses   int       `json:"victimLosses"`
}

func (*KillEvent) TableName() string {
	return "kill_events"
}

// CaptureEvent records a team flag carried home.
type CaptureEvent struct {
	ID           uint      `json:"id" gorm:"primarykey"`
	MatchID      uint      `json:"matchId" gorm:"index:idx_capture_match_id"`
	Match        Match     `json:"-" gorm:"foreignkey:MatchID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Time         time.Time `json:"time"`
	Slot         int       `json:"slot"`
	Callsign     string    `json:"callsign" gorm:"size:32"`
	Team         uint16    `json:"team"`
	Flag         string    `json:"flag" gorm:"size:4"`
	CapturedTeam uint16    `json:"capturedTeam"`
}

func (*CaptureEvent) TableName() string {
	return "capture_events"
}

// FlagEvent records a flag grabbed or dropped.
type FlagEvent struct {
	ID       uint      `json:"id" gorm:"primarykey"`
	MatchID  uint      `json:"matchId" gorm:"index:idx_flag_match_id"`
	Match    Match     `json:"-" gorm:"foreignkey:MatchID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind" gorm:"size:16"`
	Slot     int       `json:"slot"`
	Callsign string    `json:"callsign" gorm:"size:32"`
	Team     uint16    `json:"team"`
	Flag     string    `json:"flag" gorm:"size:4;index:idx_flag_abbrev"`
}

func (*FlagEvent) TableName() string {
	return "flag_events"
}

// GameEvent is anything else worth keeping: spawns, kicks, game over.
// Detail holds the full event as JSON.
type GameEvent struct {
	ID       uint           `json:"id" gorm:"primarykey"`
	MatchID  uint           `json:"matchId" gorm:"index:idx_game_event_match_id"`
	Match    Match          `json:"-" gorm:"foreignkey:MatchID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Time     time.Time      `json:"time"`
	Kind     string         `json:"kind" gorm:"size:16;index:idx_game_event_kind"`
	Slot     int            `json:"slot"`
	Callsign string         `json:"callsign" gorm:"size:32"`
	Detail   datatypes.JSON `json:"detail"`
}

func (*GameEvent) TableName() string {
	return "game_events"
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// ServerPerformance is one monitor sample.
type ServerPerformance struct {
	Time                time.Time `json:"time" gorm:"index:idx_perf_time"`
	MatchUUID           string    `json:"matchUuid" gorm:"size:36"`
	Players             int       `json:"players"`
	Observers           int       `json:"observers"`
	Sessions            int       `json:"sessions"`
	FlagsInAir          int       `json:"flagsInAir"`
	BytesQueued         int       `json:"bytesQueued"`
	TickMs              float32   `json:"tickMs"`
	RecorderQueue       int       `json:"recorderQueue"`
	RecorderDropped     uint64    `json:"recorderDropped"`
	LastWriteDurationMs float32   `json:"lastWriteDurationMs"`
}

func (*ServerPerformance) TableName() string {
	return "server_performances"
}
