package model

import (
	"encoding/json"
	"fmt"

	"github.com/bzfsd/bzfsd/internal/match"
)

// FromEvent converts a history event into the row it is stored as.
// Joins and leaves maintain PlayerSession rows instead and return nil.
func FromEvent(matchID uint, e match.Event) (any, error) {
	switch e.Kind {
	case match.Join, match.Leave:
		return nil, nil
	case match.Kill:
		return &KillEvent{
			MatchID:        matchID,
			Time:           e.Time,
			VictimSlot:     e.Slot,
			VictimCallsign: e.Callsign,
			VictimTeam:     e.Team,
			KillerSlot:     e.Other,
			Reason:         e.Reason,
			KillerWins:     e.Wins,
			VictimLosses:   e.Losses,
		}, nil
	case match.Capture:
		return &CaptureEvent{
			MatchID:      matchID,
			Time:         e.Time,
			Slot:         e.Slot,
			Callsign:     e.Callsign,
			Team:         e.Team,
			Flag:         e.Flag,
			CapturedTeam: uint16(e.Other),
		}, nil
	case match.FlagGrab, match.FlagDrop:
		return &FlagEvent{
			MatchID:  matchID,
			Time:     e.Time,
			Kind:     string(e.Kind),
			Slot:     e.Slot,
			Callsign: e.Callsign,
			Team:     e.Team,
			Flag:     e.Flag,
		}, nil
	}
	detail, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Kind, err)
	}
	return &GameEvent{
		MatchID:  matchID,
		Time:     e.Time,
		Kind:     string(e.Kind),
		Slot:     e.Slot,
		Callsign: e.Callsign,
		Detail:   detail,
	}, nil
}

// NewPlayerSession opens a session row for a join event.
func NewPlayerSession(matchID uint, e match.Event) *PlayerSession {
	return &PlayerSession{
		MatchID:  matchID,
		Slot:     e.Slot,
		Callsign: e.Callsign,
		Team:     e.Team,
		JoinedAt: e.Time,
	}
}
