package websocket

import (
	"encoding/json"
	"time"

	"github.com/bzfsd/bzfsd/internal/match"
)

// Message types of the live feed.
const (
	TypeStartMatch = "start_match"
	TypeEndMatch   = "end_match"
	TypeEvent      = "event"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement of a start or end message.
type AckMessage struct {
	Type  string `json:"type"` // always "ack"
	For   string `json:"for"`
	Match string `json:"match,omitempty"`
}

// MatchPayload describes the match a start or end message refers to.
type MatchPayload struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	WorldDigest string    `json:"worldDigest"`
	GameStyle   uint16    `json:"gameStyle"`
	Started     time.Time `json:"started"`
	Ended       time.Time `json:"ended,omitzero"`
}

func newMatchPayload(info match.Info) MatchPayload {
	return MatchPayload{
		ID:          info.ID.String(),
		Title:       info.Title,
		WorldDigest: info.WorldDigest,
		GameStyle:   info.GameStyle,
		Started:     info.Started,
		Ended:       info.Ended,
	}
}
