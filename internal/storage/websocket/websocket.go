// Package websocket streams match history to a live feed server.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/match"
)

// Backend streams match events over WebSocket. Start and end of a match
// wait for the server's ack for that match; events are fire-and-forget.
type Backend struct {
	feed    *feed
	ackWait time.Duration
}

// New creates a new WebSocket storage backend.
func New(cfg config.WebsocketConfig, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		feed:    newFeed(cfg.URL, cfg.Secret, log.With("component", "websocket")),
		ackWait: ackTimeout,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.feed.connect()
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.feed.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// StartMatch announces the match and waits for its ack. The match stays
// open, and is announced again after a reconnect, until EndMatch.
func (b *Backend) StartMatch(info match.Info) error {
	data, err := marshalEnvelope(TypeStartMatch, newMatchPayload(info))
	if err != nil {
		return err
	}
	id := info.ID.String()
	b.feed.begin(id, data)
	if err := b.feed.request(data, ackKey{kind: TypeStartMatch, match: id}, b.ackWait); err != nil {
		b.feed.end(id)
		return err
	}
	return nil
}

// EndMatch closes the match and waits for its ack.
func (b *Backend) EndMatch(info match.Info) error {
	id := info.ID.String()
	b.feed.end(id)
	data, err := marshalEnvelope(TypeEndMatch, newMatchPayload(info))
	if err != nil {
		return err
	}
	return b.feed.request(data, ackKey{kind: TypeEndMatch, match: id}, b.ackWait)
}

// RecordEvent queues e for the feed. Events of a match that was never
// started here are refused.
func (b *Backend) RecordEvent(e match.Event) error {
	if !b.feed.isOpen(e.MatchID.String()) {
		return fmt.Errorf("event %s for match %s which is not open", e.Kind, e.MatchID)
	}
	data, err := marshalEnvelope(TypeEvent, e)
	if err != nil {
		return err
	}
	b.feed.push(data)
	return nil
}
