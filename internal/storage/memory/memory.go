// Package memory keeps each match in memory and exports it as a JSON file
// when the match ends.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/match"
)

// PlayerRecord summarizes one player's stay in a match.
type PlayerRecord struct {
	Slot     int       `json:"slot"`
	Callsign string    `json:"callsign"`
	Team     uint16    `json:"team"`
	Joined   time.Time `json:"joined"`
	Left     time.Time `json:"left,omitzero"`
	Wins     int       `json:"wins"`
	Losses   int       `json:"losses"`
	Kills    int       `json:"kills"`
	Deaths   int       `json:"deaths"`
	Captures int       `json:"captures"`
}

// Backend stores match data in memory and exports to JSON.
type Backend struct {
	cfg config.MemoryConfig

	current *match.Info
	players []*PlayerRecord
	open    map[int]*PlayerRecord
	events  []match.Event

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend.
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg, open: make(map[int]*PlayerRecord)}
}

// Init initializes the backend.
func (b *Backend) Init() error {
	return nil
}

// Close exports a match that never ended.
func (b *Backend) Close() error {
	b.mu.RLock()
	running := b.current != nil
	b.mu.RUnlock()
	if running {
		return b.EndMatch(match.Info{Ended: time.Now()})
	}
	return nil
}

// StartMatch begins recording a new match, exporting a previous one still
// open.
func (b *Backend) StartMatch(info match.Info) error {
	if err := b.EndMatch(match.Info{Ended: info.Started}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = &info
	b.players = nil
	b.open = make(map[int]*PlayerRecord)
	b.events = nil
	return nil
}

// RecordEvent appends e and keeps the player summaries current.
func (b *Backend) RecordEvent(e match.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return match.ErrNoMatch
	}
	b.events = append(b.events, e)

	switch e.Kind {
	case match.Join:
		p := &PlayerRecord{Slot: e.Slot, Callsign: e.Callsign, Team: e.Team, Joined: e.Time}
		b.players = append(b.players, p)
		b.open[e.Slot] = p
	case match.Leave:
		if p, ok := b.open[e.Slot]; ok {
			p.Left, p.Wins, p.Losses = e.Time, e.Wins, e.Losses
			delete(b.open, e.Slot)
		}
	case match.Kill:
		if p, ok := b.open[e.Slot]; ok {
			p.Deaths++
			p.Losses = e.Losses
		}
		if k, ok := b.open[e.Other]; ok && e.Other != e.Slot {
			k.Kills++
			k.Wins = e.Wins
		}
	case match.Capture:
		if p, ok := b.open[e.Slot]; ok {
			p.Captures++
		}
	}
	return nil
}

// EndMatch finalizes and exports the match data.
func (b *Backend) EndMatch(info match.Info) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	if !info.Ended.IsZero() {
		b.current.Ended = info.Ended
	} else if b.current.Ended.IsZero() {
		b.current.Ended = time.Now()
	}
	for slot, p := range b.open {
		p.Left = b.current.Ended
		delete(b.open, slot)
	}
	err := b.exportJSON()
	b.current = nil
	return err
}

// Players returns the player summaries of the running match, by join order.
func (b *Backend) Players() []PlayerRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PlayerRecord, len(b.players))
	for i, p := range b.players {
		out[i] = *p
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Joined.Before(out[j].Joined) })
	return out
}

// ExportedFilePath returns the path of the last exported match.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
