// Package gormstorage implements the storage.Backend interface on any GORM
// dialect. Session rows are written immediately so leaves can update them;
// event rows wait in queues until the next Flush.
package gormstorage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bzfsd/bzfsd/internal/database"
	"github.com/bzfsd/bzfsd/internal/match"
	"github.com/bzfsd/bzfsd/internal/model"
	"github.com/bzfsd/bzfsd/internal/queue"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

// queues holds the write queues for batch DB insertion.
type queues struct {
	KillEvents    *queue.Queue[model.KillEvent]
	CaptureEvents *queue.Queue[model.CaptureEvent]
	FlagEvents    *queue.Queue[model.FlagEvent]
	GameEvents    *queue.Queue[model.GameEvent]
}

func newQueues() *queues {
	return &queues{
		KillEvents:    queue.New[model.KillEvent](),
		CaptureEvents: queue.New[model.CaptureEvent](),
		FlagEvents:    queue.New[model.FlagEvent](),
		GameEvents:    queue.New[model.GameEvent](),
	}
}

func (q *queues) pending() int {
	return q.KillEvents.Len() + q.CaptureEvents.Len() + q.FlagEvents.Len() + q.GameEvents.Len()
}

// Backend implements storage.Backend with GORM.
type Backend struct {
	deps     Dependencies
	log      *slog.Logger
	queues   *queues
	current  *model.Match
	sessions map[int]*model.PlayerSession

	lastWrite atomic.Int64
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		deps:     deps,
		log:      log.With("component", "storage", "dialect", deps.DB.Name()),
		queues:   newQueues(),
		sessions: make(map[int]*model.PlayerSession),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB { return b.deps.DB }

// Init migrates the schema.
func (b *Backend) Init() error {
	if err := database.Migrate(b.deps.DB); err != nil {
		return err
	}
	b.log.Info("database schema ready")
	return nil
}

// Close ends a match left open and writes whatever is queued.
func (b *Backend) Close() error {
	if b.current != nil {
		return b.EndMatch(match.Info{Ended: time.Now()})
	}
	return b.Flush()
}

// StartMatch inserts the match row. A match still open is ended first.
func (b *Backend) StartMatch(info match.Info) error {
	if b.current != nil {
		if err := b.EndMatch(match.Info{Ended: info.Started}); err != nil {
			return err
		}
	}
	m := model.Match{
		UUID:        info.ID.String(),
		Title:       info.Title,
		WorldDigest: info.WorldDigest,
		GameStyle:   info.GameStyle,
		StartedAt:   info.Started,
	}
	if err := b.deps.DB.Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	b.current = &m
	b.sessions = make(map[int]*model.PlayerSession)
	b.log.Debug("match started", "match", m.UUID, "id", m.ID)
	return nil
}

// CurrentMatch returns the open match row, nil between matches.
func (b *Backend) CurrentMatch() *model.Match { return b.current }

// RecordEvent opens or closes player sessions and queues everything else.
func (b *Backend) RecordEvent(e match.Event) error {
	if b.current == nil {
		return match.ErrNoMatch
	}
	switch e.Kind {
	case match.Join:
		s := model.NewPlayerSession(b.current.ID, e)
		if err := b.deps.DB.Create(s).Error; err != nil {
			return fmt.Errorf("failed to insert player session: %w", err)
		}
		b.sessions[e.Slot] = s
		return nil
	case match.Leave:
		s, ok := b.sessions[e.Slot]
		if !ok {
			return nil
		}
		delete(b.sessions, e.Slot)
		s.Wins, s.Losses, s.LeaveReason = e.Wins, e.Losses, e.Reason
		return b.closeSession(s, e.Time)
	}

	row, err := model.FromEvent(b.current.ID, e)
	if err != nil {
		return err
	}
	switch r := row.(type) {
	case *model.KillEvent:
		b.queues.KillEvents.Push(*r)
	case *model.CaptureEvent:
		b.queues.CaptureEvents.Push(*r)
	case *model.FlagEvent:
		b.queues.FlagEvents.Push(*r)
	case *model.GameEvent:
		b.queues.GameEvents.Push(*r)
	}
	return nil
}

// EndMatch closes every open session, writes the queues and stamps the
// end time.
func (b *Backend) EndMatch(info match.Info) error {
	if b.current == nil {
		return nil
	}
	ended := info.Ended
	if ended.IsZero() {
		ended = time.Now()
	}
	var errs []error
	for slot, s := range b.sessions {
		errs = append(errs, b.closeSession(s, ended))
		delete(b.sessions, slot)
	}
	errs = append(errs, b.Flush())

	b.current.EndedAt = sql.NullTime{Time: ended, Valid: true}
	if err := b.deps.DB.Model(b.current).Update("ended_at", b.current.EndedAt).Error; err != nil {
		errs = append(errs, fmt.Errorf("failed to end match: %w", err))
	}
	b.log.Debug("match ended", "match", b.current.UUID)
	b.current = nil
	return errors.Join(errs...)
}

func (b *Backend) closeSession(s *model.PlayerSession, at time.Time) error {
	s.LeftAt = sql.NullTime{Time: at, Valid: true}
	if err := b.deps.DB.Save(s).Error; err != nil {
		return fmt.Errorf("failed to update player session: %w", err)
	}
	return nil
}

// Flush writes all queued rows, one transaction per table.
func (b *Backend) Flush() error {
	if b.queues.pending() == 0 {
		return nil
	}
	start := time.Now()
	err := errors.Join(
		writeQueue(b.deps.DB, b.queues.KillEvents, "kill events", b.log),
		writeQueue(b.deps.DB, b.queues.CaptureEvents, "capture events", b.log),
		writeQueue(b.deps.DB, b.queues.FlagEvents, "flag events", b.log),
		writeQueue(b.deps.DB, b.queues.GameEvents, "game events", b.log),
	)
	b.lastWrite.Store(int64(time.Since(start)))
	return err
}

// Pending returns the number of queued rows.
func (b *Backend) Pending() int { return b.queues.pending() }

// LastWriteDuration reports how long the last Flush took.
func (b *Backend) LastWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// writeQueue writes all items from a queue in a transaction. On failure the
// items go back on the queue for the next attempt.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger) error {
	if q.Empty() {
		return nil
	}

	items := q.GetAndEmpty()
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&items).Error
	})
	if err != nil {
		log.Error("error writing "+name, "count", len(items), "error", err)
		q.Push(items...)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
