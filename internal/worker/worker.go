// Package worker moves match history from the game loop into storage.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bzfsd/bzfsd/internal/api"
	"github.com/bzfsd/bzfsd/internal/game"
	"github.com/bzfsd/bzfsd/internal/match"
	"github.com/bzfsd/bzfsd/internal/queue"
	"github.com/bzfsd/bzfsd/internal/storage"
)

const flushInterval = time.Second

// Uploader receives exported match files.
type Uploader interface {
	Upload(ctx context.Context, path string, meta api.UploadMetadata) error
}

var _ Uploader = (*api.Client)(nil)

// Option configures a Recorder.
type Option func(*Recorder)

// WithUploader sends every file an exporting backend writes to u.
func WithUploader(u Uploader) Option {
	return func(r *Recorder) { r.uploader = u }
}

// Recorder buffers events in a bounded queue and writes them to a storage
// backend on its own goroutine. Record never blocks; events that do not
// fit are counted and dropped.
type Recorder struct {
	backend storage.Backend
	matches *match.Context
	log     *slog.Logger
	events  *queue.Queue[match.Event]

	dropped  atomic.Uint64
	recorded atomic.Uint64
	closeErr error

	uploader      Uploader
	uploads       sync.WaitGroup
	uploadCtx     context.Context
	cancelUploads context.CancelFunc

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// owned by the run goroutine
	current uuid.UUID
	active  bool
}

var _ game.Recorder = (*Recorder)(nil)

// NewRecorder starts a recorder writing to an initialized backend. size
// bounds the queue.
func NewRecorder(backend storage.Backend, matches *match.Context, size int, log *slog.Logger, opts ...Option) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		backend: backend,
		matches: matches,
		log:     log.With("component", "recorder"),
		events:  queue.NewBounded[match.Event](size),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.uploadCtx, r.cancelUploads = context.WithCancel(context.Background())
	go r.run()
	return r
}

// Record queues e.
func (r *Recorder) Record(e match.Event) {
	if !r.events.TryPush(e) {
		if r.dropped.Add(1) == 1 {
			r.log.Warn("history queue full, dropping events", "limit", r.events.Limit())
		}
		return
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued events.
func (r *Recorder) Pending() int { return r.events.Len() }

// Dropped returns how many events did not fit the queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Recorded returns how many events reached the backend.
func (r *Recorder) Recorded() uint64 { return r.recorded.Load() }

// LastWriteDuration reports the backend's last batch write, 0 when the
// backend does not batch.
func (r *Recorder) LastWriteDuration() time.Duration {
	if p, ok := r.backend.(storage.WriteDurationReporter); ok {
		return p.LastWriteDuration()
	}
	return 0
}

// Close writes what is queued, ends the open match, closes the backend and
// waits for running uploads, giving up when ctx expires.
func (r *Recorder) Close(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stop) })
	select {
	case <-r.done:
	case <-ctx.Done():
		r.cancelUploads()
		return fmt.Errorf("recorder shutdown: %w", ctx.Err())
	}

	uploaded := make(chan struct{})
	go func() {
		r.uploads.Wait()
		close(uploaded)
	}()
	select {
	case <-uploaded:
		r.cancelUploads()
		return r.closeErr
	case <-ctx.Done():
		r.cancelUploads()
		return fmt.Errorf("recorder shutdown: %w", ctx.Err())
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			r.drain()
			if r.active {
				r.end(match.Info{ID: r.current, Ended: time.Now()})
			}
			r.closeErr = r.backend.Close()
			return
		case <-r.wake:
			r.drain()
		case <-ticker.C:
			r.drain()
		}
	}
}

func (r *Recorder) drain() {
	batch := r.events.GetAndEmpty()
	if len(batch) == 0 {
		return
	}
	for _, e := range batch {
		r.apply(e)
	}
	if f, ok := r.backend.(storage.Flusher); ok {
		if err := f.Flush(); err != nil {
			r.log.Error("history flush failed", "error", err)
		}
	}
}

// apply opens the event's match on first sight and closes it on game over.
// Events of a match that already ended are skipped.
func (r *Recorder) apply(e match.Event) {
	if e.MatchID == uuid.Nil {
		return
	}
	if e.MatchID != r.current {
		if r.active {
			r.end(match.Info{ID: r.current, Ended: e.Time})
		}
		r.current = e.MatchID
		info := r.info(e.MatchID)
		if info.Started.IsZero() {
			info.Started = e.Time
		}
		if err := r.backend.StartMatch(info); err != nil {
			r.log.Error("starting match history failed", "match", e.MatchID, "error", err)
			return
		}
		r.active = true
	} else if !r.active {
		return
	}

	if err := r.backend.RecordEvent(e); err != nil {
		r.log.Error("recording event failed", "kind", e.Kind, "match", e.MatchID, "error", err)
	} else {
		r.recorded.Add(1)
	}

	if e.Kind == match.GameOver {
		info := r.info(e.MatchID)
		if info.Ended.IsZero() {
			info.Ended = e.Time
		}
		r.end(info)
	}
}

func (r *Recorder) end(info match.Info) {
	r.active = false
	if err := r.backend.EndMatch(info); err != nil {
		r.log.Error("ending match history failed", "match", info.ID, "error", err)
		return
	}
	r.upload(info)
}

// upload hands the file the backend just exported to the uploader.
func (r *Recorder) upload(info match.Info) {
	exp, ok := r.backend.(storage.Exporter)
	if !ok || r.uploader == nil {
		return
	}
	path := exp.ExportedFilePath()
	if path == "" {
		return
	}
	meta := api.UploadMetadata{
		MatchID:     info.ID.String(),
		Title:       info.Title,
		WorldDigest: info.WorldDigest,
	}
	if !info.Started.IsZero() && info.Ended.After(info.Started) {
		meta.Duration = info.Ended.Sub(info.Started)
	}
	r.uploads.Add(1)
	go func() {
		defer r.uploads.Done()
		if err := r.uploader.Upload(r.uploadCtx, path, meta); err != nil {
			r.log.Error("uploading match failed", "match", info.ID, "path", path, "error", err)
			return
		}
		r.log.Info("uploaded match", "match", info.ID, "path", path)
	}()
}

// info returns the match context's description of id when it is still
// the current match.
func (r *Recorder) info(id uuid.UUID) match.Info {
	if r.matches != nil {
		if cur := r.matches.Current(); cur.ID == id {
			return cur
		}
	}
	return match.Info{ID: id}
}
