// Package monitor samples the server once per interval and publishes the
// sample to a status file, InfluxDB, the database and any other sinks.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"gorm.io/gorm"

	"github.com/bzfsd/bzfsd/internal/game"
	"github.com/bzfsd/bzfsd/internal/influx"
	"github.com/bzfsd/bzfsd/internal/match"
	"github.com/bzfsd/bzfsd/internal/model"
)

const defaultInterval = time.Second

// Snapshot is one sample.
type Snapshot struct {
	Time    time.Time `json:"time"`
	MatchID string    `json:"matchId,omitempty"`
	game.Stats
	Tick            time.Duration `json:"tick"`
	RecorderQueue   int           `json:"recorderQueue"`
	RecorderDropped uint64        `json:"recorderDropped"`
	LastWrite       time.Duration `json:"lastWrite"`
}

// Source is the game state being sampled. It is only called from the
// game loop.
type Source interface {
	Stats(now time.Time) game.Stats
}

// RecorderStats exposes the history recorder's queue.
type RecorderStats interface {
	Pending() int
	Dropped() uint64
	LastWriteDuration() time.Duration
}

// Sink receives every published snapshot.
type Sink interface {
	Publish(Snapshot)
}

// Dependencies holds all dependencies for the monitor service.
type Dependencies struct {
	Source     Source
	Recorder   RecorderStats
	Matches    *match.Context
	Influx     *influx.Manager
	DB         *gorm.DB
	StatusFile string
	Sinks      []Sink
	Logger     *slog.Logger
	Interval   time.Duration
}

// Service samples on the game loop and publishes on its own goroutine.
type Service struct {
	deps     Dependencies
	log      *slog.Logger
	last     time.Time
	samples  chan Snapshot
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewService starts a monitor.
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		deps:    deps,
		log:     log.With("component", "monitor"),
		samples: make(chan Snapshot, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// OnTick samples the game when the interval has passed. It runs on the
// game loop and never blocks; a sample still waiting is replaced.
func (s *Service) OnTick(now time.Time, took time.Duration) {
	if now.Sub(s.last) < s.deps.Interval {
		return
	}
	s.last = now
	snap := s.Sample(now, took)
	select {
	case s.samples <- snap:
	default:
		select {
		case <-s.samples:
		default:
		}
		select {
		case s.samples <- snap:
		default:
		}
	}
}

// Sample builds a snapshot.
func (s *Service) Sample(now time.Time, took time.Duration) Snapshot {
	snap := Snapshot{Time: now, Tick: took}
	if s.deps.Source != nil {
		snap.Stats = s.deps.Source.Stats(now)
	}
	if s.deps.Matches != nil {
		if id := s.deps.Matches.Current().ID; id != uuid.Nil {
			snap.MatchID = id.String()
		}
	}
	if r := s.deps.Recorder; r != nil {
		snap.RecorderQueue = r.Pending()
		snap.RecorderDropped = r.Dropped()
		snap.LastWrite = r.LastWriteDuration()
	}
	return snap
}

// Close stops the publishing goroutine after the last sample.
func (s *Service) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor shutdown: %w", ctx.Err())
	}
}

func (s *Service) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			select {
			case snap := <-s.samples:
				s.publish(snap)
			default:
			}
			return
		case snap := <-s.samples:
			s.publish(snap)
		}
	}
}

func (s *Service) publish(snap Snapshot) {
	if s.deps.StatusFile != "" {
		if err := WriteStatusFile(s.deps.StatusFile, snap); err != nil {
			s.log.Error("error writing status file", "error", err)
		}
	}
	if s.deps.Influx != nil {
		err := s.deps.Influx.WritePoint(context.Background(), influx.BucketServerPerformance, Point(snap))
		if err != nil {
			s.log.Error("error writing performance point", "error", err)
		}
	}
	if s.deps.DB != nil {
		perf := Performance(snap)
		if err := s.deps.DB.Create(&perf).Error; err != nil {
			s.log.Error("error writing performance row", "error", err)
		}
	}
	for _, sink := range s.deps.Sinks {
		sink.Publish(snap)
	}
}

// WriteStatusFile replaces path with the snapshot as indented JSON.
func WriteStatusFile(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Point renders the snapshot for the server_performance bucket.
func Point(snap Snapshot) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("server_performance").
		AddField("players", snap.Players).
		AddField("observers", snap.Observers).
		AddField("sessions", snap.Sessions).
		AddField("flags_in_air", snap.FlagsInAir).
		AddField("bytes_queued", snap.BytesQueued).
		AddField("tick_ms", float64(snap.Tick.Microseconds())/1000).
		AddField("recorder_queue", snap.RecorderQueue).
		AddField("recorder_dropped", snap.RecorderDropped).
		AddField("last_write_ms", float64(snap.LastWrite.Microseconds())/1000).
		SetTime(snap.Time)
	if snap.MatchID != "" {
		p.AddTag("match", snap.MatchID)
	}
	return p
}

// Performance converts the snapshot to its database row.
func Performance(snap Snapshot) model.ServerPerformance {
	return model.ServerPerformance{
		Time:                snap.Time,
		MatchUUID:           snap.MatchID,
		Players:             snap.Players,
		Observers:           snap.Observers,
		Sessions:            snap.Sessions,
		FlagsInAir:          snap.FlagsInAir,
		BytesQueued:         snap.BytesQueued,
		TickMs:              float32(snap.Tick.Microseconds()) / 1000,
		RecorderQueue:       snap.RecorderQueue,
		RecorderDropped:     snap.RecorderDropped,
		LastWriteDurationMs: float32(snap.LastWrite.Microseconds()) / 1000,
	}
}
