// Package metrics exports server counters to Prometheus.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bzfsd/bzfsd/internal/monitor"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

// Metrics contains all Prometheus metrics for the game server.
type Metrics struct {
	Registry *prometheus.Registry

	// Traffic
	FramesSent *prometheus.CounterVec
	BytesSent  *prometheus.CounterVec
	Kicks      *prometheus.CounterVec

	// Game state, refreshed from monitor snapshots
	Players     prometheus.Gauge
	Observers   prometheus.Gauge
	Sessions    prometheus.Gauge
	FlagsInAir  prometheus.Gauge
	BytesQueued prometheus.Gauge
	TickTime    prometheus.Histogram

	// History recorder
	RecorderQueue   prometheus.Gauge
	RecorderDropped prometheus.Gauge
	LastWrite       prometheus.Gauge

	mu   sync.Mutex
	last monitor.Snapshot
}

var _ monitor.Sink = (*Metrics)(nil)

// NewMetrics creates all metrics on their own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bzfsd_frames_sent_total",
			Help: "Frames sent to clients by message code and transport",
		}, []string{"code", "transport"}),
		BytesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bzfsd_bytes_sent_total",
			Help: "Bytes sent to clients by transport",
		}, []string{"transport"}),
		Kicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bzfsd_kicks_total",
			Help: "Players removed by the server, by reason",
		}, []string{"reason"}),
		Players: f.NewGauge(prometheus.GaugeOpts{
			Name: "bzfsd_players",
			Help: "Joined players that are not observers",
		}),
		Observers: f.NewGauge(prometheus.GaugeOpts{
			Name: "bzfsd_observers",
			Help: "Joined observers",
		}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "bzfsd_sessions",
			Help: "Connected sessions including those not yet joined",
		}),
		FlagsInAir: f.NewGauge(prometheus.GaugeOpts{
			Name: "bzfsd_flags_in_air",
			Help: "Flags currently flying",
		}),
		BytesQueued: f.NewGauge(prometheus.GaugeOpts{
			Name: "bzfsd_bytes_queued",
			Help: "Bytes waiting in session outbound queues",
		}),
		TickTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bzfsd_tick_seconds",
			Help:    "Time spent in one game loop iteration",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		}),
		RecorderQueue: f.NewGauge(prometheus.GaugeOpts{
			Name: "bzfsd_recorder_queue",
			Help: "Match events waiting to be stored",
		}),
		RecorderDropped: f.NewGauge(prometheus.GaugeOpts{
			Name: "bzfsd_recorder_dropped",
			Help: "Match events dropped because the recorder queue was full",
		}),
		LastWrite: f.NewGauge(prometheus.GaugeOpts{
			Name: "bzfsd_recorder_last_write_seconds",
			Help: "Duration of the last storage flush",
		}),
	}
}

func transport(udp bool) string {
	if udp {
		return "udp"
	}
	return "tcp"
}

// RecordSend counts one outbound frame.
func (m *Metrics) RecordSend(code protocol.Code, n int, udp bool) {
	t := transport(udp)
	m.FramesSent.WithLabelValues(code.String(), t).Inc()
	m.BytesSent.WithLabelValues(t).Add(float64(n))
}

// RecordKick counts one kick.
func (m *Metrics) RecordKick(reason string) {
	m.Kicks.WithLabelValues(reason).Inc()
}

// Publish updates the gauges from a snapshot.
func (m *Metrics) Publish(s monitor.Snapshot) {
	m.Players.Set(float64(s.Players))
	m.Observers.Set(float64(s.Observers))
	m.Sessions.Set(float64(s.Sessions))
	m.FlagsInAir.Set(float64(s.FlagsInAir))
	m.BytesQueued.Set(float64(s.BytesQueued))
	m.TickTime.Observe(s.Tick.Seconds())
	m.RecorderQueue.Set(float64(s.RecorderQueue))
	m.RecorderDropped.Set(float64(s.RecorderDropped))
	m.LastWrite.Set(s.LastWrite.Seconds())

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
}

// Handler serves /metrics and the last snapshot on /status.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", m.handleStatus)
	return mux
}

func (m *Metrics) handleStatus(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	s := m.last
	m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

// Server is the HTTP endpoint for the metrics.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *slog.Logger
}

// Serve listens on addr and serves m in the background.
func Serve(addr string, m *Metrics, log *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		srv: &http.Server{
			Handler:      m.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ln:  ln,
		log: log,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server stopped", "error", err)
		}
	}()
	log.Info("metrics listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr is the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close shuts the endpoint down.
func (s *Server) Close(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
