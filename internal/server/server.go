// Package server runs the reactor. Reader goroutines only move bytes into
// one channel; a single loop goroutine owns the game core and processes
// every ready event once per tick.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/game"
	"github.com/bzfsd/bzfsd/internal/protocol"
	"github.com/bzfsd/bzfsd/internal/session"
)

const (
	eventBacklog = 1024
	readSize     = 4096
)

type eventKind int

const (
	evAccept eventKind = iota
	evData
	evClosed
	evDatagram
)

type event struct {
	kind eventKind
	conn net.Conn
	slot int
	gen  uint64
	data []byte
	from netip.AddrPort
	err  error
}

// Core is the part of the game core the reactor drives.
type Core interface {
	Accept(conn session.Conn, addr netip.AddrPort) (*session.Session, error)
	Received(slot int, gen uint64, b []byte)
	Disconnected(slot int, gen uint64, err error)
	Datagram(from netip.AddrPort, b []byte)
	Service()
	Sweep(now time.Time)
	Housekeep(now time.Time)
	NextWake(now time.Time) time.Duration
	Stop()
	Done() <-chan struct{}
}

var _ Core = (*game.Core)(nil)

// Closer is something released after the core stopped, such as the
// list-server client, given at most the configured shutdown wait.
type Closer interface {
	Close(ctx context.Context) error
}

// Server owns the listeners and the event loop.
type Server struct {
	cfg  *config.Config
	log  *slog.Logger
	core Core
	tcp  net.Listener
	udp  *net.UDPConn

	events chan event
	quit   chan struct{}
	now    func() time.Time

	// OnTick observes each housekeeping pass and how long the tick took.
	OnTick func(now time.Time, took time.Duration)
	// Closers run in order during shutdown.
	Closers []Closer
}

// New builds a server around listeners the caller opened. The UDP socket
// must be the one the core's fan-out writes to.
func New(cfg *config.Config, log *slog.Logger, core Core, tcp net.Listener, udp *net.UDPConn) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		log:    log,
		core:   core,
		tcp:    tcp,
		udp:    udp,
		events: make(chan event, eventBacklog),
		quit:   make(chan struct{}),
		now:    time.Now,
	}
}

// Listen opens the TCP listener and the UDP socket on the configured
// address and port.
func Listen(cfg config.NetworkConfig) (net.Listener, *net.UDPConn, error) {
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	tcp, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on tcp %s: %w", addr, err)
	}
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		_ = tcp.Close()
		return nil, nil, fmt.Errorf("resolving udp %s: %w", addr, err)
	}
	udp, err := net.ListenUDP("udp", ua)
	if err != nil {
		_ = tcp.Close()
		return nil, nil, fmt.Errorf("listening on udp %s: %w", addr, err)
	}
	return tcp, udp, nil
}

// Run loops until ctx is cancelled or an operator stops the server.
func (s *Server) Run(ctx context.Context) error {
	go s.acceptLoop()
	if s.udp != nil {
		go s.udpLoop()
	}
	s.log.Info("server running", "addr", s.tcp.Addr().String())

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		timer.Reset(s.core.NextWake(s.now()))

		var batch []event
		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-s.core.Done():
			s.log.Info("shutdown requested by operator")
			return s.shutdown()
		case ev := <-s.events:
			batch = append(batch, ev)
		case <-timer.C:
		}
		s.tick(s.drain(batch))
	}
}

// drain collects whatever else is ready without blocking.
func (s *Server) drain(batch []event) []event {
	for {
		select {
		case ev := <-s.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// tick processes one batch: accepts, datagrams, stream bytes, then one
// frame per session, the flag sweep and housekeeping.
func (s *Server) tick(batch []event) {
	start := s.now()
	for _, ev := range batch {
		if ev.kind == evAccept {
			s.accept(ev.conn)
		}
	}
	for _, ev := range batch {
		if ev.kind == evDatagram {
			s.core.Datagram(ev.from, ev.data)
		}
	}
	for _, ev := range batch {
		switch ev.kind {
		case evData:
			s.core.Received(ev.slot, ev.gen, ev.data)
		case evClosed:
			s.core.Disconnected(ev.slot, ev.gen, ev.err)
		}
	}

	s.core.Service()
	now := s.now()
	s.core.Sweep(now)
	s.core.Housekeep(now)
	if s.OnTick != nil {
		s.OnTick(now, s.now().Sub(start))
	}
}

func (s *Server) accept(conn net.Conn) {
	addr, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		s.log.Warn("unparseable peer address", "addr", conn.RemoteAddr().String(), "error", err)
		_ = conn.Close()
		return
	}
	sess, err := s.core.Accept(session.NewStreamConn(conn, s.cfg.Network.WriteTimeout), addr)
	if err != nil {
		s.log.Info("connection refused", "addr", addr.String(), "error", err)
		return
	}
	go s.read(conn, sess.Slot, sess.Gen)
}

// post hands an event to the loop unless the server is stopping.
func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.tcp.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		if !s.post(event{kind: evAccept, conn: conn}) {
			_ = conn.Close()
			return
		}
	}
}

func (s *Server) read(conn net.Conn, slot int, gen uint64) {
	buf := make([]byte, readSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !s.post(event{kind: evData, slot: slot, gen: gen, data: data}) {
				return
			}
		}
		if err != nil {
			s.post(event{kind: evClosed, slot: slot, gen: gen, err: err})
			return
		}
	}
}

func (s *Server) udpLoop() {
	buf := make([]byte, protocol.HeaderLen+protocol.MaxPacketLen)
	for {
		n, from, err := s.udp.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debug("udp read failed", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if !s.post(event{kind: evDatagram, from: from, data: data}) {
			return
		}
	}
}

// shutdown disconnects every player, runs the closers within the
// configured wait and closes the listeners.
func (s *Server) shutdown() error {
	s.log.Info("server shutting down")
	close(s.quit)
	s.core.Stop()

	var errs []error
	wait := s.cfg.ListServer.ShutdownWait
	if wait <= 0 {
		wait = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	for _, c := range s.Closers {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.tcp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("closing tcp listener: %w", err))
	}
	if s.udp != nil {
		if err := s.udp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("closing udp socket: %w", err))
		}
	}
	return errors.Join(errs...)
}
