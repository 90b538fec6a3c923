package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/game"
	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
	"github.com/bzfsd/bzfsd/internal/session"
	"github.com/bzfsd/bzfsd/internal/world"
)

type running struct {
	srv  *Server
	core *game.Core
	tcp  net.Listener
	udp  *net.UDPConn
	stop context.CancelFunc
	errc chan error
}

func start(t *testing.T) *running {
	t.Helper()
	t.Cleanup(viper.Reset)
	require.NoError(t, config.LoadOptional(t.TempDir()))
	cfg, err := config.Build()
	require.NoError(t, err)
	cfg.Network.WriteTimeout = 100 * time.Millisecond

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tcp, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	reg := session.NewRegistry(cfg.Capacity(), log)
	w, err := world.New(cfg.World)
	require.NoError(t, err)
	core, err := game.New(game.Dependencies{
		Config:   cfg,
		Logger:   log,
		Registry: reg,
		Fanout:   session.NewFanout(reg, udp),
		World:    w,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{
		srv:  New(cfg, log, core, tcp, udp),
		core: core,
		tcp:  tcp,
		udp:  udp,
		stop: cancel,
		errc: make(chan error, 1),
	}
	go func() { r.errc <- r.srv.Run(ctx) }()
	t.Cleanup(cancel)
	return r
}

func (r *running) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-r.errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func readFrame(t *testing.T, conn net.Conn) (protocol.Code, []byte) {
	t.Helper()
	hdr := make([]byte, protocol.HeaderLen)
	_, err := io.ReadFull(conn, hdr)
	require.NoError(t, err)
	h, err := protocol.ReadHeader(hdr)
	require.NoError(t, err)
	body := make([]byte, h.Len)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	return h.Code, body
}

func TestServer_JoinOverTCP(t *testing.T) {
	r := start(t)

	conn, err := net.Dial("tcp", r.tcp.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	hello := make([]byte, len(protocol.ServerVersion)+1)
	_, err = io.ReadFull(conn, hello)
	require.NoError(t, err)
	assert.Equal(t, protocol.Handshake(0), hello)

	_, err = conn.Write(protocol.Encode(protocol.MsgEnter, protocol.Enter{
		Type: uint16(player.Tank), Team: uint16(player.Red), Callsign: "alpha",
	}.Encode()))
	require.NoError(t, err)

	code, body := readFrame(t, conn)
	require.Equal(t, protocol.MsgAccept, code)
	assert.Equal(t, []byte{0}, body)

	r.stop()
	r.wait(t)

	// The server says goodbye before closing.
	for {
		code, _ := readFrame(t, conn)
		if code == protocol.MsgSuperKill {
			break
		}
	}
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_PartialFrames(t *testing.T) {
	r := start(t)

	conn, err := net.Dial("tcp", r.tcp.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(conn, make([]byte, len(protocol.ServerVersion)+1))
	require.NoError(t, err)

	frame := protocol.Encode(protocol.MsgEnter, protocol.Enter{
		Type: uint16(player.Tank), Team: uint16(player.Blue), Callsign: "bravo",
	}.Encode())
	for _, part := range [][]byte{frame[:2], frame[2:30], frame[30:]} {
		_, err = conn.Write(part)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	code, _ := readFrame(t, conn)
	assert.Equal(t, protocol.MsgAccept, code)
}

func TestServer_DiscoveryPing(t *testing.T) {
	r := start(t)

	client, err := net.DialUDP("udp", nil, r.udp.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = client.Write(protocol.Encode(protocol.MsgPingRequest, nil))
	require.NoError(t, err)

	buf := make([]byte, protocol.HeaderLen+protocol.MaxPacketLen)
	n, err := client.Read(buf)
	require.NoError(t, err)
	h, err := protocol.ReadHeader(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgPingReply, h.Code)

	info, err := protocol.DecodeGameInfo(buf[protocol.HeaderLen:n])
	require.NoError(t, err)
	assert.Equal(t, uint16(23), info.MaxPlayers, "20 players and 3 observers by default")
}

func TestServer_OperatorShutdown(t *testing.T) {
	r := start(t)
	r.core.Shutdown()
	r.wait(t)

	_, err := net.DialTimeout("tcp", r.tcp.Addr().String(), time.Second)
	assert.Error(t, err, "the listener is closed")
}

type closerFunc func(ctx context.Context) error

func (f closerFunc) Close(ctx context.Context) error { return f(ctx) }

func TestServer_ClosersBounded(t *testing.T) {
	r := start(t)
	var deadline time.Time
	r.srv.Closers = append(r.srv.Closers, closerFunc(func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	}))
	began := time.Now()
	r.stop()
	r.wait(t)

	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, began.Add(3*time.Second), deadline, time.Second)
}
