package session

import (
	"bytes"
	"net/netip"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzfsd/bzfsd/internal/protocol"
)

// fakeConn accepts at most limit bytes per Write (negative = unlimited)
// and reports a deadline error for the rest.
type fakeConn struct {
	buf    bytes.Buffer
	limit  int
	err    error
	closed bool
}

func newFakeConn() *fakeConn { return &fakeConn{limit: -1} }

func (c *fakeConn) Write(b []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.limit >= 0 && len(b) > c.limit {
		c.buf.Write(b[:c.limit])
		return c.limit, os.ErrDeadlineExceeded
	}
	c.buf.Write(b)
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeUDP struct {
	sent []netip.AddrPort
}

func (u *fakeUDP) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	u.sent = append(u.sent, addr)
	return len(b), nil
}

func addr(s string) netip.AddrPort { return netip.MustParseAddrPort(s) }

func TestOutBuffer_GrowthDoubles(t *testing.T) {
	var q OutBuffer
	require.NoError(t, q.Append(make([]byte, 300)))
	assert.Equal(t, 512, q.Cap())

	require.NoError(t, q.Append(make([]byte, 300)))
	assert.Equal(t, 1024, q.Cap())
	assert.Equal(t, 600, q.Len())

	require.NoError(t, q.Append(make([]byte, 3000)))
	assert.Equal(t, 4096, q.Cap())
	assert.GreaterOrEqual(t, q.Cap(), q.Len())
}

func TestOutBuffer_Ceiling(t *testing.T) {
	var q OutBuffer
	require.NoError(t, q.Append(make([]byte, 10*1024)))
	assert.ErrorIs(t, q.Append(make([]byte, 7*1024)), ErrOutputOverflow, "17 KiB would need 32 KiB capacity")
	assert.Equal(t, 10*1024, q.Len(), "a refused append leaves the queue untouched")
	assert.Less(t, q.Cap(), MaxOutBuffer)
}

func TestOutBuffer_CompactsToFront(t *testing.T) {
	var q OutBuffer
	first := bytes.Repeat([]byte{1}, 400)
	require.NoError(t, q.Append(first))
	q.Advance(300)

	second := bytes.Repeat([]byte{2}, 300)
	require.NoError(t, q.Append(second))

	assert.Equal(t, 512, q.Cap(), "fits after compaction, no growth")
	assert.Equal(t, 0, q.off)
	want := append(bytes.Repeat([]byte{1}, 100), second...)
	assert.Equal(t, want, q.Pending())
}

func TestOutBuffer_AdvanceAll(t *testing.T) {
	var q OutBuffer
	require.NoError(t, q.Append([]byte("abc")))
	q.Advance(10)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.off)
}

func TestSession_SendPartialWriteQueues(t *testing.T) {
	conn := newFakeConn()
	conn.limit = 5
	s := &Session{conn: conn}

	frame := protocol.Encode(protocol.MsgMessage, []byte("hello world"))
	require.NoError(t, s.Send(frame))
	assert.Equal(t, frame[:5], conn.buf.Bytes())
	assert.Equal(t, len(frame)-5, s.Queued())

	conn.limit = -1
	require.NoError(t, s.Flush())
	assert.Equal(t, frame, conn.buf.Bytes())
	assert.Equal(t, 0, s.Queued())
}

func TestSession_SendFlushesQueueFirst(t *testing.T) {
	conn := newFakeConn()
	conn.limit = 0
	s := &Session{conn: conn}

	a := protocol.Encode(protocol.MsgMessage, []byte("a"))
	b := protocol.Encode(protocol.MsgMessage, []byte("b"))
	require.NoError(t, s.Send(a))
	conn.limit = -1
	require.NoError(t, s.Send(b))

	assert.Equal(t, append(append([]byte{}, a...), b...), conn.buf.Bytes())
}

func TestSession_FatalWriteError(t *testing.T) {
	conn := newFakeConn()
	conn.err = syscall.EPIPE
	s := &Session{conn: conn}
	assert.ErrorIs(t, s.Send([]byte{0, 0, 'a', 'b'}), syscall.EPIPE)
}

func TestSession_WouldBlockIsNotFatal(t *testing.T) {
	conn := newFakeConn()
	conn.err = syscall.EAGAIN
	s := &Session{conn: conn}
	require.NoError(t, s.Send([]byte{0, 0, 'a', 'b'}))
	assert.Equal(t, 4, s.Queued())
}

func TestSession_PartialFramesPersist(t *testing.T) {
	s := &Session{conn: newFakeConn()}
	frame := protocol.Encode(protocol.MsgLagPing, protocol.EncodeU16(7))

	require.NoError(t, s.Feed(frame[:2]))
	assert.False(t, s.HasFrame())
	got, err := s.NextFrame()
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Feed(frame[2:5]))
	assert.False(t, s.HasFrame(), "header complete, body not")

	require.NoError(t, s.Feed(append(frame[5:], frame[:3]...)))
	assert.True(t, s.HasFrame())
	got, err = s.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, frame, got)

	got, err = s.NextFrame()
	require.NoError(t, err)
	assert.Nil(t, got, "the next frame is still partial")
	assert.Len(t, s.in, 3)
}

func TestSession_OversizeFrame(t *testing.T) {
	s := &Session{conn: newFakeConn()}
	require.NoError(t, s.Feed([]byte{0x04, 0x01, 'p', 'u'}))
	_, err := s.NextFrame()
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
}

func TestRegistry_AcceptLowestFreeSlot(t *testing.T) {
	r := NewRegistry(4, nil)

	c0, c1, c2 := newFakeConn(), newFakeConn(), newFakeConn()
	s0, err := r.Accept(c0, addr("10.0.0.1:5000"), nil)
	require.NoError(t, err)
	s1, err := r.Accept(c1, addr("10.0.0.2:5000"), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, s0.Slot)
	assert.Equal(t, 1, s1.Slot)
	assert.Equal(t, 2, r.CurMax())
	assert.Equal(t, []byte("BZFS1910\x01"), c1.buf.Bytes())

	assert.True(t, r.Release(0))
	assert.Equal(t, 2, r.CurMax(), "slot 1 is still live")

	s2, err := r.Accept(c2, addr("10.0.0.3:5000"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, s2.Slot)
	assert.NotEqual(t, s0.Gen, s2.Gen)
}

func TestRegistry_ReleaseShrinksHighWater(t *testing.T) {
	r := NewRegistry(4, nil)
	for i := 0; i < 3; i++ {
		_, err := r.Accept(newFakeConn(), addr("10.0.0.1:5000"), nil)
		require.NoError(t, err)
	}
	require.True(t, r.Release(1))
	assert.Equal(t, 3, r.CurMax())
	require.True(t, r.Release(2))
	assert.Equal(t, 1, r.CurMax(), "trailing free slots 1 and 2 retract together")
	assert.False(t, r.Release(2), "second release is a no-op")
	assert.Equal(t, 1, r.CurMax())
}

func TestRegistry_Full(t *testing.T) {
	r := NewRegistry(1, nil)
	_, err := r.Accept(newFakeConn(), addr("10.0.0.1:5000"), nil)
	require.NoError(t, err)

	c := newFakeConn()
	_, err = r.Accept(c, addr("10.0.0.2:5000"), nil)
	assert.ErrorIs(t, err, ErrNoFreeSlot)
	assert.Equal(t, []byte("BZFS1910\xff"), c.buf.Bytes())
	assert.True(t, c.closed)
}

func TestRegistry_Rejected(t *testing.T) {
	r := NewRegistry(2, nil)
	c := newFakeConn()
	_, err := r.Accept(c, addr("10.0.0.9:5000"), func(netip.AddrPort) bool { return false })
	assert.ErrorIs(t, err, ErrRejected)
	assert.True(t, c.closed)
	assert.Empty(t, c.buf.Bytes())
	assert.Equal(t, 0, r.CurMax())
}

func TestRegistry_DropThenRelease(t *testing.T) {
	r := NewRegistry(2, nil)
	c := newFakeConn()
	s, err := r.Accept(c, addr("10.0.0.1:5000"), nil)
	require.NoError(t, err)

	r.Drop(s.Slot, syscall.ECONNRESET)
	r.Drop(s.Slot, syscall.ECONNRESET)
	assert.True(t, c.closed)
	assert.False(t, r.Connected(s.Slot))
	assert.True(t, r.Live(s.Slot))
	assert.Equal(t, []int{0}, r.TakeDropped())
	assert.Empty(t, r.TakeDropped())

	assert.True(t, r.Release(s.Slot))
	assert.Equal(t, 0, r.CurMax())
}

func TestRegistry_BindUDP(t *testing.T) {
	t.Run("fuzzy match on address promotes", func(t *testing.T) {
		r := NewRegistry(2, nil)
		s, err := r.Accept(newFakeConn(), addr("192.168.1.5:40000"), nil)
		require.NoError(t, err)

		slot := r.BindUDP(addr("192.168.1.5:61000"))
		assert.Equal(t, s.Slot, slot)
		assert.True(t, s.UDPLinked)
		assert.Equal(t, addr("192.168.1.5:61000"), s.UDPAddr)

		assert.Equal(t, s.Slot, r.BindUDP(addr("192.168.1.5:61000")), "exact linked match")
	})

	t.Run("exact match after link request", func(t *testing.T) {
		r := NewRegistry(2, nil)
		s, err := r.Accept(newFakeConn(), addr("192.168.1.5:40000"), nil)
		require.NoError(t, err)
		require.True(t, r.SetUDPPort(s.Slot, 5154))
		assert.False(t, r.SetUDPPort(s.Slot, 0))

		assert.Equal(t, s.Slot, r.BindUDP(addr("192.168.1.5:5154")))
		assert.True(t, s.UDPLinked)
	})

	t.Run("linked session is not fuzzy matched", func(t *testing.T) {
		r := NewRegistry(2, nil)
		_, err := r.Accept(newFakeConn(), addr("192.168.1.5:40000"), nil)
		require.NoError(t, err)
		require.Equal(t, 0, r.BindUDP(addr("192.168.1.5:6000")))

		assert.Equal(t, -1, r.BindUDP(addr("192.168.1.5:6001")))
	})

	t.Run("unknown source discarded", func(t *testing.T) {
		r := NewRegistry(2, nil)
		_, err := r.Accept(newFakeConn(), addr("192.168.1.5:40000"), nil)
		require.NoError(t, err)
		assert.Equal(t, -1, r.BindUDP(addr("10.1.1.1:40000")))
	})
}

func TestFanout_TransportChoice(t *testing.T) {
	r := NewRegistry(2, nil)
	udp := &fakeUDP{}
	f := NewFanout(r, udp)

	conn := newFakeConn()
	s, err := r.Accept(conn, addr("10.0.0.1:4000"), nil)
	require.NoError(t, err)
	conn.buf.Reset()

	f.Unicast(s.Slot, protocol.MsgPlayerUpdate, []byte{1})
	assert.NotEmpty(t, conn.buf.Bytes(), "not linked: TCP")
	assert.Empty(t, udp.sent)
	conn.buf.Reset()

	r.BindUDP(addr("10.0.0.1:4001"))
	f.Unicast(s.Slot, protocol.MsgPlayerUpdate, []byte{1})
	f.Unicast(s.Slot, protocol.MsgKilled, []byte{1})
	assert.Equal(t, []netip.AddrPort{addr("10.0.0.1:4001")}, udp.sent)
	assert.Equal(t, protocol.Encode(protocol.MsgKilled, []byte{1}), conn.buf.Bytes(), "non-bulk stays on TCP")
}

func TestFanout_BroadcastOrderAndAudience(t *testing.T) {
	r := NewRegistry(4, nil)
	f := NewFanout(r, nil)

	var order []int
	for i := 0; i < 4; i++ {
		_, err := r.Accept(newFakeConn(), addr("10.0.0.1:4000"), nil)
		require.NoError(t, err)
	}
	f.Audience = func(slot int) bool { return slot != 2 }
	f.OnSend = func(protocol.Code, int, bool) {}

	order = f.Recipients(-1)
	assert.Equal(t, []int{0, 1, 3}, order)
	assert.Equal(t, []int{0, 3}, f.Recipients(1))
}

func TestFanout_UnresponsivePeerTornDown(t *testing.T) {
	r := NewRegistry(1, nil)
	f := NewFanout(r, nil)
	conn := newFakeConn()
	s, err := r.Accept(conn, addr("10.0.0.1:4000"), nil)
	require.NoError(t, err)
	conn.limit = 0

	body := make([]byte, 1020)
	for i := 0; i < 25; i++ {
		f.Unicast(s.Slot, protocol.MsgMessage, body)
	}

	assert.False(t, r.Connected(s.Slot))
	assert.True(t, conn.closed)
	assert.Equal(t, []int{s.Slot}, r.TakeDropped())
}
