// Package session owns the fixed table of client connections: framing of
// inbound TCP bytes, buffered non-blocking output and UDP peer binding.
package session

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/bzfsd/bzfsd/internal/protocol"
)

// MaxInBuffer bounds bytes read from a peer but not yet framed.
const MaxInBuffer = 64 * protocol.MaxPacketLen

var ErrInputOverflow = errors.New("session: input backlog too large")

// Session is the transport half of one slot. The game half (player
// record) lives at the same index in the player table.
type Session struct {
	Slot int
	// Gen changes every time the slot is reused so late events from a
	// previous connection can be recognised.
	Gen  uint64
	Addr netip.AddrPort

	// UDPAddr starts as the TCP peer IP with port 0 and gets its port from
	// the client's UDP link request or from the first matching datagram.
	UDPAddr   netip.AddrPort
	UDPLinked bool

	conn Conn
	in   []byte
	out  OutBuffer

	BytesIn  uint64
	BytesOut uint64
}

// Connected reports whether the session still has a transport.
func (s *Session) Connected() bool { return s != nil && s.conn != nil }

// Queued is the number of bytes waiting in the output buffer.
func (s *Session) Queued() int { return s.out.Len() }

// QueueCap is the current output buffer capacity.
func (s *Session) QueueCap() int { return s.out.Cap() }

// write performs one write attempt. A would-block condition returns the
// bytes written so far and no error.
func (s *Session) write(b []byte) (int, error) {
	n, err := s.conn.Write(b)
	if n > 0 {
		s.BytesOut += uint64(n)
	}
	if err != nil && !wouldBlock(err) {
		return n, err
	}
	return n, nil
}

// Flush writes as much queued output as the transport accepts.
func (s *Session) Flush() error {
	if !s.Connected() || s.out.Len() == 0 {
		return nil
	}
	n, err := s.write(s.out.Pending())
	s.out.Advance(n)
	return err
}

// Send writes a frame over TCP: queued bytes go first, then an immediate
// write if nothing is queued, then the remainder is queued. A non-nil
// error means the session must be torn down.
func (s *Session) Send(frame []byte) error {
	if !s.Connected() || len(frame) == 0 {
		return nil
	}
	if err := s.Flush(); err != nil {
		return err
	}
	if s.out.Len() == 0 {
		n, err := s.write(frame)
		if err != nil {
			return err
		}
		frame = frame[n:]
	}
	if len(frame) == 0 {
		return nil
	}
	if err := s.out.Append(frame); err != nil {
		return fmt.Errorf("%d bytes queued: %w", s.out.Len()+len(frame), err)
	}
	return nil
}

// Feed appends raw bytes read from the TCP stream.
func (s *Session) Feed(b []byte) error {
	if len(s.in)+len(b) > MaxInBuffer {
		return ErrInputOverflow
	}
	s.BytesIn += uint64(len(b))
	s.in = append(s.in, b...)
	return nil
}

// HasFrame reports whether a complete frame is buffered.
func (s *Session) HasFrame() bool {
	if len(s.in) < protocol.HeaderLen {
		return false
	}
	h, err := protocol.ReadHeader(s.in)
	if err != nil {
		// surfaced by NextFrame
		return true
	}
	return len(s.in) >= protocol.HeaderLen+int(h.Len)
}

// NextFrame pops one complete frame. It returns nil, nil while the frame
// is still partial; partial bytes persist across calls.
func (s *Session) NextFrame() ([]byte, error) {
	if len(s.in) < protocol.HeaderLen {
		return nil, nil
	}
	h, err := protocol.ReadHeader(s.in)
	if err != nil {
		return nil, err
	}
	total := protocol.HeaderLen + int(h.Len)
	if len(s.in) < total {
		return nil, nil
	}
	frame := make([]byte, total)
	copy(frame, s.in[:total])
	s.in = append(s.in[:0], s.in[total:]...)
	return frame, nil
}

func (s *Session) reset() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.in = nil
	s.out.Reset()
	s.UDPAddr = netip.AddrPort{}
	s.UDPLinked = false
}
