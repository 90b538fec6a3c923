package session

import (
	"net/netip"

	"github.com/bzfsd/bzfsd/internal/protocol"
)

// Fanout delivers frames to sessions. UDP-eligible frames go over the
// datagram socket when the recipient's UDP path is linked; everything else
// goes through the buffered TCP send.
type Fanout struct {
	reg *Registry
	udp DatagramWriter
	// Audience decides who receives broadcasts. Nil means every
	// connected session.
	Audience func(slot int) bool
	// OnSend observes every frame handed to a transport.
	OnSend func(code protocol.Code, n int, udp bool)
}

func NewFanout(reg *Registry, udp DatagramWriter) *Fanout {
	return &Fanout{reg: reg, udp: udp}
}

// SendFrame delivers an encoded frame to slot. Sending to a disconnected
// slot is a no-op; a fatal TCP error drops the session.
func (f *Fanout) SendFrame(slot int, frame []byte) {
	s := f.reg.Get(slot)
	if !s.Connected() || len(frame) < protocol.HeaderLen {
		return
	}
	code := protocol.Code(uint16(frame[2])<<8 | uint16(frame[3]))

	if s.UDPLinked && f.udp != nil && code.UDPEligible() {
		if n, err := f.udp.WriteToUDPAddrPort(frame, s.UDPAddr); err == nil {
			s.BytesOut += uint64(n)
		}
		f.observe(code, len(frame), true)
		return
	}

	if err := s.Send(frame); err != nil {
		f.reg.Drop(slot, err)
		return
	}
	f.observe(code, len(frame), false)
}

func (f *Fanout) observe(code protocol.Code, n int, udp bool) {
	if f.OnSend != nil {
		f.OnSend(code, n, udp)
	}
}

// Unicast encodes and sends one message.
func (f *Fanout) Unicast(slot int, code protocol.Code, body []byte) {
	if !f.reg.Connected(slot) {
		return
	}
	f.SendFrame(slot, protocol.Encode(code, body))
}

// SendTo delivers one frame to each slot in order.
func (f *Fanout) SendTo(slots []int, frame []byte) {
	for _, slot := range slots {
		f.SendFrame(slot, frame)
	}
}

// Recipients lists the broadcast audience in slot order, leaving out the
// slot except (-1 keeps everyone).
func (f *Fanout) Recipients(except int) []int {
	var out []int
	for i := 0; i < f.reg.CurMax(); i++ {
		if i == except || !f.reg.Connected(i) {
			continue
		}
		if f.Audience != nil && !f.Audience(i) {
			continue
		}
		out = append(out, i)
	}
	return out
}

// Broadcast sends one message to the whole audience in slot order.
func (f *Fanout) Broadcast(code protocol.Code, body []byte) {
	f.SendTo(f.Recipients(-1), protocol.Encode(code, body))
}

// Relay forwards a client frame unchanged to everyone but its origin.
func (f *Fanout) Relay(from int, frame []byte) {
	f.SendTo(f.Recipients(from), frame)
}

// SendDatagram writes frame to an address that need not belong to a
// session.
func (f *Fanout) SendDatagram(to netip.AddrPort, frame []byte) {
	if f.udp == nil {
		return
	}
	if _, err := f.udp.WriteToUDPAddrPort(frame, to); err == nil {
		f.observe(protocol.Code(uint16(frame[2])<<8|uint16(frame[3])), len(frame), true)
	}
}
