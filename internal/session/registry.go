package session

import (
	"errors"
	"log/slog"
	"net/netip"

	"github.com/bzfsd/bzfsd/internal/protocol"
)

var (
	ErrNoFreeSlot = errors.New("session: all slots occupied")
	ErrRejected   = errors.New("session: address rejected")
)

// Registry is the fixed-capacity session table. A slot is live from Accept
// until Release; CurMax is one past the highest live slot.
type Registry struct {
	slots   []*Session
	curMax  int
	nextGen uint64
	dropped []int
	log     *slog.Logger
}

func NewRegistry(capacity int, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{slots: make([]*Session, capacity), log: log}
}

// Capacity is the number of slots.
func (r *Registry) Capacity() int { return len(r.slots) }

// CurMax is the high-water mark.
func (r *Registry) CurMax() int { return r.curMax }

// Get returns the session at slot, or nil if the slot is free.
func (r *Registry) Get(slot int) *Session {
	if slot < 0 || slot >= len(r.slots) {
		return nil
	}
	return r.slots[slot]
}

// Live reports whether slot is allocated.
func (r *Registry) Live(slot int) bool { return r.Get(slot) != nil }

// Connected reports whether slot has a working transport.
func (r *Registry) Connected(slot int) bool { return r.Get(slot).Connected() }

// Accept allocates the lowest free slot for conn and writes the
// handshake. A rejected address is closed without a reply; a full table
// gets the handshake with NoSlot and is closed.
func (r *Registry) Accept(conn Conn, addr netip.AddrPort, allow func(netip.AddrPort) bool) (*Session, error) {
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	if allow != nil && !allow(addr) {
		_ = conn.Close()
		return nil, ErrRejected
	}

	slot := -1
	for i, s := range r.slots {
		if s == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		_, _ = conn.Write(protocol.Handshake(protocol.NoSlot))
		_ = conn.Close()
		return nil, ErrNoFreeSlot
	}

	r.nextGen++
	s := &Session{
		Slot:    slot,
		Gen:     r.nextGen,
		Addr:    addr,
		UDPAddr: netip.AddrPortFrom(addr.Addr(), 0),
		conn:    conn,
	}
	r.slots[slot] = s
	if slot >= r.curMax {
		r.curMax = slot + 1
	}
	r.log.Debug("accepted connection", "slot", slot, "addr", addr.String())

	if err := s.Send(protocol.Handshake(byte(slot))); err != nil {
		r.Drop(slot, err)
	}
	return s, nil
}

// Drop closes the transport of slot after a fatal I/O error and queues the
// slot for game-level removal. The slot stays allocated until Release.
func (r *Registry) Drop(slot int, err error) {
	s := r.Get(slot)
	if !s.Connected() {
		return
	}
	r.log.Debug("dropping connection", "slot", slot, "error", err)
	s.reset()
	r.dropped = append(r.dropped, slot)
}

// TakeDropped returns and clears the slots dropped since the last call.
func (r *Registry) TakeDropped() []int {
	d := r.dropped
	r.dropped = nil
	return d
}

// Release frees slot and retracts the high-water mark over trailing free
// slots. Releasing a free slot is a no-op and returns false.
func (r *Registry) Release(slot int) bool {
	s := r.Get(slot)
	if s == nil {
		return false
	}
	s.reset()
	r.slots[slot] = nil
	for r.curMax > 0 && r.slots[r.curMax-1] == nil {
		r.curMax--
	}
	return true
}

// SetUDPPort records the port a client announced for its UDP path. A zero
// port is ignored.
func (r *Registry) SetUDPPort(slot int, port uint16) bool {
	s := r.Get(slot)
	if !s.Connected() || port == 0 {
		return false
	}
	s.UDPAddr = netip.AddrPortFrom(s.Addr.Addr(), port)
	return true
}

// BindUDP attributes a datagram source to a session: an exact match on a
// linked session, then an exact match on an unlinked one (which becomes
// linked), then an address-only match on an unlinked one (port updated,
// linked). It returns -1 when nothing matches.
func (r *Registry) BindUDP(from netip.AddrPort) int {
	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

	for i := 0; i < r.curMax; i++ {
		if s := r.slots[i]; s.Connected() && s.UDPLinked && s.UDPAddr == from {
			return i
		}
	}
	for i := 0; i < r.curMax; i++ {
		if s := r.slots[i]; s.Connected() && !s.UDPLinked && s.UDPAddr == from {
			s.UDPLinked = true
			r.log.Debug("udp link established", "slot", i, "addr", from.String())
			return i
		}
	}
	for i := 0; i < r.curMax; i++ {
		if s := r.slots[i]; s.Connected() && !s.UDPLinked && s.UDPAddr.Addr() == from.Addr() {
			s.UDPAddr = from
			s.UDPLinked = true
			r.log.Debug("udp link established by address", "slot", i, "addr", from.String())
			return i
		}
	}
	return -1
}
