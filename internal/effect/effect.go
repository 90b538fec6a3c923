// Package effect records the outward consequences of handling a frame so
// they can be applied after the game tables are consistent again.
package effect

// Kind tells how an Effect is applied.
type Kind uint8

const (
	// Send writes one frame to each listed slot.
	Send Kind = iota
	// Close ends the slot's transport and frees the slot.
	Close
)

// Effect is one recorded consequence.
type Effect struct {
	Kind  Kind
	Slots []int
	Frame []byte
}

// Sink carries effects out.
type Sink interface {
	SendFrame(slot int, frame []byte)
	Close(slot int)
}

// List accumulates effects in emission order. The zero value is ready to
// use.
type List struct {
	items []Effect
}

// Send records frame for slots. The slot list is copied so later changes
// to the caller's slice do not alter who receives it.
func (l *List) Send(slots []int, frame []byte) {
	if len(slots) == 0 {
		return
	}
	l.items = append(l.items, Effect{Kind: Send, Slots: append([]int(nil), slots...), Frame: frame})
}

// Unicast records frame for one slot.
func (l *List) Unicast(slot int, frame []byte) {
	l.items = append(l.items, Effect{Kind: Send, Slots: []int{slot}, Frame: frame})
}

// Close records the end of a slot's transport.
func (l *List) Close(slot int) {
	l.items = append(l.items, Effect{Kind: Close, Slots: []int{slot}})
}

func (l *List) Len() int         { return len(l.items) }
func (l *List) Items() []Effect { return l.items }

// Apply hands every effect to s in order and empties the list. Sends to a
// slot after its Close are skipped.
func (l *List) Apply(s Sink) {
	var closed map[int]bool
	for _, e := range l.items {
		switch e.Kind {
		case Send:
			for _, slot := range e.Slots {
				if !closed[slot] {
					s.SendFrame(slot, e.Frame)
				}
			}
		case Close:
			slot := e.Slots[0]
			if closed[slot] {
				continue
			}
			if closed == nil {
				closed = make(map[int]bool)
			}
			closed[slot] = true
			s.Close(slot)
		}
	}
	l.items = l.items[:0]
}
