package session

import "errors"

const (
	initialOutCap = 512
	// MaxOutBuffer is the queued-bytes ceiling; reaching it tears the
	// session down as unresponsive.
	MaxOutBuffer = 20 * 1024
)

// ErrOutputOverflow is returned when queuing would grow the buffer to
// MaxOutBuffer or beyond.
var ErrOutputOverflow = errors.New("session: output queue ceiling reached")

// OutBuffer is a contiguous sliding window of unsent bytes. Pending data
// always lives in buf[off : off+size].
type OutBuffer struct {
	buf  []byte
	off  int
	size int
}

func (q *OutBuffer) Len() int { return q.size }
func (q *OutBuffer) Cap() int { return len(q.buf) }

// Pending returns the unsent bytes without copying.
func (q *OutBuffer) Pending() []byte { return q.buf[q.off : q.off+q.size] }

// Advance drops n bytes from the front after a successful write.
func (q *OutBuffer) Advance(n int) {
	if n > q.size {
		n = q.size
	}
	q.off += n
	q.size -= n
	if q.size == 0 {
		q.off = 0
	}
}

// Append queues b. Capacity starts at 512 and doubles until the data fits;
// when the tail has no room the pending bytes are moved to the front.
func (q *OutBuffer) Append(b []byte) error {
	need := q.size + len(b)
	if len(q.buf) < need {
		newCap := max(len(q.buf), initialOutCap)
		for newCap < need {
			newCap <<= 1
		}
		if newCap >= MaxOutBuffer {
			return ErrOutputOverflow
		}
		nb := make([]byte, newCap)
		copy(nb, q.Pending())
		q.buf = nb
		q.off = 0
	} else if q.off+need > len(q.buf) {
		copy(q.buf, q.Pending())
		q.off = 0
	}
	copy(q.buf[q.off+q.size:], b)
	q.size += len(b)
	return nil
}

// Reset releases the buffer.
func (q *OutBuffer) Reset() {
	*q = OutBuffer{}
}
