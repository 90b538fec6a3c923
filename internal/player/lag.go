package player

import "time"

// PingInterval is the spacing of lag pings to living players.
const PingInterval = 10 * time.Second

// LagVerdict is the outcome of recording one round trip.
type LagVerdict int

const (
	LagOK LagVerdict = iota
	LagWarn
	LagKick
)

// Lag tracks round-trip time with a dynamically damped exponential
// average.
type Lag struct {
	Avg      time.Duration
	alpha    float64
	Count    int
	lastWarn int
	Warnings int

	Seq      uint16
	Pending  bool
	SentAt   time.Time
	NextPing time.Time
	Sent     int
	Lost     int
}

// Reset starts a fresh series at now.
func (l *Lag) Reset(now time.Time) {
	*l = Lag{alpha: 1, NextPing: now.Add(PingInterval)}
}

// Due reports whether a ping should go out at now.
func (l *Lag) Due(now time.Time) bool { return !l.NextPing.After(now) }

// NextSeq issues the next ping number. A ping still unanswered counts as
// lost.
func (l *Lag) NextSeq(now time.Time) uint16 {
	if l.Pending {
		l.Lost++
	}
	l.Seq = (l.Seq + 1) % 10000
	l.Pending = true
	l.SentAt = now
	l.NextPing = l.NextPing.Add(PingInterval)
	l.Sent++
	return l.Seq
}

// Pong matches a reply; it returns the round trip and whether seq was the
// outstanding ping.
func (l *Lag) Pong(seq uint16, now time.Time) (time.Duration, bool) {
	if !l.Pending || seq != l.Seq {
		return 0, false
	}
	l.Pending = false
	return now.Sub(l.SentAt), true
}

// Record folds rtt into the average. With a positive threshold a player
// above it is warned at a decreasing rate, and kicked once the warnings
// exceed maxWarnings.
func (l *Lag) Record(rtt, threshold time.Duration, maxWarnings int) LagVerdict {
	l.Avg = time.Duration(float64(l.Avg)*(1-l.alpha) + l.alpha*float64(rtt))
	l.alpha = l.alpha / (0.9 + l.alpha)
	l.Count++

	if threshold <= 0 || l.Avg <= threshold || l.Count-l.lastWarn <= 2*l.Warnings {
		return LagOK
	}
	l.lastWarn = l.Count
	l.Warnings++
	if l.Warnings > maxWarnings {
		return LagKick
	}
	return LagWarn
}

// LossPercent is the share of pings never answered.
func (l *Lag) LossPercent() float64 {
	if l.Sent == 0 {
		return 0
	}
	return 100 * float64(l.Lost) / float64(l.Sent)
}
