// Package acl decides which addresses may connect: a ban list of IP
// patterns and a per-address token bucket on accepts.
package acl

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrMalformedPattern is returned by Ban for an unparseable pattern.
var ErrMalformedPattern = errors.New("malformed address")

const limiterIdle = 10 * time.Minute

// Ban is one entry of the ban list. A zero Expires never expires.
type Ban struct {
	Pattern string
	Expires time.Time
	octets  [4]int // -1 for a wildcard
	addr    netip.Addr
}

// Matches reports whether addr falls under the pattern.
func (b *Ban) Matches(addr netip.Addr) bool {
	addr = addr.Unmap()
	if b.addr.IsValid() {
		return b.addr == addr
	}
	if !addr.Is4() {
		return false
	}
	ip := addr.As4()
	for i, o := range b.octets {
		if o >= 0 && int(ip[i]) != o {
			return false
		}
	}
	return true
}

func parsePattern(pattern string) (Ban, error) {
	b := Ban{Pattern: pattern}
	if !strings.Contains(pattern, "*") {
		addr, err := netip.ParseAddr(pattern)
		if err != nil {
			return b, fmt.Errorf("%w: %q", ErrMalformedPattern, pattern)
		}
		b.addr = addr.Unmap()
		return b, nil
	}
	parts := strings.Split(pattern, ".")
	if len(parts) != 4 {
		return b, fmt.Errorf("%w: %q", ErrMalformedPattern, pattern)
	}
	for i, p := range parts {
		if p == "*" {
			b.octets[i] = -1
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return b, fmt.Errorf("%w: %q", ErrMalformedPattern, pattern)
		}
		b.octets[i] = n
	}
	return b, nil
}

type limiter struct {
	*rate.Limiter
	seen time.Time
}

// List is safe for concurrent use; the command collaborator edits it while
// the reactor validates accepts.
type List struct {
	mu       sync.Mutex
	bans     []Ban
	limiters map[netip.Addr]*limiter
	limit    rate.Limit
	burst    int
	log      *slog.Logger
	now      func() time.Time
}

// New builds a list with the given accept rate per address and the
// initial permanent bans. A non-positive rate disables throttling.
func New(perSecond float64, burst int, bans []string, log *slog.Logger) (*List, error) {
	if log == nil {
		log = slog.Default()
	}
	l := &List{
		limiters: make(map[netip.Addr]*limiter),
		limit:    rate.Limit(perSecond),
		burst:    max(burst, 1),
		log:      log,
		now:      time.Now,
	}
	for _, p := range bans {
		if err := l.Ban(p, 0); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Validate reports whether a connection from addr may proceed. It takes a
// token from the address's bucket.
func (l *List) Validate(addr netip.AddrPort) bool {
	ip := addr.Addr().Unmap()
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if b := l.matchLocked(ip, now); b != nil {
		l.log.Info("banned address refused", "addr", ip.String(), "pattern", b.Pattern)
		return false
	}
	if l.limit <= 0 {
		return true
	}
	l.pruneLocked(now)
	lim, ok := l.limiters[ip]
	if !ok {
		lim = &limiter{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = lim
	}
	lim.seen = now
	if !lim.AllowN(now, 1) {
		l.log.Info("accept rate exceeded", "addr", ip.String())
		return false
	}
	return true
}

// Banned reports whether addr matches a live ban without touching the
// rate buckets.
func (l *List) Banned(addr netip.Addr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.matchLocked(addr.Unmap(), l.now()) != nil
}

func (l *List) matchLocked(ip netip.Addr, now time.Time) *Ban {
	l.expireLocked(now)
	for i := range l.bans {
		if l.bans[i].Matches(ip) {
			return &l.bans[i]
		}
	}
	return nil
}

func (l *List) expireLocked(now time.Time) {
	kept := l.bans[:0]
	for _, b := range l.bans {
		if b.Expires.IsZero() || now.Before(b.Expires) {
			kept = append(kept, b)
		}
	}
	l.bans = kept
}

func (l *List) pruneLocked(now time.Time) {
	for ip, lim := range l.limiters {
		if now.Sub(lim.seen) > limiterIdle {
			delete(l.limiters, ip)
		}
	}
}

// Ban adds pattern for d, or for good when d is zero. Banning an existing
// pattern replaces its expiry.
func (l *List) Ban(pattern string, d time.Duration) error {
	b, err := parsePattern(strings.TrimSpace(pattern))
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if d > 0 {
		b.Expires = l.now().Add(d)
	}
	for i := range l.bans {
		if l.bans[i].Pattern == b.Pattern {
			l.bans[i] = b
			return nil
		}
	}
	l.bans = append(l.bans, b)
	return nil
}

// Unban removes pattern and reports whether it was listed.
func (l *List) Unban(pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.bans {
		if l.bans[i].Pattern == pattern {
			l.bans = append(l.bans[:i], l.bans[i+1:]...)
			return true
		}
	}
	return false
}

// Bans lists the live entries sorted by pattern.
func (l *List) Bans() []Ban {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireLocked(l.now())
	out := append([]Ban(nil), l.bans...)
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out
}
