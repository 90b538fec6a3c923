package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	outboxSize       = 4096
	maxRedials       = 10
	maxBackoff       = 30 * time.Second
	writeWait        = 10 * time.Second
	ackTimeout       = 10 * time.Second
	handshakeTimeout = 5 * time.Second
)

// firstBackoff is the wait before the first redial.
var firstBackoff = time.Second

var errFeedClosed = errors.New("feed closed")

var dialer = &ws.Dialer{HandshakeTimeout: handshakeTimeout}

// ackKey names the acknowledgement a request waits for.
type ackKey struct {
	kind  string
	match string
}

// feed is the socket to the live feed server. A single goroutine owns the
// socket: it writes the outbox and redials after a failure, replaying the
// start of every match still open so the server can attach later events.
type feed struct {
	url    string
	secret string
	log    *slog.Logger

	outbox chan []byte
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	open    map[string][]byte // start_match by match id
	waiting map[ackKey]chan struct{}
}

func newFeed(rawURL, secret string, log *slog.Logger) *feed {
	return &feed{
		url:     rawURL,
		secret:  secret,
		log:     log,
		outbox:  make(chan []byte, outboxSize),
		done:    make(chan struct{}),
		open:    make(map[string][]byte),
		waiting: make(map[ackKey]chan struct{}),
	}
}

// connect dials once and starts the owner goroutine. A failed first dial
// is returned so startup can report a bad endpoint.
func (f *feed) connect() error {
	conn, err := f.dial()
	if err != nil {
		return err
	}
	f.wg.Add(1)
	go f.run(conn)
	return nil
}

func (f *feed) dial() (*ws.Conn, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, fmt.Errorf("invalid feed url: %w", err)
	}
	q := u.Query()
	q.Set("secret", f.secret)
	u.RawQuery = q.Encode()

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing feed: %w", err)
	}
	return conn, nil
}

func (f *feed) run(conn *ws.Conn) {
	defer f.wg.Done()
	for conn != nil {
		err := f.serve(conn)
		if err == nil {
			return
		}
		f.log.Warn("feed connection lost", "error", err)
		conn = f.redial()
	}
}

// serve writes the outbox to conn until it fails or the feed closes. It
// returns nil only on close.
func (f *feed) serve(conn *ws.Conn) error {
	defer conn.Close()
	readErr := make(chan error, 1)
	go f.read(conn, readErr)

	for {
		select {
		case <-f.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
			return nil
		case err := <-readErr:
			return err
		case data := <-f.outbox:
			if err := write(conn, data); err != nil {
				return err
			}
		}
	}
}

// read resolves acks until conn fails.
func (f *feed) read(conn *ws.Conn, errc chan<- error) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		var ack AckMessage
		if err := json.Unmarshal(msg, &ack); err != nil || ack.Type != "ack" {
			f.log.Debug("ignoring feed message", "raw", string(msg))
			continue
		}
		f.resolve(ack)
	}
}

func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// redial retries with exponential backoff and replays the open matches on
// the new socket. It returns nil once the feed is closed or gives up.
func (f *feed) redial() *ws.Conn {
	backoff := firstBackoff
	for attempt := 1; attempt <= maxRedials; attempt++ {
		wait := time.NewTimer(backoff)
		select {
		case <-f.done:
			wait.Stop()
			return nil
		case <-wait.C:
		}
		backoff = min(backoff*2, maxBackoff)

		conn, err := f.dial()
		if err != nil {
			f.log.Warn("feed redial failed", "attempt", attempt, "error", err)
			continue
		}
		if err := f.replay(conn); err != nil {
			f.log.Warn("feed replay failed", "attempt", attempt, "error", err)
			_ = conn.Close()
			continue
		}
		f.log.Info("feed reconnected", "attempt", attempt)
		return conn
	}
	f.log.Error("giving up on feed", "attempts", maxRedials)
	return nil
}

func (f *feed) replay(conn *ws.Conn) error {
	f.mu.Lock()
	starts := make([][]byte, 0, len(f.open))
	for _, data := range f.open {
		starts = append(starts, data)
	}
	f.mu.Unlock()

	for _, data := range starts {
		if err := write(conn, data); err != nil {
			return err
		}
	}
	return nil
}

// push queues data without waiting. A full outbox drops it.
func (f *feed) push(data []byte) {
	select {
	case f.outbox <- data:
	default:
		f.log.Warn("feed outbox full, dropping message")
	}
}

// request queues data and waits for the server to ack key.
func (f *feed) request(data []byte, key ackKey, timeout time.Duration) error {
	ch := make(chan struct{})
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fmt.Errorf("waiting for %s of match %s: %w", key.kind, key.match, errFeedClosed)
	}
	f.waiting[key] = ch
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		if f.waiting[key] == ch {
			delete(f.waiting, key)
		}
		f.mu.Unlock()
	}()

	f.push(data)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout waiting for %s ack of match %s", key.kind, key.match)
	case <-f.done:
		return fmt.Errorf("waiting for %s of match %s: %w", key.kind, key.match, errFeedClosed)
	}
}

// resolve wakes the request an ack answers. An ack without a match id
// answers any pending request of its kind.
func (f *feed) resolve(ack AckMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ackKey{kind: ack.For, match: ack.Match}
	if ack.Match == "" {
		for k := range f.waiting {
			if k.kind == ack.For {
				key = k
				break
			}
		}
	}
	if ch, ok := f.waiting[key]; ok {
		delete(f.waiting, key)
		close(ch)
		return
	}
	f.log.Debug("unexpected feed ack", "for", ack.For, "match", ack.Match)
}

// begin remembers a match start for replay; end forgets it.
func (f *feed) begin(match string, start []byte) {
	f.mu.Lock()
	f.open[match] = start
	f.mu.Unlock()
}

func (f *feed) end(match string) {
	f.mu.Lock()
	delete(f.open, match)
	f.mu.Unlock()
}

func (f *feed) isOpen(match string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.open[match]
	return ok
}

// close stops the owner goroutine after it sends a close frame.
func (f *feed) close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.done)
	f.mu.Unlock()
	f.wg.Wait()
	return nil
}
