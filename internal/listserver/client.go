// Package listserver advertises the game to public list servers.
package listserver

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

const (
	dialTimeout = 5 * time.Second
	buildNumber = 10
	maxTitle    = 256
)

// Message kinds, in the wording the list servers expect.
const (
	MsgAdd    = "ADD"
	MsgRemove = "REMOVE"
	MsgSetNum = "SETNUM"
)

// Client queues one pending message per list server and delivers it on a
// background goroutine, so the game loop never waits on the network.
type Client struct {
	servers []string
	public  string
	title   string
	log     *slog.Logger
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	mu      sync.Mutex
	next    string
	info    protocol.GameInfo
	counts  [player.NumTeams]int
	closing bool

	wake   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a client for servers (host:port each). public is the address
// players should connect to.
func New(servers []string, public, title string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if len(title) > maxTitle {
		title = title[:maxTitle]
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &net.Dialer{Timeout: dialTimeout}
	c := &Client{
		servers: servers,
		public:  public,
		title:   title,
		log:     log.With("component", "listserver"),
		dial:    d.DialContext,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.run()
	return c
}

// Add advertises the server with its current game description.
func (c *Client) Add(info protocol.GameInfo) {
	c.mu.Lock()
	c.info = info
	c.mu.Unlock()
	c.queue(MsgAdd)
}

// SetNum updates the per-team player counts. A pending ADD already carries
// them and is not replaced.
func (c *Client) SetNum(counts [player.NumTeams]int) {
	c.mu.Lock()
	c.counts = counts
	c.mu.Unlock()
	c.queue(MsgSetNum)
}

// Remove withdraws the advertisement.
func (c *Client) Remove() { c.queue(MsgRemove) }

// Pending returns the message waiting for delivery, if any.
func (c *Client) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

func (c *Client) queue(msg string) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	if msg != MsgSetNum || c.next != MsgAdd {
		c.next = msg
	}
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close sends a final REMOVE and waits for it until ctx expires.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.next = MsgRemove
	c.closing = true
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.cancel()
		return fmt.Errorf("list server removal: %w", ctx.Err())
	}
}

func (c *Client) run() {
	defer close(c.done)
	for range c.wake {
		c.mu.Lock()
		msg := c.format(c.next)
		c.next = ""
		closing := c.closing
		c.mu.Unlock()

		if msg != "" {
			for _, addr := range c.servers {
				if err := c.send(addr, msg); err != nil {
					c.log.Warn("list server unreachable", "server", addr, "error", err)
				}
			}
		}
		if closing {
			c.cancel()
			return
		}
	}
}

// send connects, writes msg and hangs up; replies are ignored.
func (c *Client) send(addr, msg string) error {
	conn, err := c.dial(c.ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if _, err := conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing to %s: %w", addr, err)
	}
	c.log.Debug("list server updated", "server", addr, "message", strings.Fields(msg)[0])
	return nil
}

// format renders kind with the state captured under c.mu.
func (c *Client) format(kind string) string {
	switch kind {
	case MsgAdd:
		return fmt.Sprintf("ADD %s %d %s %s %s\n\n", c.public, buildNumber,
			protocol.ServerVersion, hex.EncodeToString(c.info.Encode()), c.title)
	case MsgRemove:
		return fmt.Sprintf("REMOVE %s\n\n", c.public)
	case MsgSetNum:
		n := c.counts
		return fmt.Sprintf("SETNUM %s %d %d %d %d %d\n\n", c.public,
			n[player.Rogue], n[player.Red], n[player.Green], n[player.Blue], n[player.Purple])
	}
	return ""
}
