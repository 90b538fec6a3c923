package listserver

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzfsd/bzfsd/internal/player"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// idle builds a client without its delivery goroutine.
func idle() *Client {
	return &Client{public: "10.0.0.1:5154", title: "test game", log: quiet, wake: make(chan struct{}, 1)}
}

func TestQueue_SetNumKeepsPendingAdd(t *testing.T) {
	c := idle()
	c.Add(protocol.GameInfo{})
	c.SetNum([player.NumTeams]int{})
	assert.Equal(t, MsgAdd, c.Pending())

	c.Remove()
	assert.Equal(t, MsgRemove, c.Pending())
	c.SetNum([player.NumTeams]int{})
	assert.Equal(t, MsgSetNum, c.Pending())
	c.Add(protocol.GameInfo{})
	assert.Equal(t, MsgAdd, c.Pending())
}

func TestFormat(t *testing.T) {
	c := idle()
	c.counts = [player.NumTeams]int{1, 2, 3, 4, 5, 6}
	assert.Equal(t, "SETNUM 10.0.0.1:5154 1 2 3 4 5\n\n", c.format(MsgSetNum))
	assert.Equal(t, "REMOVE 10.0.0.1:5154\n\n", c.format(MsgRemove))

	c.info = protocol.GameInfo{MaxPlayers: 23}
	add := c.format(MsgAdd)
	want := "ADD 10.0.0.1:5154 10 " + protocol.ServerVersion + " " + hex.EncodeToString(c.info.Encode()) + " test game\n\n"
	assert.Equal(t, want, add)
	assert.Empty(t, c.format(""))
}

func TestNew_TruncatesTitle(t *testing.T) {
	c := New(nil, "", strings.Repeat("x", 300), quiet)
	defer c.Close(context.Background())
	assert.Len(t, c.title, maxTitle)
}

// listen accepts connections and forwards each one's full text.
func listen(t *testing.T) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	got := make(chan string, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			b, _ := io.ReadAll(conn)
			conn.Close()
			got <- string(b)
		}
	}()
	return ln.Addr().String(), got
}

func receive(t *testing.T, got <-chan string) string {
	t.Helper()
	select {
	case s := <-got:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("nothing delivered")
		return ""
	}
}

func TestDelivery(t *testing.T) {
	addr, got := listen(t)
	c := New([]string{addr}, "10.0.0.1:5154", "test game", quiet)

	c.SetNum([player.NumTeams]int{0, 2, 1})
	assert.Equal(t, "SETNUM 10.0.0.1:5154 0 2 1 0 0\n\n", receive(t, got))

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, "REMOVE 10.0.0.1:5154\n\n", receive(t, got))

	c.Add(protocol.GameInfo{})
	assert.Empty(t, c.Pending(), "nothing is queued after close")
}

func TestClose_Bounded(t *testing.T) {
	c := New([]string{"192.0.2.1:5156"}, "10.0.0.1:5154", "", quiet)
	c.dial = func(ctx context.Context, _, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	began := time.Now()
	err := c.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(began), time.Second)

	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("delivery goroutine still running")
	}
}
