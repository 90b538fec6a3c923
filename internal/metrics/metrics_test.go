package metrics

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzfsd/bzfsd/internal/game"
	"github.com/bzfsd/bzfsd/internal/monitor"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

func TestRecordSend(t *testing.T) {
	m := NewMetrics()
	m.RecordSend(protocol.MsgPlayerUpdate, 40, true)
	m.RecordSend(protocol.MsgPlayerUpdate, 40, true)
	m.RecordSend(protocol.MsgEnter, 10, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesSent.WithLabelValues(protocol.MsgPlayerUpdate.String(), "udp")))
	assert.Equal(t, 80.0, testutil.ToFloat64(m.BytesSent.WithLabelValues("udp")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.BytesSent.WithLabelValues("tcp")))
}

func TestRecordKick(t *testing.T) {
	m := NewMetrics()
	m.RecordKick("/kick")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Kicks.WithLabelValues("/kick")))
}

func TestPublish(t *testing.T) {
	m := NewMetrics()
	m.Publish(monitor.Snapshot{
		Stats:           game.Stats{Players: 3, Sessions: 5},
		RecorderDropped: 7,
		LastWrite:       250 * time.Millisecond,
	})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Players))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Sessions))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.RecorderDropped))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.LastWrite))
}

func TestServe(t *testing.T) {
	m := NewMetrics()
	m.RecordKick("no UDP")
	m.Publish(monitor.Snapshot{Stats: game.Stats{Players: 2}})

	srv, err := Serve("127.0.0.1:0", m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer srv.Close(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `bzfsd_kicks_total{reason="no UDP"} 1`)

	resp, err = http.Get("http://" + srv.Addr() + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got monitor.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 2, got.Players)
}
