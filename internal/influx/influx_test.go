package influx

import (
	"bufio"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzfsd/bzfsd/internal/config"
)

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop(), "")
	assert.Error(t, m.Connect())
	assert.Error(t, m.WritePoint(context.Background(), BucketServerPerformance,
		influxdb2_write.NewPointWithMeasurement("x")))
}

func TestURL(t *testing.T) {
	m := NewManager(config.InfluxConfig{Protocol: "https", Host: "metrics", Port: "8086"}, zerolog.Nop(), "")
	assert.Equal(t, "https://metrics:8086", m.URL())
}

func TestBackupWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	m := NewManager(config.InfluxConfig{Enabled: true, Protocol: "http", Host: "127.0.0.1", Port: "1"}, zerolog.Nop(), path)
	require.NoError(t, m.Connect())
	assert.False(t, m.IsValid)

	p := influxdb2_write.NewPoint("server_performance",
		map[string]string{"server": "test"},
		map[string]any{"players": 3},
		time.Unix(1700000000, 0))
	require.NoError(t, m.WritePoint(context.Background(), BucketServerPerformance, p))
	require.NoError(t, m.Close(context.Background()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	sc := bufio.NewScanner(zr)
	require.True(t, sc.Scan())
	assert.Equal(t, "server_performance,server=test players=3i 1700000000000000000", sc.Text())
}
