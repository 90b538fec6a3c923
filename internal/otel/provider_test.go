package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/bzfsd/bzfsd/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(config.OTelConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Close(context.Background()))
}

func TestNew_EnabledWithoutExporter(t *testing.T) {
	_, err := New(config.OTelConfig{Enabled: true, ServiceName: "bzfsd"}, nil)
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNew_FileExport(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(config.OTelConfig{Enabled: true, ServiceName: "bzfsd", BatchTimeout: time.Second}, &buf)
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())

	otelslog.NewLogger("test", otelslog.WithLoggerProvider(p.LoggerProvider())).Info("player joined")

	require.NoError(t, p.Close(context.Background()))
	assert.Contains(t, buf.String(), "player joined")
	assert.Contains(t, buf.String(), "bzfsd")
}
