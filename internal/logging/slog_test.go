package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/bzfsd/bzfsd/internal/match"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = orig })
	return &buf
}

func TestSetup_FileReplacesStdout(t *testing.T) {
	out := captureStdout(t)
	var file bytes.Buffer

	m := NewSlogManager()
	m.Setup(Options{File: &file, Level: "info"})
	m.Logger().Info("player joined", "slot", 3)

	assert.Contains(t, file.String(), "player joined")
	assert.Contains(t, file.String(), "slot=3")
	assert.Empty(t, out.String())
}

func TestSetup_StdoutWithoutFile(t *testing.T) {
	out := captureStdout(t)
	m := NewSlogManager()
	m.Setup(Options{Level: "info"})
	m.Logger().Info("server running")
	assert.Contains(t, out.String(), "server running")
}

func TestSetup_Levels(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Level: "warn"})
	m.Logger().Info("hidden")
	m.Logger().Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	m.Setup(Options{File: &buf, Level: "debug"})
	m.Logger().Debug("frame dropped")
	assert.Contains(t, buf.String(), "frame dropped")
}

func TestSetup_TimeIsRFC3339UTC(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &buf})
	line := strings.SplitN(buf.String(), "\n", 2)[0]
	require.True(t, strings.HasPrefix(line, "time="))
	ts := strings.Fields(line)[0][len("time="):]
	_, err := time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(ts, "Z"))
}

func TestSetup_GraylogGetsJSON(t *testing.T) {
	var file, gelf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &file, Graylog: &gelf})
	gelf.Reset()

	m.Logger().Warn("autokick", "reason", "too fast")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(gelf.Bytes(), &doc))
	assert.Equal(t, "autokick", doc["msg"])
	assert.Equal(t, "too fast", doc["reason"])
	assert.Equal(t, "WARN", doc["level"])
}

func TestSetup_MatchContext(t *testing.T) {
	var buf bytes.Buffer
	mc := match.NewContext()
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Context: MatchAttrs(mc)})

	m.Logger().Info("before")
	assert.NotContains(t, buf.String(), "match=")

	info := mc.Start("test", "digest", 0, time.Now())
	mc.SetPlayers(2)
	buf.Reset()
	m.Logger().Info("during")
	assert.Contains(t, buf.String(), "match="+info.ID.String())
	assert.Contains(t, buf.String(), "players=2")
	assert.NotEqual(t, uuid.Nil, info.ID)
}

func TestSetup_OTelProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Provider: provider})
	m.Logger().Info("bridged")
	assert.Contains(t, buf.String(), "bridged")
	assert.NoError(t, m.Flush(context.Background()))
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Equal(t, slog.Default(), m.Logger())
	assert.NoError(t, m.Flush(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn,
		"ERROR": slog.LevelError, "": slog.LevelInfo, "nonsense": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	multi := NewMultiHandler(slog.NewTextHandler(&a, nil), nil, slog.NewTextHandler(&b, nil))
	require.Len(t, multi.handlers, 2)

	slog.New(multi).Info("fanned out")
	assert.Contains(t, a.String(), "fanned out")
	assert.Contains(t, b.String(), "fanned out")
}

func TestMultiHandler_Enabled(t *testing.T) {
	info := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})

	assert.False(t, NewMultiHandler(info).Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, NewMultiHandler(info, debug).Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewMultiHandler().Enabled(context.Background(), slog.LevelError))
}

func TestMultiHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(slog.NewTextHandler(&buf, nil))

	slog.New(multi.WithAttrs([]slog.Attr{slog.String("component", "listserver")})).Info("a")
	assert.Contains(t, buf.String(), "component=listserver")

	slog.New(multi.WithGroup("flag")).Info("b", "index", 4)
	assert.Contains(t, buf.String(), "flag.index=4")

	assert.Same(t, multi, multi.WithGroup(""))
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Enabled(context.Context, slog.Level) bool   { return true }
func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("sink down") }

func TestMultiHandler_ErrorDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(failingHandler{}, slog.NewTextHandler(&buf, nil))

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "still delivered", 0)
	err := multi.Handle(context.Background(), r)
	assert.EqualError(t, err, "sink down")
	assert.Contains(t, buf.String(), "still delivered")
}
