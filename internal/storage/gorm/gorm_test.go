package gormstorage

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzfsd/bzfsd/internal/database"
	"github.com/bzfsd/bzfsd/internal/match"
	"github.com/bzfsd/bzfsd/internal/model"
)

var t0 = time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.OpenSqlite("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	b := New(Dependencies{DB: db, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, b.Init())
	return b
}

func startMatch(t *testing.T, b *Backend) match.Info {
	t.Helper()
	info := match.Info{ID: uuid.New(), Title: "ctf night", WorldDigest: "p00ff", GameStyle: 1, Started: t0}
	require.NoError(t, b.StartMatch(info))
	return info
}

func TestRecordEvent_NoMatch(t *testing.T) {
	b := newTestBackend(t)
	assert.ErrorIs(t, b.RecordEvent(match.Event{Kind: match.Kill}), match.ErrNoMatch)
}

func TestStartMatch_InsertsRow(t *testing.T) {
	b := newTestBackend(t)
	info := startMatch(t, b)

	var got model.Match
	require.NoError(t, b.DB().First(&got).Error)
	assert.Equal(t, info.ID.String(), got.UUID)
	assert.Equal(t, "ctf night", got.Title)
	assert.False(t, got.EndedAt.Valid)
}

func TestPlayerSessions(t *testing.T) {
	b := newTestBackend(t)
	startMatch(t, b)

	require.NoError(t, b.RecordEvent(match.Event{Kind: match.Join, Time: t0, Slot: 0, Callsign: "alpha", Team: 1}))
	require.NoError(t, b.RecordEvent(match.Event{Kind: match.Join, Time: t0, Slot: 1, Callsign: "bravo", Team: 2}))
	require.NoError(t, b.RecordEvent(match.Event{Kind: match.Leave, Time: t0.Add(time.Minute), Slot: 0,
		Wins: 4, Losses: 2, Reason: "quit"}))
	require.NoError(t, b.RecordEvent(match.Event{Kind: match.Leave, Slot: 9}), "unknown slot is ignored")

	var alpha model.PlayerSession
	require.NoError(t, b.DB().Where("callsign = ?", "alpha").First(&alpha).Error)
	assert.True(t, alpha.LeftAt.Valid)
	assert.Equal(t, 4, alpha.Wins)
	assert.Equal(t, "quit", alpha.LeaveReason)

	require.NoError(t, b.EndMatch(match.Info{Ended: t0.Add(time.Hour)}))
	var bravo model.PlayerSession
	require.NoError(t, b.DB().Where("callsign = ?", "bravo").First(&bravo).Error)
	assert.True(t, bravo.LeftAt.Valid, "open sessions close with the match")
	assert.True(t, bravo.LeftAt.Time.Equal(t0.Add(time.Hour)))
}

func TestEventsQueuedUntilFlush(t *testing.T) {
	b := newTestBackend(t)
	startMatch(t, b)

	require.NoError(t, b.RecordEvent(match.Event{Kind: match.Kill, Time: t0, Slot: 1, Other: 2, Reason: "shot"}))
	require.NoError(t, b.RecordEvent(match.Event{Kind: match.Capture, Time: t0, Slot: 2, Flag: "R*", Other: 1}))
	require.NoError(t, b.RecordEvent(match.Event{Kind: match.FlagGrab, Time: t0, Slot: 2, Flag: "GM"}))
	require.NoError(t, b.RecordEvent(match.Event{Kind: match.Spawn, Time: t0, Slot: 2}))
	assert.Equal(t, 4, b.Pending())

	var n int64
	b.DB().Model(&model.KillEvent{}).Count(&n)
	assert.Zero(t, n)

	require.NoError(t, b.Flush())
	assert.Zero(t, b.Pending())
	for _, m := range []any{&model.KillEvent{}, &model.CaptureEvent{}, &model.FlagEvent{}, &model.GameEvent{}} {
		b.DB().Model(m).Count(&n)
		assert.Equal(t, int64(1), n)
	}
	assert.NotZero(t, b.LastWriteDuration())
}

func TestEndMatch(t *testing.T) {
	b := newTestBackend(t)
	startMatch(t, b)
	require.NoError(t, b.RecordEvent(match.Event{Kind: match.Kill, Time: t0, Slot: 1, Other: 1}))

	require.NoError(t, b.EndMatch(match.Info{Ended: t0.Add(10 * time.Minute)}))
	assert.Nil(t, b.CurrentMatch())
	assert.Zero(t, b.Pending())

	var got model.Match
	require.NoError(t, b.DB().First(&got).Error)
	assert.True(t, got.EndedAt.Valid)

	require.NoError(t, b.EndMatch(match.Info{}), "ending twice is a no-op")
}

func TestStartMatch_EndsPrevious(t *testing.T) {
	b := newTestBackend(t)
	startMatch(t, b)
	second := startMatch(t, b)

	var matches []model.Match
	require.NoError(t, b.DB().Order("id").Find(&matches).Error)
	require.Len(t, matches, 2)
	assert.True(t, matches[0].EndedAt.Valid)
	assert.Equal(t, second.ID.String(), b.CurrentMatch().UUID)
}

func TestClose_EndsOpenMatch(t *testing.T) {
	b := newTestBackend(t)
	startMatch(t, b)
	require.NoError(t, b.Close())

	var got model.Match
	require.NoError(t, b.DB().First(&got).Error)
	assert.True(t, got.EndedAt.Valid)
}
