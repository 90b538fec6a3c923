package memory

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/match"
)

var t0 = time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC)

func play(t *testing.T, b *Backend) match.Info {
	t.Helper()
	info := match.Info{ID: uuid.New(), Title: "Friday CTF: round 1", Started: t0}
	require.NoError(t, b.StartMatch(info))
	for _, e := range []match.Event{
		{Kind: match.Join, Time: t0, Slot: 0, Callsign: "alpha", Team: 1},
		{Kind: match.Join, Time: t0.Add(time.Second), Slot: 1, Callsign: "bravo", Team: 2},
		{Kind: match.Kill, Time: t0.Add(time.Minute), Slot: 1, Other: 0, Wins: 1, Losses: 1},
		{Kind: match.Capture, Time: t0.Add(2 * time.Minute), Slot: 0, Flag: "G*", Other: 2},
		{Kind: match.Leave, Time: t0.Add(3 * time.Minute), Slot: 1, Wins: 0, Losses: 1},
	} {
		require.NoError(t, b.RecordEvent(e))
	}
	return info
}

func TestRecordEvent_NoMatch(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	assert.ErrorIs(t, b.RecordEvent(match.Event{Kind: match.Join}), match.ErrNoMatch)
}

func TestPlayers(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	play(t, b)

	players := b.Players()
	require.Len(t, players, 2)
	assert.Equal(t, "alpha", players[0].Callsign)
	assert.Equal(t, 1, players[0].Kills)
	assert.Equal(t, 1, players[0].Captures)
	assert.Equal(t, 1, players[1].Deaths)
	assert.Equal(t, t0.Add(3*time.Minute), players[1].Left)
	assert.True(t, players[0].Left.IsZero())
}

func TestEndMatch_ExportsJSON(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: filepath.Join(dir, "out")})
	info := play(t, b)
	require.NoError(t, b.EndMatch(match.Info{Ended: t0.Add(10 * time.Minute)}))

	path := b.ExportedFilePath()
	assert.Equal(t, filepath.Join(dir, "out", "Friday_CTF__round_1_20240601_183000.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Export
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, info.ID.String(), got.ID)
	assert.Equal(t, 600.0, got.Duration)
	assert.Len(t, got.Events, 5)
	require.Len(t, got.Players, 2)
	assert.Equal(t, t0.Add(10*time.Minute), got.Players[0].Left, "open players leave with the match")

	assert.ErrorIs(t, b.RecordEvent(match.Event{Kind: match.Join}), match.ErrNoMatch)
}

func TestEndMatch_Gzip(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir(), CompressOutput: true})
	play(t, b)
	require.NoError(t, b.Close())

	path := b.ExportedFilePath()
	assert.Equal(t, ".gz", filepath.Ext(path))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	var got Export
	require.NoError(t, json.NewDecoder(zr).Decode(&got))
	assert.Equal(t, "Friday CTF: round 1", got.Title)
}

func TestStartMatch_ExportsPrevious(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	play(t, b)
	require.NoError(t, b.StartMatch(match.Info{ID: uuid.New(), Title: "next", Started: t0.Add(time.Hour)}))

	assert.NotEmpty(t, b.ExportedFilePath())
	assert.Empty(t, b.Players())
}
