package wal

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type phaseBody struct {
	Kind string `json:"kind"`
}

func openTestWAL(t *testing.T, path string) *WAL {
	t.Helper()
	opts := DefaultOptions()
	opts.BufferSize = 4
	w, err := Open(path, opts)
	require.NoError(t, err)
	return w
}

func collect(t *testing.T, w *WAL, after uint64) []Event {
	t.Helper()
	var events []Event
	require.NoError(t, w.ReplayAfter(after, func(e Event) error {
		events = append(events, e)
		return nil
	}))
	return events
}

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.wal")
	w := openTestWAL(t, path)

	require.NoError(t, w.Append(EventPhase, "accounts", phaseBody{Kind: "ongoing"}, false))
	require.NoError(t, w.Append(EventOutboundSent, "t1", nil, false))
	require.NoError(t, w.Append(EventOutboundAcked, "t1", nil, false))

	// Replay 會先 flush 緩衝
	events := collect(t, w, 0)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, EventPhase, events[0].Type)

	var body phaseBody
	require.NoError(t, events[0].Decode(&body))
	assert.Equal(t, "ongoing", body.Kind)
	assert.ErrorIs(t, events[1].Decode(&body), ErrEmptyData)

	after := collect(t, w, 2)
	require.Len(t, after, 1)
	assert.Equal(t, EventOutboundAcked, after[0].Type)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Append(EventPhase, "x", nil, true), ErrWALClosed)
}

func TestReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.wal")
	w := openTestWAL(t, path)
	require.NoError(t, w.Append(EventSettings, "settings", nil, true))
	require.NoError(t, w.Append(EventSettings, "settings", nil, true))
	require.NoError(t, w.Close())

	w2 := openTestWAL(t, path)
	defer w2.Close()
	assert.Equal(t, uint64(2), w2.GetLastSeq())

	require.NoError(t, w2.Append(EventSettings, "settings", nil, true))
	assert.Equal(t, uint64(3), w2.GetLastSeq())
	require.NoError(t, ValidateWAL(path))
}

func TestRotateKeepsSequence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "migrate.wal")
	w := openTestWAL(t, path)
	defer w.Close()

	require.NoError(t, w.Append(EventOutboundSent, "t1", nil, true))
	require.NoError(t, w.Append(EventOutboundSent, "t2", nil, true))
	require.NoError(t, w.Rotate())

	assert.Equal(t, uint64(2), w.GetLastSeq())
	assert.Empty(t, collect(t, w, 0))

	require.NoError(t, w.Append(EventOutboundAcked, "t1", nil, true))
	events := collect(t, w, 2)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(3), events[0].Seq)

	// 舊檔已壓縮封存
	archive := path + ".2.zst"
	_, err := os.Stat(archive)
	require.NoError(t, err)
	_, err = os.Stat(path + ".2")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	extracted := filepath.Join(dir, "extracted.wal")
	require.NoError(t, ExtractArchive(archive, extracted))
	n, err := CountEvents(extracted)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAdvanceTo(t *testing.T) {
	w := openTestWAL(t, filepath.Join(t.TempDir(), "migrate.wal"))
	defer w.Close()

	w.AdvanceTo(40)
	require.NoError(t, w.Append(EventPhase, "p", nil, true))
	assert.Equal(t, uint64(41), w.GetLastSeq())

	w.AdvanceTo(10)
	assert.Equal(t, uint64(41), w.GetLastSeq())
}

func TestChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.wal")
	w := openTestWAL(t, path)
	require.NoError(t, w.Append(EventOutboundSent, "ticket-a", nil, true))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(raw, []byte("ticket-a"), []byte("ticket-b"), 1)
	require.NoError(t, os.WriteFile(path, tampered, 0644))

	err = ValidateWAL(path)
	var csErr *ChecksumError
	require.ErrorAs(t, err, &csErr)
	assert.Equal(t, uint64(1), csErr.Seq)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Contains(t, err.Error(), "seq=1")
}

func TestTornTailIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.wal")
	w := openTestWAL(t, path)
	require.NoError(t, w.Append(EventOutboundSent, "t1", nil, true))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"type":"OUTBOUND_`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	last, err := GetLastEvent(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last.Seq)
}

func TestMidFileCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.wal")
	w := openTestWAL(t, path)
	require.NoError(t, w.Append(EventOutboundSent, "t1", nil, true))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append([]byte("garbage\n"), raw...), 0644))

	_, err = CountEvents(path)
	var corrupt *CorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, int64(0), corrupt.Offset)
	assert.ErrorIs(t, err, ErrCorruptedWAL)
}

func TestStatsAndDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.wal")
	w := openTestWAL(t, path)
	require.NoError(t, w.Append(EventOutboundUnsent, "pending-1", nil, false))
	require.NoError(t, w.Append(EventOutboundSent, "t1", nil, false))
	require.NoError(t, w.Append(EventOutboundAcked, "t1", nil, false))
	require.NoError(t, w.Close())

	stats, err := GetStats(path)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEvents)
	assert.Equal(t, uint64(1), stats.FirstSeq)
	assert.Equal(t, uint64(3), stats.LastSeq)
	assert.Equal(t, 1, stats.EventTypes[EventOutboundAcked])

	var out bytes.Buffer
	require.NoError(t, DumpWAL(path, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "[Seq:2] OUTBOUND_SENT t1"))

	_, err = GetLastEvent(filepath.Join(t.TempDir(), "missing.wal"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
