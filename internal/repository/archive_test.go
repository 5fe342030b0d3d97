package repository

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nationdex/promostore/internal/domain/promocode"
)

func readArchive(t *testing.T, path string) map[string]map[string]json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := make(map[string]map[string]json.RawMessage)
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestArchiveDeletedHasNoReason(t *testing.T) {
	dir := t.TempDir()
	sink := NewArchiveSink(dir, zap.NewNop())
	deletedAt := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	p := mustNewCode(t, "MANUAL", 3)
	require.NoError(t, sink.ArchiveDeleted(p, deletedAt))

	entries := readArchive(t, filepath.Join(dir, "archived_promocodes.json"))
	require.Contains(t, entries, "MANUAL")
	assert.Contains(t, entries["MANUAL"], "deleted_at")
	assert.NotContains(t, entries["MANUAL"], "deletion_reason")
}

func TestArchiveDeletedMergesIntoExistingFile(t *testing.T) {
	dir := t.TempDir()
	sink := NewArchiveSink(dir, zap.NewNop())
	deletedAt := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sink.ArchiveDeleted(mustNewCode(t, "ONE", 1), deletedAt))
	require.NoError(t, sink.ArchiveDeleted(mustNewCode(t, "TWO", 1), deletedAt.Add(time.Hour)))

	entries := readArchive(t, filepath.Join(dir, "archived_promocodes.json"))
	assert.Contains(t, entries, "ONE")
	assert.Contains(t, entries, "TWO")
}

func TestArchiveCleanedWritesDatedFileWithReasons(t *testing.T) {
	dir := t.TempDir()
	sink := NewArchiveSink(dir, zap.NewNop())
	deletedAt := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	removed := map[string]*promocode.PromoCode{
		"OLD":  mustNewCode(t, "OLD", 1),
		"USED": mustNewCode(t, "USED", 1),
	}
	reasons := map[string]string{
		"OLD":  ReasonExpiredCleanup,
		"USED": ReasonDepletedCleanup,
	}
	require.NoError(t, sink.ArchiveCleaned(removed, reasons, deletedAt))

	entries := readArchive(t, filepath.Join(dir, "archived_promocodes_20250601.json"))
	require.Len(t, entries, 2)

	var reason string
	require.NoError(t, json.Unmarshal(entries["OLD"]["deletion_reason"], &reason))
	assert.Equal(t, "expired", reason)
	require.NoError(t, json.Unmarshal(entries["USED"]["deletion_reason"], &reason))
	assert.Equal(t, "depleted", reason)
}

func TestArchiveCleanedEmptyBatchIsNoop(t *testing.T) {
	dir := t.TempDir()
	sink := NewArchiveSink(dir, zap.NewNop())

	require.NoError(t, sink.ArchiveCleaned(nil, nil, time.Now()))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestArchiveReplacesUnparsableArchiveFile(t *testing.T) {
	dir := t.TempDir()
	sink := NewArchiveSink(dir, zap.NewNop())
	path := filepath.Join(dir, "archived_promocodes.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	require.NoError(t, sink.ArchiveDeleted(mustNewCode(t, "FRESH", 1), time.Now()))

	entries := readArchive(t, path)
	require.Len(t, entries, 1)
	assert.Contains(t, entries, "FRESH")
}
