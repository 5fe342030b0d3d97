package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nationdex/promostore/internal/domain/promocode"
)

// Deletion reasons recorded in archive files. Manual deletions record no
// reason at all.
const (
	ReasonExpiredCleanup  = "expired"
	ReasonDepletedCleanup = "depleted"
)

// ArchiveSink appends serialized copies of removed codes into JSON archive
// files for audit and recovery. Manual deletions accumulate in a single
// file; periodic cleanups go to a per-day file.
type ArchiveSink struct {
	dir    string
	logger *zap.Logger
}

// NewArchiveSink creates an ArchiveSink writing under dir.
func NewArchiveSink(dir string, logger *zap.Logger) *ArchiveSink {
	return &ArchiveSink{dir: dir, logger: logger}
}

// Dir returns the archive directory.
func (a *ArchiveSink) Dir() string { return a.dir }

// ArchiveDeleted records a manually deleted code.
func (a *ArchiveSink) ArchiveDeleted(p *promocode.PromoCode, deletedAt time.Time) error {
	rec := archiveRecord{
		promoRecord: encodeRecord(p),
		DeletedAt:   formatTimestamp(deletedAt),
	}
	return a.append("archived_promocodes.json", map[string]archiveRecord{p.Code(): rec})
}

// ArchiveCleaned records a batch of codes removed by the clean operation,
// with their per-code deletion reasons, in a single write.
func (a *ArchiveSink) ArchiveCleaned(removed map[string]*promocode.PromoCode, reasons map[string]string, deletedAt time.Time) error {
	if len(removed) == 0 {
		return nil
	}
	entries := make(map[string]archiveRecord, len(removed))
	for code, p := range removed {
		entries[code] = archiveRecord{
			promoRecord:    encodeRecord(p),
			DeletedAt:      formatTimestamp(deletedAt),
			DeletionReason: reasons[code],
		}
	}
	name := fmt.Sprintf("archived_promocodes_%s.json", deletedAt.UTC().Format("20060102"))
	return a.append(name, entries)
}

// append merges entries into the named archive file. An existing file that
// fails to parse is not fatal: a fresh archive replaces it with a warning,
// so archiving never blocks the removal it follows.
func (a *ArchiveSink) append(name string, entries map[string]archiveRecord) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("create archive directory %s: %w", a.dir, promocode.ErrPermissionDenied)
		}
		return fmt.Errorf("create archive directory %s: %w", a.dir, err)
	}

	path := filepath.Join(a.dir, name)
	existing := make(map[string]archiveRecord)
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &existing); err != nil {
			a.logger.Warn("archive file is not valid JSON, starting a new archive",
				zap.String("path", path), zap.Error(err))
			existing = make(map[string]archiveRecord)
		}
	}
	for code, rec := range entries {
		existing[code] = rec
	}

	data, err := json.MarshalIndent(existing, "", "    ")
	if err != nil {
		return fmt.Errorf("serialize archive: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("write archive %s: %w", path, promocode.ErrPermissionDenied)
		}
		return fmt.Errorf("write archive %s: %w", path, err)
	}

	a.logger.Info("archived promocodes",
		zap.Int("count", len(entries)), zap.String("path", path))
	return nil
}
