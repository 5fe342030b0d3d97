package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/nationdex/promostore/internal/domain/promocode"
)

const lockRetryInterval = 100 * time.Millisecond

// FileStore persists the promocode map to a single JSON file with an
// advisory sibling lock, write-ahead temp file and atomic rename. It has no
// in-memory state of its own; the owning store passes maps in and out.
type FileStore struct {
	path        string
	lockTimeout time.Duration
	logger      *zap.Logger
}

// NewFileStore creates a FileStore for the given file path.
func NewFileStore(path string, lockTimeout time.Duration, logger *zap.Logger) *FileStore {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &FileStore{path: path, lockTimeout: lockTimeout, logger: logger}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// ModTime returns the backing file's modification time. A missing file
// returns the zero time without error.
func (s *FileStore) ModTime() (time.Time, error) {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("stat promocode file: %w", err)
	}
	return info.ModTime(), nil
}

// acquireLock takes the exclusive advisory lock on the sibling .lock file,
// waiting at most the configured timeout. Callers must call the returned
// release func.
func (s *FileStore) acquireLock(ctx context.Context) (release func(), err error) {
	lockPath := s.path + ".lock"
	fl := flock.New(lockPath)

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil || !locked {
		// The caller giving up (shutdown, request cancelled) is not a
		// timeout; only report ErrLockTimeout when our own deadline ran out.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("acquire lock on %s: %w", lockPath, ctxErr)
		}
		if err == nil || lockCtx.Err() != nil {
			return nil, fmt.Errorf("acquire lock on %s within %s: %w", lockPath, s.lockTimeout, promocode.ErrLockTimeout)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("acquire lock on %s: %w", lockPath, promocode.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("acquire lock on %s: %w", lockPath, err)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release file lock", zap.String("path", lockPath), zap.Error(err))
		}
		// Best effort; another process may already hold a fresh lock file.
		_ = os.Remove(lockPath)
	}, nil
}

// Flush serializes every code and atomically replaces the backing file.
// On any failure the previous file is left untouched and the temp file is
// removed.
func (s *FileStore) Flush(ctx context.Context, codes map[string]*promocode.PromoCode) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("create directory %s: %w", dir, promocode.ErrPermissionDenied)
		}
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	release, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer release()

	records := make(map[string]promoRecord, len(codes))
	for code, p := range codes {
		records[code] = encodeRecord(p)
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("serialize promocodes: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := s.writeSync(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	// Best-effort backup of the previous file; failure is logged, not fatal.
	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.path+".backup"); err != nil {
			s.logger.Warn("failed to back up previous promocode file", zap.Error(err))
		}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		if os.IsPermission(err) {
			return fmt.Errorf("replace %s: %w", s.path, promocode.ErrPermissionDenied)
		}
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	s.logger.Info("flushed promocodes to file",
		zap.Int("count", len(codes)), zap.String("path", s.path))
	return nil
}

func (s *FileStore) writeSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("write %s: %w", path, promocode.ErrPermissionDenied)
		}
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the backing file into a fresh map. A missing file
// returns os.ErrNotExist so the caller can self-initialize. Malformed JSON is
// quarantined under a timestamped name, an empty object is written in its
// place and ErrCorruptData is returned; Load never panics on bad input.
func (s *FileStore) Load(ctx context.Context) (map[string]*promocode.PromoCode, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, fmt.Errorf("promocode file %s: %w", s.path, os.ErrNotExist)
	}

	release, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("read %s: %w", s.path, promocode.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	raw := make(map[string]json.RawMessage)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			s.quarantine(err)
			return nil, fmt.Errorf("parse %s: %w", s.path, promocode.ErrCorruptData)
		}
	}

	codes := make(map[string]*promocode.PromoCode, len(raw))
	for code, entry := range raw {
		if code == "" {
			s.logger.Warn("skipping promocode with empty key")
			continue
		}
		if p, ok := decodeRecord(code, entry, s.logger); ok {
			codes[code] = p
		}
	}

	s.logger.Info("loaded promocodes from file",
		zap.Int("count", len(codes)), zap.String("path", s.path))
	return codes, nil
}

// quarantine moves a corrupt file aside and reinitializes the path with an
// empty object so subsequent loads succeed.
func (s *FileStore) quarantine(cause error) {
	quarantinePath := fmt.Sprintf("%s.corrupted.%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, quarantinePath); err != nil {
		s.logger.Error("failed to quarantine corrupt promocode file", zap.Error(err))
		return
	}
	s.logger.Warn("quarantined corrupt promocode file",
		zap.String("quarantine", quarantinePath), zap.Error(cause))
	if err := os.WriteFile(s.path, []byte("{}"), 0o644); err != nil {
		s.logger.Error("failed to reinitialize promocode file", zap.Error(err))
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
