package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nationdex/promostore/internal/domain/promocode"
	"github.com/nationdex/promostore/internal/repository"
)

// Options configures a PromoStore.
type Options struct {
	// CacheWindow is how long reads trust the in-memory state before
	// re-checking the backing file. Zero means the 300s default.
	CacheWindow time.Duration
	// SeedCodes are exempt from Clean. The first listed code is synthesized
	// after every load when absent.
	SeedCodes []string
	// ArchiveEnabled controls whether removed codes are copied into the
	// archive sink.
	ArchiveEnabled bool
}

// PromoStore owns the in-memory promocode map and coordinates it with the
// backing file. It is constructed once per process and injected into
// callers; all operations are safe for concurrent use within the process,
// and flushes are serialized across processes by the file lock.
type PromoStore struct {
	files   *repository.FileStore
	archive *repository.ArchiveSink
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	codes     map[string]*promocode.PromoCode
	loaded    bool
	lastLoad  time.Time
	lastMtime time.Time
}

// NewPromoStore creates a new PromoStore. A nil clock uses time.Now.
func NewPromoStore(files *repository.FileStore, archive *repository.ArchiveSink, opts Options, clock func() time.Time, logger *zap.Logger) *PromoStore {
	if opts.CacheWindow <= 0 {
		opts.CacheWindow = 300 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	seeds := make([]string, 0, len(opts.SeedCodes))
	for _, s := range opts.SeedCodes {
		if code := promocode.Normalize(s); code != "" {
			seeds = append(seeds, code)
		}
	}
	opts.SeedCodes = seeds
	return &PromoStore{
		files:   files,
		archive: archive,
		opts:    opts,
		logger:  logger,
		now:     func() time.Time { return clock().UTC() },
		codes:   make(map[string]*promocode.PromoCode),
	}
}

// freshen runs the cache-coordination check. Within the cache window the
// in-memory state is trusted; past it, an unchanged file mtime refreshes the
// window without a parse, and a changed mtime triggers a reload. Failures
// are logged and the previous in-memory generation stays live, so a corrupt
// or briefly unreadable file degrades to bounded staleness rather than an
// unusable store.
func (s *PromoStore) freshen(ctx context.Context) {
	now := s.now()
	if s.loaded && now.Sub(s.lastLoad) < s.opts.CacheWindow {
		return
	}
	mtime, err := s.files.ModTime()
	if err != nil {
		s.logger.Warn("could not stat promocode file, keeping cached state", zap.Error(err))
		return
	}
	if s.loaded && mtime.Equal(s.lastMtime) {
		s.lastLoad = now
		return
	}
	if err := s.reloadLocked(ctx); err != nil {
		s.logger.Error("promocode reload failed, keeping cached state", zap.Error(err))
	}
}

// reloadLocked repopulates the map from the file. Callers hold s.mu. On the
// first run, when the file does not exist, the current in-memory state
// (after seeding) is flushed so the file self-initializes.
func (s *PromoStore) reloadLocked(ctx context.Context) error {
	codes, err := s.files.Load(ctx)
	if errors.Is(err, os.ErrNotExist) {
		s.ensureSeedLocked()
		if err := s.files.Flush(ctx, s.codes); err != nil {
			return fmt.Errorf("initialize promocode file: %w", err)
		}
		s.markSyncedLocked()
		return nil
	}
	if err != nil {
		return err
	}
	s.codes = codes
	s.ensureSeedLocked()
	s.markSyncedLocked()
	return nil
}

func (s *PromoStore) ensureSeedLocked() {
	if len(s.opts.SeedCodes) == 0 {
		return
	}
	seed := s.opts.SeedCodes[0]
	if _, ok := s.codes[seed]; !ok {
		s.logger.Info("synthesizing missing seed promocode", zap.String("code", seed))
		s.codes[seed] = promocode.NewSeed(seed)
	}
}

// markSyncedLocked records that memory and file agree right now, so the
// cache window restarts and an immediate mtime check will not re-parse our
// own write.
func (s *PromoStore) markSyncedLocked() {
	s.loaded = true
	s.lastLoad = s.now()
	if mtime, err := s.files.ModTime(); err == nil {
		s.lastMtime = mtime
	}
}

func (s *PromoStore) isSeed(code string) bool {
	for _, seed := range s.opts.SeedCodes {
		if code == seed {
			return true
		}
	}
	return false
}

// lookup resolves a normalized code, falling back to a case-insensitive
// scan so codes recorded with operator typos still resolve. The fallback is
// logged; callers hold s.mu.
func (s *PromoStore) lookupLocked(code string) (*promocode.PromoCode, bool) {
	if p, ok := s.codes[code]; ok {
		return p, true
	}
	for stored, p := range s.codes {
		if strings.EqualFold(stored, code) {
			s.logger.Warn("promocode resolved via case-insensitive fallback",
				zap.String("requested", code), zap.String("stored", stored))
			return p, true
		}
	}
	return nil, false
}

// ForceReload bypasses the cache window and reloads from the file,
// returning the number of codes now live. Used by the admin sync operation
// and at startup.
func (s *PromoStore) ForceReload(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(ctx); err != nil {
		return 0, err
	}
	return len(s.codes), nil
}

// Create inserts a new code and flushes. If the flush fails the insertion is
// rolled back: the store never reports success without durable persistence,
// and never leaves a ghost entry after a failed create.
func (s *PromoStore) Create(ctx context.Context, createdBy string, req CreateCodeRequest) (*PromoCodeDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freshen(ctx)

	now := s.now()
	var expiry time.Time
	if req.Expiry != "" {
		t, err := time.Parse(time.RFC3339, req.Expiry)
		if err != nil {
			return nil, fmt.Errorf("%w: expiry must be RFC3339: %v", promocode.ErrValidation, err)
		}
		expiry = t
	} else if req.ExpiryDays > 0 {
		endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
		expiry = endOfDay.AddDate(0, 0, req.ExpiryDays)
	}

	rewards := promocode.RewardSpec{SpecificBallID: req.SpecificBallID, SpecialID: req.SpecialID}
	p, err := promocode.New(req.Code, req.Uses, expiry, rewards, req.MaxUsesPerUser,
		req.Description, req.Hidden, createdBy, now)
	if err != nil {
		return nil, err
	}
	if _, exists := s.codes[p.Code()]; exists {
		return nil, fmt.Errorf("%w: %s", promocode.ErrConflict, p.Code())
	}

	s.codes[p.Code()] = p
	if err := s.files.Flush(ctx, s.codes); err != nil {
		delete(s.codes, p.Code())
		return nil, fmt.Errorf("persist created promocode %s: %w", p.Code(), err)
	}
	s.markSyncedLocked()

	s.logger.Info("promocode created",
		zap.String("code", p.Code()), zap.Int("uses", p.UsesLeft()),
		zap.Time("expiry", p.Expiry()), zap.String("created_by", createdBy))
	dto := toDTO(p, now)
	return &dto, nil
}

// AdjustUses changes the remaining budget by delta, clamping at zero, and
// returns the new value. A failed flush rolls the numeric change back so
// memory keeps matching the durable file.
func (s *PromoStore) AdjustUses(ctx context.Context, code string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freshen(ctx)

	code = promocode.Normalize(code)
	p, ok := s.codes[code]
	if !ok {
		return 0, fmt.Errorf("%w: %s", promocode.ErrNotFound, code)
	}

	snapshot := p.Clone()
	newUses := p.AddUses(delta, s.now())
	if err := s.files.Flush(ctx, s.codes); err != nil {
		s.codes[code] = snapshot
		return 0, fmt.Errorf("persist adjusted promocode %s: %w", code, err)
	}
	s.markSyncedLocked()

	s.logger.Info("promocode uses adjusted",
		zap.String("code", code), zap.Int("delta", delta), zap.Int("uses_left", newUses))
	return newUses, nil
}

// CheckEligible decides whether identity may currently redeem code, without
// mutating anything. The returned DTO is only set when the reason is OK.
func (s *PromoStore) CheckEligible(ctx context.Context, code, identity string) (*PromoCodeDTO, promocode.Reason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freshen(ctx)

	code = promocode.Normalize(code)
	if code == "" {
		return nil, promocode.ReasonNotFound, nil
	}
	p, ok := s.lookupLocked(code)
	if !ok {
		return nil, promocode.ReasonNotFound, nil
	}
	now := s.now()
	if reason := p.Eligibility(identity, now); reason != promocode.ReasonOK {
		return nil, reason, nil
	}
	dto := toDTO(p, now)
	return &dto, promocode.ReasonOK, nil
}

// MarkUsed redeems code for identity. Eligibility is re-validated at
// mutation time under the store lock, closing the race between a prior
// check and the redemption. On a failed flush every field touched by the
// redemption is restored to its pre-call value.
func (s *PromoStore) MarkUsed(ctx context.Context, code, identity, username string) (*PromoCodeDTO, promocode.Reason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freshen(ctx)

	code = promocode.Normalize(code)
	p, ok := s.lookupLocked(code)
	if !ok {
		return nil, promocode.ReasonNotFound, nil
	}

	now := s.now()
	snapshot := p.Clone()
	reason := p.RecordUse(identity, username, now)
	if reason != promocode.ReasonOK {
		return nil, reason, nil
	}
	if err := s.files.Flush(ctx, s.codes); err != nil {
		s.codes[p.Code()] = snapshot
		return nil, "", fmt.Errorf("persist redemption of %s: %w", p.Code(), err)
	}
	s.markSyncedLocked()

	s.logger.Info("promocode redeemed",
		zap.String("code", p.Code()), zap.String("identity", identity),
		zap.Int("uses_left", p.UsesLeft()))
	dto := toDTO(p, now)
	return &dto, promocode.ReasonOK, nil
}

// Delete removes a code. Deletion is all-or-nothing with respect to the
// live store: a failed flush restores the record in memory. The removed
// record is archived only after the flush succeeds; an archive failure is
// logged but does not undo the deletion.
func (s *PromoStore) Delete(ctx context.Context, code string, archive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freshen(ctx)

	code = promocode.Normalize(code)
	removed, ok := s.codes[code]
	if !ok {
		return fmt.Errorf("%w: %s", promocode.ErrNotFound, code)
	}

	delete(s.codes, code)
	if err := s.files.Flush(ctx, s.codes); err != nil {
		s.codes[code] = removed
		return fmt.Errorf("persist deletion of %s: %w", code, err)
	}
	s.markSyncedLocked()

	if archive && s.opts.ArchiveEnabled {
		if err := s.archive.ArchiveDeleted(removed, s.now()); err != nil {
			s.logger.Warn("failed to archive deleted promocode",
				zap.String("code", code), zap.Error(err))
		}
	}
	s.logger.Info("promocode deleted", zap.String("code", code))
	return nil
}

// Clean removes every expired or depleted code except the seeds, archiving
// the batch first and flushing once at the end. A failed flush restores all
// removals and is a hard error: the file must not silently diverge from
// memory during bulk cleanup.
func (s *PromoStore) Clean(ctx context.Context, archive bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freshen(ctx)

	now := s.now()
	removed := make(map[string]*promocode.PromoCode)
	reasons := make(map[string]string)
	for code, p := range s.codes {
		if s.isSeed(code) {
			continue
		}
		switch {
		case p.IsExpired(now):
			removed[code] = p
			reasons[code] = repository.ReasonExpiredCleanup
		case p.IsDepleted():
			removed[code] = p
			reasons[code] = repository.ReasonDepletedCleanup
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if archive && s.opts.ArchiveEnabled {
		if err := s.archive.ArchiveCleaned(removed, reasons, now); err != nil {
			s.logger.Warn("failed to archive cleaned promocodes", zap.Error(err))
		}
	}

	for code := range removed {
		delete(s.codes, code)
	}
	if err := s.files.Flush(ctx, s.codes); err != nil {
		for code, p := range removed {
			s.codes[code] = p
		}
		return 0, fmt.Errorf("clean: persist after removing %d promocodes: %w", len(removed), err)
	}
	s.markSyncedLocked()

	s.logger.Info("cleaned promocodes", zap.Int("removed", len(removed)))
	return len(removed), nil
}

// List returns codes matching the filter, applied in the order
// expired, depleted, hidden, reward. Sorting is stable; codes with no
// created_at sort last under the created_at key.
func (s *PromoStore) List(ctx context.Context, filter ListFilter) ([]PromoCodeDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freshen(ctx)

	now := s.now()
	matched := make([]*promocode.PromoCode, 0, len(s.codes))
	for _, p := range s.codes {
		if !filter.IncludeExpired && p.IsExpired(now) {
			continue
		}
		if !filter.IncludeDepleted && p.IsDepleted() {
			continue
		}
		if !filter.IncludeHidden && p.Hidden() {
			continue
		}
		if filter.SpecificBallID != nil && !matchID(p.Rewards().SpecificBallID, *filter.SpecificBallID) {
			continue
		}
		if filter.SpecialID != nil && !matchID(p.Rewards().SpecialID, *filter.SpecialID) {
			continue
		}
		matched = append(matched, p)
	}

	sortCodes(matched, filter.SortBy)

	out := make([]PromoCodeDTO, len(matched))
	for i, p := range matched {
		out[i] = toDTO(p, now)
	}
	return out, nil
}

func matchID(have *int64, want int64) bool {
	return have != nil && *have == want
}

func sortCodes(codes []*promocode.PromoCode, sortBy string) {
	switch sortBy {
	case "expiry":
		sort.SliceStable(codes, func(i, j int) bool {
			return codes[i].Expiry().Before(codes[j].Expiry())
		})
	case "uses_left":
		sort.SliceStable(codes, func(i, j int) bool {
			return codes[i].UsesLeft() < codes[j].UsesLeft()
		})
	case "created_at":
		sort.SliceStable(codes, func(i, j int) bool {
			a, b := codes[i].CreatedAt(), codes[j].CreatedAt()
			if a.IsZero() {
				return false
			}
			if b.IsZero() {
				return true
			}
			return a.Before(b)
		})
	default: // "code" and unspecified both sort lexicographically
		sort.SliceStable(codes, func(i, j int) bool {
			return codes[i].Code() < codes[j].Code()
		})
	}
}
