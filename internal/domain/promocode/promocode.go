package promocode

import (
	"fmt"
	"strings"
	"time"
)

// DefaultExpiry is the fallback expiry applied to records whose expiry is
// missing or unparsable, and to synthesized seed codes.
var DefaultExpiry = time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)

// DefaultExpiryDays is how far in the future a newly created code expires
// when no explicit expiry is given.
const DefaultExpiryDays = 30

// SeedUses is the global redemption budget given to a synthesized seed code.
const SeedUses = 1000

// RewardSpec describes what a redemption grants. A nil SpecificBallID means
// "pick a random eligible ball at redemption time"; a nil SpecialID means no
// special event modifier is applied.
type RewardSpec struct {
	SpecificBallID *int64
	SpecialID      *int64
}

// UsageEntry is one recorded redemption by a single identity.
type UsageEntry struct {
	Timestamp time.Time
	Username  string
}

// PromoCode is the aggregate root for redeemable codes.
type PromoCode struct {
	code           string
	expiry         time.Time
	usesLeft       int
	maxUsesPerUser int
	rewards        RewardSpec
	usedBy         map[string]struct{}
	usageHistory   map[string][]UsageEntry
	createdAt      time.Time
	createdBy      string
	description    string
	hidden         bool
	lastModified   time.Time
	lastUsed       time.Time
}

// Normalize trims and uppercases a raw code string.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validCodeFormat(code string) bool {
	if code == "" {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// New creates a new promo code. A zero expiry defaults to the end of the
// current day plus DefaultExpiryDays. maxUsesPerUser below 1 is coerced to 1.
func New(code string, uses int, expiry time.Time, rewards RewardSpec, maxUsesPerUser int, description string, hidden bool, createdBy string, now time.Time) (*PromoCode, error) {
	code = Normalize(code)
	if code == "" {
		return nil, fmt.Errorf("%w: promo code is required", ErrValidation)
	}
	if !validCodeFormat(code) {
		return nil, fmt.Errorf("%w: invalid code format %q (alphanumeric, underscore and hyphen only)", ErrValidation, code)
	}
	if uses <= 0 {
		return nil, fmt.Errorf("%w: uses must be positive, got %d", ErrValidation, uses)
	}
	if maxUsesPerUser < 1 {
		maxUsesPerUser = 1
	}
	if expiry.IsZero() {
		endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
		expiry = endOfDay.AddDate(0, 0, DefaultExpiryDays)
	}

	return &PromoCode{
		code:           code,
		expiry:         expiry,
		usesLeft:       uses,
		maxUsesPerUser: maxUsesPerUser,
		rewards:        rewards,
		usedBy:         make(map[string]struct{}),
		usageHistory:   make(map[string][]UsageEntry),
		createdAt:      now,
		createdBy:      createdBy,
		description:    description,
		hidden:         hidden,
	}, nil
}

// NewSeed synthesizes the reserved default code that is guaranteed present
// after every load. This is a special-cased seed record, not a general
// creation path: it carries the fixed fallback expiry and a generous budget.
func NewSeed(code string) *PromoCode {
	return &PromoCode{
		code:           Normalize(code),
		expiry:         DefaultExpiry,
		usesLeft:       SeedUses,
		maxUsesPerUser: 1,
		rewards:        RewardSpec{},
		usedBy:         make(map[string]struct{}),
		usageHistory:   make(map[string][]UsageEntry),
	}
}

// Reconstruct rebuilds a PromoCode from persistence. The maps are taken over,
// not copied; callers must not retain them.
func Reconstruct(code string, expiry time.Time, usesLeft, maxUsesPerUser int, rewards RewardSpec, usedBy map[string]struct{}, usageHistory map[string][]UsageEntry, createdAt time.Time, createdBy, description string, hidden bool, lastModified, lastUsed time.Time) *PromoCode {
	if usedBy == nil {
		usedBy = make(map[string]struct{})
	}
	if usageHistory == nil {
		usageHistory = make(map[string][]UsageEntry)
	}
	if maxUsesPerUser < 1 {
		maxUsesPerUser = 1
	}
	return &PromoCode{
		code: code, expiry: expiry, usesLeft: usesLeft, maxUsesPerUser: maxUsesPerUser,
		rewards: rewards, usedBy: usedBy, usageHistory: usageHistory,
		createdAt: createdAt, createdBy: createdBy, description: description,
		hidden: hidden, lastModified: lastModified, lastUsed: lastUsed,
	}
}

// Clone returns a deep copy. Used to snapshot a record before a mutation so
// the store can restore the exact pre-mutation state when a flush fails.
func (p *PromoCode) Clone() *PromoCode {
	usedBy := make(map[string]struct{}, len(p.usedBy))
	for id := range p.usedBy {
		usedBy[id] = struct{}{}
	}
	history := make(map[string][]UsageEntry, len(p.usageHistory))
	for id, entries := range p.usageHistory {
		history[id] = append([]UsageEntry(nil), entries...)
	}
	clone := *p
	clone.usedBy = usedBy
	clone.usageHistory = history
	return &clone
}

// IsExpired reports whether the code is past its expiry.
func (p *PromoCode) IsExpired(now time.Time) bool {
	return now.After(p.expiry)
}

// IsDepleted reports whether the global redemption budget is exhausted.
func (p *PromoCode) IsDepleted() bool {
	return p.usesLeft <= 0
}

// UsageCount returns how many times the given identity has redeemed this
// code. The usage history is authoritative; membership in the coarse usedBy
// set counts as a single use for files written before per-use tracking.
func (p *PromoCode) UsageCount(identity string) int {
	if entries, ok := p.usageHistory[identity]; ok {
		return len(entries)
	}
	if _, ok := p.usedBy[identity]; ok {
		return 1
	}
	return 0
}

// Eligibility decides whether a redemption by identity would currently be
// permitted. It never mutates state. An empty identity is allowed for
// non-hidden codes (existence checks); hidden codes require one.
func (p *PromoCode) Eligibility(identity string, now time.Time) Reason {
	if p.IsExpired(now) {
		return ReasonExpired
	}
	if p.IsDepleted() {
		return ReasonDepleted
	}
	if p.hidden && identity == "" {
		return ReasonHiddenRequiresIdentity
	}
	if identity != "" && p.UsageCount(identity) >= p.maxUsesPerUser {
		return ReasonUserLimitReached
	}
	return ReasonOK
}

// RecordUse re-validates eligibility and applies the redemption: decrements
// usesLeft, adds the identity to usedBy, appends a usage-history entry and
// updates lastUsed. The re-validation at mutation time closes the
// check-then-act race between a prior eligibility check and this call.
func (p *PromoCode) RecordUse(identity, username string, now time.Time) Reason {
	if identity == "" {
		return ReasonHiddenRequiresIdentity
	}
	if reason := p.Eligibility(identity, now); reason != ReasonOK {
		return reason
	}
	p.usesLeft--
	p.usedBy[identity] = struct{}{}
	entry := UsageEntry{Timestamp: now, Username: username}
	p.usageHistory[identity] = append(p.usageHistory[identity], entry)
	p.lastUsed = now
	return ReasonOK
}

// AddUses adjusts the remaining budget by delta, clamping at zero, and
// returns the new value.
func (p *PromoCode) AddUses(delta int, now time.Time) int {
	p.usesLeft += delta
	if p.usesLeft < 0 {
		p.usesLeft = 0
	}
	p.lastModified = now
	return p.usesLeft
}

// Getters.
func (p *PromoCode) Code() string                             { return p.code }
func (p *PromoCode) Expiry() time.Time                        { return p.expiry }
func (p *PromoCode) UsesLeft() int                            { return p.usesLeft }
func (p *PromoCode) MaxUsesPerUser() int                      { return p.maxUsesPerUser }
func (p *PromoCode) Rewards() RewardSpec                      { return p.rewards }
func (p *PromoCode) CreatedAt() time.Time                     { return p.createdAt }
func (p *PromoCode) CreatedBy() string                        { return p.createdBy }
func (p *PromoCode) Description() string                      { return p.description }
func (p *PromoCode) Hidden() bool                             { return p.hidden }
func (p *PromoCode) LastModified() time.Time                  { return p.lastModified }
func (p *PromoCode) LastUsed() time.Time                      { return p.lastUsed }
func (p *PromoCode) UsageHistory() map[string][]UsageEntry    { return p.usageHistory }

// UsedBy returns the identities that have redeemed this code at least once.
func (p *PromoCode) UsedBy() []string {
	ids := make([]string, 0, len(p.usedBy))
	for id := range p.usedBy {
		ids = append(ids, id)
	}
	return ids
}

// TotalRedemptions counts entries across the whole usage history.
func (p *PromoCode) TotalRedemptions() int {
	total := 0
	for _, entries := range p.usageHistory {
		total += len(entries)
	}
	return total
}
