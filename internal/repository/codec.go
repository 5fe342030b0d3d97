package repository

import (
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nationdex/promostore/internal/domain/promocode"
)

// promoRecord is the on-disk representation of a single code. The key set and
// naming are fixed: files written by earlier store versions must keep loading,
// and files written here must keep loading there.
type promoRecord struct {
	Expiry         string                   `json:"expiry"`
	UsesLeft       int                      `json:"uses_left"`
	MaxUsesPerUser int                      `json:"max_uses_per_user"`
	Rewards        rewardRecord             `json:"rewards"`
	UsedBy         []string                 `json:"used_by"`
	UsageHistory   map[string][]usageRecord `json:"usage_history,omitempty"`
	CreatedAt      string                   `json:"created_at,omitempty"`
	CreatedBy      string                   `json:"created_by,omitempty"`
	Description    string                   `json:"description,omitempty"`
	IsHidden       bool                     `json:"is_hidden,omitempty"`
	LastModified   string                   `json:"last_modified,omitempty"`
	LastUsed       string                   `json:"last_used,omitempty"`
}

type rewardRecord struct {
	SpecificBall *int64 `json:"specific_ball"`
	Special      *int64 `json:"special"`
}

type usageRecord struct {
	Timestamp string `json:"timestamp"`
	Username  string `json:"username,omitempty"`
}

// archiveRecord is a promoRecord plus deletion metadata. Manual deletions
// carry no reason, matching the historical archive files.
type archiveRecord struct {
	promoRecord
	DeletedAt      string `json:"deleted_at"`
	DeletionReason string `json:"deletion_reason,omitempty"`
}

// timestampLayouts covers RFC 3339 plus the timezone-less form older files
// contain for naive datetimes.
var timestampLayouts = []string{time.RFC3339, "2006-01-02T15:04:05"}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func encodeRecord(p *promocode.PromoCode) promoRecord {
	usedBy := p.UsedBy()
	sort.Strings(usedBy)

	rec := promoRecord{
		Expiry:         formatTimestamp(p.Expiry()),
		UsesLeft:       p.UsesLeft(),
		MaxUsesPerUser: p.MaxUsesPerUser(),
		Rewards: rewardRecord{
			SpecificBall: p.Rewards().SpecificBallID,
			Special:      p.Rewards().SpecialID,
		},
		UsedBy:      usedBy,
		Description: p.Description(),
		IsHidden:    p.Hidden(),
		CreatedBy:   p.CreatedBy(),
	}
	if history := p.UsageHistory(); len(history) > 0 {
		rec.UsageHistory = make(map[string][]usageRecord, len(history))
		for identity, entries := range history {
			out := make([]usageRecord, len(entries))
			for i, e := range entries {
				out[i] = usageRecord{Timestamp: formatTimestamp(e.Timestamp), Username: e.Username}
			}
			rec.UsageHistory[identity] = out
		}
	}
	if !p.CreatedAt().IsZero() {
		rec.CreatedAt = formatTimestamp(p.CreatedAt())
	}
	if !p.LastModified().IsZero() {
		rec.LastModified = formatTimestamp(p.LastModified())
	}
	if !p.LastUsed().IsZero() {
		rec.LastUsed = formatTimestamp(p.LastUsed())
	}
	return rec
}

// decodeRecord reconstructs a code from its raw JSON entry, field by field.
// Malformed fields fall back to documented defaults with a logged
// substitution; only records missing the required fields entirely (expiry,
// uses_left, rewards) or not shaped like an object are rejected.
func decodeRecord(code string, raw json.RawMessage, logger *zap.Logger) (*promocode.PromoCode, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		logger.Warn("skipping promocode with non-object entry", zap.String("code", code))
		return nil, false
	}
	for _, required := range []string{"expiry", "uses_left", "rewards"} {
		if _, ok := fields[required]; !ok {
			logger.Warn("skipping promocode missing required field",
				zap.String("code", code), zap.String("field", required))
			return nil, false
		}
	}

	expiry := decodeTime(fields["expiry"], promocode.DefaultExpiry, code, "expiry", logger)

	var usesLeft int
	if err := json.Unmarshal(fields["uses_left"], &usesLeft); err != nil {
		logger.Warn("invalid uses_left, setting to 0", zap.String("code", code))
		usesLeft = 0
	}

	maxUsesPerUser := 1
	if raw, ok := fields["max_uses_per_user"]; ok {
		if err := json.Unmarshal(raw, &maxUsesPerUser); err != nil || maxUsesPerUser < 1 {
			logger.Warn("invalid max_uses_per_user, defaulting to 1", zap.String("code", code))
			maxUsesPerUser = 1
		}
	}

	var rewards promocode.RewardSpec
	var rr rewardRecord
	if err := json.Unmarshal(fields["rewards"], &rr); err != nil {
		logger.Warn("invalid rewards, defaulting to random ball with no special",
			zap.String("code", code))
	} else {
		rewards = promocode.RewardSpec{SpecificBallID: rr.SpecificBall, SpecialID: rr.Special}
	}

	usedBy := decodeUsedBy(fields["used_by"], code, logger)
	history := decodeHistory(fields["usage_history"], code, logger)

	var createdAt, lastModified, lastUsed time.Time
	if raw, ok := fields["created_at"]; ok {
		createdAt = decodeTime(raw, time.Time{}, code, "created_at", logger)
	}
	if raw, ok := fields["last_modified"]; ok {
		lastModified = decodeTime(raw, time.Time{}, code, "last_modified", logger)
	}
	if raw, ok := fields["last_used"]; ok {
		lastUsed = decodeTime(raw, time.Time{}, code, "last_used", logger)
	}

	var createdBy, description string
	var hidden bool
	if raw, ok := fields["created_by"]; ok {
		_ = json.Unmarshal(raw, &createdBy)
	}
	if raw, ok := fields["description"]; ok {
		_ = json.Unmarshal(raw, &description)
	}
	if raw, ok := fields["is_hidden"]; ok {
		_ = json.Unmarshal(raw, &hidden)
	}

	return promocode.Reconstruct(code, expiry, usesLeft, maxUsesPerUser, rewards,
		usedBy, history, createdAt, createdBy, description, hidden, lastModified, lastUsed), true
}

func decodeTime(raw json.RawMessage, fallback time.Time, code, field string, logger *zap.Logger) time.Time {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, ok := parseTimestamp(s); ok {
			return t
		}
	}
	logger.Warn("invalid timestamp, using default",
		zap.String("code", code), zap.String("field", field))
	return fallback
}

// decodeUsedBy accepts both string and numeric identities; files written
// before identities were stored as strings contain raw integer user IDs.
func decodeUsedBy(raw json.RawMessage, code string, logger *zap.Logger) map[string]struct{} {
	out := make(map[string]struct{})
	if raw == nil {
		return out
	}
	var values []json.Number
	if err := json.Unmarshal(raw, &values); err == nil {
		for _, v := range values {
			out[v.String()] = struct{}{}
		}
		return out
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err == nil {
		for _, s := range strs {
			out[s] = struct{}{}
		}
		return out
	}
	logger.Warn("invalid used_by, using empty set", zap.String("code", code))
	return out
}

// decodeHistory tolerates the legacy single-entry-per-identity shape and
// skips individual entries with unparsable timestamps rather than aborting
// the whole record.
func decodeHistory(raw json.RawMessage, code string, logger *zap.Logger) map[string][]promocode.UsageEntry {
	out := make(map[string][]promocode.UsageEntry)
	if raw == nil {
		return out
	}
	var perIdentity map[string]json.RawMessage
	if err := json.Unmarshal(raw, &perIdentity); err != nil {
		logger.Warn("invalid usage_history, dropping", zap.String("code", code))
		return out
	}
	for identity, rawEntries := range perIdentity {
		var records []usageRecord
		if err := json.Unmarshal(rawEntries, &records); err != nil {
			// Legacy format: a single entry object instead of a list.
			var single usageRecord
			if err := json.Unmarshal(rawEntries, &single); err != nil {
				logger.Warn("invalid usage_history entry, dropping",
					zap.String("code", code), zap.String("identity", identity))
				continue
			}
			records = []usageRecord{single}
		}
		entries := make([]promocode.UsageEntry, 0, len(records))
		for _, r := range records {
			t, ok := parseTimestamp(r.Timestamp)
			if !ok {
				logger.Warn("unparsable usage timestamp, skipping entry",
					zap.String("code", code), zap.String("identity", identity))
				continue
			}
			entries = append(entries, promocode.UsageEntry{Timestamp: t, Username: r.Username})
		}
		if len(entries) > 0 {
			out[identity] = entries
		}
	}
	return out
}
