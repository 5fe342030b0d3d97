package promocode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func newTestCode(t *testing.T, uses, maxPerUser int, expiry time.Time) *PromoCode {
	t.Helper()
	p, err := New("SAVE20", uses, expiry, RewardSpec{}, maxPerUser, "", false, "admin", testNow)
	require.NoError(t, err)
	return p
}

func TestNewNormalizesAndValidates(t *testing.T) {
	p, err := New("  save_20 ", 5, time.Time{}, RewardSpec{}, 1, "desc", false, "admin", testNow)
	require.NoError(t, err)
	assert.Equal(t, "SAVE_20", p.Code())

	// Default expiry: end of today plus 30 days.
	wantExpiry := time.Date(2025, time.June, 1, 23, 59, 59, 0, time.UTC).AddDate(0, 0, 30)
	assert.Equal(t, wantExpiry, p.Expiry())

	_, err = New("", 5, time.Time{}, RewardSpec{}, 1, "", false, "", testNow)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = New("BAD CODE!", 5, time.Time{}, RewardSpec{}, 1, "", false, "", testNow)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = New("OK", 0, time.Time{}, RewardSpec{}, 1, "", false, "", testNow)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewCoercesMaxUsesPerUser(t *testing.T) {
	p, err := New("X", 5, time.Time{}, RewardSpec{}, 0, "", false, "", testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, p.MaxUsesPerUser())
}

func TestEligibility(t *testing.T) {
	future := testNow.AddDate(0, 1, 0)
	past := testNow.AddDate(0, 0, -1)

	t.Run("ok", func(t *testing.T) {
		p := newTestCode(t, 2, 1, future)
		assert.Equal(t, ReasonOK, p.Eligibility("user1", testNow))
	})

	t.Run("expired", func(t *testing.T) {
		p := newTestCode(t, 2, 1, past)
		assert.Equal(t, ReasonExpired, p.Eligibility("user1", testNow))
	})

	t.Run("depleted", func(t *testing.T) {
		p := newTestCode(t, 1, 5, future)
		require.Equal(t, ReasonOK, p.RecordUse("user1", "", testNow))
		assert.Equal(t, ReasonDepleted, p.Eligibility("user2", testNow))
	})

	t.Run("hidden requires identity", func(t *testing.T) {
		p, err := New("SECRET", 5, future, RewardSpec{}, 1, "", true, "", testNow)
		require.NoError(t, err)
		assert.Equal(t, ReasonHiddenRequiresIdentity, p.Eligibility("", testNow))
		assert.Equal(t, ReasonOK, p.Eligibility("user1", testNow))
	})

	t.Run("user limit reached", func(t *testing.T) {
		p := newTestCode(t, 5, 1, future)
		require.Equal(t, ReasonOK, p.RecordUse("user1", "alice", testNow))
		assert.Equal(t, ReasonUserLimitReached, p.Eligibility("user1", testNow))
		assert.Equal(t, ReasonOK, p.Eligibility("user2", testNow))
	})
}

func TestRecordUseMutations(t *testing.T) {
	p := newTestCode(t, 2, 2, testNow.AddDate(0, 1, 0))

	require.Equal(t, ReasonOK, p.RecordUse("user1", "alice", testNow))
	assert.Equal(t, 1, p.UsesLeft())
	assert.Equal(t, []string{"user1"}, p.UsedBy())
	assert.Equal(t, 1, p.UsageCount("user1"))
	assert.Equal(t, testNow, p.LastUsed())

	require.Equal(t, ReasonOK, p.RecordUse("user1", "alice", testNow.Add(time.Minute)))
	assert.Equal(t, 2, p.UsageCount("user1"))
	assert.Equal(t, ReasonDepleted, p.RecordUse("user2", "", testNow))
	assert.Equal(t, 0, p.UsesLeft())
}

func TestUsageCountFallsBackToUsedBy(t *testing.T) {
	// Legacy files carry used_by membership without per-use history.
	p := Reconstruct("OLD", testNow.AddDate(0, 1, 0), 5, 2, RewardSpec{},
		map[string]struct{}{"user1": {}}, nil,
		time.Time{}, "", "", false, time.Time{}, time.Time{})

	assert.Equal(t, 1, p.UsageCount("user1"))
	assert.Equal(t, 0, p.UsageCount("user2"))

	// History, once present, is authoritative over used_by.
	require.Equal(t, ReasonOK, p.RecordUse("user1", "", testNow))
	assert.Equal(t, 2, p.UsageCount("user1"))
}

func TestAddUsesClampsAtZero(t *testing.T) {
	p := newTestCode(t, 3, 1, testNow.AddDate(0, 1, 0))
	assert.Equal(t, 5, p.AddUses(2, testNow))
	assert.Equal(t, 0, p.AddUses(-100, testNow))
	assert.Equal(t, testNow, p.LastModified())
}

func TestCloneIsIndependent(t *testing.T) {
	p := newTestCode(t, 2, 2, testNow.AddDate(0, 1, 0))
	require.Equal(t, ReasonOK, p.RecordUse("user1", "alice", testNow))

	snapshot := p.Clone()
	require.Equal(t, ReasonOK, p.RecordUse("user1", "alice", testNow))
	require.Equal(t, 0, p.UsesLeft())

	assert.Equal(t, 1, snapshot.UsesLeft())
	assert.Equal(t, 1, snapshot.UsageCount("user1"))
	assert.Equal(t, 2, p.UsageCount("user1"))
}

func TestNewSeed(t *testing.T) {
	p := NewSeed("welcometonationdex")
	assert.Equal(t, "WELCOMETONATIONDEX", p.Code())
	assert.Equal(t, SeedUses, p.UsesLeft())
	assert.Equal(t, 1, p.MaxUsesPerUser())
	assert.Equal(t, DefaultExpiry, p.Expiry())
	assert.Nil(t, p.Rewards().SpecificBallID)
	assert.Nil(t, p.Rewards().SpecialID)
}
