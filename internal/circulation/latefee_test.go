package circulation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"libradesk/internal/membership"
)

func TestResolveLateFee(t *testing.T) {
	cases := []struct {
		tier     membership.Tier
		daysLate int
		want     string
	}{
		{membership.TierRegular, 5, "2.50"},
		{membership.TierRegular, 1, "0.50"},
		{membership.TierStudent, 4, "1.00"},
		{membership.TierStudent, 3, "0.75"},
		{membership.TierPremium, 100, "0.00"},
		{membership.TierRegular, 0, "0.00"},
		{membership.TierRegular, -3, "0.00"},
	}
	for _, tc := range cases {
		rule, err := ResolveLateFee(tc.tier)
		require.NoError(t, err)
		assert.Equal(t, tc.want, rule(tc.daysLate).StringFixed(2), "%s, %d days", tc.tier, tc.daysLate)
	}
}

func TestResolveLateFee_UnknownTier(t *testing.T) {
	rule, err := ResolveLateFee("GOLD")
	assert.ErrorIs(t, err, membership.ErrUnknownTier)
	assert.Nil(t, rule)
}

func TestLateFeeRules_Properties(t *testing.T) {
	rates := map[membership.Tier]decimal.Decimal{
		membership.TierRegular: decimal.RequireFromString("0.50"),
		membership.TierPremium: decimal.Zero,
		membership.TierStudent: decimal.RequireFromString("0.25"),
	}

	rapid.Check(t, func(t *rapid.T) {
		tier := rapid.SampledFrom(membership.Tiers()).Draw(t, "tier")
		days := rapid.IntRange(-365, 3650).Draw(t, "days")

		rule, err := ResolveLateFee(tier)
		if err != nil {
			t.Fatalf("resolve %s: %v", tier, err)
		}
		fee := rule(days)

		if fee.IsNegative() {
			t.Fatalf("negative fee %s for %s, %d days", fee, tier, days)
		}
		if days <= 0 && !fee.IsZero() {
			t.Fatalf("fee %s for %d days, want 0", fee, days)
		}
		if days > 0 {
			want := rates[tier].Mul(decimal.NewFromInt(int64(days)))
			if !fee.Equal(want) {
				t.Fatalf("fee %s for %s, %d days, want %s", fee, tier, days, want)
			}
		}
	})
}

func TestDaysBetween(t *testing.T) {
	due := date(2024, 1, 10)
	assert.Equal(t, 0, DaysBetween(due, date(2024, 1, 10)))
	assert.Equal(t, 0, DaysBetween(due, date(2024, 1, 5)))
	assert.Equal(t, 5, DaysBetween(due, date(2024, 1, 15)))
	assert.Equal(t, 5, DaysBetween(due, date(2024, 1, 15).Add(23*time.Hour)))
	assert.Equal(t, 22, DaysBetween(due, date(2024, 2, 1)))
}
