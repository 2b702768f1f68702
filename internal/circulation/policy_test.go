package circulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"libradesk/internal/membership"
)

func TestResolvePolicy(t *testing.T) {
	cases := []struct {
		tier     membership.Tier
		maxBooks int
		loanDays int
	}{
		{membership.TierRegular, 3, 14},
		{membership.TierPremium, 10, 30},
		{membership.TierStudent, 5, 21},
	}
	for _, tc := range cases {
		t.Run(string(tc.tier), func(t *testing.T) {
			p, err := ResolvePolicy(tc.tier)
			require.NoError(t, err)
			assert.Equal(t, tc.maxBooks, p.MaxBooks)
			assert.Equal(t, tc.loanDays, p.LoanPeriodDays)
		})
	}
}

func TestResolvePolicy_CoversEveryTier(t *testing.T) {
	for _, tier := range membership.Tiers() {
		_, err := ResolvePolicy(tier)
		assert.NoError(t, err, "tier %s", tier)
	}
}

func TestResolvePolicy_UnknownTier(t *testing.T) {
	for _, tier := range []membership.Tier{"", "GOLD", "regular"} {
		_, err := ResolvePolicy(tier)
		assert.ErrorIs(t, err, membership.ErrUnknownTier, "tier %q", tier)
	}
}

func TestCheckoutPolicy_CanCheckout(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tier := rapid.SampledFrom(membership.Tiers()).Draw(t, "tier")
		current := rapid.IntRange(0, 20).Draw(t, "current")

		p, err := ResolvePolicy(tier)
		if err != nil {
			t.Fatalf("resolve %s: %v", tier, err)
		}
		if got, want := p.CanCheckout(current), current < p.MaxBooks; got != want {
			t.Fatalf("CanCheckout(%d) for %s = %v, want %v", current, tier, got, want)
		}
	})
}
