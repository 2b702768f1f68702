package circulation

import (
	"fmt"

	"libradesk/internal/membership"
)

// CheckoutPolicy governs checkout eligibility and due dates for one tier.
type CheckoutPolicy struct {
	MaxBooks       int
	LoanPeriodDays int
}

// CanCheckout reports whether a member holding current books may borrow one more.
func (p CheckoutPolicy) CanCheckout(current int) bool {
	return current < p.MaxBooks
}

// ResolvePolicy maps a tier to its checkout policy. There is no default tier.
func ResolvePolicy(tier membership.Tier) (CheckoutPolicy, error) {
	switch tier {
	case membership.TierRegular:
		return CheckoutPolicy{MaxBooks: 3, LoanPeriodDays: 14}, nil
	case membership.TierPremium:
		return CheckoutPolicy{MaxBooks: 10, LoanPeriodDays: 30}, nil
	case membership.TierStudent:
		return CheckoutPolicy{MaxBooks: 5, LoanPeriodDays: 21}, nil
	}
	return CheckoutPolicy{}, fmt.Errorf("%w: %q", membership.ErrUnknownTier, tier)
}

// MaxBooks returns the loan limit for tier.
func MaxBooks(tier membership.Tier) (int, error) {
	p, err := ResolvePolicy(tier)
	if err != nil {
		return 0, err
	}
	return p.MaxBooks, nil
}
