package circulation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"libradesk/internal/membership"
)

// LateFeeRule converts whole days late into a fee. Days <= 0 always cost nothing.
type LateFeeRule func(daysLate int) decimal.Decimal

var (
	regularDailyRate = decimal.RequireFromString("0.50")
	studentDailyRate = decimal.RequireFromString("0.25")
)

// ResolveLateFee maps a tier to its late-fee rule. There is no default tier.
func ResolveLateFee(tier membership.Tier) (LateFeeRule, error) {
	switch tier {
	case membership.TierRegular:
		return perDay(regularDailyRate), nil
	case membership.TierPremium:
		return waived, nil
	case membership.TierStudent:
		return perDay(studentDailyRate), nil
	}
	return nil, fmt.Errorf("%w: %q", membership.ErrUnknownTier, tier)
}

func perDay(rate decimal.Decimal) LateFeeRule {
	return func(daysLate int) decimal.Decimal {
		if daysLate <= 0 {
			return decimal.Zero
		}
		return rate.Mul(decimal.NewFromInt(int64(daysLate)))
	}
}

func waived(int) decimal.Decimal {
	return decimal.Zero
}
