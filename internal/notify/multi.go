package notify

import (
	"context"
	"errors"

	"libradesk/internal/circulation"
)

// Multi fans a notice out to every notifier and joins their errors.
type Multi []circulation.Notifier

func (m Multi) NotifyCheckout(ctx context.Context, notice circulation.CheckoutNotice) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyCheckout(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyReturn(ctx context.Context, notice circulation.ReturnNotice) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyReturn(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
