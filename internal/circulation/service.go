// internal/circulation/service.go
package circulation

import (
	"context"
)

// Service defines the interface for the circulation service.
type Service interface {
	Checkout(ctx context.Context, isbn, memberEmail string) (*CheckoutResult, error)
	ReturnBook(ctx context.Context, isbn string) (*ReturnResult, error)
}

// Notifier delivers checkout and return notices. Delivery is best effort:
// errors are logged by the caller and never undo the state change.
type Notifier interface {
	NotifyCheckout(ctx context.Context, notice CheckoutNotice) error
	NotifyReturn(ctx context.Context, notice ReturnNotice) error
}
