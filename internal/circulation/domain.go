// internal/circulation/domain.go
package circulation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"libradesk/internal/catalog"
	"libradesk/internal/membership"
)

// ErrConcurrentModification is returned when a checkout or return kept
// colliding with another update of the same book or member.
var ErrConcurrentModification = errors.New("concurrent modification: book or member changed during update")

// Outcome is the business result of a checkout or return.
type Outcome string

const (
	OutcomeCheckedOut           Outcome = "CHECKED_OUT"
	OutcomeReturned             Outcome = "RETURNED"
	OutcomeBookUnavailable      Outcome = "BOOK_UNAVAILABLE"
	OutcomeCheckoutLimitReached Outcome = "CHECKOUT_LIMIT_REACHED"
	OutcomeNotCheckedOut        Outcome = "NOT_CHECKED_OUT"
)

// Succeeded reports whether the outcome changed state.
func (o Outcome) Succeeded() bool {
	return o == OutcomeCheckedOut || o == OutcomeReturned
}

const (
	msgBookUnavailable = "Book is not available"
	msgLimitReached    = "Member has reached checkout limit"
	msgNotCheckedOut   = "Book is not checked out"
	msgReturned        = "Book returned successfully"

	dateLayout = "2006-01-02"
)

// CheckoutResult is returned by Checkout.
type CheckoutResult struct {
	Outcome Outcome    `json:"outcome"`
	Message string     `json:"message"`
	DueDate *time.Time `json:"due_date,omitempty"`
}

// ReturnResult is returned by ReturnBook. LateFee is set only when a fee is due.
type ReturnResult struct {
	Outcome  Outcome          `json:"outcome"`
	Message  string           `json:"message"`
	LateFee  *decimal.Decimal `json:"late_fee,omitempty"`
	DaysLate int              `json:"days_late,omitempty"`
}

// CheckoutNotice is emitted after a checkout commits.
type CheckoutNotice struct {
	Member  membership.Member
	Book    catalog.Book
	DueDate time.Time
}

// ReturnNotice is emitted after a return commits.
type ReturnNotice struct {
	Member  membership.Member
	Book    catalog.Book
	LateFee decimal.Decimal
}

// BookCheckedOutEvent is the serialized form of a checkout notice.
type BookCheckedOutEvent struct {
	BookID      string    `json:"book_id"`
	ISBN        string    `json:"isbn"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	MemberEmail string    `json:"member_email"`
	MemberName  string    `json:"member_name"`
	DueDate     time.Time `json:"due_date"`
}

// BookReturnedEvent is the serialized form of a return notice.
type BookReturnedEvent struct {
	BookID      string          `json:"book_id"`
	ISBN        string          `json:"isbn"`
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	MemberEmail string          `json:"member_email"`
	MemberName  string          `json:"member_name"`
	LateFee     decimal.Decimal `json:"late_fee"`
}

const (
	EventBookCheckedOut = "BookCheckedOut"
	EventBookReturned   = "BookReturned"
)

// Event converts the notice into its wire form.
func (n CheckoutNotice) Event() BookCheckedOutEvent {
	return BookCheckedOutEvent{
		BookID:      n.Book.ID.String(),
		ISBN:        n.Book.ISBN,
		Title:       n.Book.Title,
		Author:      n.Book.Author,
		MemberEmail: n.Member.Email,
		MemberName:  n.Member.Name,
		DueDate:     n.DueDate,
	}
}

// Event converts the notice into its wire form.
func (n ReturnNotice) Event() BookReturnedEvent {
	return BookReturnedEvent{
		BookID:      n.Book.ID.String(),
		ISBN:        n.Book.ISBN,
		Title:       n.Book.Title,
		Author:      n.Book.Author,
		MemberEmail: n.Member.Email,
		MemberName:  n.Member.Name,
		LateFee:     n.LateFee,
	}
}
