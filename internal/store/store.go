// Package store defines the persistence contracts for books and members.
// Implementations live in store/memory and store/postgres.
package store

import (
	"context"
	"errors"
	"time"

	"libradesk/internal/catalog"
	"libradesk/internal/membership"
)

var (
	// ErrConcurrencyConflict is returned when a row changed between read and write.
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrDuplicateISBN       = errors.New("book with this isbn already exists")
	ErrDuplicateEmail      = errors.New("member with this email already exists")
)

// Books is the book side of the persistence contract.
type Books interface {
	FindBookByISBN(ctx context.Context, isbn string) (*catalog.Book, error)
	SaveBook(ctx context.Context, book *catalog.Book) error
	CountBooksByStatus(ctx context.Context, status catalog.BookStatus) (int, error)
	// FindBooksDueBefore returns lent books due on a calendar day earlier than date's.
	FindBooksDueBefore(ctx context.Context, date time.Time) ([]*catalog.Book, error)
	FindBooksByTitle(ctx context.Context, fragment string) ([]*catalog.Book, error)
	FindBooksByAuthor(ctx context.Context, fragment string) ([]*catalog.Book, error)
}

// Members is the member side of the persistence contract.
type Members interface {
	FindMemberByEmail(ctx context.Context, email string) (*membership.Member, error)
	SaveMember(ctx context.Context, member *membership.Member) error
	CountMembers(ctx context.Context) (int, error)
}

// Tx is the view of the store available inside a transaction.
type Tx interface {
	Books
	Members
}

// TxFunc runs inside a transaction. Returning an error rolls it back.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the full persistence collaborator.
//
// SaveBook and SaveMember compare the entity's Version with the stored one and
// fail with ErrConcurrencyConflict on mismatch; on success they bump Version.
// Inside WithinTx the check also covers rows changed by concurrent
// transactions before commit.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn TxFunc) error
	AddBook(ctx context.Context, book *catalog.Book) error
	AddMember(ctx context.Context, member *membership.Member) error
}
