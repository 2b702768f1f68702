package memory

import (
	"context"
	"fmt"
	"time"

	"libradesk/internal/catalog"
	"libradesk/internal/membership"
	"libradesk/internal/store"
)

type stagedBook struct {
	readVersion int
	book        *catalog.Book
}

type stagedMember struct {
	readVersion int
	member      *membership.Member
}

// tx reads through to the store and buffers writes until commit.
type tx struct {
	store   *Store
	books   map[string]stagedBook
	members map[string]stagedMember
}

func (t *tx) FindBookByISBN(ctx context.Context, isbn string) (*catalog.Book, error) {
	if staged, ok := t.books[isbn]; ok {
		return staged.book.Clone(), nil
	}
	return t.store.FindBookByISBN(ctx, isbn)
}

func (t *tx) SaveBook(_ context.Context, book *catalog.Book) error {
	readVersion := book.Version
	if staged, ok := t.books[book.ISBN]; ok {
		if book.Version != staged.readVersion+1 {
			return fmt.Errorf("%w: book %s staged twice from different versions", store.ErrConcurrencyConflict, book.ISBN)
		}
		readVersion = staged.readVersion
	}
	book.Version = readVersion + 1
	t.books[book.ISBN] = stagedBook{readVersion: readVersion, book: book.Clone()}
	return nil
}

func (t *tx) CountBooksByStatus(_ context.Context, status catalog.BookStatus) (int, error) {
	return len(t.filterBooks(func(b *catalog.Book) bool { return b.Status == status })), nil
}

func (t *tx) FindBooksDueBefore(_ context.Context, date time.Time) ([]*catalog.Book, error) {
	return t.filterBooks(func(b *catalog.Book) bool {
		return b.DueDate != nil && dayKey(*b.DueDate) < dayKey(date)
	}), nil
}

func (t *tx) FindBooksByTitle(_ context.Context, fragment string) ([]*catalog.Book, error) {
	return t.filterBooks(func(b *catalog.Book) bool { return containsFold(b.Title, fragment) }), nil
}

func (t *tx) FindBooksByAuthor(_ context.Context, fragment string) ([]*catalog.Book, error) {
	return t.filterBooks(func(b *catalog.Book) bool { return containsFold(b.Author, fragment) }), nil
}

func (t *tx) FindMemberByEmail(ctx context.Context, email string) (*membership.Member, error) {
	if staged, ok := t.members[email]; ok {
		return staged.member.Clone(), nil
	}
	return t.store.FindMemberByEmail(ctx, email)
}

func (t *tx) SaveMember(_ context.Context, member *membership.Member) error {
	readVersion := member.Version
	if staged, ok := t.members[member.Email]; ok {
		if member.Version != staged.readVersion+1 {
			return fmt.Errorf("%w: member %s staged twice from different versions", store.ErrConcurrencyConflict, member.Email)
		}
		readVersion = staged.readVersion
	}
	member.Version = readVersion + 1
	t.members[member.Email] = stagedMember{readVersion: readVersion, member: member.Clone()}
	return nil
}

func (t *tx) CountMembers(ctx context.Context) (int, error) {
	return t.store.CountMembers(ctx)
}

// filterBooks overlays staged writes on the committed rows.
func (t *tx) filterBooks(keep func(*catalog.Book) bool) []*catalog.Book {
	all := make(map[string]*catalog.Book)

	t.store.mu.RLock()
	for isbn, b := range t.store.books {
		all[isbn] = b
	}
	t.store.mu.RUnlock()

	for isbn, staged := range t.books {
		all[isbn] = staged.book
	}

	out := make([]*catalog.Book, 0)
	for _, b := range all {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	sortBooks(out)
	return out
}
