// Package memory provides an in-process Store used for development and tests.
// Transactions stage their writes and validate row versions on commit, so two
// transactions that read the same row cannot both write it.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"libradesk/internal/catalog"
	"libradesk/internal/membership"
	"libradesk/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps books by ISBN and members by email.
type Store struct {
	mu      sync.RWMutex
	books   map[string]*catalog.Book
	members map[string]*membership.Member
}

// New creates an empty store.
func New() *Store {
	return &Store{
		books:   make(map[string]*catalog.Book),
		members: make(map[string]*membership.Member),
	}
}

// AddBook inserts a new book. A zero ID is replaced with a fresh one.
func (s *Store) AddBook(_ context.Context, book *catalog.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.books[book.ISBN]; exists {
		return fmt.Errorf("%w: isbn=%s", store.ErrDuplicateISBN, book.ISBN)
	}
	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	if book.Status == "" {
		book.Status = catalog.StatusAvailable
	}
	book.Version = 0
	s.books[book.ISBN] = book.Clone()
	return nil
}

// AddMember inserts a new member. A zero ID is replaced with a fresh one.
func (s *Store) AddMember(_ context.Context, member *membership.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[member.Email]; exists {
		return fmt.Errorf("%w: email=%s", store.ErrDuplicateEmail, member.Email)
	}
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	if member.Status == "" {
		member.Status = membership.StatusActive
	}
	member.Version = 0
	s.members[member.Email] = member.Clone()
	return nil
}

func (s *Store) FindBookByISBN(_ context.Context, isbn string) (*catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[isbn]
	if !ok {
		return nil, fmt.Errorf("%w: isbn=%s", catalog.ErrBookNotFound, isbn)
	}
	return b.Clone(), nil
}

func (s *Store) SaveBook(_ context.Context, book *catalog.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBookVersion(book.ISBN, book.Version); err != nil {
		return err
	}
	s.applyBook(book)
	return nil
}

func (s *Store) CountBooksByStatus(_ context.Context, status catalog.BookStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, b := range s.books {
		if b.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) FindBooksDueBefore(_ context.Context, date time.Time) ([]*catalog.Book, error) {
	return s.filterBooks(func(b *catalog.Book) bool {
		return b.DueDate != nil && dayKey(*b.DueDate) < dayKey(date)
	}), nil
}

func (s *Store) FindBooksByTitle(_ context.Context, fragment string) ([]*catalog.Book, error) {
	return s.filterBooks(func(b *catalog.Book) bool {
		return containsFold(b.Title, fragment)
	}), nil
}

func (s *Store) FindBooksByAuthor(_ context.Context, fragment string) ([]*catalog.Book, error) {
	return s.filterBooks(func(b *catalog.Book) bool {
		return containsFold(b.Author, fragment)
	}), nil
}

func (s *Store) FindMemberByEmail(_ context.Context, email string) (*membership.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[email]
	if !ok {
		return nil, fmt.Errorf("%w: email=%s", membership.ErrMemberNotFound, email)
	}
	return m.Clone(), nil
}

func (s *Store) SaveMember(_ context.Context, member *membership.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMemberVersion(member.Email, member.Version); err != nil {
		return err
	}
	s.applyMember(member)
	return nil
}

func (s *Store) CountMembers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members), nil
}

// WithinTx runs fn against a staging view and commits its writes atomically.
func (s *Store) WithinTx(ctx context.Context, fn store.TxFunc) error {
	t := &tx{
		store:   s,
		books:   make(map[string]stagedBook),
		members: make(map[string]stagedMember),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for isbn, staged := range t.books {
		if err := s.checkBookVersion(isbn, staged.readVersion); err != nil {
			return err
		}
	}
	for email, staged := range t.members {
		if err := s.checkMemberVersion(email, staged.readVersion); err != nil {
			return err
		}
	}

	for _, staged := range t.books {
		b := staged.book.Clone()
		b.Version = staged.readVersion
		s.applyBook(b)
	}
	for _, staged := range t.members {
		m := staged.member.Clone()
		m.Version = staged.readVersion
		s.applyMember(m)
	}
	return nil
}

// checkBookVersion must be called with mu held.
func (s *Store) checkBookVersion(isbn string, version int) error {
	cur, ok := s.books[isbn]
	if !ok {
		return fmt.Errorf("%w: isbn=%s", catalog.ErrBookNotFound, isbn)
	}
	if cur.Version != version {
		return fmt.Errorf("%w: book %s expected version %d, got %d", store.ErrConcurrencyConflict, isbn, version, cur.Version)
	}
	return nil
}

// checkMemberVersion must be called with mu held.
func (s *Store) checkMemberVersion(email string, version int) error {
	cur, ok := s.members[email]
	if !ok {
		return fmt.Errorf("%w: email=%s", membership.ErrMemberNotFound, email)
	}
	if cur.Version != version {
		return fmt.Errorf("%w: member %s expected version %d, got %d", store.ErrConcurrencyConflict, email, version, cur.Version)
	}
	return nil
}

// applyBook stores a copy with the next version and reports it back to the caller.
func (s *Store) applyBook(book *catalog.Book) {
	stored := book.Clone()
	stored.Version = book.Version + 1
	s.books[book.ISBN] = stored
	book.Version = stored.Version
}

func (s *Store) applyMember(member *membership.Member) {
	stored := member.Clone()
	stored.Version = member.Version + 1
	s.members[member.Email] = stored
	member.Version = stored.Version
}

func (s *Store) filterBooks(keep func(*catalog.Book) bool) []*catalog.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*catalog.Book, 0)
	for _, b := range s.books {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	sortBooks(out)
	return out
}

func sortBooks(books []*catalog.Book) {
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ISBN < books[j].ISBN
	})
}

func containsFold(s, fragment string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(fragment))
}

// dayKey orders times by their civil date in their own location.
func dayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
