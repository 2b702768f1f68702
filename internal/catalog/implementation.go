// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// service implements the Service interface.
type service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new catalog service instance.
func NewService(repo Repository, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		repo:   repo,
		logger: logger.Named("catalog"),
	}
}

// AddBook enters a new copy into the catalog as available.
func (s *service) AddBook(ctx context.Context, isbn, title, author string, published time.Time) (*Book, error) {
	book := &Book{
		ID:              uuid.New(),
		ISBN:            isbn,
		Title:           title,
		Author:          author,
		PublicationDate: published,
		Status:          StatusAvailable,
	}
	if err := s.repo.AddBook(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to add book: %w", err)
	}
	s.logger.Info("book added", zap.String("isbn", isbn), zap.String("title", title))
	return book, nil
}

// GetBook retrieves a book by its ISBN.
func (s *service) GetBook(ctx context.Context, isbn string) (*Book, error) {
	return s.repo.FindBookByISBN(ctx, isbn)
}

// Search dispatches term to the lookup named by kind.
// An ISBN search yields at most one book and never fails with ErrBookNotFound.
func (s *service) Search(ctx context.Context, term, kind string) ([]*Book, error) {
	switch strings.ToLower(kind) {
	case SearchByTitle:
		return s.repo.FindBooksByTitle(ctx, term)
	case SearchByAuthor:
		return s.repo.FindBooksByAuthor(ctx, term)
	case SearchByISBN:
		book, err := s.repo.FindBookByISBN(ctx, term)
		if errors.Is(err, ErrBookNotFound) {
			return []*Book{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []*Book{book}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidSearchKind, kind)
}
