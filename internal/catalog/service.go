// internal/catalog/service.go
package catalog

import (
	"context"
	"time"
)

// Search kinds accepted by Service.Search. Matching is case-insensitive.
const (
	SearchByTitle  = "title"
	SearchByAuthor = "author"
	SearchByISBN   = "isbn"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, isbn, title, author string, published time.Time) (*Book, error)
	GetBook(ctx context.Context, isbn string) (*Book, error)
	Search(ctx context.Context, term, kind string) ([]*Book, error)
}

// Repository is the subset of the book store the catalog needs.
type Repository interface {
	AddBook(ctx context.Context, book *Book) error
	FindBookByISBN(ctx context.Context, isbn string) (*Book, error)
	FindBooksByTitle(ctx context.Context, fragment string) ([]*Book, error)
	FindBooksByAuthor(ctx context.Context, fragment string) ([]*Book, error)
}
