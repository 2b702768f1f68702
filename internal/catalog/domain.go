// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBookNotFound      = errors.New("book not found")
	ErrInvalidSearchKind = errors.New("invalid search type")
)

// BookStatus is the circulation state of a single physical copy.
type BookStatus string

const (
	StatusAvailable  BookStatus = "AVAILABLE"
	StatusCheckedOut BookStatus = "CHECKED_OUT"
)

// Book represents a physical book held by the library.
type Book struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	ISBN            string     `json:"isbn" db:"isbn"`
	Title           string     `json:"title" db:"title"`
	Author          string     `json:"author" db:"author"`
	PublicationDate time.Time  `json:"publication_date" db:"publication_date"`
	Status          BookStatus `json:"status" db:"status"`
	CheckedOutBy    *string    `json:"checked_out_by,omitempty" db:"checked_out_by"`
	DueDate         *time.Time `json:"due_date,omitempty" db:"due_date"`
	Version         int        `json:"version" db:"version"`
}

// IsAvailable reports whether the copy can be lent.
func (b *Book) IsAvailable() bool {
	return b.Status == StatusAvailable
}

// CheckOut marks the copy as lent to memberEmail until dueDate.
func (b *Book) CheckOut(memberEmail string, dueDate time.Time) {
	holder := memberEmail
	due := dueDate
	b.Status = StatusCheckedOut
	b.CheckedOutBy = &holder
	b.DueDate = &due
}

// Release clears the loan and makes the copy available again.
func (b *Book) Release() {
	b.Status = StatusAvailable
	b.CheckedOutBy = nil
	b.DueDate = nil
}

// Holder returns the email of the member holding the copy, or "".
func (b *Book) Holder() string {
	if b.CheckedOutBy == nil {
		return ""
	}
	return *b.CheckedOutBy
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (b *Book) Clone() *Book {
	c := *b
	if b.CheckedOutBy != nil {
		holder := *b.CheckedOutBy
		c.CheckedOutBy = &holder
	}
	if b.DueDate != nil {
		due := *b.DueDate
		c.DueDate = &due
	}
	return &c
}
