package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"libradesk/internal/catalog"
)

const (
	TypeOverdue   = "overdue"
	TypeAvailable = "available"
	TypeMembers   = "members"

	overdueHeader = "OVERDUE BOOKS REPORT\n====================\n"
)

// OverdueSource finds loans whose due date has passed.
type OverdueSource interface {
	FindBooksDueBefore(ctx context.Context, date time.Time) ([]*catalog.Book, error)
}

// StatusCounter counts books in a given circulation state.
type StatusCounter interface {
	CountBooksByStatus(ctx context.Context, status catalog.BookStatus) (int, error)
}

// MemberCounter counts registered members.
type MemberCounter interface {
	CountMembers(ctx context.Context) (int, error)
}

// Overdue lists every book due strictly before now.
type Overdue struct {
	Books OverdueSource
	Now   func() time.Time
}

func (Overdue) Type() string { return TypeOverdue }

func (g Overdue) Generate(ctx context.Context) (string, error) {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	books, err := g.Books.FindBooksDueBefore(ctx, now())
	if err != nil {
		return "", fmt.Errorf("find overdue books: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(overdueHeader)
	for _, b := range books {
		due := ""
		if b.DueDate != nil {
			due = b.DueDate.Format("2006-01-02")
		}
		fmt.Fprintf(&sb, "%s by %s - Due: %s - Checked out by: %s\n", b.Title, b.Author, due, b.Holder())
	}
	return sb.String(), nil
}

// Available counts books that can be lent right now.
type Available struct {
	Books StatusCounter
}

func (Available) Type() string { return TypeAvailable }

func (g Available) Generate(ctx context.Context) (string, error) {
	n, err := g.Books.CountBooksByStatus(ctx, catalog.StatusAvailable)
	if err != nil {
		return "", fmt.Errorf("count available books: %w", err)
	}
	return fmt.Sprintf("Available books: %d", n), nil
}

// Members counts registered members.
type Members struct {
	Members MemberCounter
}

func (Members) Type() string { return TypeMembers }

func (g Members) Generate(ctx context.Context) (string, error) {
	n, err := g.Members.CountMembers(ctx)
	if err != nil {
		return "", fmt.Errorf("count members: %w", err)
	}
	return fmt.Sprintf("Total members: %d", n), nil
}

// Store is satisfied by any store that backs all built-in reports.
type Store interface {
	OverdueSource
	StatusCounter
	MemberCounter
}

// NewDefaultRegistry registers the overdue, available and members reports.
func NewDefaultRegistry(st Store, now func() time.Time) (*Registry, error) {
	return NewRegistry(
		Overdue{Books: st, Now: now},
		Available{Books: st},
		Members{Members: st},
	)
}
