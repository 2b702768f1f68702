// Package library composes circulation, catalog, membership and reports
// behind one facade and exposes it over HTTP.
package library

import (
	"context"
	"time"

	"libradesk/internal/catalog"
	"libradesk/internal/circulation"
	"libradesk/internal/membership"
	"libradesk/internal/reports"
)

// Facade is the single entry point used by the HTTP layer and cmd wiring.
type Facade struct {
	circulation circulation.Service
	catalog     catalog.Service
	members     membership.Service
	reports     *reports.Registry
}

// NewFacade wires the services together.
func NewFacade(circ circulation.Service, cat catalog.Service, members membership.Service, reg *reports.Registry) *Facade {
	return &Facade{
		circulation: circ,
		catalog:     cat,
		members:     members,
		reports:     reg,
	}
}

func (f *Facade) Checkout(ctx context.Context, isbn, memberEmail string) (*circulation.CheckoutResult, error) {
	return f.circulation.Checkout(ctx, isbn, memberEmail)
}

func (f *Facade) ReturnBook(ctx context.Context, isbn string) (*circulation.ReturnResult, error) {
	return f.circulation.ReturnBook(ctx, isbn)
}

func (f *Facade) Search(ctx context.Context, term, kind string) ([]*catalog.Book, error) {
	return f.catalog.Search(ctx, term, kind)
}

func (f *Facade) SearchByTitle(ctx context.Context, title string) ([]*catalog.Book, error) {
	return f.catalog.Search(ctx, title, catalog.SearchByTitle)
}

func (f *Facade) SearchByAuthor(ctx context.Context, author string) ([]*catalog.Book, error) {
	return f.catalog.Search(ctx, author, catalog.SearchByAuthor)
}

func (f *Facade) GenerateReport(ctx context.Context, reportType string) (string, error) {
	return f.reports.Generate(ctx, reportType)
}

// ReportTypes lists the report types GenerateReport accepts.
func (f *Facade) ReportTypes() []string {
	return f.reports.Types()
}

func (f *Facade) AddBook(ctx context.Context, isbn, title, author string, published time.Time) (*catalog.Book, error) {
	return f.catalog.AddBook(ctx, isbn, title, author, published)
}

func (f *Facade) GetBook(ctx context.Context, isbn string) (*catalog.Book, error) {
	return f.catalog.GetBook(ctx, isbn)
}

func (f *Facade) RegisterMember(ctx context.Context, email, name string, tier membership.Tier) (*membership.Member, error) {
	return f.members.RegisterMember(ctx, email, name, tier)
}

func (f *Facade) GetMember(ctx context.Context, email string) (*membership.Member, error) {
	return f.members.GetMember(ctx, email)
}

func (f *Facade) UpdateMemberTier(ctx context.Context, email string, tier membership.Tier) (*membership.Member, error) {
	return f.members.UpdateMemberTier(ctx, email, tier)
}
