// internal/membership/service.go
package membership

import (
	"context"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterMember(ctx context.Context, email, name string, tier Tier) (*Member, error)
	GetMember(ctx context.Context, email string) (*Member, error)
	UpdateMemberTier(ctx context.Context, email string, tier Tier) (*Member, error)
}

// Repository is the subset of the member store the membership service needs.
type Repository interface {
	AddMember(ctx context.Context, member *Member) error
	FindMemberByEmail(ctx context.Context, email string) (*Member, error)
	SaveMember(ctx context.Context, member *Member) error
}
