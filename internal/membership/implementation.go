// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited is returned when registrations arrive faster than allowed.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrLoanLimitExceeded rejects a tier change the member's current loans would overrun.
	ErrLoanLimitExceeded = errors.New("books on loan exceed the tier's limit")
)

// service implements the Service interface.
type service struct {
	repo        Repository
	logger      *zap.Logger
	rateLimiter *rate.Limiter
	loanLimit   func(Tier) (int, error)
}

// Option customises a membership service.
type Option func(*service)

// WithLoanLimit makes UpdateMemberTier refuse tiers whose limit is below the
// member's current loans. limit returns the maximum books for a tier.
func WithLoanLimit(limit func(Tier) (int, error)) Option {
	return func(s *service) { s.loanLimit = limit }
}

// NewService creates a new membership service instance.
// A nil limiter allows 5 registrations per minute.
func NewService(repo Repository, limiter *rate.Limiter, logger *zap.Logger, opts ...Option) Service {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Minute/5), 5)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &service{
		repo:        repo,
		logger:      logger.Named("membership"),
		rateLimiter: limiter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterMember creates a new active member with no books on loan.
func (s *service) RegisterMember(ctx context.Context, email, name string, tier Tier) (*Member, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	member := &Member{
		ID:     uuid.New(),
		Email:  email,
		Name:   name,
		Status: StatusActive,
		Tier:   tier,
	}
	if err := s.repo.AddMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to register member: %w", err)
	}
	s.logger.Info("member registered", zap.String("email", email), zap.String("tier", string(tier)))
	return member, nil
}

// GetMember retrieves a member by email.
func (s *service) GetMember(ctx context.Context, email string) (*Member, error) {
	return s.repo.FindMemberByEmail(ctx, email)
}

// UpdateMemberTier moves a member to another tier. Books already on loan keep their due dates.
func (s *service) UpdateMemberTier(ctx context.Context, email string, tier Tier) (*Member, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	member, err := s.repo.FindMemberByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if member.Tier == tier {
		return member, nil
	}
	if s.loanLimit != nil {
		limit, err := s.loanLimit(tier)
		if err != nil {
			return nil, err
		}
		if member.BooksCheckedOut > limit {
			return nil, fmt.Errorf("%w: %s has %d on loan, %s allows %d",
				ErrLoanLimitExceeded, email, member.BooksCheckedOut, tier, limit)
		}
	}

	member.Tier = tier
	if err := s.repo.SaveMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to update member tier: %w", err)
	}
	s.logger.Info("member tier updated", zap.String("email", email), zap.String("tier", string(tier)))
	return member, nil
}
