// internal/membership/domain.go
package membership

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrMemberNotFound = errors.New("member not found")
	ErrUnknownTier    = errors.New("unknown membership type")
)

// Tier is the membership category that drives borrowing limits and fees.
type Tier string

const (
	TierRegular Tier = "REGULAR"
	TierPremium Tier = "PREMIUM"
	TierStudent Tier = "STUDENT"
)

// Tiers returns every supported tier.
func Tiers() []Tier {
	return []Tier{TierRegular, TierPremium, TierStudent}
}

// Valid reports whether t is one of the supported tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierRegular, TierPremium, TierStudent:
		return true
	}
	return false
}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Member represents a library member.
type Member struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Email           string    `json:"email" db:"email"`
	Name            string    `json:"name" db:"name"`
	Status          string    `json:"status" db:"status"`
	Tier            Tier      `json:"membership_tier" db:"membership_tier"`
	BooksCheckedOut int       `json:"books_checked_out" db:"books_checked_out"`
	Version         int       `json:"version" db:"version"`
}

// IncrementCheckouts records one more book on loan.
func (m *Member) IncrementCheckouts() {
	m.BooksCheckedOut++
}

// DecrementCheckouts records one book fewer on loan, never going below zero.
func (m *Member) DecrementCheckouts() {
	if m.BooksCheckedOut > 0 {
		m.BooksCheckedOut--
		return
	}
	m.BooksCheckedOut = 0
}

// Clone returns a copy of the member.
func (m *Member) Clone() *Member {
	c := *m
	return &c
}
