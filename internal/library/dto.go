package library

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"libradesk/internal/membership"
)

const dateLayout = "2006-01-02"

type CheckoutRequest struct {
	ISBN        string `json:"isbn"`
	MemberEmail string `json:"member_email"`
}

func (r CheckoutRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ISBN, validation.Required.Error("isbn is required")),
		validation.Field(&r.MemberEmail,
			validation.Required.Error("member_email is required"),
			is.EmailFormat.Error("invalid email format"),
		),
	)
}

type ReturnRequest struct {
	ISBN string `json:"isbn"`
}

func (r ReturnRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ISBN, validation.Required.Error("isbn is required")),
	)
}

type AddBookRequest struct {
	ISBN            string `json:"isbn"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	PublicationDate string `json:"publication_date,omitempty"`
}

func (r AddBookRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ISBN, validation.Required, validation.Length(1, 32)),
		validation.Field(&r.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Author, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.PublicationDate, validation.Date(dateLayout).Error("publication_date must be YYYY-MM-DD")),
	)
}

// Published parses PublicationDate; empty means unknown.
func (r AddBookRequest) Published() time.Time {
	t, _ := time.Parse(dateLayout, r.PublicationDate)
	return t
}

type RegisterMemberRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Tier  string `json:"membership_tier"`
}

func (r RegisterMemberRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email,
			validation.Required.Error("email is required"),
			is.EmailFormat.Error("invalid email format"),
			validation.Length(3, 255),
		),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Tier, validation.Required, tierRule),
	)
}

type UpdateTierRequest struct {
	Tier string `json:"membership_tier"`
}

func (r UpdateTierRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Tier, validation.Required, tierRule),
	)
}

var tierRule = validation.In(
	string(membership.TierRegular),
	string(membership.TierPremium),
	string(membership.TierStudent),
).Error("membership_tier must be REGULAR, PREMIUM or STUDENT")

type SearchQuery struct {
	Term string
	Kind string
}

func (q SearchQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Term, validation.Required.Error("q is required")),
	)
}

type errorResponse struct {
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
