// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libradesk/internal/catalog"
	"libradesk/internal/store"
)

// service implements the Service interface.
type service struct {
	store    store.Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	retry    retryConfig

	tracer    trace.Tracer
	checkouts metric.Int64Counter
	returns   metric.Int64Counter
	lateFees  metric.Float64Counter
}

// Option customises a circulation service.
type Option func(*service) error

// WithClock replaces time.Now. Only the civil date of the returned time is used.
func WithClock(now func() time.Time) Option {
	return func(s *service) error {
		s.now = now
		return nil
	}
}

// WithMaxAttempts sets how many times a conflicting transaction is run in total.
func WithMaxAttempts(attempts int) Option {
	return func(s *service) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		s.retry.maxAttempts = attempts
		return nil
	}
}

// WithBackoff sets the base delay and jitter between attempts.
func WithBackoff(baseDelay time.Duration, jitterFactor float64) Option {
	return func(s *service) error {
		if baseDelay < 0 {
			return ErrNegativeBaseDelay
		}
		if jitterFactor < 0 || jitterFactor > 1 {
			return ErrInvalidJitterFactor
		}
		s.retry.baseDelay = baseDelay
		s.retry.jitterFactor = jitterFactor
		return nil
	}
}

// NewService creates a new circulation service instance. notifier may be nil.
func NewService(st store.Store, notifier Notifier, logger *zap.Logger, opts ...Option) (Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &service{
		store:    st,
		notifier: notifier,
		logger:   logger.Named("circulation"),
		now:      time.Now,
		retry:    defaultRetryConfig(),
		tracer:   otel.Tracer("libradesk/circulation"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	meter := otel.Meter("libradesk/circulation")
	var err error
	if s.checkouts, err = meter.Int64Counter("circulation.checkouts",
		metric.WithDescription("Checkout attempts by outcome")); err != nil {
		return nil, fmt.Errorf("create checkouts counter: %w", err)
	}
	if s.returns, err = meter.Int64Counter("circulation.returns",
		metric.WithDescription("Return attempts by outcome")); err != nil {
		return nil, fmt.Errorf("create returns counter: %w", err)
	}
	if s.lateFees, err = meter.Float64Counter("circulation.late_fees",
		metric.WithDescription("Late fees assessed on return"),
		metric.WithUnit("USD")); err != nil {
		return nil, fmt.Errorf("create late fees counter: %w", err)
	}
	return s, nil
}

// Checkout lends the book identified by isbn to the member identified by email.
func (s *service) Checkout(ctx context.Context, isbn, memberEmail string) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.checkout",
		trace.WithAttributes(
			attribute.String("book.isbn", isbn),
			attribute.String("member.email", memberEmail),
		),
	)
	defer span.End()

	var (
		result *CheckoutResult
		notice *CheckoutNotice
	)
	attempts, err := retryOnConflict(ctx, s.retry, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			result, notice, err = s.checkout(ctx, tx, isbn, memberEmail)
			return err
		})
	})
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		err = s.fail(span, "checkout", isbn, attempts, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	s.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(result.Outcome))))
	s.logger.Info("checkout processed",
		zap.String("isbn", isbn),
		zap.String("member_email", memberEmail),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("attempts", attempts),
	)

	if notice != nil && s.notifier != nil {
		if err := s.notifier.NotifyCheckout(ctx, *notice); err != nil {
			s.logger.Warn("checkout notification failed",
				zap.String("isbn", isbn),
				zap.String("member_email", memberEmail),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

func (s *service) checkout(ctx context.Context, tx store.Tx, isbn, memberEmail string) (*CheckoutResult, *CheckoutNotice, error) {
	book, err := tx.FindBookByISBN(ctx, isbn)
	if err != nil {
		return nil, nil, fmt.Errorf("find book: %w", err)
	}
	member, err := tx.FindMemberByEmail(ctx, memberEmail)
	if err != nil {
		return nil, nil, fmt.Errorf("find member: %w", err)
	}

	if !book.IsAvailable() {
		return &CheckoutResult{Outcome: OutcomeBookUnavailable, Message: msgBookUnavailable}, nil, nil
	}

	policy, err := ResolvePolicy(member.Tier)
	if err != nil {
		return nil, nil, err
	}
	if !policy.CanCheckout(member.BooksCheckedOut) {
		return &CheckoutResult{Outcome: OutcomeCheckoutLimitReached, Message: msgLimitReached}, nil, nil
	}

	due := civilDate(s.now()).AddDate(0, 0, policy.LoanPeriodDays)
	book.CheckOut(member.Email, due)
	if err := tx.SaveBook(ctx, book); err != nil {
		return nil, nil, fmt.Errorf("save book: %w", err)
	}
	member.IncrementCheckouts()
	if err := tx.SaveMember(ctx, member); err != nil {
		return nil, nil, fmt.Errorf("save member: %w", err)
	}

	result := &CheckoutResult{
		Outcome: OutcomeCheckedOut,
		Message: "Book checked out successfully. Due date: " + due.Format(dateLayout),
		DueDate: &due,
	}
	return result, &CheckoutNotice{Member: *member, Book: *book, DueDate: due}, nil
}

// ReturnBook closes the loan on the book identified by isbn.
func (s *service) ReturnBook(ctx context.Context, isbn string) (*ReturnResult, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(attribute.String("book.isbn", isbn)),
	)
	defer span.End()

	var (
		result *ReturnResult
		notice *ReturnNotice
	)
	attempts, err := retryOnConflict(ctx, s.retry, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			result, notice, err = s.returnBook(ctx, tx, isbn)
			return err
		})
	})
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		err = s.fail(span, "return", isbn, attempts, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	s.returns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(result.Outcome))))
	if result.LateFee != nil {
		s.lateFees.Add(ctx, result.LateFee.InexactFloat64())
	}
	s.logger.Info("return processed",
		zap.String("isbn", isbn),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("days_late", result.DaysLate),
		zap.Int("attempts", attempts),
	)

	if notice != nil && s.notifier != nil {
		if err := s.notifier.NotifyReturn(ctx, *notice); err != nil {
			s.logger.Warn("return notification failed",
				zap.String("isbn", isbn),
				zap.String("member_email", notice.Member.Email),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

func (s *service) returnBook(ctx context.Context, tx store.Tx, isbn string) (*ReturnResult, *ReturnNotice, error) {
	book, err := tx.FindBookByISBN(ctx, isbn)
	if err != nil {
		return nil, nil, fmt.Errorf("find book: %w", err)
	}
	if book.Status != catalog.StatusCheckedOut {
		return &ReturnResult{Outcome: OutcomeNotCheckedOut, Message: msgNotCheckedOut}, nil, nil
	}

	member, err := tx.FindMemberByEmail(ctx, book.Holder())
	if err != nil {
		return nil, nil, fmt.Errorf("find holder: %w", err)
	}

	daysLate := 0
	if book.DueDate != nil {
		daysLate = DaysBetween(*book.DueDate, s.now())
	}
	rule, err := ResolveLateFee(member.Tier)
	if err != nil {
		return nil, nil, err
	}
	fee := rule(daysLate)

	book.Release()
	if err := tx.SaveBook(ctx, book); err != nil {
		return nil, nil, fmt.Errorf("save book: %w", err)
	}
	member.DecrementCheckouts()
	if err := tx.SaveMember(ctx, member); err != nil {
		return nil, nil, fmt.Errorf("save member: %w", err)
	}

	result := &ReturnResult{Outcome: OutcomeReturned, Message: msgReturned, DaysLate: daysLate}
	if fee.IsPositive() {
		result.Message += ". Late fee: $" + fee.StringFixed(2)
		result.LateFee = &fee
	}
	return result, &ReturnNotice{Member: *member, Book: *book, LateFee: fee}, nil
}

// fail records err on the span and converts exhausted conflicts.
func (s *service) fail(span trace.Span, op, isbn string, attempts int, err error) error {
	if errors.Is(err, store.ErrConcurrencyConflict) {
		err = fmt.Errorf("%w: %s of %s after %d attempts: %w", ErrConcurrentModification, op, isbn, attempts, err)
		s.logger.Warn("giving up after concurrent modification",
			zap.String("op", op),
			zap.String("isbn", isbn),
			zap.Int("attempts", attempts),
		)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// civilDate truncates t to midnight in its own location.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween returns the whole calendar days from due to now, floored at zero.
// Both times are read as civil dates in their own locations.
func DaysBetween(due, now time.Time) int {
	dy, dm, dd := due.Date()
	ny, nm, nd := now.Date()
	from := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	to := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	days := int(to.Sub(from) / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}
