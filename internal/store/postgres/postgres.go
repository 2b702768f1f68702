// Package postgres implements the store contracts on PostgreSQL through sqlx.
// Rows carry a version column; updates match on it so a lost update affects
// zero rows and surfaces as store.ErrConcurrencyConflict.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"libradesk/internal/catalog"
	"libradesk/internal/config"
	"libradesk/internal/membership"
	"libradesk/internal/store"
)

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id UUID PRIMARY KEY,
	isbn TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	author TEXT NOT NULL,
	publication_date DATE,
	status TEXT NOT NULL DEFAULT 'AVAILABLE',
	checked_out_by TEXT,
	due_date DATE,
	version INT NOT NULL DEFAULT 0,
	CHECK ((status = 'CHECKED_OUT') = (checked_out_by IS NOT NULL AND due_date IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS books_due_date_idx ON books (due_date) WHERE due_date IS NOT NULL;

CREATE TABLE IF NOT EXISTS members (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	membership_tier TEXT NOT NULL,
	books_checked_out INT NOT NULL DEFAULT 0 CHECK (books_checked_out >= 0),
	version INT NOT NULL DEFAULT 0
);
`

// Open connects to PostgreSQL and applies pool settings.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifeSec) * time.Second)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Store is the PostgreSQL-backed store.
type Store struct {
	queries
	db *sqlx.DB
}

// New wraps an open connection pool.
func New(db *sqlx.DB) *Store {
	tracer := otel.Tracer("libradesk/store/postgres")
	return &Store{
		queries: queries{ext: db, tracer: tracer},
		db:      db,
	}
}

// Migrate creates the books and members tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}

// WithinTx runs fn in a serializable transaction. Serialization failures,
// deadlocks and unique violations are reported as store.ErrConcurrencyConflict.
func (s *Store) WithinTx(ctx context.Context, fn store.TxFunc) (err error) {
	ctx, span := s.tracer.Start(ctx, "store.tx")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, queries{ext: tx, tracer: s.tracer}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

func (s *Store) AddBook(ctx context.Context, book *catalog.Book) error {
	if book.Status == "" {
		book.Status = catalog.StatusAvailable
	}
	book.Version = 0
	_, err := sqlx.NamedExecContext(ctx, s.db, `
		INSERT INTO books (id, isbn, title, author, publication_date, status, checked_out_by, due_date, version)
		VALUES (:id, :isbn, :title, :author, :publication_date, :status, :checked_out_by, :due_date, :version)
	`, book)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: isbn=%s", store.ErrDuplicateISBN, book.ISBN)
	}
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (s *Store) AddMember(ctx context.Context, member *membership.Member) error {
	if member.Status == "" {
		member.Status = membership.StatusActive
	}
	member.Version = 0
	_, err := sqlx.NamedExecContext(ctx, s.db, `
		INSERT INTO members (id, email, name, status, membership_tier, books_checked_out, version)
		VALUES (:id, :email, :name, :status, :membership_tier, :books_checked_out, :version)
	`, member)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: email=%s", store.ErrDuplicateEmail, member.Email)
	}
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// queries implements store.Tx on either the pool or an open transaction.
type queries struct {
	ext    sqlx.ExtContext
	tracer trace.Tracer
}

const bookColumns = `id, isbn, title, author, COALESCE(publication_date, '0001-01-01') AS publication_date, status, checked_out_by, due_date, version`

const memberColumns = `id, email, name, status, membership_tier, books_checked_out, version`

func (q queries) FindBookByISBN(ctx context.Context, isbn string) (*catalog.Book, error) {
	var book catalog.Book
	err := sqlx.GetContext(ctx, q.ext, &book, `SELECT `+bookColumns+` FROM books WHERE isbn = $1`, isbn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: isbn=%s", catalog.ErrBookNotFound, isbn)
	}
	if err != nil {
		return nil, fmt.Errorf("select book: %w", err)
	}
	return &book, nil
}

func (q queries) SaveBook(ctx context.Context, book *catalog.Book) (err error) {
	ctx, span := q.tracer.Start(ctx, "store.save_book", trace.WithAttributes(
		attribute.String("book.isbn", book.ISBN),
		attribute.Int("book.version", book.Version),
	))
	defer endSpan(span, &err)

	res, err := q.ext.ExecContext(ctx, `
		UPDATE books
		SET title = $1, author = $2, status = $3, checked_out_by = $4, due_date = $5, version = version + 1
		WHERE isbn = $6 AND version = $7
	`, book.Title, book.Author, book.Status, book.CheckedOutBy, book.DueDate, book.ISBN, book.Version)
	if err != nil {
		return fmt.Errorf("update book: %w", mapError(err))
	}
	if err := q.checkUpdated(ctx, res, `SELECT version FROM books WHERE isbn = $1`, book.ISBN,
		fmt.Errorf("%w: isbn=%s", catalog.ErrBookNotFound, book.ISBN),
		book.Version); err != nil {
		return err
	}
	book.Version++
	return nil
}

func (q queries) CountBooksByStatus(ctx context.Context, status catalog.BookStatus) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q.ext, &n, `SELECT COUNT(*) FROM books WHERE status = $1`, status); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

func (q queries) FindBooksDueBefore(ctx context.Context, date time.Time) ([]*catalog.Book, error) {
	return q.selectBooks(ctx, `SELECT `+bookColumns+` FROM books WHERE due_date < $1::date ORDER BY title, isbn`, date.Format("2006-01-02"))
}

func (q queries) FindBooksByTitle(ctx context.Context, fragment string) ([]*catalog.Book, error) {
	return q.selectBooks(ctx, `SELECT `+bookColumns+` FROM books WHERE title ILIKE $1 ESCAPE '\' ORDER BY title, isbn`, likePattern(fragment))
}

func (q queries) FindBooksByAuthor(ctx context.Context, fragment string) ([]*catalog.Book, error) {
	return q.selectBooks(ctx, `SELECT `+bookColumns+` FROM books WHERE author ILIKE $1 ESCAPE '\' ORDER BY title, isbn`, likePattern(fragment))
}

func (q queries) FindMemberByEmail(ctx context.Context, email string) (*membership.Member, error) {
	var member membership.Member
	err := sqlx.GetContext(ctx, q.ext, &member, `SELECT `+memberColumns+` FROM members WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: email=%s", membership.ErrMemberNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("select member: %w", err)
	}
	return &member, nil
}

func (q queries) SaveMember(ctx context.Context, member *membership.Member) (err error) {
	ctx, span := q.tracer.Start(ctx, "store.save_member", trace.WithAttributes(
		attribute.String("member.email", member.Email),
		attribute.Int("member.version", member.Version),
	))
	defer endSpan(span, &err)

	res, err := q.ext.ExecContext(ctx, `
		UPDATE members
		SET name = $1, status = $2, membership_tier = $3, books_checked_out = $4, version = version + 1
		WHERE email = $5 AND version = $6
	`, member.Name, member.Status, member.Tier, member.BooksCheckedOut, member.Email, member.Version)
	if err != nil {
		return fmt.Errorf("update member: %w", mapError(err))
	}
	if err := q.checkUpdated(ctx, res, `SELECT version FROM members WHERE email = $1`, member.Email,
		fmt.Errorf("%w: email=%s", membership.ErrMemberNotFound, member.Email),
		member.Version); err != nil {
		return err
	}
	member.Version++
	return nil
}

func (q queries) CountMembers(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q.ext, &n, `SELECT COUNT(*) FROM members`); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

func (q queries) selectBooks(ctx context.Context, query string, arg interface{}) ([]*catalog.Book, error) {
	books := make([]*catalog.Book, 0)
	if err := sqlx.SelectContext(ctx, q.ext, &books, query, arg); err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	return books, nil
}

// checkUpdated distinguishes a missing row from a stale version when an
// UPDATE matched nothing.
func (q queries) checkUpdated(ctx context.Context, res sql.Result, versionQuery, key string, notFound error, expected int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var current int
	err = sqlx.GetContext(ctx, q.ext, &current, versionQuery, key)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("read current version: %w", mapError(err))
	}
	return fmt.Errorf("%w: %s expected version %d, got %d", store.ErrConcurrencyConflict, key, expected, current)
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(fragment string) string {
	return "%" + likeEscaper.Replace(fragment) + "%"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// mapError turns serialization failures, deadlocks and unique violations
// raised inside a transaction into store.ErrConcurrencyConflict.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "40001", "40P01", "23505":
		return fmt.Errorf("%w: %s: %s", store.ErrConcurrencyConflict, pqErr.Code, pqErr.Message)
	}
	return err
}
