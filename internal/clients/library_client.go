// internal/clients/library_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"libradesk/internal/catalog"
	"libradesk/internal/circulation"
	"libradesk/internal/membership"
)

// APIError is a non-success response from the circulation desk.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("libradesk: %d %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err is an APIError the server marked retryable.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}

// ErrCircuitOpen is returned without contacting the server while the breaker is open.
var ErrCircuitOpen = gobreaker.ErrOpenState

// LibraryClient talks to the circulation desk HTTP API. Transport failures and
// 5xx responses count against a circuit breaker.
type LibraryClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

type Option func(*options)

type options struct {
	httpClient *http.Client
	settings   gobreaker.Settings
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithBreaker replaces the default breaker settings.
func WithBreaker(settings gobreaker.Settings) Option {
	return func(o *options) { o.settings = settings }
}

func NewLibraryClient(baseURL string, opts ...Option) *LibraryClient {
	o := options{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		settings: gobreaker.Settings{
			Name:    "libradesk",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &LibraryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    o.httpClient,
		breaker: gobreaker.NewCircuitBreaker(o.settings),
	}
}

// Checkout lends a book. Refusals such as an unavailable book come back as a
// result with a non-success Outcome, not as an error.
func (c *LibraryClient) Checkout(ctx context.Context, isbn, memberEmail string) (*circulation.CheckoutResult, error) {
	body := map[string]string{"isbn": isbn, "member_email": memberEmail}
	var res circulation.CheckoutResult
	if err := c.outcome(ctx, "/checkout", body, &res, func() bool { return res.Outcome != "" }); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *LibraryClient) ReturnBook(ctx context.Context, isbn string) (*circulation.ReturnResult, error) {
	var res circulation.ReturnResult
	if err := c.outcome(ctx, "/return", map[string]string{"isbn": isbn}, &res, func() bool { return res.Outcome != "" }); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *LibraryClient) Search(ctx context.Context, term, kind string) ([]*catalog.Book, error) {
	q := url.Values{"q": {term}, "type": {kind}}
	var books []*catalog.Book
	if err := c.do(ctx, http.MethodGet, "/search?"+q.Encode(), nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *LibraryClient) GetBook(ctx context.Context, isbn string) (*catalog.Book, error) {
	var book catalog.Book
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(isbn), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *LibraryClient) AddBook(ctx context.Context, isbn, title, author string, published time.Time) (*catalog.Book, error) {
	body := map[string]string{"isbn": isbn, "title": title, "author": author}
	if !published.IsZero() {
		body["publication_date"] = published.Format("2006-01-02")
	}
	var book catalog.Book
	if err := c.do(ctx, http.MethodPost, "/books", body, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *LibraryClient) RegisterMember(ctx context.Context, email, name string, tier membership.Tier) (*membership.Member, error) {
	body := map[string]string{"email": email, "name": name, "membership_tier": string(tier)}
	var member membership.Member
	if err := c.do(ctx, http.MethodPost, "/members", body, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *LibraryClient) GetMember(ctx context.Context, email string) (*membership.Member, error) {
	var member membership.Member
	if err := c.do(ctx, http.MethodGet, "/members/"+url.PathEscape(email), nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *LibraryClient) UpdateMemberTier(ctx context.Context, email string, tier membership.Tier) (*membership.Member, error) {
	var member membership.Member
	path := "/members/" + url.PathEscape(email) + "/tier"
	if err := c.do(ctx, http.MethodPut, path, map[string]string{"membership_tier": string(tier)}, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// Report returns the plain-text report of the given type.
func (c *LibraryClient) Report(ctx context.Context, reportType string) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, "/reports/"+url.PathEscape(reportType), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	return string(data), nil
}

func (c *LibraryClient) ReportTypes(ctx context.Context) ([]string, error) {
	var out struct {
		Types []string `json:"types"`
	}
	if err := c.do(ctx, http.MethodGet, "/reports", nil, &out); err != nil {
		return nil, err
	}
	return out.Types, nil
}

// outcome posts body and decodes a 409 as a result when hasOutcome reports
// that the server returned a refused workflow rather than an error.
func (c *LibraryClient) outcome(ctx context.Context, path string, body, dst any, hasOutcome func() bool) error {
	resp, err := c.send(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return json.Unmarshal(data, dst)
	case http.StatusConflict:
		if err := json.Unmarshal(data, dst); err == nil && hasOutcome() {
			return nil
		}
	}
	return errorFromBody(resp.StatusCode, data)
}

func (c *LibraryClient) do(ctx context.Context, method, path string, body, dst any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *LibraryClient) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return out.(*http.Response), nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	return errorFromBody(resp.StatusCode, data)
}

func errorFromBody(status int, data []byte) error {
	var body struct {
		Error     string `json:"error"`
		Retryable bool   `json:"retryable"`
	}
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Retryable = body.Retryable
	}
	return apiErr
}
