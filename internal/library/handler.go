package library

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"libradesk/internal/catalog"
	"libradesk/internal/circulation"
	"libradesk/internal/membership"
	"libradesk/internal/reports"
	"libradesk/internal/store"
)

type Handler struct {
	facade *Facade
	logger *zap.Logger
}

func NewHandler(facade *Facade, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{facade: facade, logger: logger.Named("http")}
}

// Routes builds the router. Mutating endpoints share limiter; nil disables limiting.
func (h *Handler) Routes(limiter *rate.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(traceContext)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/search", h.handleSearch)
	r.Get("/books/{isbn}", h.handleGetBook)
	r.Get("/members/{email}", h.handleGetMember)
	r.Get("/reports", h.handleListReports)
	r.Get("/reports/{type}", h.handleReport)

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(RateLimit(limiter))
		}
		r.Post("/checkout", h.handleCheckout)
		r.Post("/return", h.handleReturn)
		r.Post("/books", h.handleAddBook)
		r.Post("/members", h.handleRegisterMember)
		r.Put("/members/{email}/tier", h.handleUpdateTier)
	})
	return r
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.facade.Checkout(r.Context(), req.ISBN, req.MemberEmail)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, outcomeStatus(res.Outcome), res)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.facade.ReturnBook(r.Context(), req.ISBN)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, outcomeStatus(res.Outcome), res)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := SearchQuery{Term: r.URL.Query().Get("q"), Kind: r.URL.Query().Get("type")}
	if err := q.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}
	books, err := h.facade.Search(r.Context(), q.Term, q.Kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.facade.GetBook(r.Context(), chi.URLParam(r, "isbn"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req AddBookRequest
	if !h.decode(w, r, &req) {
		return
	}
	book, err := h.facade.AddBook(r.Context(), req.ISBN, req.Title, req.Author, req.Published())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (h *Handler) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var req RegisterMemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	member, err := h.facade.RegisterMember(r.Context(), req.Email, req.Name, membership.Tier(req.Tier))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.facade.GetMember(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleUpdateTier(w http.ResponseWriter, r *http.Request) {
	var req UpdateTierRequest
	if !h.decode(w, r, &req) {
		return
	}
	member, err := h.facade.UpdateMemberTier(r.Context(), chi.URLParam(r, "email"), membership.Tier(req.Tier))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleListReports(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"types": h.facade.ReportTypes()})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	out, err := h.facade.GenerateReport(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

type validatable interface {
	Validate() error
}

// decode reads a JSON body into dst and validates it, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	if err := dst.Validate(); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func outcomeStatus(o circulation.Outcome) int {
	if o.Succeeded() {
		return http.StatusOK
	}
	return http.StatusConflict
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func errorStatus(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error()}
	switch {
	case errors.Is(err, catalog.ErrBookNotFound), errors.Is(err, membership.ErrMemberNotFound):
		return http.StatusNotFound, resp
	case errors.Is(err, catalog.ErrInvalidSearchKind),
		errors.Is(err, membership.ErrUnknownTier),
		errors.Is(err, reports.ErrUnknownReportType):
		return http.StatusBadRequest, resp
	case errors.Is(err, circulation.ErrConcurrentModification):
		resp.Retryable = true
		return http.StatusConflict, resp
	case errors.Is(err, store.ErrDuplicateISBN), errors.Is(err, store.ErrDuplicateEmail),
		errors.Is(err, membership.ErrLoanLimitExceeded):
		return http.StatusConflict, resp
	case errors.Is(err, membership.ErrRateLimited):
		resp.Retryable = true
		return http.StatusTooManyRequests, resp
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal error"}
}

func writeValidationError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: "validation failed"}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		resp.Details = verrs
	} else {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// traceContext continues a trace started by the caller.
func traceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
