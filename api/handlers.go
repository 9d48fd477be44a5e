/*
handlers.go - HTTP API handlers for the book exchange

PURPOSE:
  Exposes the exchange engine via REST. Handles HTTP request/response,
  JSON serialization, and delegates to the domain service.

ENDPOINTS:
  Users:
    GET    /api/users                   List accounts
    POST   /api/users                   Create account
    GET    /api/users/{id}              Account details
    GET    /api/users/{id}/balance      Point balance
    GET    /api/users/{id}/exchanges    Exchange history (both directions)

  Books:
    GET    /api/books                   List listings
    POST   /api/books                   List a book (actor becomes owner)
    GET    /api/books/{id}              Listing details
    POST   /api/books/{id}/exchanges    Request an exchange (actor = requester)

  Exchanges:
    GET    /api/exchanges/{id}          Exchange details
    POST   /api/exchanges/{id}/approve  Owner settles (atomic)
    POST   /api/exchanges/{id}/reject   Owner declines
    POST   /api/exchanges/{id}/cancel   Requester withdraws (record deleted)
    POST   /api/exchanges/{id}/dispute  Either party escalates

ERROR HANDLING:
  Domain errors map to HTTP statuses; the admission reason code rides
  along in the JSON envelope so the frontend can render a specific
  message per failure:
  - 400: malformed input, insufficient points
  - 401: missing/unknown actor
  - 403: wrong actor for a transition, self-exchange
  - 404: missing user/book/exchange
  - 409: unavailability, active-exchange conflict, anti-abuse blocks,
         settlement aborts
  - 500: store failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pageturn/bookswap/exchange"
	"github.com/pageturn/bookswap/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Exchanges *exchange.Service
	Valuation exchange.ValuationProvider
}

// NewHandler creates a new handler over the store and exchange service.
func NewHandler(store *sqlite.Store, svc *exchange.Service, valuation exchange.ValuationProvider) *Handler {
	return &Handler{Store: store, Exchanges: svc, Valuation: valuation}
}

// actorID extracts the acting user from the trusted edge header.
func actorID(r *http.Request) exchange.UserID {
	return exchange.UserID(r.Header.Get("X-User-ID"))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all accounts.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser creates an account with a starting balance.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}
	if req.Balance < 0 {
		writeError(w, http.StatusBadRequest, "Balance must be non-negative", nil)
		return
	}

	u := exchange.User{
		ID:        exchange.UserID(uuid.NewString()),
		Name:      req.Name,
		Email:     req.Email,
		Balance:   req.Balance,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.CreateUser(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// GetUser returns a single account.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := exchange.UserID(chi.URLParam(r, "id"))

	u, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// GetBalance returns an account's point balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := exchange.UserID(chi.URLParam(r, "id"))

	balance, err := h.Store.GetBalance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(id), Balance: balance})
}

// ListUserExchanges returns the user's exchanges, both directions,
// newest first.
func (h *Handler) ListUserExchanges(w http.ResponseWriter, r *http.Request) {
	id := exchange.UserID(chi.URLParam(r, "id"))

	exchanges, err := h.Store.ExchangesForUser(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list exchanges", err)
		return
	}

	dtos := make([]ExchangeDTO, len(exchanges))
	for i, ex := range exchanges {
		dtos[i] = toExchangeDTO(ex)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BOOK HANDLERS
// =============================================================================

// ListBooks returns all listings.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.Store.ListBooks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list books", err)
		return
	}

	dtos := make([]BookDTO, len(books))
	for i, b := range books {
		dtos[i] = toBookDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBook lists a book under the acting user and caches its
// valuation. The book's ID is permanent from this point on.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	owner := actorID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Missing X-User-ID header", nil)
		return
	}

	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required", nil)
		return
	}
	if _, err := h.Store.GetUser(r.Context(), owner); err != nil {
		writeDomainError(w, err)
		return
	}

	b := exchange.Book{
		ID:        exchange.BookID(uuid.NewString()),
		Title:     req.Title,
		Author:    req.Author,
		OwnerID:   owner,
		Available: true,
		CreatedAt: time.Now().UTC(),
	}
	// Cache the valuation up front; the core falls back to DefaultPoints
	// if the provider is down and the cache stays empty.
	if h.Valuation != nil {
		if pts, err := h.Valuation.GetCurrentPoints(r.Context(), &b); err == nil {
			b.ComputedPoints = &pts
		}
	}

	if err := h.Store.CreateBook(r.Context(), b); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create book", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookDTO(b))
}

// GetBook returns a single listing.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id := exchange.BookID(chi.URLParam(r, "id"))

	b, err := h.Store.GetBook(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(*b))
}

// =============================================================================
// EXCHANGE HANDLERS
// =============================================================================

// RequestExchange asks to exchange the book for the acting user.
func (h *Handler) RequestExchange(w http.ResponseWriter, r *http.Request) {
	bookID := exchange.BookID(chi.URLParam(r, "id"))

	ex, err := h.Exchanges.Request(r.Context(), bookID, actorID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExchangeDTO(*ex))
}

// GetExchange returns a single exchange record.
func (h *Handler) GetExchange(w http.ResponseWriter, r *http.Request) {
	id := exchange.ExchangeID(chi.URLParam(r, "id"))

	ex, err := h.Store.GetExchange(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(*ex))
}

// ApproveExchange settles the exchange as the book's owner.
func (h *Handler) ApproveExchange(w http.ResponseWriter, r *http.Request) {
	id := exchange.ExchangeID(chi.URLParam(r, "id"))
	caller := actorID(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Missing X-User-ID header", nil)
		return
	}

	ex, err := h.Exchanges.Approve(r.Context(), id, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(*ex))
}

// RejectExchange declines the exchange as the book's owner.
func (h *Handler) RejectExchange(w http.ResponseWriter, r *http.Request) {
	id := exchange.ExchangeID(chi.URLParam(r, "id"))
	caller := actorID(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Missing X-User-ID header", nil)
		return
	}

	if err := h.Exchanges.Reject(r.Context(), id, caller); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelExchange withdraws the exchange as the requester.
func (h *Handler) CancelExchange(w http.ResponseWriter, r *http.Request) {
	id := exchange.ExchangeID(chi.URLParam(r, "id"))
	caller := actorID(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Missing X-User-ID header", nil)
		return
	}

	if err := h.Exchanges.Cancel(r.Context(), id, caller); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DisputeExchange escalates a completed exchange for manual resolution.
func (h *Handler) DisputeExchange(w http.ResponseWriter, r *http.Request) {
	id := exchange.ExchangeID(chi.URLParam(r, "id"))
	caller := actorID(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Missing X-User-ID header", nil)
		return
	}

	var req DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ex, err := h.Exchanges.Dispute(r.Context(), id, caller, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(*ex))
}

// =============================================================================
// DTO CONVERSION
// =============================================================================

func toUserDTO(u exchange.User) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		Balance:   u.Balance,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func toBookDTO(b exchange.Book) BookDTO {
	return BookDTO{
		ID:             string(b.ID),
		Title:          b.Title,
		Author:         b.Author,
		OwnerID:        string(b.OwnerID),
		Available:      b.Available,
		ComputedPoints: b.ComputedPoints,
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
	}
}

func toExchangeDTO(ex exchange.Exchange) ExchangeDTO {
	dto := ExchangeDTO{
		ID:            string(ex.ID),
		BookID:        string(ex.BookID),
		FromUserID:    string(ex.FromUserID),
		ToUserID:      string(ex.ToUserID),
		PointsUsed:    ex.PointsUsed,
		Status:        string(ex.Status),
		DisputeReason: ex.DisputeReason,
		CreatedAt:     ex.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     ex.UpdatedAt.Format(time.RFC3339),
	}
	if ex.CompletedAt != nil {
		s := ex.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	dto := ErrorDTO{Error: message}
	if err != nil {
		dto.Error = message + ": " + err.Error()
	}
	writeJSON(w, status, dto)
}

// writeDomainError maps core errors onto HTTP statuses, preserving the
// admission reason code for the frontend.
func writeDomainError(w http.ResponseWriter, err error) {
	var adm *exchange.AdmissionError
	if errors.As(err, &adm) {
		writeJSON(w, admissionStatus(adm.Reason), ErrorDTO{
			Error:  adm.Error(),
			Reason: string(adm.Reason),
		})
		return
	}

	var auth *exchange.AuthorizationError
	if errors.As(err, &auth) {
		writeJSON(w, http.StatusForbidden, ErrorDTO{Error: auth.Error()})
		return
	}

	var set *exchange.SettlementError
	if errors.As(err, &set) {
		writeJSON(w, http.StatusConflict, ErrorDTO{Error: set.Error()})
		return
	}

	if exchange.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, ErrorDTO{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusInternalServerError, ErrorDTO{Error: err.Error()})
}

func admissionStatus(reason exchange.AdmissionReason) int {
	switch reason {
	case exchange.Unauthenticated:
		return http.StatusUnauthorized
	case exchange.BookNotFound:
		return http.StatusNotFound
	case exchange.SelfExchangeForbidden:
		return http.StatusForbidden
	case exchange.InsufficientPoints:
		return http.StatusBadRequest
	case exchange.BookUnavailable,
		exchange.ActiveExchangeExists,
		exchange.RepeatExchangeBlocked,
		exchange.CircularExchangeBlocked:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
