// Package errs contains the domain-tagged error taxonomy used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Domain tags the subsystem an error originates from.
type Domain string

const (
	DomainStore      Domain = "STORE"
	DomainAuth       Domain = "AUTH"
	DomainCart       Domain = "CART"
	DomainOrder      Domain = "ORDER"
	DomainPayment    Domain = "PAYMENT"
	DomainUpload     Domain = "UPLOAD"
	DomainValidation Domain = "VALIDATION"
	DomainRateLimit  Domain = "RATE_LIMIT"
	DomainAccess     Domain = "ACCESS"
)

// Error is a structured domain error. Code is stable and machine readable; Message is safe to show clients.
type Error struct {
	Domain  Domain
	Code    string
	Message string
	Details any
}

// New constructs a domain error.
func New(domain Domain, code, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Domain, e.Code, e.Message)
}

// Is matches any *Error carrying the same code, so sentinels compare equal to their enriched copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy with a different client-facing message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// WithDetails returns a copy carrying structured details (field errors, reasons).
func (e *Error) WithDetails(d any) *Error {
	c := *e
	c.Details = d
	return &c
}

// As extracts the *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Storage sentinels shared by repository implementations.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = New(DomainStore, "NOT_FOUND", "not found")
	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = New(DomainStore, "ALREADY_EXISTS", "already exists")
	// ErrConflict indicates a guarded update matched no row.
	ErrConflict = New(DomainStore, "CONFLICT", "conflict")
)

// Auth.
var (
	ErrUserExists         = New(DomainAuth, "USER_EXISTS", "an account with this email already exists")
	ErrInvalidCredentials = New(DomainAuth, "INVALID_CREDENTIALS", "invalid email or password")
	ErrAccountLocked      = New(DomainAuth, "ACCOUNT_LOCKED", "account is temporarily locked")
	ErrAccountInactive    = New(DomainAuth, "ACCOUNT_INACTIVE", "account is deactivated")
	ErrInvalidToken       = New(DomainAuth, "INVALID_TOKEN", "invalid token")
	ErrTokenExpired       = New(DomainAuth, "TOKEN_EXPIRED", "token expired")
	ErrTokenRevoked       = New(DomainAuth, "TOKEN_REVOKED", "token has been revoked")
	ErrWeakPassword       = New(DomainAuth, "WEAK_PASSWORD", "password must be between 8 and 72 characters")
	ErrPasswordUnchanged  = New(DomainAuth, "PASSWORD_UNCHANGED", "new password must differ from the current one")
	ErrUnauthenticated    = New(DomainAuth, "UNAUTHENTICATED", "authentication required")
	ErrForbidden          = New(DomainAuth, "FORBIDDEN", "insufficient permissions")
)

// Cart.
var (
	ErrProductNotFound    = New(DomainCart, "PRODUCT_NOT_FOUND", "product not found")
	ErrProductUnavailable = New(DomainCart, "PRODUCT_UNAVAILABLE", "product is not available")
	ErrMinOrderNotMet     = New(DomainCart, "MIN_ORDER_NOT_MET", "quantity is below the minimum order")
	ErrInsufficientStock  = New(DomainCart, "INSUFFICIENT_STOCK", "insufficient stock")
	ErrInvalidQuantity    = New(DomainCart, "INVALID_QUANTITY", "quantity must be at least 1")
	ErrCartEmpty          = New(DomainCart, "CART_EMPTY", "cart is empty")
	ErrCartInvalid        = New(DomainCart, "CART_INVALID", "cart contains invalid items")
)

// Order.
var (
	ErrOrderNotFound     = New(DomainOrder, "ORDER_NOT_FOUND", "order not found")
	ErrInvalidAddress    = New(DomainOrder, "INVALID_ADDRESS", "address not found for this account")
	ErrCannotCancel      = New(DomainOrder, "CANNOT_CANCEL", "order can no longer be cancelled")
	ErrInvalidTransition = New(DomainOrder, "INVALID_TRANSITION", "status change not allowed")
	ErrPriceMismatch     = New(DomainOrder, "PRICE_MISMATCH", "order total does not match current prices")
)

// Payment.
var (
	ErrPaymentNotFound    = New(DomainPayment, "PAYMENT_NOT_FOUND", "payment not found")
	ErrInvalidSignature   = New(DomainPayment, "INVALID_SIGNATURE", "invalid webhook signature")
	ErrAlreadyPaid        = New(DomainPayment, "ALREADY_PAID", "order is already paid")
	ErrUnsupportedPayment = New(DomainPayment, "UNSUPPORTED_METHOD", "payment method does not support online payment")
	ErrGateway            = New(DomainPayment, "GATEWAY_ERROR", "payment provider unavailable")
)

// Upload.
var (
	ErrFileTooLarge    = New(DomainUpload, "FILE_TOO_LARGE", "file exceeds the size limit")
	ErrUnsupportedType = New(DomainUpload, "UNSUPPORTED_TYPE", "file type is not allowed")
	ErrEmptyFile       = New(DomainUpload, "EMPTY_FILE", "file is empty")
)

// Boundary.
var (
	ErrValidation       = New(DomainValidation, "VALIDATION_FAILED", "request validation failed")
	ErrRateLimited      = New(DomainRateLimit, "RATE_LIMITED", "too many requests")
	ErrOriginNotAllowed = New(DomainAccess, "ORIGIN_NOT_ALLOWED", "origin not allowed")
)
