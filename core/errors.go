package core

import (
	"errors"
	"fmt"
)

var (
	// Challenge parsing
	ErrMissingHeader      = errors.New("missing challenge header")
	ErrMalformedChallenge = errors.New("malformed challenge")

	// Payment outcomes
	ErrPaymentRejected    = errors.New("payment rejected")
	ErrPaymentTimeout     = errors.New("payment timed out")
	ErrBackendUnavailable = errors.New("payment backend unavailable")
	ErrInvalidProof       = errors.New("invalid payment proof")

	// Storage
	ErrStoreUnavailable = errors.New("token store unavailable")
	ErrNotFound         = errors.New("token not found")

	ErrInvalidScope   = errors.New("invalid scope")
	ErrInvalidInvoice = errors.New("invalid invoice")

	// Bridge access
	ErrInvalidBridgeToken = errors.New("invalid bridge token")
	ErrOriginNotAllowed   = errors.New("origin not allowed")
)

// PaymentError describes a failed settlement attempt. Kind is one of
// ErrPaymentRejected, ErrPaymentTimeout or ErrBackendUnavailable.
type PaymentError struct {
	Kind      error
	Reason    string
	Permanent bool
}

func (e *PaymentError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *PaymentError) Unwrap() error {
	return e.Kind
}

// NewPaymentError builds a transient payment error of the given kind.
func NewPaymentError(kind error, reason string) *PaymentError {
	return &PaymentError{Kind: kind, Reason: reason}
}

// NewPermanentPaymentError builds a payment error the caller should not retry,
// e.g. an expired invoice.
func NewPermanentPaymentError(kind error, reason string) *PaymentError {
	return &PaymentError{Kind: kind, Reason: reason, Permanent: true}
}

// IsRetryable reports whether a failed authentication may succeed when tried
// again from scratch.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perr *PaymentError
	if errors.As(err, &perr) {
		return !perr.Permanent
	}
	return errors.Is(err, ErrPaymentTimeout) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrStoreUnavailable)
}

// PersistError is returned when a payment succeeded but the minted token could
// not be written. Token is usable for the retried request.
type PersistError struct {
	Token StoredToken
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist token for %s: %v", e.Token.Scope, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
