// Package common defines shared constants and sentinel errors used across
// threadauto components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Backend auth errors.
	ErrorUnauthorized = errors.New("unauthorized")
	ErrTokenExpired   = errors.New("token expired")

	// Quota/billing errors. ErrBillingDesync marks the commit/use failure
	// class that must halt the whole batch, not just the current item.
	ErrQuotaExhausted       = errors.New("no work quota available")
	ErrReservationIntegrity = errors.New("reservation granted without an id")
	ErrBillingDesync        = errors.New("billing state desynchronized")
	ErrBackendUnavailable   = errors.New("backend unavailable")

	// Browser session errors.
	ErrLoginTimeout    = errors.New("login not established in time")
	ErrAccountMismatch = errors.New("logged in under a different account")
)
