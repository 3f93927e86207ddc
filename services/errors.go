package services

import "errors"

// Session and delivery errors. Lifecycle lookups return these as typed
// reasons so callers can pick the right recovery (refresh vs. full re-login).
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExpired       = errors.New("session expired")
	ErrSessionRevoked       = errors.New("session revoked")
	ErrSessionSuspicious    = errors.New("session suspicious")
	ErrRefreshExpired       = errors.New("refresh secret expired")
	ErrCrypto               = errors.New("crypto operation failed")
	ErrDuplicateMessage     = errors.New("duplicate client message id")
	ErrRecipientNotFound    = errors.New("recipient not found")
	ErrRecipientInactive    = errors.New("recipient inactive")
	ErrRecipientBlocked     = errors.New("recipient blocks sender")
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrConnectionBufferFull = errors.New("connection buffer full")
)

// ValidationError rejects a malformed send request before any side effect
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid send request: " + e.Field + " " + e.Reason
}
