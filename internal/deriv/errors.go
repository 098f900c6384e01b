package deriv

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestTimeout means no response carrying the request's
	// correlation id arrived within the caller's timeout.
	ErrRequestTimeout = errors.New("deriv: request timed out")

	// ErrConnectionClosed rejects requests that were in flight when the
	// transport dropped.
	ErrConnectionClosed = errors.New("deriv: connection closed")

	// ErrNotConnected rejects requests sent before the gateway reached a
	// usable state or while a reconnect is in progress.
	ErrNotConnected = errors.New("deriv: not connected")

	// ErrConnectionDead rejects requests once reconnection attempts are
	// exhausted; the gateway will not recover without a fresh Connect.
	ErrConnectionDead = errors.New("deriv: connection permanently down")

	// ErrAuthorization means the venue rejected our credentials. Retrying
	// with the same token is pointless, so this is terminal.
	ErrAuthorization = errors.New("deriv: authorization rejected")
)

// APIError is the structured error envelope the venue returns inside an
// otherwise valid response frame. It is a protocol-level answer, not a
// transport failure: the correlated call still resolves.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deriv: %s (%s)", e.Message, e.Code)
}
