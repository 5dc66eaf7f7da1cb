package server

import "errors"

// Delivery-side failures. Both are swallowed by the router: a handle that
// closed between lookup and push is indistinguishable from an offline
// recipient, and neither is the sender's concern.
var (
	errStaleHandle    = errors.New("stale connection handle")
	errSendBufferFull = errors.New("connection send buffer full")
)

// Error codes surfaced to the initiating caller.
const (
	codeAuthRequired = "AUTH_REQUIRED"
	codeNotFound     = "NOT_FOUND"
	codeStorage      = "STORAGE_FAILED"
	codeInvalidEvent = "INVALID_EVENT"
)

// eventError maps a rejected operation to an error event on the channel (or
// an HTTP status on the REST surface). It never represents a delivery
// failure; those are not errors to the caller.
type eventError struct {
	code string
	msg  string
}

func (e *eventError) Error() string { return e.msg }

func authRequired(msg string) *eventError {
	return &eventError{code: codeAuthRequired, msg: msg}
}

func notFound(msg string) *eventError {
	return &eventError{code: codeNotFound, msg: msg}
}

func storageFailed(msg string) *eventError {
	return &eventError{code: codeStorage, msg: msg}
}

func invalidEvent(msg string) *eventError {
	return &eventError{code: codeInvalidEvent, msg: msg}
}
