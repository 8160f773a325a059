package apperr

import "errors"

var (
	ErrMalformedEvent   = errors.New("malformed event")
	ErrUnknownEvent     = errors.New("unknown event type")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrUnavailable      = errors.New("service unavailable")
)
