package sse

import "errors"

var (
	// ErrStreamingNotSupported is returned when the response writer doesn't support streaming.
	ErrStreamingNotSupported = errors.New("streaming not supported")

	// ErrConnectionLimitExceeded is returned when too many streams are open.
	ErrConnectionLimitExceeded = errors.New("connection limit exceeded")
)
