package pubsub

import "errors"

var (
	// ErrTransportUnavailable is returned when a publish or subscribe is attempted
	// without a live transport. The core never retries it.
	ErrTransportUnavailable = errors.New("transport unavailable")

	ErrEmptyChannel      = errors.New("channel name is required")
	ErrInvalidSubscriber = errors.New("subscriber is required")
)
