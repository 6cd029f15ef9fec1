package core

import (
	"errors"
)

var (
	// ErrUnknownDialect is returned by Open when no backend is registered
	// for the requested driver name.
	ErrUnknownDialect = errors.New("unknown dialect")
	// ErrConnectionFailed is returned when the initial connection to the
	// backend cannot be established.
	ErrConnectionFailed = errors.New("connection failed")
)
