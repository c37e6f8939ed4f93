// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Frontends wrap them with context; callers match with errors.Is.
var (
	// Container errors
	ErrUnsupported = errors.New("ingest: unsupported capture container")
	ErrFormat      = errors.New("ingest: malformed capture format")

	// Transport errors
	ErrIO       = errors.New("ingest: i/o failure")
	ErrProtocol = errors.New("ingest: malformed stream header")

	// Host errors
	ErrConfig = errors.New("ingest: invalid configuration")
	ErrClosed = errors.New("ingest: source closed")
)

// Kind maps err to a short label used in metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "other"
	}
}
