package upstream

import "fmt"

// Kind classifies an upstream failure. Only rate-limited and server-side
// failures are worth retrying; client errors are surfaced immediately.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindServer      Kind = "server"
	KindClient      Kind = "client"
)

// Error is a typed upstream failure. Excerpt holds at most excerptLimit
// characters of the response body; full bodies are never retained.
type Error struct {
	Kind    Kind
	Status  int
	Excerpt string
	wrapped error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindTimeout:
		return "upstream: request timed out"
	case e.Excerpt != "":
		return fmt.Sprintf("upstream: %s (status %d): %s", e.Kind, e.Status, e.Excerpt)
	default:
		return fmt.Sprintf("upstream: %s (status %d)", e.Kind, e.Status)
	}
}

func (e *Error) Unwrap() error { return e.wrapped }

// Retryable reports whether another attempt could reasonably succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindServer
}
