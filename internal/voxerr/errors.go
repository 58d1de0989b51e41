// Package voxerr classifies gateway errors into the kinds the supervisor and
// response pipeline need to decide *what to do* about a failure, not just
// that one occurred: retry the same provider, fail the session over to a
// fallback, reject the caller's input, or treat it as a programmer mistake
// that should page someone.
package voxerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the remedial action it calls for.
type Kind int

const (
	// KindUnknown is the zero value; Of returns it for errors with no
	// attached Kind.
	KindUnknown Kind = iota

	// KindTransientNetwork covers connection resets, timeouts, and 5xx
	// responses from a provider that is expected to recover — retry with
	// backoff, or fail over if a fallback exists.
	KindTransientNetwork

	// KindTerminalNetwork covers auth failures, 4xx responses, and DNS
	// failures that will not resolve by retrying — fail over immediately
	// if a fallback exists, otherwise surface to the caller.
	KindTerminalNetwork

	// KindBadInput covers malformed or unsupported input from the far end
	// of the pipeline (unsupported audio format, empty transcript) — reject
	// without retry.
	KindBadInput

	// KindProtocol covers a violation of an expected wire contract (a
	// provider's stream sent frames out of order, a malformed SSE event) —
	// the connection is no longer trustworthy and should be torn down.
	KindProtocol

	// KindResource covers local exhaustion: a full worker pool, a closed
	// channel being written to, context deadline exceeded on our own
	// budget — retry only after the resource frees up.
	KindResource

	// KindProgrammer covers invariant violations that indicate a bug:
	// nil provider, negative buffer size, a state machine transition that
	// should be unreachable. These should be logged loudly and never
	// silently retried.
	KindProgrammer
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindTerminalNetwork:
		return "terminal_network"
	case KindBadInput:
		return "bad_input"
	case KindProtocol:
		return "protocol"
	case KindResource:
		return "resource"
	case KindProgrammer:
		return "programmer"
	default:
		return "unknown"
	}
}

// kindError wraps an underlying error with a Kind, preserving Unwrap so
// errors.Is and errors.As still see through to the original cause.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *kindError) Unwrap() error { return e.err }

// Wrap attaches kind to err. Wrapping a nil error returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Newf builds a new error of the given kind directly, without wrapping an
// existing cause.
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// Of reports the Kind attached to err via Wrap or Newf, or KindUnknown if
// err carries none.
func Of(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// Is reports whether err (or any error it wraps) was classified as kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

// Retryable reports whether a retry of the same operation against the same
// provider is worth attempting. Transient network failures and local
// resource exhaustion are; everything else is not.
func Retryable(err error) bool {
	switch Of(err) {
	case KindTransientNetwork, KindResource:
		return true
	default:
		return false
	}
}

// Failoverable reports whether the fallback chain should be tried instead
// of, or after, retrying the same provider.
func Failoverable(err error) bool {
	switch Of(err) {
	case KindTransientNetwork, KindTerminalNetwork:
		return true
	default:
		return false
	}
}
