package blob

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies remote blob failures for the orchestrator's retry and
// state-machine decisions.
type Kind int

const (
	// KindUnknown covers failures with no better classification.
	KindUnknown Kind = iota
	// KindAuth means the credential is invalid or expired. Not retried
	// automatically; surfaced for user re-authentication.
	KindAuth
	// KindRateLimited means the service refused the request for quota
	// reasons. Carries a retry-after hint when the transport provides one.
	KindRateLimited
	// KindNetwork is a transient transport failure. Drives the offline
	// state rather than consuming retries.
	KindNetwork
	// KindParse means the remote object exists but its content does not
	// match the expected schema. Never retried blindly.
	KindParse
	// KindNotFound means the backup object does not exist. Pull absorbs
	// this into an empty snapshot; Push treats it as create.
	KindNotFound
	// KindConfigMissing means no credential is set.
	KindConfigMissing
	// KindStorage means a local I/O failure inside the client, e.g.
	// reading or writing the credential file.
	KindStorage
)

// String returns the taxonomy name for the kind.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "AUTH_FAILED"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindNetwork:
		return "NETWORK"
	case KindParse:
		return "PARSE_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConfigMissing:
		return "CONFIG_MISSING"
	case KindStorage:
		return "STORAGE_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified remote blob failure.
type Error struct {
	// Kind is the taxonomy classification.
	Kind Kind

	// Op is the operation that failed (e.g. "pull", "push", "login").
	Op string

	// RetryAfter is the service-provided backoff hint for
	// KindRateLimited, zero when the transport gave none.
	RetryAfter time.Duration

	// Err is the underlying error, may be nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("blob.%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("blob.%s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification from err, or KindUnknown when err is
// not a blob error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// RetryAfterOf extracts the rate-limit backoff hint, zero when absent.
func RetryAfterOf(err error) time.Duration {
	var be *Error
	if errors.As(err, &be) {
		return be.RetryAfter
	}
	return 0
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
