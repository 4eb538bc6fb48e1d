package gist

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/convosync/convosync/internal/blob"
)

// classifyTransport maps a round-trip failure to the blob taxonomy.
// Anything that never produced an HTTP response is a network problem:
// DNS, refused connections, timeouts, cancelled contexts.
func classifyTransport(op string, err error) error {
	var urlErr *url.Error
	switch {
	case errors.As(err, &urlErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		isNetError(err):
		return blob.NewError(blob.KindNetwork, op, err)
	default:
		return blob.NewError(blob.KindUnknown, op, err)
	}
}

func isNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

// classifyStatus maps a non-success HTTP response to the blob taxonomy.
// The response body is not consumed here; callers drain it.
func classifyStatus(op string, resp *http.Response) error {
	err := fmt.Errorf("unexpected status %s", resp.Status)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return blob.NewError(blob.KindAuth, op, err)

	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimited(op, resp, err)

	case resp.StatusCode == http.StatusForbidden:
		// GitHub reports primary rate limiting as 403 with an
		// exhausted quota header; any other 403 is an auth problem
		// (token lacks the gist scope, for instance).
		if resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != "" {
			return rateLimited(op, resp, err)
		}
		return blob.NewError(blob.KindAuth, op, err)

	case resp.StatusCode == http.StatusNotFound:
		return blob.NewError(blob.KindNotFound, op, err)

	case resp.StatusCode >= 500:
		return blob.NewError(blob.KindNetwork, op, err)

	default:
		return blob.NewError(blob.KindUnknown, op, err)
	}
}

// rateLimited builds a KindRateLimited error carrying the service's
// backoff hint when one is present.
func rateLimited(op string, resp *http.Response, err error) error {
	be := blob.NewError(blob.KindRateLimited, op, err)
	if after := retryAfterHint(resp); after > 0 {
		be.RetryAfter = after
	}
	return be
}

// retryAfterHint reads Retry-After (seconds) or X-RateLimit-Reset (epoch
// seconds) and converts to a duration. Returns 0 when neither is usable.
func retryAfterHint(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
			if until := time.Until(time.Unix(reset, 0)); until > 0 {
				return until
			}
		}
	}
	return 0
}
