package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/hupe1980/meepo/core"
)

// StatusFunc extracts an HTTP status code from a backend specific error.
type StatusFunc func(err error) (int, bool)

// TransientStatus reports whether an HTTP status denotes a retryable failure:
// request timeout, conflict, rate limiting and every 5xx.
func TransientStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusConflict,
		code == http.StatusTooManyRequests,
		code >= 500:
		return true
	}
	return false
}

// Classify maps a backend error into the provider taxonomy.
//
//   - errors already carrying a Kind pass through
//   - cancellation or expiry of the caller's context is returned wrapped so
//     errors.Is(err, context.Canceled) still holds and nothing is retried
//   - expiry of the per-call timeout, network failures and transient statuses
//     become transient provider errors
//   - everything else is permanent
func Classify(parent context.Context, op string, err error, status StatusFunc) error {
	if err == nil {
		return nil
	}
	if core.KindOf(err) != "" {
		return err
	}
	if parent != nil && parent.Err() != nil {
		return fmt.Errorf("%s: %w", op, parent.Err())
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.TransientProviderError(op, err)
	}
	if status != nil {
		if code, ok := status(err); ok && code > 0 {
			var e *core.Error
			if TransientStatus(code) {
				e = core.TransientProviderError(op, err)
			} else {
				e = core.PermanentProviderError(op, err)
			}
			return e.WithContext("status", code)
		}
	}
	if isNetworkError(err) {
		return core.TransientProviderError(op, err)
	}
	return core.PermanentProviderError(op, err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// StatusError is a minimal error carrying an HTTP status, used by the scripted
// provider and by adapters translating native errors.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Msg)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

// StatusOf extracts the status of any error exposing StatusCode() int.
func StatusOf(err error) (int, bool) {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}
