package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind classifies a transport failure.
type Kind int

const (
	// KindUnexpected is any failure that is neither of the others.
	KindUnexpected Kind = iota
	// KindNetworkUnreachable means no response was received (including timeouts).
	KindNetworkUnreachable
	// KindServerError means a response arrived with a failure status.
	KindServerError
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindNetworkUnreachable:
		return "network_unreachable"
	case KindServerError:
		return "server_error"
	default:
		return "unexpected"
	}
}

// Error is the single failure shape every Transport returns.
type Error struct {
	Kind   Kind
	Status int    // HTTP status for KindServerError
	Detail string // server-provided detail, when available
	Op     string // operation that failed, e.g. "send turn"
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindServerError:
		if e.Detail != "" {
			return fmt.Sprintf("%s: server error (HTTP %d): %s", e.Op, e.Status, e.Detail)
		}
		return fmt.Sprintf("%s: server error (HTTP %d)", e.Op, e.Status)
	case KindNetworkUnreachable:
		if e.Err != nil {
			return fmt.Sprintf("%s: network unreachable: %v", e.Op, e.Err)
		}
		return e.Op + ": network unreachable"
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: unexpected failure: %v", e.Op, e.Err)
		}
		return e.Op + ": unexpected failure"
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a *Error from err. Foreign errors are wrapped as KindUnexpected
// so callers can always switch on Kind.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: KindUnexpected, Op: "transport", Err: err}
}

// IsKind reports whether err is a transport error of kind k.
func IsKind(err error, k Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == k
}

func serverError(op string, status int, detail string) *Error {
	return &Error{Kind: KindServerError, Op: op, Status: status, Detail: detail}
}

func unexpected(op string, err error) *Error {
	return &Error{Kind: KindUnexpected, Op: op, Err: err}
}

// classify translates an error from building or performing a request.
// Anything that means "no response arrived" becomes KindNetworkUnreachable.
func classify(op string, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindNetworkUnreachable, Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindNetworkUnreachable, Op: op, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{Kind: KindNetworkUnreachable, Op: op, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// Url errors without a net cause are transport-level failures too
		// (connection reset, EOF before headers).
		return &Error{Kind: KindNetworkUnreachable, Op: op, Err: err}
	}
	return unexpected(op, err)
}
