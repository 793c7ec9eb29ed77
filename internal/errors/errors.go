// Package errors provides the error taxonomy shared by the discovery pipeline.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind is the pipeline-level classification of an error.
type Kind int

const (
	// KindUnknown is an uncategorized error.
	KindUnknown Kind = iota
	// SourceUnavailable means a source unit could not be fetched or opened.
	SourceUnavailable
	// UnsupportedSource means no parser can handle the content.
	UnsupportedSource
	// ParseAmbiguous marks conflicting evidence. It is recorded, never returned.
	ParseAmbiguous
	// GenerationInputInvalid means a tool definition lacks mandatory fields.
	GenerationInputInvalid
	// Canceled means the run was canceled or hit its deadline.
	Canceled
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case SourceUnavailable:
		return "source_unavailable"
	case UnsupportedSource:
		return "unsupported_source"
	case ParseAmbiguous:
		return "parse_ambiguous"
	case GenerationInputInvalid:
		return "generation_input_invalid"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Reason refines SourceUnavailable into the failure that caused it.
type Reason int

const (
	ReasonNone Reason = iota
	Network
	Timeout
	RateLimit
	ServerError
	ClientError
	Parse
	Encoding
)

// String returns the string representation of Reason.
func (r Reason) String() string {
	switch r {
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case RateLimit:
		return "rate_limit"
	case ServerError:
		return "server_error"
	case ClientError:
		return "client_error"
	case Parse:
		return "parse"
	case Encoding:
		return "encoding"
	default:
		return "none"
	}
}

// IsTransient reports whether failures with this reason may succeed on retry.
func (r Reason) IsTransient() bool {
	switch r {
	case Network, Timeout, RateLimit, ServerError:
		return true
	default:
		return false
	}
}

// Error is a categorized pipeline error.
type Error struct {
	Kind       Kind
	Reason     Reason
	Op         string
	Locator    string
	Message    string
	StatusCode int
	Err        error
	Retryable  bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reason != ReasonNone {
		b.WriteString("(" + e.Reason.String() + ")")
	}
	if e.Op != "" {
		b.WriteString(" during " + e.Op)
	}
	if e.Locator != "" {
		b.WriteString(" on " + e.Locator)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrSourceUnavailable      = &Error{Kind: SourceUnavailable}
	ErrUnsupportedSource      = &Error{Kind: UnsupportedSource}
	ErrParseAmbiguous         = &Error{Kind: ParseAmbiguous}
	ErrGenerationInputInvalid = &Error{Kind: GenerationInputInvalid}
	ErrCanceled               = &Error{Kind: Canceled}
)

// New creates an Error of the given kind.
func New(kind Kind, op, locator, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Locator: locator,
		Message: message,
		Err:     cause,
	}
}

// Unavailable creates a SourceUnavailable error with a reason.
func Unavailable(reason Reason, op, locator string, cause error) *Error {
	return &Error{
		Kind:      SourceUnavailable,
		Reason:    reason,
		Op:        op,
		Locator:   locator,
		Err:       cause,
		Retryable: reason.IsTransient(),
	}
}

// Unsupported creates an UnsupportedSource error.
func Unsupported(locator, message string) *Error {
	return New(UnsupportedSource, "parse", locator, message, nil)
}

// InvalidInput creates a GenerationInputInvalid error.
func InvalidInput(locator, message string) *Error {
	return New(GenerationInputInvalid, "generate", locator, message, nil)
}

// NewParseError creates a non-retryable SourceUnavailable error for content that failed to parse.
func NewParseError(locator, op string, cause error) *Error {
	return Unavailable(Parse, op, locator, cause)
}

// NewCanceledError creates a Canceled error.
func NewCanceledError(locator, op string) *Error {
	return New(Canceled, op, locator, "operation canceled", context.Canceled)
}

// Categorize converts an arbitrary error into an *Error.
func Categorize(err error, locator string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if errors.Is(err, context.Canceled) {
		return NewCanceledError(locator, "request")
	}

	if isTimeout(err) {
		return Unavailable(Timeout, "request", locator, err)
	}

	if isNetworkError(err) {
		return Unavailable(Network, "request", locator, err)
	}

	return New(KindUnknown, "request", locator, err.Error(), err)
}

// CategorizeHTTPStatus returns an error for a non-success HTTP status, or nil.
func CategorizeHTTPStatus(statusCode int, locator string) *Error {
	var reason Reason
	switch {
	case statusCode == 429:
		reason = RateLimit
	case statusCode >= 500:
		reason = ServerError
	case statusCode >= 400:
		reason = ClientError
	default:
		return nil
	}
	e := Unavailable(reason, "request", locator, nil)
	e.StatusCode = statusCode
	e.Message = fmt.Sprintf("status %d", statusCode)
	return e
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp")
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}

	return isTimeout(err) || isNetworkError(err)
}

// KindOf extracts the Kind from err.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf extracts the Reason from err.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}

// StatusCode extracts the HTTP status code from err.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As from the standard library.
func As(err error, target any) bool { return errors.As(err, target) }
