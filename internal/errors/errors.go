// Package errors defines the single error record every remotesql operation returns.
// It provides a structured approach to error handling with machine-readable error kinds,
// numeric categories and the HTTP status observed for the call. Records only carry
// primitive fields so they can cross package and API boundaries uniformly.
//
// Server-reported error types are passed through unchanged (they are never negative);
// locally synthesized records use the negative Type constants below so both spaces
// never collide.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// TransportFailure indicates DNS, connect, timeout or stream errors before any HTTP status is known.
	TransportFailure Kind = "transport_failure"
	// HTTPFailure indicates a non-success status whose body is not a parseable status envelope.
	HTTPFailure Kind = "http_failure"
	// ProtocolFailure indicates a parseable envelope with status FAIL.
	ProtocolFailure Kind = "protocol_failure"
	// ContractViolation indicates an OK envelope missing data the caller required.
	ContractViolation Kind = "contract_violation"
	// PreconditionFailed indicates invalid arguments rejected before any network call.
	PreconditionFailed Kind = "precondition_failed"
	// Cancelled indicates a transfer aborted through its cancellation token.
	Cancelled Kind = "cancelled"
	// IOFailure indicates a local I/O problem such as an exceeded in-memory limit.
	IOFailure Kind = "io_failure"
)

// Local numeric types.
const (
	TypeTransport    = -1
	TypeHTTP         = -2
	TypeUnspecified  = -3
	TypeContract     = -4
	TypePrecondition = -5
	TypeCancelled    = -6
	TypeIO           = -7
)

// Transport failure reasons.
const (
	ReasonTimeout = "timeout"
	ReasonDNS     = "dns"
	ReasonRefused = "refused"
	ReasonTLS     = "tls"
	ReasonOther   = "other"
)

// E is the error record.
type E struct {
	Kind        Kind
	Message     string
	Type        int
	HTTPStatus  int
	HTTPMessage string
	// StackTrace is the server-side diagnostic, if any. It is not part of Error().
	StackTrace string
	// Reason classifies transport failures.
	Reason string
	// Cause is the text of the underlying error.
	Cause string
}

func (e *E) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New returns a record of the given kind with its default numeric type.
func New(kind Kind, msg string) *E {
	return &E{Kind: kind, Message: msg, Type: defaultType(kind)}
}

// Newf is like New with formatting.
func Newf(kind Kind, format string, a ...any) *E {
	return New(kind, fmt.Sprintf(format, a...))
}

// Wrap returns a record of the given kind keeping the text of err as Cause.
func Wrap(kind Kind, msg string, err error) *E {
	e := New(kind, msg)
	if err != nil {
		e.Cause = err.Error()
	}
	return e
}

// Transport builds a transport failure record from a network error and the last
// HTTP status known to the caller.
func Transport(err error, status int, statusMessage string) *E {
	e := Wrap(TransportFailure, "unreachable", err)
	if err != nil {
		e.Message = "unreachable: " + err.Error()
	}
	e.HTTPStatus = status
	e.HTTPMessage = statusMessage
	e.Reason = Classify(err)
	return e
}

// HTTP builds an HTTP failure record with the synthesized message the server
// protocol expects when no envelope could be read.
func HTTP(status int, statusMessage string) *E {
	e := Newf(HTTPFailure, "HTTP FAILURE %d (%s)", status, statusMessage)
	e.HTTPStatus = status
	e.HTTPMessage = statusMessage
	return e
}

// Protocol builds a protocol failure record from server-supplied envelope fields.
func Protocol(errorType int, msg, stackTrace string, status int, statusMessage string) *E {
	return &E{
		Kind:        ProtocolFailure,
		Message:     msg,
		Type:        errorType,
		HTTPStatus:  status,
		HTTPMessage: statusMessage,
		StackTrace:  stackTrace,
	}
}

// Precondition builds a local precondition failure.
func Precondition(format string, a ...any) *E {
	return Newf(PreconditionFailed, format, a...)
}

// As returns the record in err's chain, if any.
func As(err error) (*E, bool) {
	var e *E
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a record of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// Normalize converts any error into a record. Records pass through unchanged;
// anything else becomes a record of the fallback kind.
func Normalize(err error, fallback Kind) *E {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(fallback, err.Error(), err)
}

func defaultType(kind Kind) int {
	switch kind {
	case TransportFailure:
		return TypeTransport
	case HTTPFailure:
		return TypeHTTP
	case ContractViolation:
		return TypeContract
	case PreconditionFailed:
		return TypePrecondition
	case Cancelled:
		return TypeCancelled
	case IOFailure:
		return TypeIO
	default:
		return TypeUnspecified
	}
}
