package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrNoFaceDetected = errors.New("no face detected")
	ErrConflict       = errors.New("conflict")
	ErrTimeout        = errors.New("timeout")
	ErrBusUnavailable = errors.New("bus unavailable")
	ErrBusReset       = errors.New("bus reset")
	ErrWorkerError    = errors.New("worker error")
	ErrBadReply       = errors.New("bad reply")
	ErrInternal       = errors.New("internal error")
)

// Stable kind names used as prefixes in reply error strings.
const (
	KindInvalidInput   = "InvalidInput"
	KindNotFound       = "NotFound"
	KindNoFaceDetected = "NoFaceDetected"
	KindConflict       = "Conflict"
	KindTimeout        = "Timeout"
	KindBusUnavailable = "BusUnavailable"
	KindBusReset       = "BusReset"
	KindWorkerError    = "WorkerError"
	KindInternal       = "Internal"
)

var kindToSentinel = map[string]error{
	KindInvalidInput:   ErrInvalidInput,
	KindNotFound:       ErrNotFound,
	KindNoFaceDetected: ErrNoFaceDetected,
	KindConflict:       ErrConflict,
	KindTimeout:        ErrTimeout,
	KindBusUnavailable: ErrBusUnavailable,
	KindBusReset:       ErrBusReset,
	KindWorkerError:    ErrWorkerError,
	KindInternal:       ErrInternal,
}

// Kind returns the stable kind name for err. Unrecognized errors are Internal.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNoFaceDetected):
		return KindNoFaceDetected
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrBusUnavailable):
		return KindBusUnavailable
	case errors.Is(err, ErrBusReset):
		return KindBusReset
	case errors.Is(err, ErrWorkerError):
		return KindWorkerError
	default:
		return KindInternal
	}
}

// E wraps sentinel with a formatted detail message.
// The sentinel stays matchable with errors.Is.
func E(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// EncodeWireError renders err as "<Kind>: <detail>" for the reply envelope.
// The detail is the human-readable tail of the error chain, without the
// sentinel text duplicated at the front.
func EncodeWireError(err error) string {
	if err == nil {
		return ""
	}
	kind := Kind(err)
	detail := err.Error()
	if sentinel, ok := kindToSentinel[kind]; ok {
		// Strip a leading "<sentinel>: " so the wire string reads
		// "InvalidInput: missing tenant_id", not "InvalidInput: invalid input: ...".
		detail = strings.TrimPrefix(detail, sentinel.Error()+": ")
		if detail == sentinel.Error() {
			detail = ""
		}
	}
	if detail == "" {
		return kind
	}
	return kind + ": " + detail
}

// DecodeWireError parses a "<Kind>: <detail>" reply string back into a typed
// error. Unknown prefixes decode as WorkerError carrying the full string.
func DecodeWireError(s string) error {
	if s == "" {
		return ErrWorkerError
	}
	kind, detail, found := strings.Cut(s, ":")
	if sentinel, ok := kindToSentinel[strings.TrimSpace(kind)]; ok {
		detail = strings.TrimSpace(detail)
		if !found || detail == "" {
			return sentinel
		}
		return fmt.Errorf("%w: %s", sentinel, detail)
	}
	return fmt.Errorf("%w: %s", ErrWorkerError, s)
}
