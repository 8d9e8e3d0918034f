package protocol

import (
	"errors"
	"fmt"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Routing/rule layer.
	ErrValidation   = "E_VALIDATION"
	ErrPermission   = "E_PERMISSION"
	ErrCapacity     = "E_CAPACITY"
	ErrResource     = "E_RESOURCE"
	ErrNotFound     = "E_NOT_FOUND"
	ErrConnectivity = "E_CONNECTIVITY"
	ErrConflict     = "E_CONFLICT"
	ErrRateLimit    = "E_RATE_LIMIT"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrValidation:      {},
	ErrPermission:      {},
	ErrCapacity:        {},
	ErrResource:        {},
	ErrNotFound:        {},
	ErrConnectivity:    {},
	ErrConflict:        {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is a rule-layer failure carrying a stable wire code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Is matches any *Error with the same code, so errors.Is(err, &Error{Code: ErrCapacity}) works
// through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error   { return Errorf(ErrValidation, format, args...) }
func Permission(format string, args ...any) *Error   { return Errorf(ErrPermission, format, args...) }
func Capacity(format string, args ...any) *Error     { return Errorf(ErrCapacity, format, args...) }
func Resource(format string, args ...any) *Error     { return Errorf(ErrResource, format, args...) }
func NotFound(format string, args ...any) *Error     { return Errorf(ErrNotFound, format, args...) }
func Connectivity(format string, args ...any) *Error { return Errorf(ErrConnectivity, format, args...) }
func Conflict(format string, args ...any) *Error     { return Errorf(ErrConflict, format, args...) }

// CodeOf returns the wire code for err. Errors that did not originate in the rule layer are
// reported as E_INTERNAL.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrInternal
}

// HasCode reports whether err (or anything it wraps) carries code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
