package runners

import "net/http"

// Kind is the error taxonomy surfaced to callers.
type Kind string

const (
	KindUnauthenticated  Kind = "UNAUTHENTICATED"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindInvalidArgument  Kind = "INVALID_ARGUMENT"
	KindAlreadyExists    Kind = "ALREADY_EXISTS"
	KindNotFound         Kind = "NOT_FOUND"
)

var kindStatus = map[Kind]int{
	KindUnauthenticated:  http.StatusUnauthorized,
	KindPermissionDenied: http.StatusForbidden,
	KindInvalidArgument:  http.StatusBadRequest,
	KindAlreadyExists:    http.StatusConflict,
	KindNotFound:         http.StatusNotFound,
}

// Error is an application-layer error that can be mapped to an HTTP response.
// Errors of any other type are internal failures of a collaborator.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func newError(kind Kind, message string, details map[string]any) *Error {
	return &Error{
		Kind:    kind,
		Status:  kindStatus[kind],
		Code:    string(kind),
		Message: message,
		Details: details,
	}
}

func alreadyExists(field, message string) *Error {
	return newError(KindAlreadyExists, message, map[string]any{"field": field})
}
