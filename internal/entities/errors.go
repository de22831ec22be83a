package entities

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindUpstream      ErrorKind = "upstream"
	KindPersistence   ErrorKind = "persistence"
	KindNotConfigured ErrorKind = "not_configured"
)

// Error codes carried by validation errors.
const (
	CodeUnknownIntegrationKind = "unknown_integration_kind"
	CodeTooManyAttachments     = "too_many_attachments"
	CodeMalformedCredentials   = "malformed_credentials"
	CodeInstanceAlreadyBound   = "instance_already_bound"
	CodeInvalidPayload         = "invalid_payload"
)

// Error is the typed error surfaced at the HTTP boundary.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and, when set, the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

var (
	ErrUnknownIntegrationKind = &Error{Kind: KindValidation, Code: CodeUnknownIntegrationKind, Message: "unknown integration kind"}
	ErrTooManyAttachments     = &Error{Kind: KindValidation, Code: CodeTooManyAttachments, Message: "you can only attach one file"}
	ErrNotConfigured          = &Error{Kind: KindNotConfigured, Message: "messaging client is not configured"}
)

func NewValidationError(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewUpstreamError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUpstream, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewPersistenceError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindPersistence, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Untyped errors are
// treated as persistence failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}
