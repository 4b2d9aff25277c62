package core

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// ErrorCode is the stable, consumer-visible code of an Error.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "validation_error"
	CodeNotFound          ErrorCode = "not_found"
	CodeForbidden         ErrorCode = "forbidden"
	CodeInvalidTransition ErrorCode = "invalid_transition"
	CodeInternal          ErrorCode = "internal"
)

// Error is the typed application error returned to consumers.
type Error struct {
	Code    ErrorCode
	Message string
}

func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func (err *Error) Error() string {
	return err.Message
}

// ErrorCodeOf returns the code of the Error at the root of err, CodeInternal if there is none.
func ErrorCodeOf(err error) ErrorCode {
	if appErr, ok := errors.Cause(err).(*Error); ok {
		return appErr.Code
	}
	switch errors.Cause(err).(type) {
	case *ValidationError, validator.ValidationErrors:
		return CodeValidation
	}
	return CodeInternal
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
