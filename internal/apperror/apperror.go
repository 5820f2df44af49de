// Package apperror 许可证与账务的错误类型，code 即返回给前端的错误码
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindStateConflict Kind = "state_conflict"
	KindNotFound      Kind = "not_found"
	KindDependency    Kind = "dependency"
	KindEntitlement   Kind = "entitlement"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindInternal      Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:    http.StatusBadRequest,
	KindStateConflict: http.StatusBadRequest,
	KindNotFound:      http.StatusNotFound,
	KindDependency:    http.StatusBadRequest,
	KindEntitlement:   http.StatusForbidden,
	KindUnauthorized:  http.StatusUnauthorized,
	KindForbidden:     http.StatusForbidden,
	KindInternal:      http.StatusInternalServerError,
}

type Error struct {
	kind    Kind
	code    string
	details map[string]any
	cause   error
}

func New(kind Kind, code string) *Error {
	return &Error{kind: kind, code: code}
}

func Wrap(kind Kind, code string, err error) *Error {
	return &Error{kind: kind, code: code, cause: err}
}

func Validation(code string) *Error { return New(KindValidation, code) }
func Conflict(code string) *Error { return New(KindStateConflict, code) }
func NotFound(code string) *Error { return New(KindNotFound, code) }
func Unauthorized(code string) *Error { return New(KindUnauthorized, code) }
func Forbidden(code string) *Error { return New(KindForbidden, code) }
func Dependency(code string, err error) *Error {
	return Wrap(KindDependency, code, err)
}
func Internal(err error) *Error {
	return Wrap(KindInternal, "internal_error", err)
}

func (e *Error) Kind() Kind {
	if e == nil {
		return KindInternal
	}
	return e.kind
}

func (e *Error) Code() string {
	if e == nil {
		return ""
	}
	return e.code
}

func (e *Error) Details() map[string]any {
	if e == nil {
		return nil
	}
	return e.details
}

// With 附加的字段与 error 一起返回
func (e *Error) With(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind()]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.code, e.cause)
	}
	return e.code
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

func HasCode(err error, code string) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Body 内部错误不返回原因
func Body(err error) (int, map[string]any) {
	typed := As(err)
	if typed == nil {
		typed = Internal(err)
	}
	body := map[string]any{"error": typed.code}
	if typed.kind != KindInternal {
		for k, v := range typed.details {
			body[k] = v
		}
	}
	return typed.HTTPStatus(), body
}
