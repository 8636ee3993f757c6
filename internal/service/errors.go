package service

import (
	"errors"
	"fmt"
	"net/http"

	"mind-namo-go/internal/protocol"
)

// 错误码，同时作为中继 error 事件的 code 字段。
const (
	CodeInvalidInput = protocol.CodeInvalidInput
	CodeForbidden    = protocol.CodeForbidden
	CodeNotFound     = protocol.CodeNotFound
	CodeRoomFull     = protocol.CodeRoomFull
	CodeInternal     = protocol.CodeInternal
)

// AppError 是业务层返回给调用方的错误，携带错误码和用户可见的消息。
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func internalError(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

// ErrorCode 返回错误码，非 AppError 时返回 CodeInternal。
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// ErrorMessage 返回用户可见的错误消息。
func ErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// HTTPStatus 把错误码映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRoomFull:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
