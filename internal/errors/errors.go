// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 错误分类，API 层据此选择HTTP状态码
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation_error"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeError       ErrorType = "processing_error" // 模型返回无法使用、提取失败等
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeUnavailable ErrorType = "unavailable" // LLM未配置或提供商不可达
)

// defaultCodes 未调用 WithCode 时使用的错误代码
var defaultCodes = map[ErrorType]string{
	ErrorTypeValidation:  "VALIDATION_ERROR",
	ErrorTypeNotFound:    "NOT_FOUND",
	ErrorTypeError:       "PROCESSING_ERROR",
	ErrorTypeConflict:    "CONFLICT",
	ErrorTypeTimeout:     "TIMEOUT",
	ErrorTypeUnavailable: "SERVICE_UNAVAILABLE",
}

// AppError 带分类和错误代码的应用错误
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithCode 覆盖默认错误代码，例如 STORY_NOT_FOUND
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// NewAppError 创建 AppError，错误代码取该类型的默认值
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	code, ok := defaultCodes[errType]
	if !ok {
		code = "UNKNOWN_ERROR"
	}
	return &AppError{Type: errType, Message: message, Err: originalError, Code: code}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

func NewTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, originalError)
}

func NewUnavailableError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnavailable, message, originalError)
}

// asAppError 错误链中最外层的 AppError
func asAppError(err error) (*AppError, bool) {
	var appError *AppError
	ok := errors.As(err, &appError)
	return appError, ok
}

// TypeOf 普通错误视为处理错误
func TypeOf(err error) ErrorType {
	if appError, ok := asAppError(err); ok {
		return appError.Type
	}
	return ErrorTypeError
}

// CodeOf 普通错误返回 PROCESSING_ERROR
func CodeOf(err error) string {
	if appError, ok := asAppError(err); ok {
		return appError.Code
	}
	return defaultCodes[ErrorTypeError]
}

func isType(err error, t ErrorType) bool {
	appError, ok := asAppError(err)
	return ok && appError.Type == t
}

func IsValidationError(err error) bool  { return isType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool    { return isType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool    { return isType(err, ErrorTypeConflict) }
func IsTimeoutError(err error) bool     { return isType(err, ErrorTypeTimeout) }
func IsUnavailableError(err error) bool { return isType(err, ErrorTypeUnavailable) }

// WrapError 给错误加上下文。已是 AppError 时保留其分类与代码，否则按 errType 分类
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}
	if appError, ok := asAppError(err); ok {
		return &AppError{
			Type:    appError.Type,
			Message: message + ": " + appError.Message,
			Err:     err,
			Code:    appError.Code,
		}
	}
	return NewAppError(errType, message, err)
}
