// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation_error"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeInvalidChoice ErrorType = "invalid_choice"
	ErrorTypeError         ErrorType = "processing_error"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewInvalidChoiceError 创建无效选择错误
func NewInvalidChoiceError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeInvalidChoice, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// WithCode 覆盖错误代码，用于区分同类型下的不同资源
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// CodeOf 返回错误链中第一个 AppError 的错误代码
func CodeOf(err error) string {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Code
	}
	return ""
}

// TypeOf 返回错误链中第一个 AppError 的类型
func TypeOf(err error) (ErrorType, bool) {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type, true
	}
	return "", false
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	t, ok := TypeOf(err)
	return ok && t == ErrorTypeValidation
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	t, ok := TypeOf(err)
	return ok && t == ErrorTypeNotFound
}

// IsInvalidChoiceError 检查是否为无效选择错误
func IsInvalidChoiceError(err error) bool {
	t, ok := TypeOf(err)
	return ok && t == ErrorTypeInvalidChoice
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeInvalidChoice:
		return "INVALID_CHOICE"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 已经是 AppError，保留原类型
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
