// internal/api/response_helpers.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/ParallelTimelines/internal/errors"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	} else {
		response.Message = "资源创建成功"
	}

	c.JSON(http.StatusCreated, response)
}

// sanitizeErrorMessage 去掉可能泄露敏感信息的错误消息
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "secret", "token", "password"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}

	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	response := &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.AbortWithStatusJSON(statusCode, response)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, code, message string, details ...string) {
	if code == "" {
		code = ErrorNotFound
	}
	rh.Error(c, http.StatusNotFound, code, message, details...)
}

// InvalidChoice 422错误响应
func (rh *ResponseHelper) InvalidChoice(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusUnprocessableEntity, ErrorChoiceInvalid, message, details...)
}

// TooManyRequests 429错误响应
func (rh *ResponseHelper) TooManyRequests(c *gin.Context, message string) {
	rh.Error(c, http.StatusTooManyRequests, ErrorRateLimitExceeded, message)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// FromError 按应用错误类型选择响应
func (rh *ResponseHelper) FromError(c *gin.Context, err error) {
	errType, _ := apperrors.TypeOf(err)

	switch errType {
	case apperrors.ErrorTypeNotFound:
		rh.NotFound(c, resourceNotFoundCode(apperrors.CodeOf(err)), err.Error())
	case apperrors.ErrorTypeInvalidChoice:
		rh.InvalidChoice(c, err.Error())
	case apperrors.ErrorTypeValidation:
		rh.BadRequest(c, err.Error())
	default:
		rh.InternalError(c, "处理请求失败", err.Error())
	}
}

// resourceNotFoundCode 只透出已知的资源代码
func resourceNotFoundCode(code string) string {
	switch code {
	case ErrorSessionNotFound, ErrorTimelineNotFound, ErrorScenarioNotFound:
		return code
	default:
		return ErrorNotFound
	}
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	if requestID := c.GetString(requestIDKey); requestID != "" {
		return requestID
	}
	return ""
}
