// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest        = "BAD_REQUEST"
	ErrorNotFound          = "NOT_FOUND"
	ErrorInternalError     = "INTERNAL_ERROR"
	ErrorRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

	// 会话与时间线相关错误
	ErrorSessionNotFound  = "SESSION_NOT_FOUND"
	ErrorTimelineNotFound = "TIMELINE_NOT_FOUND"
	ErrorChoiceInvalid    = "CHOICE_INVALID"

	// 故事图相关错误
	ErrorScenarioNotFound = "SCENARIO_NOT_FOUND"
)
