// internal/api/middleware.go
package api

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Corphon/ParallelTimelines/internal/utils"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// RateLimiter 按客户端键维护令牌桶
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// Visitor 一个客户端的限流状态
type Visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流器，rps 为每秒补充的令牌数
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		visitors: make(map[string]*Visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		stop:     make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// cleanup 定期移除长时间没有请求的客户端
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, visitor := range rl.visitors {
		if now.Sub(visitor.lastSeen) > rl.idleTTL {
			delete(rl.visitors, key)
		}
	}
}

// Close 停止清理协程
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	visitor, exists := rl.visitors[key]
	if !exists {
		visitor = &Visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = visitor
	}
	visitor.lastSeen = time.Now()
	return visitor.limiter
}

// Allow 检查客户端是否还能发起请求
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

// Remaining 返回客户端当前剩余的令牌数
func (rl *RateLimiter) Remaining(key string) int {
	tokens := rl.limiter(key).Tokens()
	if tokens < 0 {
		return 0
	}
	return int(math.Floor(tokens))
}

// Middleware 按 keyFunc 限流
func (rl *RateLimiter) Middleware(keyFunc func(*gin.Context) string, response *ResponseHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)

		allowed := rl.Allow(key)
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", rl.burst))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", rl.Remaining(key)))

		if !allowed {
			response.TooManyRequests(c, "请求过于频繁，请稍后再试")
			return
		}

		c.Next()
	}
}

// RateLimitByIP 按客户端IP限流
func RateLimitByIP(rl *RateLimiter, response *ResponseHelper) gin.HandlerFunc {
	return rl.Middleware(func(c *gin.Context) string {
		return c.ClientIP()
	}, response)
}

// RequestIDMiddleware 为每个请求分配ID，优先沿用客户端传入的ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// routeLabel 未匹配路由统一归类，避免指标标签膨胀
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// MetricsMiddleware 记录请求耗时
func MetricsMiddleware(metrics *utils.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.RecordAPIRequest(c.Request.Method, routeLabel(c), c.Writer.Status(), time.Since(start))
	}
}

// LoggerMiddleware 结构化请求日志
func LoggerMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(requestIDKey),
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("请求处理失败", fields)
		case status >= 400:
			logger.Warn("请求被拒绝", fields)
		default:
			logger.Debug("请求完成", fields)
		}
	}
}
