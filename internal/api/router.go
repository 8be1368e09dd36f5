// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Corphon/ParallelTimelines/internal/config"
	"github.com/Corphon/ParallelTimelines/internal/di"
	"github.com/Corphon/ParallelTimelines/internal/services"
	"github.com/Corphon/ParallelTimelines/internal/utils"
)

// RouterOptions 路由依赖
type RouterOptions struct {
	Config      *config.Config
	Sessions    *services.SessionService
	Exports     *services.ExportService
	WebSocket   *WebSocketManager
	RateLimiter *RateLimiter
	Logger      *utils.Logger
	Metrics     *utils.Metrics
	Gatherer    prometheus.Gatherer
}

// SetupRouter 从依赖注入容器获取服务并配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	container := di.GetContainer()

	sessions, err := di.Resolve[*services.SessionService](container, "sessions")
	if err != nil {
		return nil, fmt.Errorf("会话服务未正确初始化: %w", err)
	}

	wsManager, err := di.Resolve[*WebSocketManager](container, "websocket")
	if err != nil {
		return nil, fmt.Errorf("WebSocket 管理器未正确初始化: %w", err)
	}

	limiter, err := di.Resolve[*RateLimiter](container, "ratelimit")
	if err != nil {
		return nil, fmt.Errorf("限流器未正确初始化: %w", err)
	}

	exports, err := di.Resolve[*services.ExportService](container, "exports")
	if err != nil {
		return nil, fmt.Errorf("导出服务未正确初始化: %w", err)
	}

	return NewRouter(RouterOptions{
		Config:      config.GetCurrentConfig(),
		Sessions:    sessions,
		Exports:     exports,
		WebSocket:   wsManager,
		RateLimiter: limiter,
		Logger:      utils.GetLogger(),
		Metrics:     utils.GetMetrics(),
		Gatherer:    prometheus.DefaultGatherer,
	}), nil
}

// NewRouter 按给定依赖构造路由
func NewRouter(opts RouterOptions) *gin.Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = utils.GetMetrics()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.WebSocket == nil {
		opts.WebSocket = NewWebSocketManager(opts.Logger)
		opts.Sessions.Subscribe(opts.WebSocket)
	}
	if opts.Exports == nil {
		opts.Exports = services.NewExportService(opts.Sessions, nil)
	}
	if opts.RateLimiter == nil {
		opts.RateLimiter = NewRateLimiter(cfg.Limit.RPS, cfg.Limit.Burst)
	}

	wsHandler := NewWebSocketHandler(opts.Sessions, opts.WebSocket, cfg.Origins(), opts.Logger)
	handler := NewHandler(opts.Sessions, opts.Exports, opts.WebSocket, wsHandler)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(opts.Logger))
	r.Use(MetricsMiddleware(opts.Metrics))
	r.Use(corsMiddleware(cfg))

	r.NoRoute(func(c *gin.Context) {
		handler.Response.NotFound(c, ErrorNotFound, "接口不存在: "+c.Request.URL.Path)
	})

	// 指标
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	// WebSocket 支持
	r.GET("/ws/sessions/:id", handler.SessionWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(RateLimitByIP(opts.RateLimiter, handler.Response))
	{
		api.GET("/health", handler.Health)

		// ===============================
		// 故事图
		// ===============================
		storyGroup := api.Group("/story")
		{
			storyGroup.GET("", handler.GetStory)
			storyGroup.GET("/scenarios/:key", handler.GetScenario)
		}

		// ===============================
		// 会话与时间线
		// ===============================
		sessionsGroup := api.Group("/sessions")
		{
			sessionsGroup.POST("", handler.CreateSession)
			sessionsGroup.GET("/:id", handler.GetSession)
			sessionsGroup.DELETE("/:id", handler.DeleteSession)
			sessionsGroup.POST("/:id/collapse", handler.CollapseAll)
			sessionsGroup.GET("/:id/export", handler.ExportSession)

			timelinesGroup := sessionsGroup.Group("/:id/timelines/:tid")
			{
				timelinesGroup.POST("/choices", handler.MakeChoice)
				timelinesGroup.DELETE("", handler.ResetTimeline)
			}
		}

		// WebSocket 管理路由
		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return r
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}
	if cfg.AllowAllOrigins() {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Origins()
	}
	return cors.New(corsConfig)
}
