// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/ParallelTimelines/internal/api"
	"github.com/Corphon/ParallelTimelines/internal/config"
	"github.com/Corphon/ParallelTimelines/internal/di"
	"github.com/Corphon/ParallelTimelines/internal/services"
	"github.com/Corphon/ParallelTimelines/internal/storage"
	"github.com/Corphon/ParallelTimelines/internal/story"
	"github.com/Corphon/ParallelTimelines/internal/utils"
)

// Server 可启动和优雅关闭的服务器
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用实例
type App struct {
	config   *config.Config
	router   http.Handler
	server   Server
	stopChan chan os.Signal
}

var (
	instance   *App
	instanceMu sync.Mutex
)

// GetApp 获取全局应用实例
func GetApp() *App {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// InitServices 按依赖顺序创建服务并注册到容器
func InitServices(cfg *config.Config) error {
	container := di.GetContainer()
	logger := utils.GetLogger()

	graph, err := story.LoadFile(cfg.Story.File)
	if err != nil {
		return fmt.Errorf("加载故事图失败: %w", err)
	}
	container.Register("story", graph)
	logger.Info("✅ 故事图加载完成", map[string]interface{}{
		"nodes":    graph.Len(),
		"outcomes": len(graph.Outcomes()),
		"source":   storySource(cfg),
	})

	sessions := services.NewSessionService(graph, services.SessionServiceOptions{
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
		Logger:        logger,
		Metrics:       utils.GetMetrics(),
	})
	container.Register("sessions", sessions)

	wsManager := api.NewWebSocketManager(logger)
	sessions.Subscribe(wsManager)
	container.Register("websocket", wsManager)

	var archive *storage.FileStorage
	if cfg.Storage.ExportDir != "" {
		archive, err = storage.NewFileStorage(cfg.Storage.ExportDir)
		if err != nil {
			return fmt.Errorf("初始化导出目录失败: %w", err)
		}
		logger.Info("📁 导出归档已启用", map[string]interface{}{"dir": cfg.Storage.ExportDir})
	}
	container.Register("exports", services.NewExportService(sessions, archive))

	container.Register("ratelimit", api.NewRateLimiter(cfg.Limit.RPS, cfg.Limit.Burst))

	return nil
}

func storySource(cfg *config.Config) string {
	if cfg.Story.File == "" {
		return "embedded"
	}
	return cfg.Story.File
}

// Initialize 初始化日志、服务与路由
func Initialize(cfg *config.Config) error {
	app := GetApp()
	app.config = cfg
	config.SetCurrent(cfg)

	if err := utils.InitLogger(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	if err := InitServices(cfg); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.router = router
	app.server = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

// Run 启动服务器并阻塞，直到收到停止信号
func Run() error {
	app := GetApp()
	if app.server == nil {
		return errors.New("应用尚未初始化")
	}
	logger := utils.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sessions, err := di.Resolve[*services.SessionService](di.GetContainer(), "sessions"); err == nil {
		sessions.Start(ctx)
	}

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(app.stopChan)

	serverErr := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if app.config != nil {
		logger.Info("🌐 服务器已启动", map[string]interface{}{
			"port": app.config.Server.Port,
			"url":  "http://localhost:" + app.config.Server.Port,
		})
	}

	var runErr error
	select {
	case <-app.stopChan:
		logger.Info("🛑 正在关闭服务器...", nil)
	case err := <-serverErr:
		runErr = fmt.Errorf("启动服务器失败: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("服务器强制关闭: %w", err)
	}

	Cleanup()
	if runErr == nil {
		logger.Info("✅ 服务器优雅关闭完成", nil)
	}
	return runErr
}

// Cleanup 释放后台资源
func Cleanup() {
	container := di.GetContainer()

	if sessions, err := di.Resolve[*services.SessionService](container, "sessions"); err == nil {
		sessions.Close()
	}
	if wsManager, err := di.Resolve[*api.WebSocketManager](container, "websocket"); err == nil {
		wsManager.Close()
	}
	if limiter, err := di.Resolve[*api.RateLimiter](container, "ratelimit"); err == nil {
		limiter.Close()
	}

	_ = utils.GetLogger().Sync()
}
