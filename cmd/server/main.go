// cmd/server/main.go
package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ParallelTimelines/internal/app"
	"github.com/Corphon/ParallelTimelines/internal/config"
	"github.com/Corphon/ParallelTimelines/internal/di"
	"github.com/Corphon/ParallelTimelines/internal/utils"
)

func main() {
	log.Println("🚀 启动 ParallelTimelines 服务器...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 配置加载完成，端口: %s", cfg.Server.Port)

	if !cfg.Server.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. 初始化日志、服务与路由
	if err := app.Initialize(cfg); err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}
	logger := utils.GetLogger()
	logger.Info("✅ 所有服务初始化完成", map[string]interface{}{
		"services": di.GetContainer().GetNames(),
	})

	// 3. 启动服务器，阻塞直到收到停止信号
	logger.Info("🔗 会话接口", map[string]interface{}{
		"sessions":  "http://localhost:" + cfg.Server.Port + "/api/sessions",
		"websocket": "ws://localhost:" + cfg.Server.Port + "/ws/sessions/:id",
		"metrics":   "http://localhost:" + cfg.Server.Port + "/metrics",
	})
	if err := app.Run(); err != nil {
		logger.Fatal("❌ 服务器异常退出", map[string]interface{}{"error": err})
	}
}
