// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Corphon/ParallelTimelines/internal/utils"
)

// 当前配置的单例实例
var (
	currentConfig *Config
	configMutex   sync.RWMutex
)

// Config 存储应用配置
type Config struct {
	Server  ServerConfig
	Story   StoryConfig
	Log     LogConfig
	Session SessionConfig
	Limit   RateLimitConfig
	Storage StorageConfig
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port           string `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	DebugMode      bool   `envconfig:"DEBUG_MODE" default:"true"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"*"` // 逗号分隔
}

// StoryConfig 故事图来源，留空使用内置故事
type StoryConfig struct {
	File string `envconfig:"STORY_FILE"`
}

// StorageConfig 导出归档目录，留空则不归档
type StorageConfig struct {
	ExportDir string `envconfig:"EXPORT_DIR"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Encoding string `envconfig:"LOG_ENCODING" default:"console" validate:"oneof=console json"`
	File     string `envconfig:"LOG_FILE"`
}

// SessionConfig 会话生命周期配置
type SessionConfig struct {
	TTL           time.Duration `envconfig:"SESSION_TTL" default:"30m" validate:"gt=0"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"5m" validate:"gt=0"`
}

// RateLimitConfig 每个客户端的限流配置
type RateLimitConfig struct {
	RPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"20" validate:"gt=0"`
	Burst int     `envconfig:"RATE_LIMIT_BURST" default:"40" validate:"gte=1"`
}

var validate = validator.New()

// Load 从 .env 文件（可选）和环境变量加载配置
func Load() (*Config, error) {
	// .env 文件不存在时忽略
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMutex.Lock()
	currentConfig = &cfg
	configMutex.Unlock()

	return &cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

// Origins 返回允许的跨域来源列表
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.Server.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// AllowAllOrigins 是否允许任意来源
func (c *Config) AllowAllOrigins() bool {
	for _, o := range c.Origins() {
		if o == "*" {
			return true
		}
	}
	return false
}

// LoggerConfig 转换为日志初始化参数
func (c *Config) LoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:    c.Log.Level,
		Encoding: c.Log.Encoding,
		File:     c.Log.File,
	}
}

// SetCurrent 替换当前配置
func SetCurrent(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	currentConfig = cfg
}

// GetCurrentConfig 返回当前配置的副本，未加载时按环境变量加载
func GetCurrentConfig() *Config {
	configMutex.RLock()
	if currentConfig != nil {
		configCopy := *currentConfig
		configMutex.RUnlock()
		return &configCopy
	}
	configMutex.RUnlock()

	cfg, err := Load()
	if err != nil {
		utils.GetLogger().Warn("配置加载失败，使用默认值", map[string]interface{}{"error": err})
		return Default()
	}
	return cfg
}

// Default 返回全部取默认值的配置
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080", DebugMode: true, AllowedOrigins: "*"},
		Log:     LogConfig{Level: "info", Encoding: "console"},
		Session: SessionConfig{TTL: 30 * time.Minute, SweepInterval: 5 * time.Minute},
		Limit:   RateLimitConfig{RPS: 20, Burst: 40},
	}
}
