package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/config"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/hey/gateway/auth"
	"github.com/ceyewan/hey/gateway/connection"
	"github.com/ceyewan/hey/gateway/observability"
)

// Config Gateway 服务配置
type Config struct {
	// 服务基础配置
	Service struct {
		Name     string `mapstructure:"name"`      // 服务名称
		Host     string `mapstructure:"host"`      // 服务主机名（环境变量 HOSTNAME）
		HTTPPort int    `mapstructure:"http_port"` // HTTP 服务端口
		Mode     string `mapstructure:"mode"`      // gin 模式：debug/release/test
	} `mapstructure:"service"`

	// 基础组件配置
	Log      clog.Config                `mapstructure:"log"`      // 日志配置
	Postgres connector.PostgreSQLConfig `mapstructure:"postgres"` // PostgreSQL 配置

	// 认证配置
	Auth auth.Config `mapstructure:"auth"`

	// WebSocket 配置
	WSConfig WSConfig `mapstructure:"ws_config"`

	// 限流配置
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 可观测性配置
	Observability observability.Config `mapstructure:"observability"`
}

// WSConfig WebSocket 相关配置
type WSConfig struct {
	ReadBufferSize  int      `mapstructure:"read_buffer_size"`  // 读缓冲区大小
	WriteBufferSize int      `mapstructure:"write_buffer_size"` // 写缓冲区大小
	MaxMessageSize  int      `mapstructure:"max_message_size"`  // 最大消息大小（KB）
	PingInterval    int      `mapstructure:"ping_interval"`     // 心跳间隔（秒）
	PongTimeout     int      `mapstructure:"pong_timeout"`      // 心跳超时（秒）
	SendBuffer      int      `mapstructure:"send_buffer"`       // 单连接发送队列长度
	AllowedOrigins  []string `mapstructure:"allowed_origins"`   // 允许的 Origin，为空时不限制
}

// ConnOptions 转换为连接参数
func (c *WSConfig) ConnOptions() connection.Options {
	return connection.Options{
		MaxMessageSize: int64(c.MaxMessageSize) * 1024,
		PingInterval:   time.Duration(c.PingInterval) * time.Second,
		PongTimeout:    time.Duration(c.PongTimeout) * time.Second,
		SendBuffer:     c.SendBuffer,
	}
}

// GetReadBufferSize 读缓冲区大小，默认 1024
func (c *WSConfig) GetReadBufferSize() int {
	if c.ReadBufferSize > 0 {
		return c.ReadBufferSize
	}
	return 1024
}

// GetWriteBufferSize 写缓冲区大小，默认 1024
func (c *WSConfig) GetWriteBufferSize() int {
	if c.WriteBufferSize > 0 {
		return c.WriteBufferSize
	}
	return 1024
}

// RateLimitConfig HTTP 限流配置
type RateLimitConfig struct {
	Enabled   bool    `mapstructure:"enabled"`    // 是否启用
	GlobalQPS float64 `mapstructure:"global_qps"` // 单 IP 全局 QPS
	Burst     int     `mapstructure:"burst"`      // 突发容量
	AuthQPS   float64 `mapstructure:"auth_qps"`   // 单 IP 认证接口 QPS（登录/注册）
	AuthBurst int     `mapstructure:"auth_burst"` // 认证接口突发容量
}

// GetHost 获取服务主机名，优先使用配置，其次环境变量 HOSTNAME，最后 "localhost"
func (c *Config) GetHost() string {
	if c.Service.Host != "" {
		return c.Service.Host
	}
	if host := os.Getenv("HOSTNAME"); host != "" {
		return host
	}
	return "localhost"
}

// GetHTTPPort 获取 HTTP 端口
func (c *Config) GetHTTPPort() int {
	if c.Service.HTTPPort > 0 && c.Service.HTTPPort < 65536 {
		return c.Service.HTTPPort
	}
	return 8080
}

// GetHTTPAddr 获取 HTTP 绑定地址
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.GetHTTPPort())
}

// GetServiceName 获取服务名称
func (c *Config) GetServiceName() string {
	if c.Service.Name != "" {
		return c.Service.Name
	}
	return "hey-gateway"
}

// Validate 校验必填配置
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if c.Postgres.Host == "" {
		return fmt.Errorf("postgres.host is required")
	}
	return nil
}

// Load 创建并加载 Gateway 配置（无参数）
// 配置加载顺序：环境变量 > .env > gateway.{env}.yaml > gateway.yaml
func Load() (*Config, error) {
	loader, err := config.New(&config.Config{
		Name:      "gateway",
		FileType:  "yaml",
		Paths:     []string{"./configs"},
		EnvPrefix: "HEY",
	})
	if err != nil {
		return nil, err
	}

	// 必须先 Load 才能读取配置
	ctx := context.Background()
	if err := loader.Load(ctx); err != nil {
		return nil, err
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// 在 debug 模式下，打印最终生效的配置
	if os.Getenv("DEBUG_CONFIG") == "true" || os.Getenv("HEY_DEBUG_CONFIG") == "true" {
		dumpConfig(&cfg)
	}

	return &cfg, nil
}

// dumpConfig 以 JSON 格式打印配置（脱敏敏感字段）
func dumpConfig(cfg *Config) {
	// 创建配置副本用于脱敏
	sanitized := *cfg
	if sanitized.Postgres.Password != "" {
		sanitized.Postgres.Password = "***"
	}
	if sanitized.Auth.Secret != "" {
		sanitized.Auth.Secret = "***"
	}

	data, _ := json.MarshalIndent(sanitized, "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== Gateway Configuration ===\n%s\n=== End of Configuration ===\n\n", data)
}
