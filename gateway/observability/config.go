package observability

// Config 可观测性配置
type Config struct {
	// 由 Gateway 根据 service 配置填充，不从配置文件读取
	ServiceName string `mapstructure:"-"`
	Instance    string `mapstructure:"-"`

	Trace   TraceConfig   `mapstructure:"trace"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// TraceConfig 链路追踪配置
type TraceConfig struct {
	Disable  bool    `mapstructure:"disable"`  // 为 true 时只生成 TraceID，不上报
	Endpoint string  `mapstructure:"endpoint"` // OTLP gRPC 端点，默认 localhost:4317
	Insecure bool    `mapstructure:"insecure"` // 不使用 TLS
	Sampler  float64 `mapstructure:"sampler"`  // 采样率 (0, 1]，0 视为全采样
}

// MetricsConfig 指标收集配置
type MetricsConfig struct {
	Port          int    `mapstructure:"port"`           // Prometheus 暴露端口，默认 9092
	Path          string `mapstructure:"path"`           // 默认 /metrics
	EnableRuntime bool   `mapstructure:"enable_runtime"` // Go runtime 指标
}

func (c *Config) serviceName() string {
	if c.ServiceName != "" {
		return c.ServiceName
	}
	return "hey-gateway"
}

func (c *TraceConfig) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return "localhost:4317"
}

func (c *TraceConfig) sampler() float64 {
	if c.Sampler <= 0 || c.Sampler > 1 {
		return 1.0
	}
	return c.Sampler
}
