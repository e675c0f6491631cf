// Package observability 提供 Gateway 服务的可观测性支持
// 包括 Trace（分布式追踪）和 Metrics（指标收集）
package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName Tracer 名称
const TracerName = "github.com/ceyewan/hey/gateway"

var (
	// 全局组件
	meter     metrics.Meter
	traceOnce sync.Once
	shutdown  func(context.Context) error

	// 业务指标 - WebSocket
	websocketConnectionsActive metrics.Gauge
	websocketConnectionsTotal  metrics.Counter
	handshakeRejectedTotal     metrics.Counter
	onlineUsers                metrics.Gauge

	// 业务指标 - 事件处理
	eventsHandledTotal metrics.Counter
	eventsFailedTotal  metrics.Counter
	eventDuration      metrics.Histogram

	// 业务指标 - 广播
	fanoutDeliveriesTotal metrics.Counter

	// 业务指标 - HTTP
	httpRequestsTotal   metrics.Counter
	httpRequestDuration metrics.Histogram
	httpErrorsTotal     metrics.Counter
)

// Init 初始化可观测性组件
func Init(cfg *Config) error {
	var initErr error

	traceOnce.Do(func() {
		// 1. 初始化 Trace
		shutdownFunc, err := initTrace(cfg)
		if err != nil {
			initErr = fmt.Errorf("init trace: %w", err)
			return
		}
		shutdown = shutdownFunc

		// 2. 初始化 Metrics
		meter, err = initMetrics(cfg)
		if err != nil {
			initErr = fmt.Errorf("init metrics: %w", err)
			return
		}

		// 3. 初始化业务指标
		initBusinessMetrics()
	})

	return initErr
}

// Shutdown 优雅关闭
func Shutdown(ctx context.Context) error {
	var firstErr error
	if shutdown != nil {
		firstErr = shutdown(ctx)
	}
	if meter != nil {
		if err := meter.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// initTrace 初始化 Trace
// 禁用上报时仍安装 TracerProvider，保证日志与响应头里有可用的 TraceID
func initTrace(cfg *Config) (func(context.Context) error, error) {
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.serviceName()),
		semconv.ServiceInstanceIDKey.String(cfg.Instance),
	)
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if !cfg.Trace.Disable {
		exporter, err := newExporter(&cfg.Trace)
		if err != nil {
			return nil, err
		}
		tpOpts = append(tpOpts,
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Trace.sampler()))),
			sdktrace.WithBatcher(exporter),
		)
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// newExporter 创建 OTLP gRPC 导出器
func newExporter(cfg *TraceConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.endpoint()),
		otlptracegrpc.WithTimeout(5 * time.Second),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	return exporter, nil
}

// initMetrics 初始化 Metrics
func initMetrics(cfg *Config) (metrics.Meter, error) {
	metricsCfg := &metrics.Config{
		ServiceName:   cfg.serviceName(),
		Port:          cfg.Metrics.Port,
		Path:          cfg.Metrics.Path,
		EnableRuntime: cfg.Metrics.EnableRuntime,
	}
	if metricsCfg.Port == 0 {
		metricsCfg.Port = 9092
	}
	if metricsCfg.Path == "" {
		metricsCfg.Path = "/metrics"
	}

	return metrics.New(metricsCfg)
}

// initBusinessMetrics 初始化业务指标
func initBusinessMetrics() {
	// WebSocket 连接数（当前）
	websocketConnectionsActive, _ = meter.Gauge(
		"gateway_websocket_connections_active",
		"Current number of active WebSocket connections",
	)

	// WebSocket 连接总数
	websocketConnectionsTotal, _ = meter.Counter(
		"gateway_websocket_connections_total",
		"Total number of WebSocket connections established",
	)

	// 握手拒绝总数
	handshakeRejectedTotal, _ = meter.Counter(
		"gateway_handshake_rejected_total",
		"Total number of rejected WebSocket handshakes",
	)

	// 在线用户数
	onlineUsers, _ = meter.Gauge(
		"gateway_online_users",
		"Current number of online users",
	)

	// 事件处理总数
	eventsHandledTotal, _ = meter.Counter(
		"gateway_events_handled_total",
		"Total number of inbound events handled",
	)

	// 事件失败总数
	eventsFailedTotal, _ = meter.Counter(
		"gateway_events_failed_total",
		"Total number of inbound events that produced an error",
	)

	// 事件处理延迟（秒）
	eventDuration, _ = meter.Histogram(
		"gateway_event_duration_seconds",
		"Inbound event handling latency",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}),
	)

	// 广播投递总数
	fanoutDeliveriesTotal, _ = meter.Counter(
		"gateway_fanout_deliveries_total",
		"Total number of events delivered to connections",
	)

	// HTTP 请求总数
	httpRequestsTotal, _ = meter.Counter(
		"gateway_http_requests_total",
		"Total number of HTTP requests",
	)

	// HTTP 请求延迟（秒）
	httpRequestDuration, _ = meter.Histogram(
		"gateway_http_request_duration_seconds",
		"HTTP request latency",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}),
	)

	// HTTP 错误总数
	httpErrorsTotal, _ = meter.Counter(
		"gateway_http_errors_total",
		"Total number of HTTP errors",
	)
}

// ============================================================================
// Trace 辅助函数
// ============================================================================

// StartSpan 开始一个新的 Span
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, func() {
		span.End()
	}
}

// ExtractHTTP 从 HTTP Header 中提取 W3C Trace Context
func ExtractHTTP(ctx context.Context, header http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(header))
}

// TraceID 返回当前 Span 的 TraceID，无有效 Span 时返回空串
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// ============================================================================
// Metrics 记录函数 - WebSocket
// ============================================================================

// SetWebSocketConnectionsActive 设置当前活跃的 WebSocket 连接数
func SetWebSocketConnectionsActive(ctx context.Context, count int) {
	if websocketConnectionsActive != nil {
		websocketConnectionsActive.Set(ctx, float64(count))
	}
}

// RecordWebSocketConnectionEstablished 记录新建 WebSocket 连接
func RecordWebSocketConnectionEstablished(ctx context.Context) {
	if websocketConnectionsTotal != nil {
		websocketConnectionsTotal.Inc(ctx)
	}
}

// RecordHandshakeRejected 记录握手拒绝
func RecordHandshakeRejected(ctx context.Context, reason string) {
	if handshakeRejectedTotal != nil {
		handshakeRejectedTotal.Inc(ctx, metrics.L("reason", reason))
	}
}

// SetOnlineUsers 设置在线用户数
func SetOnlineUsers(ctx context.Context, count int) {
	if onlineUsers != nil {
		onlineUsers.Set(ctx, float64(count))
	}
}

// ============================================================================
// Metrics 记录函数 - 事件处理
// ============================================================================

// RecordEvent 记录一次事件处理，kind 为空表示成功
func RecordEvent(ctx context.Context, event string, duration time.Duration, kind string) {
	if eventsHandledTotal != nil {
		eventsHandledTotal.Inc(ctx, metrics.L("event", event))
	}
	if eventDuration != nil {
		eventDuration.Record(ctx, duration.Seconds(), metrics.L("event", event))
	}
	if kind != "" && eventsFailedTotal != nil {
		eventsFailedTotal.Inc(ctx, metrics.L("event", event), metrics.L("kind", kind))
	}
}

// RecordFanout 记录广播投递的连接数
func RecordFanout(ctx context.Context, event string, delivered int) {
	if fanoutDeliveriesTotal != nil {
		for i := 0; i < delivered; i++ {
			fanoutDeliveriesTotal.Inc(ctx, metrics.L("event", event))
		}
	}
}

// ============================================================================
// Metrics 记录函数 - HTTP
// ============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(ctx context.Context) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.Inc(ctx)
	}
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(ctx context.Context, duration time.Duration, labels ...metrics.Label) {
	if httpRequestDuration != nil {
		httpRequestDuration.Record(ctx, duration.Seconds(), labels...)
	}
}

// RecordHTTPError 记录 HTTP 错误
func RecordHTTPError(ctx context.Context, labels ...metrics.Label) {
	if httpErrorsTotal != nil {
		httpErrorsTotal.Inc(ctx, labels...)
	}
}

// ============================================================================
// Logger 创建辅助函数
// ============================================================================

// NewLogger 创建带有 Trace Context 的 Logger
func NewLogger(cfg *clog.Config) (clog.Logger, error) {
	return clog.New(cfg, clog.WithTraceContext())
}
