package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const checkTimeout = 2 * time.Second

// CheckFunc 依赖检查函数，返回 nil 表示依赖可用
type CheckFunc func(ctx context.Context) error

// Probe 维护健康检查状态，可挂载到任意 HTTP 路由。
type Probe struct {
	ready    atomic.Bool
	shutdown atomic.Bool

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewProbe 创建健康探针状态。
func NewProbe() *Probe {
	return &Probe{checks: make(map[string]CheckFunc)}
}

// SetReady 设置服务就绪状态。
func (p *Probe) SetReady(ready bool) {
	p.ready.Store(ready)
}

// SetShutdown 设置服务关闭状态。
func (p *Probe) SetShutdown(shutdown bool) {
	p.shutdown.Store(shutdown)
}

// AddCheck 注册 readiness 依赖检查（如数据库 ping）。
func (p *Probe) AddCheck(name string, fn CheckFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks[name] = fn
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler 返回 liveness handler（/health）。
func (p *Probe) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, &response{Status: "healthy"})
	}
}

// ReadinessHandler 返回 readiness handler（/ready）。
func (p *Probe) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if !p.ready.Load() || p.shutdown.Load() {
			writeJSON(w, http.StatusServiceUnavailable, &response{Status: "not_ready"})
			return
		}

		failed := p.runChecks(r.Context())
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, &response{Status: "not_ready", Checks: failed})
			return
		}
		writeJSON(w, http.StatusOK, &response{Status: "ready"})
	}
}

// runChecks 依次执行依赖检查，返回失败项
func (p *Probe) runChecks(ctx context.Context) map[string]string {
	p.mu.RLock()
	names := make([]string, 0, len(p.checks))
	for name := range p.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]CheckFunc, 0, len(names))
	for _, name := range names {
		checks = append(checks, p.checks[name])
	}
	p.mu.RUnlock()

	var failed map[string]string
	for i, fn := range checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := fn(cctx)
		cancel()
		if err != nil {
			if failed == nil {
				failed = make(map[string]string)
			}
			failed[names[i]] = err.Error()
		}
	}
	return failed
}

func writeJSON(w http.ResponseWriter, code int, body *response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
