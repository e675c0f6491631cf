package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serve(h http.HandlerFunc, method string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(method, "/", nil))
	return w
}

func TestProbe(t *testing.T) {
	p := NewProbe()

	t.Run("存活探针始终健康", func(t *testing.T) {
		w := serve(p.LivenessHandler(), http.MethodGet)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())

		w = serve(p.LivenessHandler(), http.MethodPost)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("未就绪", func(t *testing.T) {
		w := serve(p.ReadinessHandler(), http.MethodGet)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("就绪", func(t *testing.T) {
		p.SetReady(true)
		p.AddCheck("postgres", func(context.Context) error { return nil })
		w := serve(p.ReadinessHandler(), http.MethodGet)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
	})

	t.Run("依赖检查失败", func(t *testing.T) {
		p.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
		w := serve(p.ReadinessHandler(), http.MethodGet)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"not_ready","checks":{"postgres":"connection refused"}}`, w.Body.String())
	})

	t.Run("关闭中", func(t *testing.T) {
		p.AddCheck("postgres", func(context.Context) error { return nil })
		p.SetShutdown(true)
		w := serve(p.ReadinessHandler(), http.MethodGet)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
