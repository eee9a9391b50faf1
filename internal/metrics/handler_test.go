package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestHandler_ServesMetrics はレジストリに登録したメトリクスがテキスト形式で返ることを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSessionsSwept(1)

	handler := Handler(reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	if !strings.Contains(bodyStr, "docpad_sessions_swept_total 1") {
		t.Errorf("response should contain docpad_sessions_swept_total 1, got:\n%s", bodyStr)
	}
}

// TestHandler_OtherRegistryNotExposed は別レジストリのメトリクスが混ざらないことを検証する。
func TestHandler_OtherRegistryNotExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	other := prometheus.NewRegistry()
	other.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unrelated_total",
		Help: "unrelated",
	}))

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if strings.Contains(w.Body.String(), "unrelated_total") {
		t.Error("metrics from another registry should not be exposed")
	}
}
