package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-daichi/internal/core"
)

type healthPlugin struct {
	status  core.HealthStatus
	message string
}

func (h healthPlugin) ID() string                         { return "demo" }
func (h healthPlugin) Manifest() core.Manifest            { return core.Manifest{PluginID: "demo"} }
func (h healthPlugin) AgentsMD() string                   { return "" }
func (h healthPlugin) Dashboards() []core.Dashboard       { return nil }
func (h healthPlugin) RegisterGRPC(*grpc.Server) error    { return nil }
func (h healthPlugin) Collectors() []prometheus.Collector { return nil }
func (h healthPlugin) Health() core.HealthStatus          { return h.status }
func (h healthPlugin) HealthMessage() string              { return h.message }

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		status core.HealthStatus
		code   int
	}{
		{core.HealthHealthy, http.StatusOK},
		{core.HealthDegraded, http.StatusOK},
		{core.HealthError, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		ReadyHandler([]core.Plugin{healthPlugin{status: tt.status, message: "msg"}}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rec.Code != tt.code {
			t.Fatalf("%s: expected %d, got %d", tt.status, tt.code, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), string(tt.status)) {
			t.Fatalf("%s: body missing status: %s", tt.status, rec.Body.String())
		}
	}
}

func TestDashboardsHandler(t *testing.T) {
	handler := DashboardsHandler(map[string][]byte{"/dashboards/demo/a.json": []byte(`{"a":1}`)})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/demo/a.json", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"a":1}` {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/demo/missing.json", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
