package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/gohome-daichi/internal/core"
)

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type pluginHealth struct {
	PluginID string `json:"plugin_id"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// ReadyHandler reports plugin health. Any plugin in ERROR makes it return 503.
func ReadyHandler(plugins []core.Plugin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		code := http.StatusOK
		out := make([]pluginHealth, 0, len(plugins))
		for _, p := range plugins {
			health := p.Health()
			if health == core.HealthError {
				code = http.StatusServiceUnavailable
			}
			out = append(out, pluginHealth{PluginID: p.ID(), Status: string(health), Message: p.HealthMessage()})
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"plugins": out})
	})
}
