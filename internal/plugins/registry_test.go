package plugins

import (
	"testing"

	"github.com/joshp123/gohome-daichi/internal/config"
	"github.com/joshp123/gohome-daichi/internal/logging"
)

func TestCompiledSkipsUnconfiguredPlugins(t *testing.T) {
	if got := Compiled(nil, logging.Discard()); got != nil {
		t.Fatalf("expected no plugins for nil config, got %d", len(got))
	}
	if got := Compiled(&config.Config{}, logging.Discard()); len(got) != 0 {
		t.Fatalf("expected no plugins without a daichi block, got %d", len(got))
	}

	cfg := &config.Config{Daichi: &config.DaichiConfig{Username: "user@example.com", Password: "secret"}}
	got := Compiled(cfg, logging.Discard())
	if len(got) != 1 || got[0].ID() != "daichi" {
		t.Fatalf("expected the daichi plugin, got %v", got)
	}
}
