package daichi

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-daichi/internal/config"
	"github.com/joshp123/gohome-daichi/internal/core"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

// Plugin implements the GoHome plugin contract.
type Plugin struct {
	client        *Client
	poller        *Poller
	health        core.HealthStatus
	healthMessage string
}

// NewPlugin builds the Daichi plugin from the daichi config block. A bad
// block yields a plugin reporting ERROR rather than failing startup.
func NewPlugin(cfg *config.DaichiConfig, logger *slog.Logger, opts ...Option) Plugin {
	clientCfg, err := ConfigFromYAML(cfg)
	if err != nil {
		return Plugin{health: core.HealthError, healthMessage: err.Error()}
	}

	client, err := NewClient(clientCfg, append([]Option{WithLogger(logger)}, opts...)...)
	if err != nil {
		return Plugin{health: core.HealthError, healthMessage: err.Error()}
	}

	poller := NewPoller(client, clientCfg.UpdateInterval, clientCfg.DeepFetchConcurrency, client.logger)
	return Plugin{client: client, poller: poller, health: core.HealthHealthy}
}

func (p Plugin) ID() string {
	return "daichi"
}

func (p Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "daichi",
		DisplayName: "Daichi Comfort Cloud",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p Plugin) AgentsMD() string {
	return agentsMD
}

func (p Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "daichi-overview", JSON: dashboardJSON}}
}

func (p Plugin) RegisterGRPC(server *grpc.Server) error {
	return RegisterDaichiService(server, p.client, p.poller)
}

func (p Plugin) Collectors() []prometheus.Collector {
	if p.poller == nil {
		return nil
	}
	return append([]prometheus.Collector{NewMetricsCollector(p.poller)}, MetricsCollectors()...)
}

// Poller exposes the refresh loop so callers can subscribe to snapshots.
func (p Plugin) Poller() *Poller {
	return p.poller
}

func (p Plugin) Health() core.HealthStatus {
	if p.poller == nil {
		return p.health
	}
	switch err := p.poller.LastError(); {
	case err == nil:
		return core.HealthHealthy
	case errors.Is(err, ErrAuthFailed):
		return core.HealthError
	default:
		return core.HealthDegraded
	}
}

func (p Plugin) HealthMessage() string {
	if p.poller == nil {
		return p.healthMessage
	}
	switch err := p.poller.LastError(); {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthFailed):
		return ErrAuthFailed.Error()
	default:
		return ErrUpdateFailed.Error()
	}
}

// Run polls until ctx is cancelled.
func (p Plugin) Run(ctx context.Context) error {
	if p.poller == nil {
		<-ctx.Done()
		return nil
	}
	return p.poller.Run(ctx)
}

func (p Plugin) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
