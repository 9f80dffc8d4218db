package core

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-daichi/internal/rpc"
)

// RegistryServiceName is the fully qualified registry service.
const RegistryServiceName = "gohome.registry.v1.Registry"

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

// Descriptor wires the registry methods for rpc.Register.
func (r *RegistryService) Descriptor() rpc.Service {
	return rpc.Service{
		Package: "gohome.registry.v1",
		Name:    "Registry",
		Methods: []rpc.Method{
			{Name: "ListPlugins", Handler: r.ListPlugins},
			{Name: "DescribePlugin", Handler: r.DescribePlugin},
		},
	}
}

// Register exposes the registry on server.
func (r *RegistryService) Register(server *grpc.Server) error {
	return rpc.Register(server, r.Descriptor())
}

func (r *RegistryService) ListPlugins(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]any, 0, len(r.plugins))
	for _, p := range r.plugins {
		manifest := p.Manifest()
		plugins = append(plugins, map[string]any{
			"plugin_id":    manifest.PluginID,
			"display_name": manifest.DisplayName,
			"version":      manifest.Version,
			"status":       string(p.Health()),
		})
	}

	return structpb.NewStruct(map[string]any{"plugins": plugins})
}

func (r *RegistryService) DescribePlugin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	pluginID := rpc.String(req, "plugin_id")
	if pluginID == "" {
		return nil, status.Error(codes.InvalidArgument, "plugin_id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != pluginID {
			continue
		}

		services := make([]any, 0, len(manifest.Services))
		for _, svc := range manifest.Services {
			services = append(services, svc)
		}
		dashboards := make([]any, 0)
		for _, d := range p.Dashboards() {
			dashboards = append(dashboards, map[string]any{
				"name": d.Name,
				"path": "/dashboards/" + manifest.PluginID + "/" + d.Name + ".json",
			})
		}

		return structpb.NewStruct(map[string]any{
			"plugin": map[string]any{
				"plugin_id":      manifest.PluginID,
				"display_name":   manifest.DisplayName,
				"version":        manifest.Version,
				"services":       services,
				"agents_md":      p.AgentsMD(),
				"status":         string(p.Health()),
				"health_message": p.HealthMessage(),
				"dashboards":     dashboards,
			},
		})
	}

	return nil, status.Errorf(codes.NotFound, "plugin %q not found", pluginID)
}
