package commands

import (
	"context"
	"time"

	"workshop/internal/constellation"
	"workshop/internal/events"
	"workshop/internal/incident"
	"workshop/internal/operations"
	"workshop/internal/server"
)

// API is the control-plane surface the commands talk to. *client.Client
// implements it.
type API interface {
	Health(ctx context.Context) (map[string]interface{}, error)

	ListServices(ctx context.Context) ([]*operations.ServiceInfo, error)
	GetService(ctx context.Context, id string) (*operations.ServiceInfo, error)
	StartService(ctx context.Context, id string, ghosts bool) (*operations.ServiceInfo, error)
	StopService(ctx context.Context, id string, ghosts bool) (*operations.ServiceInfo, error)
	RestartService(ctx context.Context, id string, ghosts bool) (*operations.ServiceInfo, error)
	StartGroup(ctx context.Context, group string, ghosts bool) (*server.GroupResponse, error)
	StopGroup(ctx context.Context, group string, ghosts bool) (*server.GroupResponse, error)

	CheckHealth(ctx context.Context, id string) (*server.HealthCheckResponse, error)
	RefreshAll(ctx context.Context) (*server.RefreshResponse, error)
	GetHeartbeat(ctx context.Context, id string, window time.Duration, points int) (*operations.Heartbeat, error)

	ListIncidents(ctx context.Context, filter incident.Filter) ([]*incident.Incident, error)
	GetIncident(ctx context.Context, id string) (*incident.Incident, error)
	AnnotateIncident(ctx context.Context, id, author, text string) (*incident.Incident, error)
	ResolveIncident(ctx context.Context, id string) (*incident.Incident, error)

	GetConstellation(ctx context.Context) (*constellation.Graph, error)
	StreamEvents(ctx context.Context, replay int, fn func(events.Event) bool) error
}

// APIFactory connects to the server once flags have been parsed
type APIFactory func() (API, error)

// ServeFunc runs the control plane in the foreground until ctx is done
type ServeFunc func(ctx context.Context, configPath string) error
