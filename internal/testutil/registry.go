package testutil

import (
	"fmt"
	"testing"

	"workshop/internal/registry"

	"github.com/stretchr/testify/require"
)

// ServiceBuilder builds registry entries for tests
type ServiceBuilder struct {
	svc *registry.Service
}

// Svc starts a service entry with the given dependencies
func Svc(id string, deps ...string) *ServiceBuilder {
	return &ServiceBuilder{svc: &registry.Service{
		ID:           id,
		Name:         id,
		Group:        "Default",
		StartCommand: "./run.sh",
		Dependencies: deps,
	}}
}

func (b *ServiceBuilder) Group(g string) *ServiceBuilder {
	b.svc.Group = g
	return b
}

func (b *ServiceBuilder) Ghost() *ServiceBuilder {
	b.svc.Ghost = true
	return b
}

func (b *ServiceBuilder) Port(p int) *ServiceBuilder {
	b.svc.Port = p
	return b
}

func (b *ServiceBuilder) HealthURL(u string) *ServiceBuilder {
	b.svc.HealthURL = u
	return b
}

func (b *ServiceBuilder) Transient(paths ...string) *ServiceBuilder {
	b.svc.TransientPaths = paths
	return b
}

// Build returns the service
func (b *ServiceBuilder) Build() *registry.Service {
	return b.svc
}

// NewRegistry builds a validated registry or fails the test
func NewRegistry(t *testing.T, builders ...*ServiceBuilder) *registry.Registry {
	t.Helper()
	services := make([]*registry.Service, 0, len(builders))
	for _, b := range builders {
		services = append(services, b.Build())
	}
	reg, err := registry.New(services)
	require.NoError(t, err)
	return reg
}

// Fleet returns a registry shaped like the real workshop: 24 services,
// four of them ghosts in the Ghost group, with a small dependency chain
// rooted at elaine.
func Fleet(t *testing.T) *registry.Registry {
	t.Helper()
	builders := []*ServiceBuilder{
		Svc("elaine").Group("Core").Port(5000),
		Svc("foreperson", "elaine").Group("Core").Port(9100),
		Svc("inspector", "foreperson").Group("Quality").Port(8005),
		Svc("peterman", "elaine", "foreperson").Group("Marketing").Port(5008),
	}
	for i := len(builders); i < 20; i++ {
		builders = append(builders, Svc(fmt.Sprintf("svc-%02d", i)).Group("Tools").Port(6000+i))
	}
	builders = append(builders,
		Svc("sophia").Group("Ghost").Ghost(),
		Svc("ghost-a").Group("Ghost").Ghost(),
		Svc("ghost-b").Group("Ghost").Ghost(),
		Svc("ghost-c").Group("Ghost").Ghost(),
	)
	return NewRegistry(t, builders...)
}
