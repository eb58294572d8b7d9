package registry

import (
	"os"
	"path/filepath"
	"testing"

	"workshop/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func svc(id string, deps ...string) *Service {
	return &Service{ID: id, StartCommand: "true", Dependencies: deps}
}

func TestLoadTestdata(t *testing.T) {
	reg, err := Load(filepath.Join("testdata", "registry.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 6, reg.Len())
	assert.Len(t, reg.Active(), 5)
	assert.Equal(t, []string{"Core", "Quality", "Marketing", "Infrastructure", "Ghost"}, reg.Groups())

	inspector, err := reg.Get("inspector")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8005/health", inspector.HealthCheckEndpoint())

	elaine, err := reg.Get("elaine")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:5000/api/health", elaine.HealthCheckEndpoint())
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "amtl", "elaine"), elaine.WorkingDir)

	postgres, err := reg.Get("postgres")
	require.NoError(t, err)
	assert.Equal(t, "tcp://127.0.0.1:5432", postgres.HealthCheckEndpoint())

	sophia, err := reg.Get("sophia")
	require.NoError(t, err)
	assert.True(t, sophia.Ghost)
	assert.Len(t, reg.Members("ghost"), 1)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrConfigNotFound))
}

func TestGetUnknown(t *testing.T) {
	reg, err := New([]*Service{svc("a")})
	require.NoError(t, err)

	_, err = reg.Get("nope")
	assert.True(t, errors.HasCode(err, errors.ErrUnknownService))
}

func TestNewRejectsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		services []*Service
		code     errors.ErrorCode
	}{
		{"missing id", []*Service{{Name: "x"}}, errors.ErrRegistryInvalid},
		{"duplicate id", []*Service{svc("a"), svc("a")}, errors.ErrRegistryInvalid},
		{"unknown dependency", []*Service{svc("a", "ghost")}, errors.ErrRegistryInvalid},
		{"self dependency", []*Service{svc("a", "a")}, errors.ErrDependencyCycle},
		{"two cycle", []*Service{svc("a", "b"), svc("b", "a")}, errors.ErrDependencyCycle},
		{"long cycle", []*Service{svc("a", "c"), svc("b", "a"), svc("c", "b"), svc("d")}, errors.ErrDependencyCycle},
		{"bad health url", []*Service{{ID: "a", HealthURL: "ftp://x"}}, errors.ErrRegistryInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.services)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestCycleReportsPath(t *testing.T) {
	_, err := Parse([]byte(`
services:
  - id: a
    dependencies: [b]
  - id: b
    dependencies: [c]
  - id: c
    dependencies: [a]
`))
	require.Error(t, err)

	we, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c", "a"}, we.Context["cycle"])
}

func TestStartOrder(t *testing.T) {
	reg, err := New([]*Service{
		svc("peterman", "elaine", "foreperson"),
		svc("foreperson", "elaine"),
		svc("elaine"),
		svc("unrelated"),
	})
	require.NoError(t, err)

	order, err := reg.StartOrder("peterman")
	require.NoError(t, err)
	assert.Equal(t, []string{"elaine", "foreperson", "peterman"}, order)

	order, err = reg.StartOrder("foreperson", "unrelated")
	require.NoError(t, err)
	assert.Equal(t, []string{"elaine", "foreperson", "unrelated"}, order)

	_, err = reg.StartOrder("missing")
	assert.True(t, errors.HasCode(err, errors.ErrUnknownService))
}

func TestStopOrderReversesDependencies(t *testing.T) {
	reg, err := New([]*Service{
		svc("elaine"),
		svc("foreperson", "elaine"),
		svc("inspector", "foreperson"),
	})
	require.NoError(t, err)

	order, err := reg.StopOrder("elaine", "inspector", "foreperson")
	require.NoError(t, err)
	assert.Equal(t, []string{"inspector", "foreperson", "elaine"}, order)

	// Order never pulls in services that were not asked for
	order, err = reg.Order("inspector", "elaine")
	require.NoError(t, err)
	assert.Equal(t, []string{"elaine", "inspector"}, order)
}

func TestDependentsAndEdges(t *testing.T) {
	reg, err := New([]*Service{
		svc("elaine"),
		svc("foreperson", "elaine"),
		svc("inspector", "foreperson"),
		svc("peterman", "elaine"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"foreperson", "inspector", "peterman"}, reg.Dependents("elaine"))
	assert.Equal(t, []string{"inspector"}, reg.Dependents("foreperson"))
	assert.Empty(t, reg.Dependents("inspector"))
	assert.Equal(t, []string{"foreperson", "peterman"}, reg.DirectDependents("elaine"))

	assert.Equal(t, []Edge{
		{From: "elaine", To: "foreperson"},
		{From: "foreperson", To: "inspector"},
		{From: "elaine", To: "peterman"},
	}, reg.Edges())
}
