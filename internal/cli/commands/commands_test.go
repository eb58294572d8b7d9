package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"workshop/internal/constellation"
	"workshop/internal/errors"
	"workshop/internal/events"
	"workshop/internal/healer"
	"workshop/internal/heartbeat"
	"workshop/internal/incident"
	"workshop/internal/operations"
	"workshop/internal/registry"
	"workshop/internal/server"
	"workshop/internal/service"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	services  []*operations.ServiceInfo
	incidents []*incident.Incident
	group     *server.GroupResponse
	calls     []string
	ghosts    bool
	filter    incident.Filter
	author    string
	text      string
	window    time.Duration
	err       error
}

func (f *fakeAPI) record(call string) { f.calls = append(f.calls, call) }

func (f *fakeAPI) Health(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"status": "healthy", "version": "1.0.0", "uptime": "1m", "services": 2}, f.err
}

func (f *fakeAPI) ListServices(ctx context.Context) ([]*operations.ServiceInfo, error) {
	f.record("list")
	return f.services, f.err
}

func (f *fakeAPI) GetService(ctx context.Context, id string) (*operations.ServiceInfo, error) {
	f.record("get " + id)
	if f.err != nil {
		return nil, f.err
	}
	for _, s := range f.services {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, errors.UnknownService(id)
}

func (f *fakeAPI) lifecycle(op, id string, ghosts bool) (*operations.ServiceInfo, error) {
	f.record(op + " " + id)
	f.ghosts = ghosts
	if f.err != nil {
		return nil, f.err
	}
	return &operations.ServiceInfo{Service: &registry.Service{ID: id}, State: service.State{ID: id, Status: service.StatusHealthy}}, nil
}

func (f *fakeAPI) StartService(ctx context.Context, id string, ghosts bool) (*operations.ServiceInfo, error) {
	return f.lifecycle("start", id, ghosts)
}

func (f *fakeAPI) StopService(ctx context.Context, id string, ghosts bool) (*operations.ServiceInfo, error) {
	return f.lifecycle("stop", id, ghosts)
}

func (f *fakeAPI) RestartService(ctx context.Context, id string, ghosts bool) (*operations.ServiceInfo, error) {
	return f.lifecycle("restart", id, ghosts)
}

func (f *fakeAPI) StartGroup(ctx context.Context, group string, ghosts bool) (*server.GroupResponse, error) {
	f.record("start-group " + group)
	f.ghosts = ghosts
	return f.group, f.err
}

func (f *fakeAPI) StopGroup(ctx context.Context, group string, ghosts bool) (*server.GroupResponse, error) {
	f.record("stop-group " + group)
	f.ghosts = ghosts
	return f.group, f.err
}

func (f *fakeAPI) CheckHealth(ctx context.Context, id string) (*server.HealthCheckResponse, error) {
	f.record("check " + id)
	return &server.HealthCheckResponse{ServiceID: id, Status: "degraded", LatencyMS: 12.5, Detail: "HTTP 503"}, f.err
}

func (f *fakeAPI) RefreshAll(ctx context.Context) (*server.RefreshResponse, error) {
	f.record("refresh")
	return &server.RefreshResponse{Checked: 2, Failing: 1, DurationMS: 40, Results: []server.HealthCheckResponse{
		{ServiceID: "elaine", Status: "healthy", Success: true},
		{ServiceID: "inspector", Status: "down", Detail: "connection refused"},
	}}, f.err
}

func (f *fakeAPI) GetHeartbeat(ctx context.Context, id string, window time.Duration, points int) (*operations.Heartbeat, error) {
	f.record("heartbeat " + id)
	f.window = window
	return &operations.Heartbeat{ServiceID: id, Window: "1h0m0s", Capacity: 2880, Samples: 4, Uptime: 0.75, Points: []heartbeat.Point{
		{Samples: 2, Successes: 2, Uptime: 1, Status: heartbeat.PointHealthy},
		{},
		{Samples: 2, Successes: 1, Uptime: 0.5, Status: heartbeat.PointDegraded},
	}}, f.err
}

func (f *fakeAPI) ListIncidents(ctx context.Context, filter incident.Filter) ([]*incident.Incident, error) {
	f.record("incidents")
	f.filter = filter
	return f.incidents, f.err
}

func (f *fakeAPI) GetIncident(ctx context.Context, id string) (*incident.Incident, error) {
	f.record("incident " + id)
	if f.err != nil {
		return nil, f.err
	}
	return f.incidents[0], nil
}

func (f *fakeAPI) AnnotateIncident(ctx context.Context, id, author, text string) (*incident.Incident, error) {
	f.record("annotate " + id)
	f.author, f.text = author, text
	if f.err != nil {
		return nil, f.err
	}
	return f.incidents[0], nil
}

func (f *fakeAPI) ResolveIncident(ctx context.Context, id string) (*incident.Incident, error) {
	f.record("resolve " + id)
	if f.err != nil {
		return nil, f.err
	}
	return f.incidents[0], nil
}

func (f *fakeAPI) GetConstellation(ctx context.Context) (*constellation.Graph, error) {
	f.record("constellation")
	return &constellation.Graph{
		Nodes: []constellation.Node{
			{ID: "elaine", Group: "Core", Status: service.StatusHealthy, Dependents: 1},
			{ID: "inspector", Group: "Quality", Status: service.StatusDown, NeedsIntervention: true},
			{ID: "sophia", Group: "Ghost", Ghost: true, Status: service.StatusStopped},
		},
		Edges: []constellation.Edge{{Source: "elaine", Target: "inspector", Type: constellation.EdgeHard}},
		Stats: constellation.Stats{Total: 3, Ghosts: 1, NeedsIntervention: 1, ByStatus: map[service.Status]int{
			service.StatusHealthy: 1, service.StatusDown: 1, service.StatusStopped: 1,
		}},
	}, f.err
}

func (f *fakeAPI) StreamEvents(ctx context.Context, replay int, fn func(events.Event) bool) error {
	f.record("events")
	for _, ev := range []events.Event{
		{Type: events.TypeTier, ServiceID: "inspector", At: time.Now(), Data: map[string]interface{}{"from": "normal", "to": "tier1", "action": "restart"}},
		{Type: events.TypeIncident, ServiceID: "inspector", At: time.Now(), Data: map[string]interface{}{"kind": "opened", "incident": map[string]interface{}{"id": "INC-0001"}}},
	} {
		if !fn(ev) {
			return nil
		}
	}
	return nil
}

func newFakeAPI() *fakeAPI {
	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeAPI{
		services: []*operations.ServiceInfo{
			{
				Service: &registry.Service{ID: "elaine", Name: "ELAINE", Group: "Core", Port: 5000},
				State:   service.State{ID: "elaine", Status: service.StatusHealthy, PID: 4242},
				Uptime:  "2h 5m",
			},
			{
				Service: &registry.Service{ID: "inspector", Name: "The Inspector", Group: "Quality", Dependencies: []string{"elaine"}},
				State:   service.State{ID: "inspector", Status: service.StatusDown, LastError: "connection refused", NeedsIntervention: true},
				Tier:    healer.Exhausted,
			},
			{
				Service: &registry.Service{ID: "sophia", Name: "Sophia", Group: "Ghost", Ghost: true, GhostETA: "Q3"},
				State:   service.State{ID: "sophia", Status: service.StatusStopped},
			},
		},
		incidents: []*incident.Incident{{
			ID: "INC-0001", ServiceID: "inspector", Tier: 4, OpenedAt: opened, UpdatedAt: opened,
			Annotations: []incident.Annotation{{Author: "self-healer", Text: "Tier 1: restart", CreatedAt: opened}},
		}},
		group: &server.GroupResponse{Group: "Core", Results: []service.GroupResult{{ServiceID: "elaine", Result: service.ResultStarted}}},
	}
}

// run executes cmd under a root carrying the global flags
func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "workshop", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().Bool("json", false, "")
	root.PersistentFlags().String("config", "", "")
	root.AddCommand(cmd)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func group(name string, cmds []*cobra.Command) *cobra.Command {
	g := &cobra.Command{Use: name}
	g.AddCommand(cmds...)
	return g
}

func factory(f *fakeAPI) APIFactory {
	return func() (API, error) { return f, nil }
}

func TestServicesList(t *testing.T) {
	f := newFakeAPI()

	out, err := run(t, group("services", ServicesCommands(factory(f))), "services", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "elaine")
	assert.Contains(t, out, "healthy")
	assert.Contains(t, out, "exhausted")
	assert.Contains(t, out, "ghost")
	assert.Contains(t, out, "2h 5m")

	out, err = run(t, group("services", ServicesCommands(factory(f))), "services", "list", "--group", "core")
	require.NoError(t, err)
	assert.Contains(t, out, "elaine")
	assert.NotContains(t, out, "inspector")
}

func TestServicesListJSON(t *testing.T) {
	f := newFakeAPI()

	out, err := run(t, group("services", ServicesCommands(factory(f))), "services", "list", "--json")
	require.NoError(t, err)

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, "elaine", decoded[0]["id"])
	assert.Equal(t, "exhausted", decoded[1]["tier"])
}

func TestServicesStatus(t *testing.T) {
	f := newFakeAPI()

	out, err := run(t, group("services", ServicesCommands(factory(f))), "services", "status", "inspector")
	require.NoError(t, err)
	assert.Contains(t, out, "The Inspector (inspector)")
	assert.Contains(t, out, "Depends on: elaine")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "Needs manual intervention")

	_, err = run(t, group("services", ServicesCommands(factory(f))), "services", "status", "nobody")
	assert.True(t, errors.HasCode(err, errors.ErrUnknownService))
}

func TestServicesLifecycle(t *testing.T) {
	f := newFakeAPI()

	out, err := run(t, group("services", ServicesCommands(factory(f))), "services", "start", "inspector")
	require.NoError(t, err)
	assert.Contains(t, out, "inspector: healthy")
	assert.False(t, f.ghosts)

	_, err = run(t, group("services", ServicesCommands(factory(f))), "services", "stop", "sophia", "--ghosts")
	require.NoError(t, err)
	assert.True(t, f.ghosts)

	_, err = run(t, group("services", ServicesCommands(factory(f))), "services", "restart", "elaine")
	require.NoError(t, err)
	assert.Equal(t, []string{"start inspector", "stop sophia", "restart elaine"}, f.calls)

	_, err = run(t, group("services", ServicesCommands(factory(f))), "services", "start")
	assert.Error(t, err)
}

func TestGroupCommands(t *testing.T) {
	f := newFakeAPI()

	out, err := run(t, group("group", GroupCommands(factory(f))), "group", "start", "Core", "--ghosts")
	require.NoError(t, err)
	assert.Contains(t, out, "started")
	assert.True(t, f.ghosts)

	f.group = &server.GroupResponse{Group: "Core", Error: "foreperson failed", Results: []service.GroupResult{
		{ServiceID: "foreperson", Result: service.ResultFailed, Error: "spawn failed"},
	}}
	out, err = run(t, group("group", GroupCommands(factory(f))), "group", "stop", "Core")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foreperson failed")
	assert.Contains(t, out, "spawn failed")
	assert.Equal(t, []string{"start-group Core", "stop-group Core"}, f.calls)
}

func TestHealthCommands(t *testing.T) {
	f := newFakeAPI()

	out, err := run(t, group("health", HealthCommands(factory(f))), "health", "check", "inspector")
	require.NoError(t, err)
	assert.Equal(t, "inspector: degraded (12.5ms) HTTP 503\n", out)

	out, err = run(t, group("health", HealthCommands(factory(f))), "health", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "Checked 2 services in 40ms, 1 failing")
}

func TestHeartbeatCommand(t *testing.T) {
	f := newFakeAPI()

	out, err := run(t, HeartbeatCommand(factory(f)), "heartbeat", "elaine", "--window", "1h")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, f.window)
	assert.Contains(t, out, "elaine  █ ▄")
	assert.Contains(t, out, "4/2880 samples, 75.0% up")
}

func TestIncidentCommands(t *testing.T) {
	f := newFakeAPI()
	cmds := func() *cobra.Command { return group("incidents", IncidentCommands(factory(f))) }

	out, err := run(t, cmds(), "incidents", "list", "--status", "open", "--service", "inspector", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, incident.Filter{Status: "open", ServiceID: "inspector", Limit: 5}, f.filter)
	assert.Contains(t, out, "INC-0001")
	assert.Contains(t, out, "open")

	out, err = run(t, cmds(), "incidents", "show", "INC-0001")
	require.NoError(t, err)
	assert.Contains(t, out, "Tier 1: restart")

	out, err = run(t, cmds(), "incidents", "annotate", "INC-0001", "restarted", "postgres", "--author", "mazdak")
	require.NoError(t, err)
	assert.Equal(t, "mazdak", f.author)
	assert.Equal(t, "restarted postgres", f.text)
	assert.Contains(t, out, "Annotated INC-0001 (1 notes)")

	out, err = run(t, cmds(), "incidents", "resolve", "INC-0001")
	require.NoError(t, err)
	assert.Contains(t, out, "Resolved INC-0001")

	_, err = run(t, cmds(), "incidents", "annotate", "INC-0001")
	assert.Error(t, err)

	f.incidents = nil
	out, err = run(t, cmds(), "incidents", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No incidents")
}

func TestConstellationCommand(t *testing.T) {
	f := newFakeAPI()

	out, err := run(t, ConstellationCommand(factory(f)), "constellation")
	require.NoError(t, err)
	assert.Contains(t, out, "Core")
	assert.Contains(t, out, "<- elaine")
	assert.Contains(t, out, "needs intervention")
	assert.Contains(t, out, "3 services, 1 ghosts: 1 healthy, 1 down, 1 stopped")
}

func TestEventsCommand(t *testing.T) {
	f := newFakeAPI()

	out, err := run(t, EventsCommand(factory(f)), "events")
	require.NoError(t, err)
	assert.Contains(t, out, "normal -> tier1 (restart)")
	assert.Contains(t, out, "opened INC-0001")
}

func TestRegistryValidate(t *testing.T) {
	out, err := run(t, group("registry", RegistryCommands()), "registry", "validate", filepath.Join("..", "..", "registry", "testdata", "registry.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "elaine → foreperson")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("services:\n  - id: a\n    group: X\n    start_command: x\n    dependencies: [b]\n  - id: b\n    group: X\n    start_command: x\n    dependencies: [a]\n"), 0644))
	_, err = run(t, group("registry", RegistryCommands()), "registry", "validate", bad)
	assert.True(t, errors.HasCode(err, errors.ErrDependencyCycle))
}

func TestServeCommand(t *testing.T) {
	var gotPath string
	serve := func(ctx context.Context, configPath string) error {
		gotPath = configPath
		return nil
	}

	_, err := run(t, ServeCommand(serve), "serve", "--config", "/tmp/workshop.toml")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/workshop.toml", gotPath)
}

func TestServerStatus(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	f := newFakeAPI()

	out, err := run(t, group("server", ServerCommands(factory(f))), "server", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Daemon: not running (no PID file)")
	assert.Contains(t, out, "version 1.0.0")

	out, err = run(t, group("server", ServerCommands(factory(f))), "server", "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "No PID file found")
}

func TestHandleError(t *testing.T) {
	err := HandleError(errors.UnknownService("nobody"))
	assert.Contains(t, err.Error(), "workshop services list")

	err = HandleError(errors.GhostService("sophia", "start"))
	assert.Contains(t, err.Error(), "--ghosts")

	plain := assert.AnError
	assert.Equal(t, plain, HandleError(plain))
	assert.NoError(t, HandleError(nil))
}
