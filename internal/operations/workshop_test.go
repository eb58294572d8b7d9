package operations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"workshop/internal/errors"
	"workshop/internal/events"
	"workshop/internal/healer"
	"workshop/internal/health"
	"workshop/internal/heartbeat"
	"workshop/internal/incident"
	"workshop/internal/service"
	"workshop/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	workshop *Workshop
	launcher *testutil.FakeLauncher
	healthy  *atomic.Bool
	hub      *events.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	healthy := &atomic.Bool{}
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	reg := testutil.NewRegistry(t,
		testutil.Svc("elaine").Group("Core").HealthURL(srv.URL+"/elaine"),
		testutil.Svc("inspector", "elaine").Group("Quality").HealthURL(srv.URL+"/inspector"),
		testutil.Svc("sophia").Group("Ghost").Ghost(),
	)

	launcher := testutil.NewFakeLauncher()
	checker := health.NewHTTPChecker(time.Second)
	mgr := service.NewManager(reg, launcher, checker, service.Config{
		StartTimeout:      time.Second,
		ReadyPollInterval: 10 * time.Millisecond,
		StopGrace:         100 * time.Millisecond,
	})
	hb := heartbeat.NewEngine(100, nil)
	incidents := incident.NewLogger(testutil.NewIncidentDB(t))
	h := healer.New(mgr, incidents, nil, healer.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		ActionTimeout:    5 * time.Second,
	})
	loop := health.NewLoop(reg, mgr, checker, hb, h, time.Hour)
	hub := events.NewHub()

	w := NewWorkshop(Deps{
		Registry:  reg,
		Manager:   mgr,
		Loop:      loop,
		Heartbeat: hb,
		Healer:    h,
		Incidents: incidents,
		Hub:       hub,
	})
	return &fixture{workshop: w, launcher: launcher, healthy: healthy, hub: hub}
}

func TestWorkshop_StartServiceStartsDependencies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.workshop.StartService(ctx, "inspector", false)
	require.NoError(t, err)
	assert.Equal(t, service.StatusHealthy, info.State.Status)
	assert.Equal(t, []string{"elaine", "inspector"}, f.launcher.Launches())

	elaine, err := f.workshop.GetService(ctx, "elaine")
	require.NoError(t, err)
	assert.Equal(t, service.StatusHealthy, elaine.State.Status)
	assert.Equal(t, []string{"inspector"}, elaine.Dependents)
}

func TestWorkshop_GhostRequiresOverride(t *testing.T) {
	f := newFixture(t)

	_, err := f.workshop.StartService(context.Background(), "sophia", false)
	assert.True(t, errors.HasCode(err, errors.ErrGhostService))

	_, err = f.workshop.GetService(context.Background(), "nobody")
	assert.True(t, errors.HasCode(err, errors.ErrUnknownService))
}

func TestWorkshop_ListServices(t *testing.T) {
	f := newFixture(t)

	list := f.workshop.ListServices(context.Background())
	require.Len(t, list, 3)
	assert.Equal(t, "elaine", list[0].ID)
	assert.Equal(t, healer.Normal, list[0].Tier)
	assert.True(t, list[2].Ghost)
}

func TestWorkshop_RefreshFeedsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, cancel := f.hub.Subscribe()
	defer cancel()

	f.healthy.Store(false)
	for i := 0; i < 2; i++ {
		report, err := f.workshop.RefreshAll(ctx)
		require.NoError(t, err)
		assert.Len(t, report.Results, 2)
	}

	incidents, err := f.workshop.ListIncidents(ctx, incident.Filter{Status: "open"})
	require.NoError(t, err)
	assert.Len(t, incidents, 2)

	hb, err := f.workshop.GetHeartbeat(ctx, "elaine", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, hb.Samples)
	assert.Zero(t, hb.Uptime)

	f.healthy.Store(true)
	_, err = f.workshop.RefreshAll(ctx)
	require.NoError(t, err)

	incidents, err = f.workshop.ListIncidents(ctx, incident.Filter{Status: "open"})
	require.NoError(t, err)
	assert.Empty(t, incidents)

	seen := map[events.Type]bool{}
	for len(sub) > 0 {
		ev := <-sub
		seen[ev.Type] = true
	}
	assert.True(t, seen[events.TypeHealth])
	assert.True(t, seen[events.TypeTier])
	assert.True(t, seen[events.TypeIncident])
}

func TestWorkshop_AnnotateAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.healthy.Store(false)
	_, err := f.workshop.RefreshAll(ctx)
	require.NoError(t, err)
	_, err = f.workshop.RefreshAll(ctx)
	require.NoError(t, err)

	open, err := f.workshop.ListIncidents(ctx, incident.Filter{ServiceID: "elaine"})
	require.NoError(t, err)
	require.Len(t, open, 1)

	inc, err := f.workshop.AnnotateIncident(ctx, open[0].ID, "mazdak", "investigating")
	require.NoError(t, err)
	assert.Equal(t, "investigating", inc.Annotations[len(inc.Annotations)-1].Text)

	_, err = f.workshop.AnnotateIncident(ctx, "INC-9999", "mazdak", "hello")
	assert.True(t, errors.HasCode(err, errors.ErrUnknownIncident))

	require.Equal(t, healer.Tier1, f.workshop.healer.State("elaine").Tier)

	resolved, err := f.workshop.ResolveIncident(ctx, open[0].ID)
	require.NoError(t, err)
	assert.False(t, resolved.Open())

	st := f.workshop.healer.State("elaine")
	assert.Equal(t, healer.Normal, st.Tier)
	assert.Empty(t, st.IncidentID)

	_, err = f.workshop.ListIncidents(ctx, incident.Filter{ServiceID: "nobody"})
	assert.True(t, errors.HasCode(err, errors.ErrUnknownService))
}

func TestWorkshop_CheckHealthAndConstellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.workshop.CheckHealth(ctx, "elaine")
	require.NoError(t, err)
	assert.True(t, res.Success)

	g := f.workshop.GetConstellation(ctx)
	node, ok := g.Node("elaine")
	require.True(t, ok)
	assert.Equal(t, service.StatusHealthy, node.Status)
	assert.Equal(t, 1, node.Dependents)
	assert.Len(t, g.Edges, 1)

	_, err = f.workshop.GetHeartbeat(ctx, "elaine", -time.Second, 0)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))
}

func TestWorkshop_GroupsAndShutdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	results, err := f.workshop.StartGroup(ctx, "Quality", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, service.ResultStarted, results[0].Result)

	f.workshop.Shutdown(ctx)
	for _, id := range []string{"elaine", "inspector"} {
		assert.True(t, f.launcher.Process(id).Stopped(), id)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 3m", formatDuration(2*time.Hour+3*time.Minute))
	assert.Equal(t, "1d 1h 0m", formatDuration(25*time.Hour))
}
