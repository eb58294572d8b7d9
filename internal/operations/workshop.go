// Package operations is the contract the API and CLI layers consume. It
// composes the registry, manager, health loop, heartbeat engine, healer,
// incident logger and constellation builder.
package operations

import (
	"context"
	"fmt"
	"slices"
	"time"

	"workshop/internal/constellation"
	"workshop/internal/constants"
	"workshop/internal/errors"
	"workshop/internal/events"
	"workshop/internal/healer"
	"workshop/internal/health"
	"workshop/internal/heartbeat"
	"workshop/internal/incident"
	"workshop/internal/logger"
	"workshop/internal/metrics"
	"workshop/internal/registry"
	"workshop/internal/service"
)

// ServiceInfo is a registry entry joined with its live state
type ServiceInfo struct {
	*registry.Service
	HealthCheckURL string        `json:"health_check_url,omitempty"`
	State          service.State `json:"state"`
	Tier           healer.Tier   `json:"tier"`
	Uptime         string        `json:"uptime,omitempty"`
	Dependents     []string      `json:"dependents,omitempty"`
}

// Heartbeat is a service's sparkline over a window
type Heartbeat struct {
	ServiceID string            `json:"service_id"`
	Window    string            `json:"window"`
	Capacity  int               `json:"capacity"`
	Samples   int               `json:"samples"`
	Uptime    float64           `json:"uptime"`
	Points    []heartbeat.Point `json:"points"`
}

// Deps are the components a Workshop composes
type Deps struct {
	Registry      *registry.Registry
	Manager       *service.Manager
	Loop          *health.Loop
	Heartbeat     *heartbeat.Engine
	Healer        *healer.Healer
	Incidents     *incident.Logger
	Hub           *events.Hub
	HistoryWindow time.Duration
}

// Workshop implements the control-plane operations
type Workshop struct {
	reg       *registry.Registry
	manager   *service.Manager
	loop      *health.Loop
	heartbeat *heartbeat.Engine
	healer    *healer.Healer
	incidents *incident.Logger
	graph     *constellation.Builder
	hub       *events.Hub
	window    time.Duration
}

// NewWorkshop composes the operations and connects status, health, tier
// and incident changes to the event hub and metrics
func NewWorkshop(d Deps) *Workshop {
	if d.Hub == nil {
		d.Hub = events.NewHub()
	}
	if d.HistoryWindow <= 0 {
		d.HistoryWindow = constants.DefaultHistoryWindow
	}
	w := &Workshop{
		reg:       d.Registry,
		manager:   d.Manager,
		loop:      d.Loop,
		heartbeat: d.Heartbeat,
		healer:    d.Healer,
		incidents: d.Incidents,
		graph:     constellation.NewBuilder(d.Registry, d.Manager),
		hub:       d.Hub,
		window:    d.HistoryWindow,
	}
	w.wire()
	return w
}

func (w *Workshop) wire() {
	w.manager.OnTransition(func(tr service.Transition) {
		metrics.SetServiceStatus(tr.ServiceID, string(tr.To))
		w.hub.Publish(events.TypeStatus, tr.ServiceID, tr)
	})
	w.manager.OnSpawnFailure(w.loop.ReportFailure)

	w.loop.OnResult(func(res health.Result) {
		metrics.RecordHealthCheck(res.ServiceID, res.Success, res.Latency)
		w.hub.Publish(events.TypeHealth, res.ServiceID, res)
	})
	w.loop.OnTick(func(r health.TickReport) {
		metrics.RecordSweep(r.Duration)
	})

	w.healer.OnTierChange(func(c healer.TierChange) {
		metrics.RecordTier(c.ServiceID, int(c.To), string(c.Action), c.Error != "")
		w.hub.Publish(events.TypeTier, c.ServiceID, c)
		if c.To == healer.Exhausted {
			w.hub.Publish(events.TypeEscalation, c.ServiceID, healer.NewEscalation(c.ServiceID, c.IncidentID, c.At))
		}
	})

	w.incidents.OnChange(func(c incident.Change) {
		w.hub.Publish(events.TypeIncident, c.Incident.ServiceID, c)
		if n, err := w.incidents.CountOpen(context.Background()); err == nil {
			metrics.SetOpenIncidents(n)
		}
	})
}

// Hub returns the live event hub
func (w *Workshop) Hub() *events.Hub {
	return w.hub
}

// Registry returns the loaded registry
func (w *Workshop) Registry() *registry.Registry {
	return w.reg
}

// ListServices returns every service with its live state, in registry order
func (w *Workshop) ListServices(ctx context.Context) []*ServiceInfo {
	states := w.manager.Statuses()
	out := make([]*ServiceInfo, 0, w.reg.Len())
	for _, svc := range w.reg.Services() {
		out = append(out, w.info(svc, states[svc.ID]))
	}
	return out
}

// GetService returns one service with its live state
func (w *Workshop) GetService(ctx context.Context, id string) (*ServiceInfo, error) {
	svc, err := w.reg.Get(id)
	if err != nil {
		return nil, err
	}
	st, err := w.manager.Status(id)
	if err != nil {
		return nil, err
	}
	return w.info(svc, st), nil
}

func (w *Workshop) info(svc *registry.Service, st service.State) *ServiceInfo {
	info := &ServiceInfo{
		Service:        svc,
		HealthCheckURL: svc.HealthCheckEndpoint(),
		State:          st,
		Tier:           w.healer.State(svc.ID).Tier,
		Dependents:     w.reg.Dependents(svc.ID),
	}
	if up := st.Uptime(time.Now()); up > 0 {
		info.Uptime = formatDuration(up)
	}
	return info
}

func ghostOpts(ghosts bool) []service.Option {
	if ghosts {
		return []service.Option{service.WithGhosts()}
	}
	return nil
}

// StartService starts a service and its unmet dependencies
func (w *Workshop) StartService(ctx context.Context, id string, ghosts bool) (*ServiceInfo, error) {
	logger.WithContext(ctx).WithFields(logger.Fields{"service": id, "ghosts": ghosts}).Info("Start requested")
	if err := w.manager.Start(ctx, id, ghostOpts(ghosts)...); err != nil {
		return nil, err
	}
	return w.GetService(ctx, id)
}

// StopService stops a service. Dependents keep running.
func (w *Workshop) StopService(ctx context.Context, id string, ghosts bool) (*ServiceInfo, error) {
	logger.WithContext(ctx).WithFields(logger.Fields{"service": id, "ghosts": ghosts}).Info("Stop requested")
	if err := w.manager.Stop(ctx, id, ghostOpts(ghosts)...); err != nil {
		return nil, err
	}
	return w.GetService(ctx, id)
}

// RestartService stops then starts a service
func (w *Workshop) RestartService(ctx context.Context, id string, ghosts bool) (*ServiceInfo, error) {
	logger.WithContext(ctx).WithFields(logger.Fields{"service": id, "ghosts": ghosts}).Info("Restart requested")
	if err := w.manager.Restart(ctx, id, ghostOpts(ghosts)...); err != nil {
		return nil, err
	}
	return w.GetService(ctx, id)
}

// StartGroup starts every member of a group in dependency order
func (w *Workshop) StartGroup(ctx context.Context, group string, ghosts bool) ([]service.GroupResult, error) {
	return w.manager.StartGroup(ctx, group, ghostOpts(ghosts)...)
}

// StopGroup stops every member of a group in reverse dependency order
func (w *Workshop) StopGroup(ctx context.Context, group string, ghosts bool) ([]service.GroupResult, error) {
	return w.manager.StopGroup(ctx, group, ghostOpts(ghosts)...)
}

// CheckHealth runs one on-demand health check
func (w *Workshop) CheckHealth(ctx context.Context, id string) (health.Result, error) {
	return w.loop.Check(ctx, id)
}

// RefreshAll forces a health sweep, joining one already in flight
func (w *Workshop) RefreshAll(ctx context.Context) (health.TickReport, error) {
	return w.loop.Refresh(ctx)
}

// ListIncidents returns incidents matching filter
func (w *Workshop) ListIncidents(ctx context.Context, filter incident.Filter) ([]*incident.Incident, error) {
	if filter.Limit == 0 {
		filter.Limit = constants.DefaultIncidentListSize
	}
	if filter.ServiceID != "" {
		if _, err := w.reg.Get(filter.ServiceID); err != nil {
			return nil, err
		}
	}
	return w.incidents.List(ctx, filter)
}

// GetIncident returns one incident
func (w *Workshop) GetIncident(ctx context.Context, id string) (*incident.Incident, error) {
	return w.incidents.Get(ctx, id)
}

// AnnotateIncident appends an operator note to an incident
func (w *Workshop) AnnotateIncident(ctx context.Context, id, author, text string) (*incident.Incident, error) {
	if _, err := w.incidents.Annotate(ctx, id, author, text); err != nil {
		return nil, err
	}
	return w.incidents.Get(ctx, id)
}

// ResolveIncident closes an incident by hand. The service's escalation
// episode ends with it, so an exhausted service is watched again.
func (w *Workshop) ResolveIncident(ctx context.Context, id string) (*incident.Incident, error) {
	inc, err := w.incidents.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	reset := w.healer.Reset(inc.ServiceID, inc.ID)
	logger.WithContext(ctx).WithFields(logger.Fields{
		"incident":         id,
		"service":          inc.ServiceID,
		"escalation_reset": reset,
	}).Info("Incident resolved by operator")
	return inc, nil
}

// GetHeartbeat returns a service's sparkline. A zero window means the full
// history window.
func (w *Workshop) GetHeartbeat(ctx context.Context, id string, window time.Duration, points int) (*Heartbeat, error) {
	if _, err := w.reg.Get(id); err != nil {
		return nil, err
	}
	if window < 0 {
		return nil, errors.InvalidInput(window.String(), "non-negative window")
	}
	if window == 0 {
		window = w.window
	}

	hb := &Heartbeat{
		ServiceID: id,
		Window:    window.String(),
		Capacity:  w.heartbeat.Capacity(),
		Points:    slices.Collect(w.heartbeat.Sparkline(id, window, points)),
	}
	var successes int
	for _, p := range hb.Points {
		hb.Samples += p.Samples
		successes += p.Successes
	}
	if hb.Samples > 0 {
		hb.Uptime = float64(successes) / float64(hb.Samples)
	}
	if hb.Points == nil {
		hb.Points = []heartbeat.Point{}
	}
	return hb, nil
}

// GetConstellation returns the dependency graph with live status
func (w *Workshop) GetConstellation(ctx context.Context) constellation.Graph {
	return w.graph.Snapshot()
}

// EscalationStates returns the healer state of every service seen so far
func (w *Workshop) EscalationStates() []healer.State {
	return w.healer.States()
}

// Shutdown stops every running service in reverse dependency order
func (w *Workshop) Shutdown(ctx context.Context) {
	var running []string
	for id, st := range w.manager.Statuses() {
		if st.PID != 0 {
			running = append(running, id)
		}
	}
	if len(running) == 0 {
		return
	}

	order, err := w.reg.StopOrder(running...)
	if err != nil {
		logger.WithError(err).Error("Failed to order shutdown")
		return
	}
	for _, id := range order {
		if err := w.manager.Stop(ctx, id, service.WithGhosts()); err != nil {
			logger.WithError(err).WithField("service", id).Warn("Failed to stop service during shutdown")
		}
	}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
