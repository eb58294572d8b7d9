// Package service owns the process lifecycle of every registered service.
package service

import (
	"context"
	"sync"
	"time"

	"workshop/internal/constants"
	"workshop/internal/errors"
	"workshop/internal/logger"
	"workshop/internal/registry"
)

// Config holds the lifecycle timings
type Config struct {
	StartTimeout      time.Duration
	ReadyPollInterval time.Duration
	StopGrace         time.Duration
}

// DefaultConfig returns the default lifecycle timings
func DefaultConfig() Config {
	return Config{
		StartTimeout:      constants.DefaultStartTimeout,
		ReadyPollInterval: constants.DefaultReadyPollInterval,
		StopGrace:         constants.DefaultStopGrace,
	}
}

// Option modifies a single lifecycle call
type Option func(*options)

type options struct {
	ghosts bool
}

// WithGhosts lets a call act on ghost services
func WithGhosts() Option {
	return func(o *options) { o.ghosts = true }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Manager handles service lifecycle operations
type Manager struct {
	reg      *registry.Registry
	launcher Launcher
	prober   Prober
	cfg      Config

	// tokens[id] has capacity 1; holding it is the right to run a
	// lifecycle operation on id
	tokens map[string]chan struct{}

	mutex  sync.RWMutex
	states map[string]*State
	procs  map[string]Process

	hookMutex      sync.RWMutex
	onSpawnFailure func(id string, err error)
	onTransition   []func(Transition)

	now func() time.Time
}

// NewManager creates a manager for every service in reg. All services start Unknown.
func NewManager(reg *registry.Registry, launcher Launcher, prober Prober, cfg Config) *Manager {
	if cfg.ReadyPollInterval <= 0 {
		cfg.ReadyPollInterval = constants.DefaultReadyPollInterval
	}
	m := &Manager{
		reg:      reg,
		launcher: launcher,
		prober:   prober,
		cfg:      cfg,
		tokens:   make(map[string]chan struct{}, reg.Len()),
		states:   make(map[string]*State, reg.Len()),
		procs:    make(map[string]Process),
		now:      time.Now,
	}
	for _, svc := range reg.Services() {
		m.tokens[svc.ID] = make(chan struct{}, 1)
		m.states[svc.ID] = &State{ID: svc.ID, Status: StatusUnknown, LastTransitionAt: m.now()}
	}
	return m
}

// Registry returns the registry the manager was built from
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

// OnSpawnFailure registers the callback run when a process cannot be spawned
func (m *Manager) OnSpawnFailure(fn func(id string, err error)) {
	m.hookMutex.Lock()
	defer m.hookMutex.Unlock()
	m.onSpawnFailure = fn
}

// OnTransition registers a callback for every status change
func (m *Manager) OnTransition(fn func(Transition)) {
	m.hookMutex.Lock()
	defer m.hookMutex.Unlock()
	m.onTransition = append(m.onTransition, fn)
}

// Status returns a copy of a service's state
func (m *Manager) Status(id string) (State, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	st, ok := m.states[id]
	if !ok {
		return State{}, errors.UnknownService(id)
	}
	out := *st
	out.Busy = len(m.tokens[id]) > 0
	return out, nil
}

// Statuses returns a consistent snapshot of every service state, keyed by id
func (m *Manager) Statuses() map[string]State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]State, len(m.states))
	for id, st := range m.states {
		cp := *st
		cp.Busy = len(m.tokens[id]) > 0
		out[id] = cp
	}
	return out
}

// ObserveHealth folds a health check result into the service status. Failures
// are ignored while a lifecycle operation is in flight, and a deliberately
// stopped service stays Stopped until a check succeeds.
func (m *Manager) ObserveHealth(id string, obs Observation) {
	m.mutex.Lock()
	st, ok := m.states[id]
	if !ok {
		m.mutex.Unlock()
		return
	}
	if obs.At.IsZero() {
		obs.At = m.now()
	}
	st.LastHealthCheck = obs.At

	busy := len(m.tokens[id]) > 0
	healthy := obs.Status == StatusHealthy
	var tr *Transition
	switch {
	case healthy:
		st.LastError = ""
		tr = m.setStatusLocked(st, StatusHealthy, "health check passed")
	case busy, st.Status == StatusStopped:
		// keep current status
	default:
		st.LastError = obs.Detail
		tr = m.setStatusLocked(st, obs.Status, obs.Detail)
	}
	m.mutex.Unlock()

	m.emit(tr)
}

// SetNeedsIntervention flags a service that self-healing could not recover
func (m *Manager) SetNeedsIntervention(id string, needs bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if st, ok := m.states[id]; ok {
		st.NeedsIntervention = needs
	}
}

// tryAcquire takes id's token without waiting
func (m *Manager) tryAcquire(id string) bool {
	select {
	case m.tokens[id] <- struct{}{}:
		return true
	default:
		return false
	}
}

// acquire waits for id's token
func (m *Manager) acquire(ctx context.Context, id string) error {
	select {
	case m.tokens[id] <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release(id string) {
	<-m.tokens[id]
}

func (m *Manager) statusOf(id string) Status {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.states[id].Status
}

// setStatusLocked changes status and returns the transition, or nil when
// nothing changed. Caller holds m.mutex.
func (m *Manager) setStatusLocked(st *State, to Status, reason string) *Transition {
	if st.Status == to {
		return nil
	}
	tr := &Transition{ServiceID: st.ID, From: st.Status, To: to, Reason: reason, At: m.now()}
	st.Status = to
	st.LastTransitionAt = tr.At
	return tr
}

func (m *Manager) transition(id string, to Status, reason string) {
	m.mutex.Lock()
	tr := m.setStatusLocked(m.states[id], to, reason)
	m.mutex.Unlock()
	m.emit(tr)
}

func (m *Manager) emit(tr *Transition) {
	if tr == nil {
		return
	}
	logger.WithFields(logger.Fields{
		"service": tr.ServiceID,
		"from":    tr.From,
		"to":      tr.To,
		"reason":  tr.Reason,
	}).Info("Service status changed")

	m.hookMutex.RLock()
	hooks := m.onTransition
	m.hookMutex.RUnlock()
	for _, fn := range hooks {
		fn(*tr)
	}
}

func (m *Manager) spawnFailed(id string, err error) {
	m.hookMutex.RLock()
	fn := m.onSpawnFailure
	m.hookMutex.RUnlock()
	if fn != nil {
		fn(id, err)
	}
}

// watch marks a service Down if its process exits without being stopped
func (m *Manager) watch(id string, proc Process) {
	<-proc.Done()

	m.mutex.Lock()
	if m.procs[id] != proc {
		m.mutex.Unlock()
		return
	}
	delete(m.procs, id)
	st := m.states[id]
	st.PID = 0
	st.StartedAt = time.Time{}
	reason := "process exited"
	if err := proc.Err(); err != nil {
		reason = "process exited: " + err.Error()
	}
	st.LastError = reason
	tr := m.setStatusLocked(st, StatusDown, reason)
	m.mutex.Unlock()

	logger.WithFields(logger.Fields{
		"service": id,
		"pid":     proc.Pid(),
	}).Warn("Service process exited unexpectedly")
	m.emit(tr)
}
