package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"workshop/internal/errors"
	"workshop/internal/logger"
	"workshop/internal/registry"
)

// Result outcomes reported by group operations
const (
	ResultStarted        = "started"
	ResultAlreadyRunning = "already_running"
	ResultStopped        = "stopped"
	ResultAlreadyStopped = "already_stopped"
	ResultSkippedGhost   = "skipped_ghost"
	ResultFailed         = "failed"
)

// GroupResult is the per-service outcome of a group operation
type GroupResult struct {
	ServiceID string `json:"service_id"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`
}

// Start starts a service after starting any dependencies that are not
// already healthy. A second Start while one is in flight returns
// ALREADY_IN_PROGRESS without spawning anything.
func (m *Manager) Start(ctx context.Context, id string, opts ...Option) error {
	o := applyOptions(opts)
	svc, err := m.lookup(id, "start", o)
	if err != nil {
		return err
	}

	if !m.tryAcquire(id) {
		return errors.AlreadyInProgress(id, "start")
	}
	defer m.release(id)

	return m.startHeld(ctx, svc, o)
}

// Stop stops a service. Dependents are left alone. Stopping a service that
// is already Stopped is a no-op.
func (m *Manager) Stop(ctx context.Context, id string, opts ...Option) error {
	o := applyOptions(opts)
	svc, err := m.lookup(id, "stop", o)
	if err != nil {
		return err
	}

	if !m.tryAcquire(id) {
		return errors.AlreadyInProgress(id, "stop")
	}
	defer m.release(id)

	_, err = m.stopHeld(ctx, svc)
	return err
}

// Restart stops then starts a service while holding its token throughout
func (m *Manager) Restart(ctx context.Context, id string, opts ...Option) error {
	o := applyOptions(opts)
	svc, err := m.lookup(id, "restart", o)
	if err != nil {
		return err
	}

	if !m.tryAcquire(id) {
		return errors.AlreadyInProgress(id, "restart")
	}
	defer m.release(id)

	if _, err := m.stopHeld(ctx, svc); err != nil {
		return err
	}
	m.bumpRestarts(id)
	if err := m.startHeld(ctx, svc, o); err != nil {
		m.downIfStopped(id, err)
		return err
	}
	return nil
}

// DeepRestart kills the process outright, clears the service's transient
// paths and starts it again.
func (m *Manager) DeepRestart(ctx context.Context, id string) error {
	svc, err := m.lookup(id, "deep restart", options{})
	if err != nil {
		return err
	}

	if !m.tryAcquire(id) {
		return errors.AlreadyInProgress(id, "deep restart")
	}
	defer m.release(id)

	m.mutex.Lock()
	proc := m.procs[id]
	delete(m.procs, id)
	m.mutex.Unlock()

	if proc != nil {
		if err := proc.Kill(); err != nil {
			return errors.ProcessStopFailed(id, err)
		}
		select {
		case <-proc.Done():
		case <-time.After(m.cfg.StopGrace):
			logger.WithField("service", id).Warn("Killed process did not exit within stop grace")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, path := range svc.TransientPaths {
		if err := os.RemoveAll(path); err != nil {
			logger.WithFields(logger.Fields{
				"service": id,
				"path":    path,
			}).WithError(err).Warn("Failed to clear transient path")
		}
	}

	m.mutex.Lock()
	st := m.states[id]
	st.PID = 0
	st.StartedAt = time.Time{}
	st.LastError = ""
	st.RestartCount++
	tr := m.setStatusLocked(st, StatusStopped, "deep restart")
	m.mutex.Unlock()
	m.emit(tr)

	if err := m.startHeld(ctx, svc, options{}); err != nil {
		m.downIfStopped(id, err)
		return err
	}
	return nil
}

// CascadeRestart restarts a service together with everything that depends
// on it: stops in reverse dependency order, then starts in dependency
// order. Dependents that are busy with another lifecycle operation or are
// ghosts are left alone.
func (m *Manager) CascadeRestart(ctx context.Context, id string) error {
	svc, err := m.lookup(id, "cascade restart", options{})
	if err != nil {
		return err
	}

	if !m.tryAcquire(id) {
		return errors.AlreadyInProgress(id, "cascade restart")
	}
	defer m.release(id)

	touched := []string{id}
	for _, depID := range m.reg.Dependents(id) {
		dep, _ := m.reg.Get(depID)
		if dep.Ghost {
			continue
		}
		if !m.tryAcquire(depID) {
			logger.WithFields(logger.Fields{
				"service":   id,
				"dependent": depID,
			}).Warn("Dependent busy, leaving it out of cascade restart")
			continue
		}
		defer m.release(depID)
		touched = append(touched, depID)
	}

	stopOrder, err := m.reg.StopOrder(touched...)
	if err != nil {
		return err
	}
	for _, sid := range stopOrder {
		s, _ := m.reg.Get(sid)
		if _, err := m.stopHeld(ctx, s); err != nil {
			for _, stopped := range touched {
				m.downIfStopped(stopped, err)
			}
			return fmt.Errorf("cascade restart of %s: %w", svc.ID, err)
		}
		m.bumpRestarts(sid)
	}

	startOrder, err := m.reg.Order(touched...)
	if err != nil {
		return err
	}
	// All touched tokens are held here; launch without re-acquiring
	var errs []error
	for _, sid := range startOrder {
		s, _ := m.reg.Get(sid)
		if err := m.launchAndWait(ctx, s); err != nil {
			m.downIfStopped(sid, err)
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// StartGroup starts every member of a group in dependency order across the
// union of members and their dependencies. Ghost members are skipped unless
// WithGhosts is given.
func (m *Manager) StartGroup(ctx context.Context, group string, opts ...Option) ([]GroupResult, error) {
	o := applyOptions(opts)
	members := m.reg.Members(group)
	if len(members) == 0 {
		return nil, errors.InvalidInput(group, "a registered group")
	}

	var ids []string
	var results []GroupResult
	for _, svc := range members {
		if svc.Ghost && !o.ghosts {
			results = append(results, GroupResult{ServiceID: svc.ID, Result: ResultSkippedGhost})
			continue
		}
		ids = append(ids, svc.ID)
	}

	order, err := m.reg.StartOrder(ids...)
	if err != nil {
		return results, err
	}

	inGroup := make(map[string]bool, len(ids))
	for _, id := range ids {
		inGroup[id] = true
	}

	var errs []error
	failed := make(map[string]bool)
	for _, id := range order {
		svc, _ := m.reg.Get(id)
		if !inGroup[id] && svc.Ghost && !o.ghosts {
			failed[id] = true
			continue
		}
		if blocked := m.failedDependency(svc, failed); blocked != "" {
			failed[id] = true
			if inGroup[id] {
				err := errors.DependencyFailed(id, blocked, nil)
				results = append(results, GroupResult{ServiceID: id, Result: ResultFailed, Error: err.Error()})
				errs = append(errs, err)
			}
			continue
		}

		result, err := m.startOne(ctx, svc, o)
		if err != nil {
			failed[id] = true
			errs = append(errs, err)
		}
		if inGroup[id] {
			gr := GroupResult{ServiceID: id, Result: result}
			if err != nil {
				gr.Error = err.Error()
			}
			results = append(results, gr)
		}
	}
	return results, stderrors.Join(errs...)
}

// StopGroup stops every member of a group, dependents before dependencies.
// Services outside the group are never touched.
func (m *Manager) StopGroup(ctx context.Context, group string, opts ...Option) ([]GroupResult, error) {
	o := applyOptions(opts)
	members := m.reg.Members(group)
	if len(members) == 0 {
		return nil, errors.InvalidInput(group, "a registered group")
	}

	var ids []string
	var results []GroupResult
	for _, svc := range members {
		if svc.Ghost && !o.ghosts {
			results = append(results, GroupResult{ServiceID: svc.ID, Result: ResultSkippedGhost})
			continue
		}
		ids = append(ids, svc.ID)
	}

	order, err := m.reg.StopOrder(ids...)
	if err != nil {
		return results, err
	}

	var errs []error
	for _, id := range order {
		svc, _ := m.reg.Get(id)
		gr := GroupResult{ServiceID: id}
		if !m.tryAcquire(id) {
			err := errors.AlreadyInProgress(id, "stop")
			gr.Result, gr.Error = ResultFailed, err.Error()
			errs = append(errs, err)
			results = append(results, gr)
			continue
		}
		stopped, err := m.stopHeld(ctx, svc)
		m.release(id)

		switch {
		case err != nil:
			gr.Result, gr.Error = ResultFailed, err.Error()
			errs = append(errs, err)
		case stopped:
			gr.Result = ResultStopped
		default:
			gr.Result = ResultAlreadyStopped
		}
		results = append(results, gr)
	}
	return results, stderrors.Join(errs...)
}

// startOne starts a single service for a group call, skipping it when healthy
func (m *Manager) startOne(ctx context.Context, svc *registry.Service, o options) (string, error) {
	if err := m.acquire(ctx, svc.ID); err != nil {
		return ResultFailed, err
	}
	defer m.release(svc.ID)

	if m.statusOf(svc.ID) == StatusHealthy {
		return ResultAlreadyRunning, nil
	}
	if err := m.launchAndWait(ctx, svc); err != nil {
		return ResultFailed, err
	}
	return ResultStarted, nil
}

func (m *Manager) failedDependency(svc *registry.Service, failed map[string]bool) string {
	for _, dep := range svc.Dependencies {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func (m *Manager) lookup(id, op string, o options) (*registry.Service, error) {
	svc, err := m.reg.Get(id)
	if err != nil {
		return nil, err
	}
	if svc.Ghost && !o.ghosts {
		return nil, errors.GhostService(id, op)
	}
	return svc, nil
}

func (m *Manager) bumpRestarts(id string) {
	m.mutex.Lock()
	m.states[id].RestartCount++
	m.mutex.Unlock()
}

// startHeld starts svc's unmet dependencies in order, then svc itself.
// The caller holds svc's token.
func (m *Manager) startHeld(ctx context.Context, svc *registry.Service, o options) error {
	order, err := m.reg.StartOrder(svc.ID)
	if err != nil {
		return err
	}

	for _, depID := range order {
		if depID == svc.ID {
			continue
		}
		dep, _ := m.reg.Get(depID)
		if dep.Ghost && !o.ghosts {
			return errors.DependencyFailed(svc.ID, depID, errors.GhostService(depID, "start"))
		}
		if m.statusOf(depID) == StatusHealthy {
			continue
		}
		if err := m.acquire(ctx, depID); err != nil {
			return errors.DependencyFailed(svc.ID, depID, err)
		}
		err := m.launchAndWait(ctx, dep)
		m.release(depID)
		if err != nil {
			return errors.DependencyFailed(svc.ID, depID, err)
		}
	}

	return m.launchAndWait(ctx, svc)
}

// launchAndWait spawns svc unless it is healthy or already has a live
// process, then waits until it is ready or the start timeout passes. The
// caller holds svc's token.
func (m *Manager) launchAndWait(ctx context.Context, svc *registry.Service) error {
	m.mutex.RLock()
	status := m.states[svc.ID].Status
	proc := m.procs[svc.ID]
	m.mutex.RUnlock()

	if status == StatusHealthy {
		return nil
	}

	if proc == nil {
		m.transition(svc.ID, StatusStarting, "start requested")

		var err error
		proc, err = m.launcher.Launch(ctx, svc)
		if err != nil {
			m.mutex.Lock()
			st := m.states[svc.ID]
			st.LastError = err.Error()
			tr := m.setStatusLocked(st, StatusDown, "spawn failed")
			m.mutex.Unlock()
			m.emit(tr)

			spawnErr := errors.ProcessSpawnFailed(svc.ID, err)
			logger.WithField("service", svc.ID).WithError(err).Error("Failed to spawn service")
			m.spawnFailed(svc.ID, spawnErr)
			return spawnErr
		}

		m.mutex.Lock()
		m.procs[svc.ID] = proc
		st := m.states[svc.ID]
		st.PID = proc.Pid()
		st.StartedAt = m.now()
		st.LastError = ""
		m.mutex.Unlock()

		logger.WithFields(logger.Fields{
			"service": svc.ID,
			"pid":     proc.Pid(),
		}).Info("Service process started")
		go m.watch(svc.ID, proc)
	}

	return m.waitReady(ctx, svc, proc)
}

// waitReady polls the prober until the service is ready. Running out of
// time leaves the service Starting for the health loop to settle.
func (m *Manager) waitReady(ctx context.Context, svc *registry.Service, proc Process) error {
	if m.prober == nil {
		return nil
	}

	deadline := time.NewTimer(m.cfg.StartTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.ReadyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.Done():
			return errors.New(errors.ErrProcessSpawn, fmt.Sprintf("%s exited during startup", svc.ID))
		default:
		}

		if m.prober.Ready(ctx, svc) {
			m.transition(svc.ID, StatusHealthy, "ready")
			return nil
		}

		select {
		case <-proc.Done():
			return errors.New(errors.ErrProcessSpawn, fmt.Sprintf("%s exited during startup", svc.ID))
		case <-deadline.C:
			logger.WithFields(logger.Fields{
				"service": svc.ID,
				"timeout": m.cfg.StartTimeout.String(),
			}).Warn("Service not ready within start timeout, leaving it starting")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// downIfStopped marks id Down when the start half of a restart failed and
// left it Stopped. Stopped is reserved for services an operator stopped.
func (m *Manager) downIfStopped(id string, cause error) {
	m.mutex.Lock()
	st := m.states[id]
	if st.Status != StatusStopped {
		m.mutex.Unlock()
		return
	}
	st.LastError = cause.Error()
	tr := m.setStatusLocked(st, StatusDown, "restart failed")
	m.mutex.Unlock()
	m.emit(tr)
}

// stopHeld stops svc and reports whether anything had to be done. The
// caller holds svc's token.
func (m *Manager) stopHeld(ctx context.Context, svc *registry.Service) (bool, error) {
	m.mutex.Lock()
	st := m.states[svc.ID]
	if st.Status == StatusStopped {
		m.mutex.Unlock()
		return false, nil
	}
	proc := m.procs[svc.ID]
	delete(m.procs, svc.ID)
	m.mutex.Unlock()

	if proc != nil {
		if err := proc.Stop(ctx, m.cfg.StopGrace); err != nil {
			m.mutex.Lock()
			m.procs[svc.ID] = proc
			m.mutex.Unlock()
			return false, errors.ProcessStopFailed(svc.ID, err)
		}
		logger.WithFields(logger.Fields{
			"service": svc.ID,
			"pid":     proc.Pid(),
		}).Info("Service process stopped")
	}

	m.mutex.Lock()
	st.PID = 0
	st.StartedAt = time.Time{}
	tr := m.setStatusLocked(st, StatusStopped, "stop requested")
	m.mutex.Unlock()
	m.emit(tr)
	return true, nil
}
