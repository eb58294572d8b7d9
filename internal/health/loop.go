package health

import (
	"context"
	"sync"
	"time"

	"workshop/internal/constants"
	"workshop/internal/errors"
	"workshop/internal/heartbeat"
	"workshop/internal/logger"
	"workshop/internal/registry"
	"workshop/internal/service"

	"golang.org/x/sync/singleflight"
)

// Healer receives every health outcome for an active service
type Healer interface {
	Observe(ctx context.Context, id string, success bool)
}

// TickReport summarizes one sweep
type TickReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Results   []Result      `json:"results"`
}

// Checked returns the ids checked in this sweep, in registry order
func (r TickReport) Checked() []string {
	ids := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		ids = append(ids, res.ServiceID)
	}
	return ids
}

// Loop is the periodic health sweep. Ghost services are never checked.
type Loop struct {
	reg       *registry.Registry
	manager   *service.Manager
	checker   Checker
	heartbeat *heartbeat.Engine
	healer    Healer
	interval  time.Duration

	sweeps singleflight.Group

	// lanes serialize all processing for one service: check, record,
	// status update and any healer action
	lanes map[string]*sync.Mutex

	mu       sync.RWMutex
	last     *TickReport
	onResult []func(Result)
	onTick   []func(TickReport)

	background sync.WaitGroup
}

// NewLoop wires the health sweep
func NewLoop(reg *registry.Registry, manager *service.Manager, checker Checker, hb *heartbeat.Engine, healer Healer, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = constants.DefaultHealthInterval
	}
	l := &Loop{
		reg:       reg,
		manager:   manager,
		checker:   checker,
		heartbeat: hb,
		healer:    healer,
		interval:  interval,
		lanes:     make(map[string]*sync.Mutex, reg.Len()),
	}
	for _, svc := range reg.Services() {
		l.lanes[svc.ID] = &sync.Mutex{}
	}
	return l
}

// SetHealer attaches the healer after construction
func (l *Loop) SetHealer(h Healer) {
	l.healer = h
}

// OnResult registers a callback run for every processed result
func (l *Loop) OnResult(fn func(Result)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onResult = append(l.onResult, fn)
}

// OnTick registers a callback run after every sweep
func (l *Loop) OnTick(fn func(TickReport)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTick = append(l.onTick, fn)
}

// Interval returns the sweep interval
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Serve sweeps immediately, then once per interval until ctx is done
func (l *Loop) Serve(ctx context.Context) error {
	logger.WithField("interval", l.interval.String()).Info("Health loop started")

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if _, err := l.Refresh(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("Health sweep failed")
		}
		select {
		case <-ctx.Done():
			logger.Info("Health loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run is Serve without the error, for callers that just block
func (l *Loop) Run(ctx context.Context) {
	_ = l.Serve(ctx)
}

func (l *Loop) String() string {
	return "health-loop"
}

// Refresh forces a sweep. A sweep already in flight is joined rather than
// duplicated; the caller gets its report.
func (l *Loop) Refresh(ctx context.Context) (TickReport, error) {
	ch := l.sweeps.DoChan("sweep", func() (interface{}, error) {
		return l.Tick(context.WithoutCancel(ctx)), nil
	})

	select {
	case res := <-ch:
		return res.Val.(TickReport), res.Err
	case <-ctx.Done():
		return TickReport{}, ctx.Err()
	}
}

// Tick checks every active service concurrently and feeds each result to
// the heartbeat engine, the service manager and the healer.
func (l *Loop) Tick(ctx context.Context) TickReport {
	start := time.Now()
	active := l.reg.Active()
	results := make([]Result, len(active))

	var wg sync.WaitGroup
	for i, svc := range active {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lane := l.lanes[svc.ID]
			lane.Lock()
			defer lane.Unlock()

			res := l.checker.Check(ctx, svc)
			l.process(ctx, res)
			results[i] = res
		}()
	}
	wg.Wait()

	report := TickReport{StartedAt: start, Duration: time.Since(start), Results: results}

	l.mu.Lock()
	l.last = &report
	hooks := l.onTick
	l.mu.Unlock()
	for _, fn := range hooks {
		fn(report)
	}

	failing := 0
	for _, res := range results {
		if !res.Success {
			failing++
		}
	}
	logger.WithFields(logger.Fields{
		"checked":    len(results),
		"failing":    failing,
		"latency_ms": report.Duration.Milliseconds(),
	}).Debug("Health sweep complete")

	return report
}

// Check runs one on-demand check and processes it like a sweep result
func (l *Loop) Check(ctx context.Context, id string) (Result, error) {
	svc, err := l.reg.Get(id)
	if err != nil {
		return Result{}, err
	}
	if svc.Ghost {
		return Result{}, errors.GhostService(id, "health check")
	}

	lane := l.lanes[id]
	lane.Lock()
	defer lane.Unlock()

	res := l.checker.Check(ctx, svc)
	// Only the check itself is bound to the caller; a recovery action it triggers
	// must not be abandoned when the caller goes away.
	l.process(context.WithoutCancel(ctx), res)
	return res, nil
}

// LastReport returns the most recent sweep, if any
func (l *Loop) LastReport() (TickReport, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return TickReport{}, false
	}
	return *l.last, true
}

// ReportFailure feeds a failure that happened outside a check, such as a
// spawn error, into the same path as a failed check. It runs in the
// background because the caller may already hold the service's lane.
func (l *Loop) ReportFailure(id string, err error) {
	svc, lookupErr := l.reg.Get(id)
	if lookupErr != nil || svc.Ghost {
		return
	}

	l.background.Add(1)
	go func() {
		defer l.background.Done()
		lane := l.lanes[id]
		lane.Lock()
		defer lane.Unlock()

		res := Result{
			ServiceID: id,
			Status:    service.StatusDown,
			Detail:    err.Error(),
			CheckedAt: time.Now(),
		}
		l.process(context.Background(), res)
	}()
}

// Wait blocks until background failure reports have been processed
func (l *Loop) Wait() {
	l.background.Wait()
}

// process records a result and hands it on. The caller holds the lane.
func (l *Loop) process(ctx context.Context, res Result) {
	if l.heartbeat != nil {
		l.heartbeat.Record(heartbeat.Sample{
			ServiceID:   res.ServiceID,
			Timestamp:   res.CheckedAt,
			Success:     res.Success,
			Status:      string(res.Status),
			Latency:     res.Latency,
			ErrorDetail: res.Detail,
		})
	}

	l.manager.ObserveHealth(res.ServiceID, service.Observation{
		Status: res.Status,
		Detail: res.Detail,
		At:     res.CheckedAt,
	})

	if !res.Success {
		logger.WithFields(logger.Fields{
			"service":    res.ServiceID,
			"status":     res.Status,
			"latency_ms": res.Latency.Milliseconds(),
			"error":      res.Detail,
		}).Warn("Health check failed")
	}

	l.mu.RLock()
	hooks := l.onResult
	l.mu.RUnlock()
	for _, fn := range hooks {
		fn(res)
	}

	if l.healer != nil {
		l.healer.Observe(ctx, res.ServiceID, res.Success)
	}
}
