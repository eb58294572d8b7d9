// Package supervisor runs the long-lived parts of serve mode under a
// suture supervision tree so a crashed loop is restarted with backoff.
package supervisor

import (
	"context"
	"time"

	"workshop/internal/logger"

	"github.com/thejerf/suture/v4"
)

// TreeConfig tunes restart behavior
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig returns the restart policy used by serve
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has a monitoring branch (health loop, heartbeat persistence) and an
// api branch (HTTP server)
type Tree struct {
	root       *suture.Supervisor
	monitoring *suture.Supervisor
	api        *suture.Supervisor
}

// NewTree builds the supervision tree
func NewTree(cfg TreeConfig) *Tree {
	defaults := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = defaults.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = defaults.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := childSpec
	rootSpec.EventHook = logEvent

	t := &Tree{
		root:       suture.New("workshop", rootSpec),
		monitoring: suture.New("monitoring", childSpec),
		api:        suture.New("api", childSpec),
	}
	t.root.Add(t.monitoring)
	t.root.Add(t.api)
	return t
}

func logEvent(e suture.Event) {
	entry := logger.WithFields(logger.Fields(e.Map()))
	switch e.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
		entry.Error(e.String())
	case suture.EventTypeBackoff, suture.EventTypeStopTimeout:
		entry.Warn(e.String())
	default:
		entry.Info(e.String())
	}
}

// AddMonitoring adds a service to the monitoring branch
func (t *Tree) AddMonitoring(svc suture.Service) suture.ServiceToken {
	return t.monitoring.Add(svc)
}

// AddAPI adds a service to the api branch
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is done
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that did not stop within the timeout
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
