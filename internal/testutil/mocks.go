package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"workshop/internal/registry"
	"workshop/internal/service"
)

// FakeProcess is an in-memory service.Process
type FakeProcess struct {
	pid     int
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	err     error
	stopped bool
	killed  bool
	StopFn  func(ctx context.Context, grace time.Duration) error
}

// NewFakeProcess creates a running fake process
func NewFakeProcess(pid int) *FakeProcess {
	return &FakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *FakeProcess) Pid() int              { return p.pid }
func (p *FakeProcess) Done() <-chan struct{} { return p.done }

func (p *FakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Exit simulates the process dying on its own
func (p *FakeProcess) Exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *FakeProcess) Stop(ctx context.Context, grace time.Duration) error {
	if p.StopFn != nil {
		if err := p.StopFn(ctx, grace); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.Exit(nil)
	return nil
}

func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.Exit(fmt.Errorf("signal: killed"))
	return nil
}

// Stopped reports whether Stop was called
func (p *FakeProcess) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Killed reports whether Kill was called
func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// FakeLauncher records every launch and hands out FakeProcesses
type FakeLauncher struct {
	mu        sync.Mutex
	launches  []string
	processes map[string][]*FakeProcess
	errors    map[string]error
	nextPID   int

	// LaunchFn is called before each launch when set
	LaunchFn func(ctx context.Context, svc *registry.Service) error
}

// NewFakeLauncher creates an empty launcher
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{
		processes: make(map[string][]*FakeProcess),
		errors:    make(map[string]error),
		nextPID:   1000,
	}
}

// FailLaunch makes every launch of id fail with err; nil clears it
func (l *FakeLauncher) FailLaunch(id string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.errors, id)
		return
	}
	l.errors[id] = err
}

// Launch implements service.Launcher
func (l *FakeLauncher) Launch(ctx context.Context, svc *registry.Service) (service.Process, error) {
	if l.LaunchFn != nil {
		if err := l.LaunchFn(ctx, svc); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.errors[svc.ID]; err != nil {
		return nil, err
	}
	l.nextPID++
	p := NewFakeProcess(l.nextPID)
	l.launches = append(l.launches, svc.ID)
	l.processes[svc.ID] = append(l.processes[svc.ID], p)
	return p, nil
}

// Launches returns service ids in launch order
func (l *FakeLauncher) Launches() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.launches...)
}

// LaunchCount returns how many processes were spawned for id
func (l *FakeLauncher) LaunchCount(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processes[id])
}

// Process returns the most recent process launched for id
func (l *FakeLauncher) Process(id string) *FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	ps := l.processes[id]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

// ScriptedProber answers readiness from a per-service table
type ScriptedProber struct {
	mu      sync.Mutex
	ready   map[string]bool
	Default bool
	calls   map[string]int
}

// NewScriptedProber creates a prober that reports def for unlisted services
func NewScriptedProber(def bool) *ScriptedProber {
	return &ScriptedProber{
		ready:   make(map[string]bool),
		calls:   make(map[string]int),
		Default: def,
	}
}

// SetReady overrides the answer for one service
func (p *ScriptedProber) SetReady(id string, ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready[id] = ready
}

// Ready implements service.Prober
func (p *ScriptedProber) Ready(ctx context.Context, svc *registry.Service) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[svc.ID]++
	if r, ok := p.ready[svc.ID]; ok {
		return r
	}
	return p.Default
}

// Calls returns how many times id was probed
func (p *ScriptedProber) Calls(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}
