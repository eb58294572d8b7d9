package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"workshop/internal/logger"
	"workshop/internal/registry"

	"github.com/sirupsen/logrus"
)

// Process is a handle on a launched service process. It is owned by the
// Manager for as long as the service runs.
type Process interface {
	Pid() int
	// Done is closed once the process has exited
	Done() <-chan struct{}
	// Err is the exit error; only valid after Done is closed
	Err() error
	// Stop asks the process to terminate, escalating to a kill after grace
	Stop(ctx context.Context, grace time.Duration) error
	// Kill terminates the process immediately
	Kill() error
}

// Launcher spawns service processes
type Launcher interface {
	// Launch starts svc. The process is not bound to ctx and outlives it.
	Launch(ctx context.Context, svc *registry.Service) (Process, error)
}

// Prober reports whether a freshly launched service is ready
type Prober interface {
	Ready(ctx context.Context, svc *registry.Service) bool
}

// ExecLauncher runs start commands through the shell in their own process group
type ExecLauncher struct {
	Shell string
}

// NewExecLauncher creates a launcher using /bin/sh
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{Shell: "/bin/sh"}
}

// Launch implements Launcher
func (l *ExecLauncher) Launch(ctx context.Context, svc *registry.Service) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if svc.StartCommand == "" {
		return nil, fmt.Errorf("no start_command for %s", svc.ID)
	}

	cmd := exec.Command(l.Shell, "-c", svc.StartCommand)
	if svc.WorkingDir != "" {
		if info, err := os.Stat(svc.WorkingDir); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("working directory %s is not usable", svc.WorkingDir)
		}
		cmd.Dir = svc.WorkingDir
	}
	cmd.Env = os.Environ()
	for k, v := range svc.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out := logger.WithField("service", svc.ID).WriterLevel(logrus.DebugLevel)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		out.Close()
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		out.Close()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
	once sync.Once
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// signal delivers sig to the whole process group so shell children go too
func (p *execProcess) signal(sig syscall.Signal) error {
	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}

func (p *execProcess) Stop(ctx context.Context, grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.signal(syscall.SIGTERM); err != nil {
		return err
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := p.Kill(); err != nil {
		return err
	}
	<-p.done
	return nil
}

func (p *execProcess) Kill() error {
	var err error
	p.once.Do(func() {
		err = p.signal(syscall.SIGKILL)
	})
	return err
}
