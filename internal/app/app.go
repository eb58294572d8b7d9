package app

import (
	"context"
	"fmt"

	"workshop/internal/cli"
	"workshop/internal/config"
	"workshop/internal/db"
	"workshop/internal/healer"
	"workshop/internal/health"
	"workshop/internal/heartbeat"
	"workshop/internal/incident"
	"workshop/internal/logger"
	"workshop/internal/operations"
	"workshop/internal/registry"
	"workshop/internal/server"
	"workshop/internal/service"
	"workshop/internal/supervisor"
)

// App represents the main application
type App struct {
	// Control plane components (only built by serve)
	Config    *config.Config
	Registry  *registry.Registry
	Incidents *db.DB
	History   *db.DB
	Manager   *service.Manager
	Heartbeat *heartbeat.Engine
	Healer    *healer.Healer
	Loop      *health.Loop
	Workshop  *operations.Workshop
	Server    *server.Server

	CLI *cli.Manager

	amqp *healer.AMQPNotifier
}

// New creates a new application instance
func New() *App {
	return &App{}
}

// Run starts the application
func (a *App) Run(args []string) error {
	return a.RunWithContext(context.Background(), args)
}

// RunWithContext runs the CLI. The serve command builds the control plane;
// every other command is an HTTP client of one.
func (a *App) RunWithContext(ctx context.Context, args []string) error {
	a.CLI = cli.New(a.Serve)

	// Show help if no arguments provided
	if len(args) == 0 {
		return a.CLI.ExecuteWithContext(ctx, []string{"--help"})
	}
	return a.CLI.ExecuteWithContext(ctx, args)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

// Build loads configuration and wires every control plane component
func (a *App) Build(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.Config = cfg
	logger.SetLevel(cfg.Log.Level)
	logger.SetFormat(cfg.Log.Format)

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return err
	}
	a.Registry = reg

	a.Incidents, err = db.Open(db.DefaultConfig(db.StoreIncidents, cfg.Storage.IncidentsPath()))
	if err != nil {
		return fmt.Errorf("failed to open incident store: %w", err)
	}
	a.History, err = db.Open(db.DefaultConfig(db.StoreHeartbeat, cfg.Storage.HeartbeatPath()))
	if err != nil {
		a.Close()
		return fmt.Errorf("failed to open heartbeat store: %w", err)
	}

	a.Heartbeat = heartbeat.NewEngine(cfg.Health.Capacity(), db.NewHeartbeatRepository(a.History))
	if err := a.Heartbeat.Load(ctx); err != nil {
		a.Close()
		return err
	}

	checker := health.NewHTTPChecker(cfg.Health.Timeout.Duration)
	a.Manager = service.NewManager(reg, service.NewExecLauncher(), checker, service.Config{
		StartTimeout:      cfg.Lifecycle.StartTimeout.Duration,
		ReadyPollInterval: cfg.Lifecycle.ReadyPollInterval.Duration,
		StopGrace:         cfg.Lifecycle.StopGrace.Duration,
	})

	incidents := incident.NewLogger(a.Incidents)

	notifiers := healer.MultiNotifier{healer.LogNotifier{}}
	if cfg.Notify.ElaineURL != "" {
		notifiers = append(notifiers, healer.NewHTTPNotifier(cfg.Notify.ElaineURL, cfg.Notify.Timeout.Duration))
	}
	a.amqp = healer.NewAMQPNotifier(cfg.Notify.AMQPURL, cfg.Notify.Exchange)
	if a.amqp.Enabled() {
		notifiers = append(notifiers, a.amqp)
	}

	a.Healer = healer.New(a.Manager, incidents, notifiers, healer.Config{
		FailureThreshold: cfg.Healer.FailureThreshold,
		SuccessThreshold: cfg.Healer.SuccessThreshold,
		SettleWindow:     cfg.Healer.SettleWindow.Duration,
		ActionTimeout:    cfg.Healer.ActionTimeout.Duration,
	})
	if err := a.Healer.Restore(ctx); err != nil {
		a.Close()
		return err
	}

	a.Loop = health.NewLoop(reg, a.Manager, checker, a.Heartbeat, a.Healer, cfg.Health.Interval.Duration)

	a.Workshop = operations.NewWorkshop(operations.Deps{
		Registry:      reg,
		Manager:       a.Manager,
		Loop:          a.Loop,
		Heartbeat:     a.Heartbeat,
		Healer:        a.Healer,
		Incidents:     incidents,
		HistoryWindow: cfg.Health.HistoryWindow.Duration,
	})
	a.Server = server.New(server.FromConfig(cfg.Server), a.Workshop)

	logger.WithFields(logger.Fields{
		"services": reg.Len(),
		"registry": cfg.Registry.Path,
		"data_dir": cfg.Storage.DataDir,
		"notify":   len(notifiers),
	}).Info("Control plane built")
	return nil
}

// Serve builds the control plane and runs it under a supervision tree until
// ctx is done. Running services are stopped on the way out.
func (a *App) Serve(ctx context.Context, configPath string) error {
	if err := a.Build(ctx, configPath); err != nil {
		return err
	}
	defer a.Close()

	tree := supervisor.NewTree(supervisor.TreeConfig{
		ShutdownTimeout: a.Config.Server.ShutdownTimeout.Duration,
	})
	tree.AddMonitoring(a.Loop)
	tree.AddMonitoring(a.Heartbeat)
	tree.AddAPI(a.Server)

	logger.WithFields(logger.Fields{
		"address":  a.Config.Server.Address(),
		"interval": a.Config.Health.Interval.Duration.String(),
	}).Info("Starting workshop control plane")

	err := tree.Serve(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout.Duration)
	defer cancel()

	a.Workshop.Shutdown(shutdownCtx)
	a.Loop.Wait()
	if ferr := a.Heartbeat.Flush(shutdownCtx); ferr != nil {
		logger.WithError(ferr).Warn("Failed to flush heartbeat history")
	}

	if ctx.Err() != nil {
		logger.Info("Workshop control plane stopped")
		return nil
	}
	return err
}

// Close releases the stores and the broker connection
func (a *App) Close() error {
	var firstErr error
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, store := range []*db.DB{a.Incidents, a.History} {
		if store == nil {
			continue
		}
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.Incidents, a.History, a.amqp = nil, nil, nil
	return firstErr
}
