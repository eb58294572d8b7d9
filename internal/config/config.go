package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"workshop/internal/constants"
	"workshop/internal/errors"
	"workshop/internal/xdg"

	"github.com/pelletier/go-toml/v2"
)

// Config is the workshop control plane configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Registry  RegistryConfig  `toml:"registry"`
	Storage   StorageConfig   `toml:"storage"`
	Health    HealthConfig    `toml:"health"`
	Healer    HealerConfig    `toml:"healer"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Notify    NotifyConfig    `toml:"notify"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// Address returns host:port for listening or dialing
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type RegistryConfig struct {
	Path string `toml:"path"` // YAML service registry
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"` // incidents.db and heartbeat.db live here
}

// IncidentsPath returns the incident database file
func (s StorageConfig) IncidentsPath() string {
	return filepath.Join(s.DataDir, "incidents.db")
}

// HeartbeatPath returns the heartbeat database file
func (s StorageConfig) HeartbeatPath() string {
	return filepath.Join(s.DataDir, "heartbeat.db")
}

type HealthConfig struct {
	Interval      Duration `toml:"interval"`
	Timeout       Duration `toml:"timeout"`
	HistoryWindow Duration `toml:"history_window"`
}

// Capacity is the number of samples kept per service
func (h HealthConfig) Capacity() int {
	if h.Interval.Duration <= 0 {
		return 1
	}
	n := int(h.HistoryWindow.Duration / h.Interval.Duration)
	if n < 1 {
		return 1
	}
	return n
}

type HealerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	SuccessThreshold int      `toml:"success_threshold"`
	SettleWindow     Duration `toml:"settle_window"`
	ActionTimeout    Duration `toml:"action_timeout"`
}

type LifecycleConfig struct {
	StartTimeout      Duration `toml:"start_timeout"`
	ReadyPollInterval Duration `toml:"ready_poll_interval"`
	StopGrace         Duration `toml:"stop_grace"`
}

type NotifyConfig struct {
	ElaineURL string   `toml:"elaine_url"`
	AMQPURL   string   `toml:"amqp_url"`
	Exchange  string   `toml:"exchange"`
	Timeout   Duration `toml:"timeout"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the default configuration rooted at the XDG directories
func Default() *Config {
	configDir, _ := xdg.ConfigDir()
	dataDir, _ := xdg.DataDir()

	return &Config{
		Server: ServerConfig{
			Host:            constants.DefaultServerHost,
			Port:            constants.DefaultServerPort,
			ReadTimeout:     D(constants.DefaultServerReadTimeout),
			WriteTimeout:    D(constants.DefaultServerWriteTimeout),
			ShutdownTimeout: D(constants.DefaultServerShutdownTimeout),
		},
		Registry: RegistryConfig{
			Path: filepath.Join(configDir, "registry.yaml"),
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Health: HealthConfig{
			Interval:      D(constants.DefaultHealthInterval),
			Timeout:       D(constants.DefaultHealthTimeout),
			HistoryWindow: D(constants.DefaultHistoryWindow),
		},
		Healer: HealerConfig{
			FailureThreshold: constants.DefaultFailureThreshold,
			SuccessThreshold: constants.DefaultSuccessThreshold,
			SettleWindow:     D(constants.DefaultSettleWindow),
			ActionTimeout:    D(constants.DefaultActionTimeout),
		},
		Lifecycle: LifecycleConfig{
			StartTimeout:      D(constants.DefaultStartTimeout),
			ReadyPollInterval: D(constants.DefaultReadyPollInterval),
			StopGrace:         D(constants.DefaultStopGrace),
		},
		Notify: NotifyConfig{
			ElaineURL: constants.DefaultElaineURL,
			Exchange:  constants.DefaultNotifyExchange,
			Timeout:   D(constants.DefaultNotifyTimeout),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/workshop/config.toml
func DefaultPath() (string, error) {
	configDir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// Load reads the config from the default location, falling back to defaults
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfigNotFound, "failed to resolve config directory", err)
	}
	return LoadFile(path)
}

// LoadFile reads a TOML config file over the defaults. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, errors.ConfigParseError(path, err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, errors.ConfigParseError(path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as TOML
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return os.WriteFile(path, data, constants.FilePermissions)
}

// Validate checks the configuration for values the control plane cannot run with
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.ConfigValidationError("server.port", fmt.Sprintf("invalid port: %d", c.Server.Port))
	}
	if c.Registry.Path == "" {
		return errors.ConfigValidationError("registry.path", "registry path cannot be empty")
	}
	if c.Storage.DataDir == "" {
		return errors.ConfigValidationError("storage.data_dir", "data directory cannot be empty")
	}
	if c.Health.Interval.Duration <= 0 {
		return errors.ConfigValidationError("health.interval", "must be positive")
	}
	if c.Health.Timeout.Duration <= 0 {
		return errors.ConfigValidationError("health.timeout", "must be positive")
	}
	if c.Health.Timeout.Duration >= c.Health.Interval.Duration {
		return errors.ConfigValidationError("health.timeout", "must be shorter than health.interval")
	}
	if c.Health.HistoryWindow.Duration < c.Health.Interval.Duration {
		return errors.ConfigValidationError("health.history_window", "must cover at least one interval")
	}
	if c.Healer.FailureThreshold < 1 {
		return errors.ConfigValidationError("healer.failure_threshold", "must be at least 1")
	}
	if c.Healer.SuccessThreshold < 1 {
		return errors.ConfigValidationError("healer.success_threshold", "must be at least 1")
	}
	if c.Healer.SettleWindow.Duration < 0 {
		return errors.ConfigValidationError("healer.settle_window", "cannot be negative")
	}
	if c.Lifecycle.StartTimeout.Duration <= 0 {
		return errors.ConfigValidationError("lifecycle.start_timeout", "must be positive")
	}
	if c.Lifecycle.ReadyPollInterval.Duration <= 0 {
		return errors.ConfigValidationError("lifecycle.ready_poll_interval", "must be positive")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.ConfigValidationError("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}
	return nil
}

// applyEnv overrides selected values from WORKSHOP_* variables
func (c *Config) applyEnv() error {
	if v := os.Getenv("WORKSHOP_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("WORKSHOP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.ConfigValidationError("WORKSHOP_PORT", fmt.Sprintf("not a number: %q", v))
		}
		c.Server.Port = port
	}
	if v := os.Getenv("WORKSHOP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("WORKSHOP_HEALTH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.ConfigValidationError("WORKSHOP_HEALTH_INTERVAL", err.Error())
		}
		c.Health.Interval = D(d)
	}
	if v := os.Getenv("WORKSHOP_REGISTRY"); v != "" {
		c.Registry.Path = v
	}
	if v := os.Getenv("WORKSHOP_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("WORKSHOP_ELAINE_URL"); v != "" {
		c.Notify.ElaineURL = v
	}
	if v := os.Getenv("WORKSHOP_AMQP_URL"); v != "" {
		c.Notify.AMQPURL = v
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Registry.Path = xdg.ExpandHome(c.Registry.Path)
	c.Storage.DataDir = xdg.ExpandHome(c.Storage.DataDir)
}
