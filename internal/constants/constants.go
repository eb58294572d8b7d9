// Package constants defines application-wide constants to avoid magic numbers
package constants

import "time"

// Version is the workshop control plane version
const Version = "1.0.0"

// Network Constants
const (
	// DefaultServerHost binds the control plane API to loopback only
	DefaultServerHost = "127.0.0.1"

	// DefaultServerPort is the default port for the workshop API server
	DefaultServerPort = 5003
)

// File System Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// Database Configuration
const (
	DefaultMaxOpenConnections = 1
	DefaultMaxIdleConnections = 1
)

// HTTP Configuration
const (
	DefaultServerReadTimeout     = 10 * time.Second
	DefaultServerWriteTimeout    = 2 * time.Minute
	DefaultServerShutdownTimeout = 30 * time.Second
)

// Health loop defaults
const (
	DefaultHealthInterval   = 30 * time.Second
	DefaultHealthTimeout    = 5 * time.Second
	DefaultHistoryWindow    = 24 * time.Hour
	DefaultHealthEndpoint   = "/api/health"
	DefaultSparklinePoints  = 24
	DefaultIncidentListSize = 50
)

// Self-healing defaults
const (
	DefaultFailureThreshold = 3
	DefaultSuccessThreshold = 2
	DefaultSettleWindow     = 10 * time.Second
	DefaultActionTimeout    = 2 * time.Minute
)

// Lifecycle defaults
const (
	DefaultStartTimeout      = 30 * time.Second
	DefaultReadyPollInterval = 500 * time.Millisecond
	DefaultStopGrace         = 10 * time.Second
)

// Notification defaults
const (
	DefaultElaineURL       = "http://localhost:5000"
	DefaultNotifyTimeout   = 5 * time.Second
	DefaultNotifyExchange  = "workshop.escalations"
	NotifySource           = "workshop"
	HealerAnnotationAuthor = "self-healer"
)
