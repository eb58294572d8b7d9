package cli

import (
	"context"

	"workshop/internal/cli/commands"
	"workshop/internal/client"

	"github.com/spf13/cobra"
)

// Manager handles CLI operations
type Manager struct {
	serve   commands.ServeFunc
	api     commands.APIFactory
	rootCmd *cobra.Command
}

// New creates a CLI whose serve command runs serve. Other commands reach
// the server named by --server.
func New(serve commands.ServeFunc) *Manager {
	m := &Manager{serve: serve}
	m.rootCmd = createRootCommand()
	m.api = m.connect
	m.setupCommands()
	return m
}

// SetAPI replaces the HTTP client, for tests
func (m *Manager) SetAPI(api commands.APIFactory) {
	m.api = api
}

// Root returns the root command
func (m *Manager) Root() *cobra.Command {
	return m.rootCmd
}

// Execute executes the CLI with the given arguments
func (m *Manager) Execute(args []string) error {
	return m.ExecuteWithContext(context.Background(), args)
}

// ExecuteWithContext executes the CLI with the given arguments and context
func (m *Manager) ExecuteWithContext(ctx context.Context, args []string) error {
	m.rootCmd.SetArgs(args)
	return m.rootCmd.ExecuteContext(ctx)
}

func (m *Manager) connect() (commands.API, error) {
	serverURL, _ := m.rootCmd.PersistentFlags().GetString("server")
	return client.New(serverURL)
}

// setupCommands sets up all CLI commands
func (m *Manager) setupCommands() {
	// Indirect so SetAPI after construction takes effect
	api := func() (commands.API, error) { return m.api() }

	m.rootCmd.AddCommand(commands.ServeCommand(m.serve))

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Manage a background control plane",
	}
	for _, cmd := range commands.ServerCommands(api) {
		serverCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(serverCmd)

	servicesCmd := &cobra.Command{
		Use:     "services",
		Short:   "Service lifecycle commands",
		Aliases: []string{"service", "svc"},
	}
	for _, cmd := range commands.ServicesCommands(api) {
		servicesCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(servicesCmd)

	groupCmd := &cobra.Command{
		Use:   "group",
		Short: "Start or stop a whole group",
	}
	for _, cmd := range commands.GroupCommands(api) {
		groupCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(groupCmd)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "On-demand health checks",
	}
	for _, cmd := range commands.HealthCommands(api) {
		healthCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(healthCmd)
	m.rootCmd.AddCommand(commands.HeartbeatCommand(api))

	incidentsCmd := &cobra.Command{
		Use:     "incidents",
		Short:   "Incident log commands",
		Aliases: []string{"incident", "inc"},
	}
	for _, cmd := range commands.IncidentCommands(api) {
		incidentsCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(incidentsCmd)

	m.rootCmd.AddCommand(commands.ConstellationCommand(api))
	m.rootCmd.AddCommand(commands.EventsCommand(api))

	registryCmd := &cobra.Command{
		Use:   "registry",
		Short: "Service registry commands",
	}
	for _, cmd := range commands.RegistryCommands() {
		registryCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(registryCmd)
}
