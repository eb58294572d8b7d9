package commands

import (
	"fmt"
	"strings"

	"workshop/internal/config"
	"workshop/internal/registry"

	"github.com/spf13/cobra"
)

// RegistryCommands creates registry commands. They read the registry file
// directly and never need a running server.
func RegistryCommands() []*cobra.Command {
	commands := []*cobra.Command{}

	// workshop registry validate [path]
	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate the service registry",
		Long: `Parse the service registry, check ids, groups and dependencies, and
print the order services would start in. Defaults to the registry path
from the configuration file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				configPath, _ := cmd.Flags().GetString("config")
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				path = cfg.Registry.Path
			}
			return validateRegistry(cmd, path)
		},
	}
	commands = append(commands, validateCmd)

	return commands
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func validateRegistry(cmd *cobra.Command, path string) error {
	reg, err := registry.Load(path)
	if err != nil {
		return err
	}

	ids := make([]string, 0, reg.Len())
	for _, svc := range reg.Services() {
		ids = append(ids, svc.ID)
	}
	order, err := reg.Order(ids...)
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"path":        path,
			"services":    reg.Len(),
			"groups":      reg.Groups(),
			"start_order": order,
		})
	}

	ghosts := 0
	for _, svc := range reg.Services() {
		if svc.Ghost {
			ghosts++
		}
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s is valid\n", styleHealthy.Render("✓"), path)
	fmt.Fprintf(w, "  %d services (%d ghosts) in %d groups: %s\n",
		reg.Len(), ghosts, len(reg.Groups()), strings.Join(reg.Groups(), ", "))
	fmt.Fprintf(w, "  start order: %s\n", strings.Join(order, " → "))
	return nil
}
