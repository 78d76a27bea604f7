package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		return err
	}
	return nil
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "provisio",
		Short: "Provisio - transactional cloud provisioning",
		Long: `Provisio executes multi-step deployments against a provisioning API
with retries, circuit breaking, and automatic rollback.

A deployment is declared in a CUE manifest and runs as one transaction:
either every step succeeds, or everything created so far is destroyed in
reverse order. Policies written in Rego gate each run before the first
resource is touched.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newDeployCommand(version))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newPoliciesCommand())

	return rootCmd
}
