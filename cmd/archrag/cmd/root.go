// Package cmd provides the CLI commands for archrag.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/archrag/archrag/internal/config"
	"github.com/archrag/archrag/internal/logging"
	"github.com/archrag/archrag/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archrag",
		Short: "Retrieval-augmented QA over architecture and pattern docs",
		Long: `archrag answers questions about software architecture and design
patterns by fusing three retrieval tiers (curated corpus, persistent web
knowledge base, live web search) and generating cited answers.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("archrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newCalibrateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig reads configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func setupLogging(_ *cobra.Command, _ []string) error {
	lc := logging.DefaultConfig()
	if debugMode {
		lc.Level = "debug"
	}
	cleanup, err := logging.SetupDefault(lc)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	return nil
}

// logger returns the process logger configured by setupLogging.
func logger() *slog.Logger {
	return slog.Default()
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
