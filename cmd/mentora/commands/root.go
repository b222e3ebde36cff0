// Package commands defines all Cobra CLI commands for the mentora binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/mentora-app/mentora-go/internal/audit"
	"github.com/mentora-app/mentora-go/internal/config"
	"github.com/mentora-app/mentora-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mentora",
		Short: "Mentora — a Bhagavad-gītā study companion powered by LLMs",
		Long: `Mentora is a conversational study companion for the Bhagavad-gītā.

It answers questions with streamed responses grounded in the embedded verse
corpus: each reply cites the chapter and verse it draws on, with Sanskrit,
transliteration, translation, and purport available in context.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.mentora/config.yaml).
See 'mentora --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.mentora/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
