package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dataanalyst/internal/config"
	"dataanalyst/internal/logging"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

// annotationNeedsModel marks commands that talk to the model; they refuse to
// start without credentials.
const annotationNeedsModel = "needs-model"

var rootCmd = &cobra.Command{
	Use:   "analyst",
	Short: "Data analyst agent for CSV, Excel, documents and images",
	Long: `analyst answers questions about a file.

Tables (.csv, .xlsx) are profiled, the model writes a Python analysis script,
and the script runs in a sandbox that may produce a chart. Documents (.txt,
.doc, .docx, .pdf) and images (.png, .jpg, .jpeg) are answered directly by
the model. Conversations are kept in a local session database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		opts := logging.Options{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			File:       cfg.Logging.File,
			Categories: cfg.Logging.Categories,
		}
		if verbose {
			opts.Level = "debug"
		}
		if err := logging.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.Root().Named("cli")
		logger.Debug("configuration loaded",
			zap.String("path", configPath),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("sandbox", cfg.Sandbox.Mode))

		if cmd.Annotations[annotationNeedsModel] == "true" {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "analyst %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Path to config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall request timeout")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
