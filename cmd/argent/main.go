package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"argent/internal/config"
	"argent/internal/logging"
)

var (
	// Global flags
	verbose       bool
	configPath    string
	narrativePath string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "argent",
	Short: "ARGent - narrative state and consistency engine",
	Long: `argent runs the narrative state of an alternate reality game.

Agents message players over email, SMS and the web. Player messages are
classified into trust, knowledge and exposure changes; triggers, story
events, lifecycles, spawns and inter-agent sharing react to the new state;
every generated message is checked against what the agent already said
before it is delivered.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if narrativePath != "" {
			cfg.NarrativePath = narrativePath
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.Initialize(logging.Options{
			Level:      level,
			JSONFormat: cfg.Logging.Format == "json",
			Categories: cfg.Logging.Categories,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "argent.yaml", "Path to the engine config")
	rootCmd.PersistentFlags().StringVarP(&narrativePath, "narrative", "n", "", "Path to the narrative document (overrides config)")

	rootCmd.AddCommand(
		serveCmd,
		sweepCmd,
		startCmd,
		inboundCmd,
		validateCmd,
		snapshotCmd,
		previewCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
