package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"argent/internal/logging"
	"argent/internal/scheduler"
)

// serveCmd runs the scheduler loop until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run due jobs and periodic sweeps until interrupted",
	Long: `Polls the scheduler for due jobs (actions, story events, surfacings,
retries) and runs the periodic sweep over every player.

With the memory scheduler, jobs only exist inside this process; use the
redis scheduler when start and inbound run as separate commands.`,
	RunE: runServe,
}

// sweepCmd runs one sweep
var sweepCmd = &cobra.Command{
	Use:   "sweep [player-id]",
	Short: "Re-evaluate every player, or one player, once",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSweep,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	runner := scheduler.NewRunner(rt.sched, runnerConfig(cfg))
	rt.engine.Register(runner)
	logging.Boot("serving narrative %s (%d agent(s)) from %s store", cfg.NarrativePath, len(rt.model.Agents), cfg.Store.Backend)
	return runner.Run(ctx)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if len(args) == 1 {
		if err := rt.engine.SweepPlayer(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "swept %s\n", args[0])
		return nil
	}
	return rt.engine.Sweep(ctx)
}
