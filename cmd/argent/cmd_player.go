package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"argent/internal/engine"
)

var (
	inboundMessageID string
	inboundChannel   string
	snapshotJSON     bool
)

// startCmd starts a player's game
var startCmd = &cobra.Command{
	Use:   "start [player-id]",
	Short: "Start a player's game and schedule the opening story events",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

// inboundCmd handles one player message
var inboundCmd = &cobra.Command{
	Use:   "inbound [player-id] [agent-id] [text...]",
	Short: "Handle a player message addressed to an agent",
	Long: `Classifies the message, commits its trust, knowledge and exposure
effects with everything they trigger, and queues the agent's reply.

Example:
  argent inbound p-42 ember "Who gave you my address?"`,
	Args: cobra.MinimumNArgs(3),
	RunE: runInbound,
}

// snapshotCmd prints a player's state
var snapshotCmd = &cobra.Command{
	Use:   "snapshot [player-id]",
	Short: "Show a player's narrative state",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

func init() {
	inboundCmd.Flags().StringVar(&inboundMessageID, "message-id", "", "Message id (generated when empty)")
	inboundCmd.Flags().StringVar(&inboundChannel, "channel", "", "Channel the message arrived on (defaults to the agent's)")
	snapshotCmd.Flags().BoolVar(&snapshotJSON, "json", false, "Print the raw snapshot as JSON")
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	snap, err := rt.engine.StartGame(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "player %s: game started %s (version %d)\n",
		snap.PlayerID, snap.Player.GameStartedAt.Format("2006-01-02 15:04:05"), snap.Version)
	return nil
}

func runInbound(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.engine.HandleInbound(ctx, engine.Inbound{
		PlayerID:  args[0],
		AgentID:   args[1],
		MessageID: inboundMessageID,
		Channel:   inboundChannel,
		Text:      strings.Join(args[2:], " "),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "trust %+d (%s), %d fact(s), events %v\n",
		res.Classification.TrustDelta, res.Classification.TrustReason,
		len(res.Classification.Knowledge), res.Classification.Events)
	fmt.Fprintf(out, "respond: %v (%s)\n", res.Decision.Respond, res.Decision.Reason)
	for _, a := range res.Queued {
		fmt.Fprintf(out, "  queued %s for %s: %s\n", a.Kind, a.AgentID, a.Intent)
	}
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	snap, err := rt.store.Snapshot(ctx, args[0])
	if err != nil {
		return err
	}
	if !snap.Exists() {
		return fmt.Errorf("player %s not found", args[0])
	}
	if snapshotJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderSnapshot(snap))
	return nil
}
