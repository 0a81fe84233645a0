package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"argent/internal/narrative"
)

var (
	previewMessage string
	previewRaw     bool
)

// validateCmd checks a narrative document without touching any backend
var validateCmd = &cobra.Command{
	Use:   "validate [narrative.yaml]",
	Short: "Compile a narrative document and report what it defines",
	Long: `Parses and compiles the narrative: agents, triggers, story events,
lifecycle guards, exposure events, spawns, sharing policies and claim rules.
Every condition is compiled, so a bad field path or operator is reported
with its location before the engine ever runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

// previewCmd shows the context an agent would be given
var previewCmd = &cobra.Command{
	Use:   "preview [player-id] [agent-id] [intent...]",
	Short: "Render the context bundle an agent would be generated from",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runPreview,
}

func init() {
	previewCmd.Flags().StringVar(&previewMessage, "message", "", "Player message the agent is answering")
	previewCmd.Flags().BoolVar(&previewRaw, "raw", false, "Print markdown without terminal styling")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := cfg.NarrativePath
	if len(args) == 1 {
		path = args[0]
	}
	model, err := narrative.Load(path)
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", path)
	fmt.Fprintf(&sb, "| | |\n|---|---|\n")
	fmt.Fprintf(&sb, "| agents | %d |\n", len(model.Agents))
	fmt.Fprintf(&sb, "| triggers | %d |\n", len(model.Triggers))
	fmt.Fprintf(&sb, "| story events | %d |\n", len(model.StoryEvents))
	fmt.Fprintf(&sb, "| exposure events | %d |\n", len(model.Exposure.Types()))
	fmt.Fprintf(&sb, "| introductions | %d |\n", len(model.Introductions))
	fmt.Fprintf(&sb, "| claim rules | %d |\n", len(model.ClaimRules))
	fmt.Fprintf(&sb, "| conflicts | %d |\n", len(model.Conflicts))
	fmt.Fprintf(&sb, "| categories | %d |\n\n", len(model.Categories))
	sb.WriteString("## Agents\n\n")
	for _, a := range model.Agents {
		fmt.Fprintf(&sb, "- **%s** (%s) on %s\n", a.Profile.Name, a.Profile.ID, a.Channel)
	}
	fmt.Fprint(cmd.OutOrStdout(), renderMarkdown(sb.String()))
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	b, err := rt.engine.PreviewContext(ctx, args[0], args[1], strings.Join(args[2:], " "), previewMessage)
	if err != nil {
		return err
	}
	md := fmt.Sprintf("# Context for %s → %s\n\n_%d of %d tokens_\n\n%s", b.AgentID, b.PlayerID, b.Total, b.Budget, b.Render())
	if previewRaw {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), renderMarkdown(md))
	return nil
}
