package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"argent/internal/state"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(14)
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
	stageStyles = map[state.Stage]lipgloss.Style{
		state.StageEngaged: lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
		state.StageCooling: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		state.StageSilent:  lipgloss.NewStyle().Foreground(lipgloss.Color("#D19A66")),
		state.StageGone:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),
	}
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// renderSnapshot draws a player's state as bordered panels.
func renderSnapshot(snap *state.Snapshot) string {
	header := titleStyle.Render(fmt.Sprintf("Player %s  (version %d)", snap.PlayerID, snap.Version))

	world := panelStyle.Render(strings.Join([]string{
		row("started", snap.Player.GameStartedAt.Format("2006-01-02 15:04")),
		row("exposure", fmt.Sprintf("%d", snap.World.Exposure)),
		row("engagement", string(snap.Engagement.Tier)),
		row("re-engage", fmt.Sprintf("%d attempt(s)", snap.Engagement.Attempts)),
		row("milestones", fmt.Sprintf("%d", len(snap.Milestones))),
		row("facts", fmt.Sprintf("%d", len(snap.Knowledge))),
	}, "\n"))

	var agents []string
	for _, id := range snap.Agents() {
		stage := snap.Stage(id)
		style, ok := stageStyles[stage]
		if !ok {
			style = lipgloss.NewStyle()
		}
		agents = append(agents, row(id, fmt.Sprintf("trust %+4d  %s  %d msg(s)  %d claim(s)",
			snap.TrustScore(id), style.Render(string(stage)),
			snap.Engagement.MessageCounts[id], len(snap.ClaimsBy(id)))))
	}
	agentPanel := panelStyle.Render(strings.Join(agents, "\n"))

	ms := make([]string, 0, len(snap.Milestones))
	for id := range snap.Milestones {
		ms = append(ms, id)
	}
	slices.Sort(ms)
	var milestones string
	if len(ms) > 0 {
		milestones = panelStyle.Render(strings.Join(ms, "\n"))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, world, agentPanel),
		milestones,
	)
}

// renderMarkdown renders md for the terminal, falling back to the raw text.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
