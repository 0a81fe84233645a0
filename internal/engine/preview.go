package engine

import (
	"context"

	"argent/internal/action"
	"argent/internal/assembler"
	"argent/internal/claims"
	"argent/internal/faults"
)

// PreviewContext assembles the bundle the generator would receive for an
// action by agentID now. Nothing is generated or committed.
func (e *Engine) PreviewContext(ctx context.Context, playerID, agentID, intent, message string) (assembler.Bundle, error) {
	agent, ok := e.model.Agent(agentID)
	if !ok {
		return assembler.Bundle{}, faults.Validationf("preview", playerID, "agent_id", "unknown agent %q", agentID)
	}
	snap, err := e.deps.Store.Snapshot(ctx, playerID)
	if err != nil {
		return assembler.Bundle{}, err
	}
	history := e.recent(ctx, playerID, agentID)
	conv := make([]assembler.Message, len(history))
	for i, h := range history {
		conv[i] = assembler.Message{FromPlayer: h.FromPlayer, Text: h.Text, At: h.At}
	}
	a := action.New(action.KindGenerate, playerID, agentID, intent, "preview")
	a.Message = message
	return e.deps.Assembler.Assemble(assembler.Request{
		Snap:         snap,
		Profile:      agent.Profile,
		Conversation: conv,
		Memories:     e.memories(ctx, a),
		Claims:       claims.Recent(snap, agentID, contextClaims),
		Intent:       intent,
		Message:      message,
	})
}
