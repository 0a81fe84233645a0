package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"argent/internal/convcache"
	"argent/internal/logging"
)

// Classification is what one player/agent exchange did to the story.
type Classification struct {
	TrustDelta   int      `json:"trust_delta"`
	TrustReason  string   `json:"trust_reason"`
	Knowledge    []string `json:"knowledge_revealed"`
	PlayerIntent string   `json:"player_intent"`
	Confidence   float64  `json:"confidence"`
	// Events are exposure event types the player's message matches.
	Events []string `json:"events"`
}

// Neutral is the classification used whenever the model cannot help.
func Neutral(reason string) Classification {
	return Classification{TrustReason: reason}
}

// Exchange is the classifier input.
type Exchange struct {
	AgentID       string
	AgentGoal     string
	PlayerMessage string
	// AgentResponse is the agent message the player is answering, if any.
	AgentResponse string
	Context       []convcache.Entry
	// EventTypes lists the exposure events the model may report.
	EventTypes []string
}

const maxTrustDelta = 20

const classificationPrompt = `You are analyzing a conversation exchange in an alternate reality game.

AGENT: %s
AGENT'S GOAL: %s

RECENT CONTEXT:
%s

CURRENT EXCHANGE:
AGENT: %s
PLAYER: %s

Determine:
1. How the player's message affected their trust with this agent (-20 to +20).
2. What new information the AGENT's message revealed to the player (specific facts).
3. What the player was trying to accomplish.
4. Which of these events the player's message shows, if any: %s

Trust scoring guide:
- Player agrees, cooperates, shares info openly: +5 to +15
- Player asks neutral or clarifying questions: 0 to +5
- Player points out contradictions with reasoning: +5 to +10
- Player reveals they trust another agent more: -5 to -10
- Player aggressively demands answers: -5 to -10
- Player makes threats, insults, or attacks: -15 to -20
Curiosity is not hostility.

Return ONLY JSON:
{"trust_delta": 0, "trust_reason": "...", "knowledge_revealed": [], "player_intent": "...", "confidence": 0.0, "events": []}`

// Classifier scores exchanges.
type Classifier struct {
	client Client
}

// NewClassifier wraps a client.
func NewClassifier(c Client) *Classifier { return &Classifier{client: c} }

// Classify returns the classification. Transport failures are returned so
// the caller can retry; a response that does not parse degrades to a
// neutral result with zero confidence.
func (c *Classifier) Classify(ctx context.Context, x Exchange) (Classification, error) {
	resp, err := c.client.Complete(ctx, "", buildClassificationPrompt(x))
	if err != nil {
		return Neutral("classification unavailable"), err
	}
	out, err := parseClassification(resp, x.EventTypes)
	if err != nil {
		logging.LLMWarn("classification for %s unparseable: %v", x.AgentID, err)
		return Neutral("failed to parse classification"), nil
	}
	return out, nil
}

func buildClassificationPrompt(x Exchange) string {
	ctxLines := make([]string, 0, 6)
	recent := x.Context
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}
	for _, e := range recent {
		role := "AGENT"
		if e.FromPlayer {
			role = "PLAYER"
		}
		text := e.Text
		if r := []rune(text); len(r) > 200 {
			text = string(r[:200])
		}
		ctxLines = append(ctxLines, role+": "+text)
	}
	ctxStr := "(No prior context)"
	if len(ctxLines) > 0 {
		ctxStr = strings.Join(ctxLines, "\n")
	}
	events := "(none)"
	if len(x.EventTypes) > 0 {
		events = strings.Join(x.EventTypes, ", ")
	}
	goal := x.AgentGoal
	if goal == "" {
		goal = "Unknown agent goal"
	}
	agent := x.AgentResponse
	if agent == "" {
		agent = "(nothing yet)"
	}
	return fmt.Sprintf(classificationPrompt, x.AgentID, goal, ctxStr, agent, x.PlayerMessage, events)
}

func parseClassification(resp string, allowed []string) (Classification, error) {
	raw := extractJSON(resp)
	if raw == "" {
		return Classification{}, fmt.Errorf("no JSON object in response")
	}
	var out Classification
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Classification{}, err
	}
	out.TrustDelta = max(-maxTrustDelta, min(maxTrustDelta, out.TrustDelta))
	out.Confidence = max(0, min(1, out.Confidence))

	known := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		known[a] = true
	}
	events := out.Events[:0]
	for _, e := range out.Events {
		if known[e] {
			events = append(events, e)
		}
	}
	out.Events = events

	facts := out.Knowledge[:0]
	for _, k := range out.Knowledge {
		if k = strings.TrimSpace(k); k != "" {
			facts = append(facts, k)
		}
	}
	out.Knowledge = facts
	return out, nil
}
