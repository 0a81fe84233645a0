package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"argent/internal/claims"
	"argent/internal/logging"
	"argent/internal/state"
)

const extractionPrompt = `List the discrete claims the speaker makes about themselves, other people,
or events in the message below. Ignore greetings and small talk.

For each claim give:
- text: the claim as a short sentence
- subject: two to four words naming what it is about, the same words for any
  claim about the same thing regardless of whether it is affirmed or denied
- negated: true if the claim denies the subject ("I did not take it")
- type: one of action, fact, opinion, promise
- significance: low, medium, high or critical (critical = central to the plot)

Return ONLY JSON: {"claims": [{"text": "...", "subject": "...", "negated": false, "type": "fact", "significance": "medium"}]}

SPEAKER: %s
MESSAGE:
%s`

// Extractor implements claims.Extractor with a JSON-mode model.
type Extractor struct {
	client Client
}

// NewExtractor wraps a client.
func NewExtractor(c Client) *Extractor { return &Extractor{client: c} }

// Extract returns candidate claims. A response that does not parse yields
// no claims rather than an error; transport failures are returned.
func (e *Extractor) Extract(ctx context.Context, agentID, text string) ([]claims.Candidate, error) {
	resp, err := e.client.Complete(ctx, "", fmt.Sprintf(extractionPrompt, agentID, text))
	if err != nil {
		return nil, err
	}
	cands, err := parseClaims(resp)
	if err != nil {
		logging.LLMWarn("claim extraction for %s unparseable: %v", agentID, err)
		return nil, nil
	}
	return cands, nil
}

func parseClaims(resp string) ([]claims.Candidate, error) {
	raw := extractJSON(resp)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var out struct {
		Claims []claims.Candidate `json:"claims"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	valid := out.Claims[:0]
	for _, c := range out.Claims {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			continue
		}
		c.Type = state.ClaimType(strings.ToLower(string(c.Type)))
		c.Significance = state.Significance(strings.ToLower(string(c.Significance)))
		valid = append(valid, c)
	}
	return valid, nil
}
