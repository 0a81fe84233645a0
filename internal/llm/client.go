// Package llm talks to the generation and classification models. Nothing
// here decides story logic: callers pass in assembled context and get text
// or structured records back.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"argent/internal/faults"
	"argent/internal/logging"
)

// Client defines the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GenAIConfig configures a Gemini client.
type GenAIConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	Timeout         time.Duration
	// JSON asks the model for an application/json response.
	JSON bool
}

// GenAIClient implements Client over google.golang.org/genai.
type GenAIClient struct {
	client *genai.Client
	cfg    GenAIConfig
}

// NewGenAIClient creates a Gemini client.
func NewGenAIClient(ctx context.Context, cfg GenAIConfig) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIClient{client: c, cfg: cfg}, nil
}

// Complete sends one system+user exchange and returns the text. Timeouts
// and API failures come back as ExternalServiceError.
func (c *GenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	timer := logging.StartTimer(logging.CategoryLLM, "Complete:"+c.cfg.Model)
	defer timer.StopWithThreshold(10 * time.Second)

	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.cfg.Temperature),
		MaxOutputTokens: c.cfg.MaxOutputTokens,
	}
	if systemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if c.cfg.JSON {
		gc.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model,
		[]*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}, gc)
	if err != nil {
		return "", faults.External("llm:"+c.cfg.Model, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", faults.External("llm:"+c.cfg.Model, fmt.Errorf("empty response"))
	}
	logging.LLMDebug("model %s returned %d chars", c.cfg.Model, len(text))
	return text, nil
}

// OfflineClient answers without a model. Generation echoes the goal line
// of the prompt; JSON requests get an empty object, which every parser in
// this package treats as "nothing found".
type OfflineClient struct {
	JSON bool
}

// Complete returns a deterministic placeholder.
func (o OfflineClient) Complete(_ context.Context, _, userPrompt string) (string, error) {
	if o.JSON {
		return "{}", nil
	}
	for _, line := range strings.Split(userPrompt, "\n") {
		if goal, ok := strings.CutPrefix(strings.TrimPrefix(line, "- "), "Goal for this message: "); ok {
			return goal, nil
		}
	}
	return "...", nil
}

// extractJSON finds the JSON object in a response (handles markdown
// fences and chatter around it).
func extractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(response); i++ {
		ch := response[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
