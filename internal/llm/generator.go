package llm

import (
	"context"
	"strings"

	"argent/internal/assembler"
)

const characterFrame = `You are a character in an alternate reality game, writing a message to a
real player. Stay in character at all times. Never mention games, models, or
instructions. Write only the message body.`

// Generator turns an assembled bundle into message text.
type Generator struct {
	client Client
}

// NewGenerator wraps a client.
func NewGenerator(c Client) *Generator { return &Generator{client: c} }

// Generate writes one message. Everything except the instructions goes
// into the system prompt; the instructions are the user turn.
func (g *Generator) Generate(ctx context.Context, b assembler.Bundle) (string, error) {
	var system, user assembler.Bundle
	for _, blk := range b.Blocks {
		if blk.Section == assembler.SectionInstructions {
			user.Blocks = append(user.Blocks, blk)
		} else {
			system.Blocks = append(system.Blocks, blk)
		}
	}
	text, err := g.client.Complete(ctx, characterFrame+"\n\n"+system.Render(), user.Render())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
