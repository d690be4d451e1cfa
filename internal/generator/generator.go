// Package generator turns a question plus its retrieved contexts into a
// final answer using a chat model.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// systemPrompt instructs the model to answer strictly from the provided
// contexts.
const systemPrompt = "You are a technical assistant specialized in software development. " +
	"Answer only from the CONTEXT below. Be concise, and if the context does not " +
	"contain the answer, say \"I can't help with that\"."

// Generator produces answers with an eino ChatModel. It satisfies the
// pipeline Answerer interface.
type Generator struct {
	model model.ToolCallingChatModel
}

// New constructs a Generator over the given chat model.
func New(m model.ToolCallingChatModel) (*Generator, error) {
	if m == nil {
		return nil, fmt.Errorf("generator: chat model must not be nil")
	}
	return &Generator{model: m}, nil
}

// Generate builds the grounded prompt and runs a single non-streaming
// completion.
func (g *Generator) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(BuildPrompt(question, contexts)),
	}

	resp, err := g.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("generator: model generate: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// BuildPrompt joins the contexts into a single grounded prompt. Contexts
// keep their retrieval order, best match first.
func BuildPrompt(question string, contexts []string) string {
	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	for _, ctx := range contexts {
		if strings.TrimSpace(ctx) == "" {
			continue
		}
		b.WriteString(ctx)
		b.WriteByte('\n')
	}
	b.WriteString("\nQUESTION: ")
	b.WriteString(question)
	return b.String()
}
