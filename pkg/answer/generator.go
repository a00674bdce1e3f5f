package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/pkg/llm"
	"procedure-assistant-be/pkg/routing/consensus"
)

const module = "ANSWER"

var ErrNoContext = errors.New("no grounded context to answer from")

// Request is everything the generator needs for one grounded answer.
type Request struct {
	Query         string
	DocumentTitle string
	Context       []consensus.Chunk
	History       []llm.Message
}

// Generator phrases the final answer from the selected procedure chunks.
type Generator struct {
	llmProvider llm.LLMProvider
	logger      logger.ILogger
	maxTokens   int
}

func NewGenerator(llmProvider llm.LLMProvider, log logger.ILogger) *Generator {
	return &Generator{
		llmProvider: llmProvider,
		logger:      log,
		maxTokens:   800,
	}
}

func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if len(req.Context) == 0 {
		return "", ErrNoContext
	}

	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: BuildPrompt(req)})

	text, err := g.llmProvider.Chat(ctx, messages, llm.WithMaxTokens(g.maxTokens))
	if err != nil {
		g.logger.Error(module, "LLM generation failed", map[string]interface{}{
			"provider": g.llmProvider.Name(),
			"error":    err.Error(),
		})
		return "", fmt.Errorf("generate answer: %w", err)
	}

	g.logger.Info(module, "Answer generated", map[string]interface{}{
		"provider": g.llmProvider.Name(),
		"chunks":   len(req.Context),
	})
	return strings.TrimSpace(text), nil
}

const systemPrompt = "You are a procedure assistant. Answer only from the procedure excerpts you are given. " +
	"If the excerpts do not cover the question, say so and suggest rephrasing."

// BuildPrompt renders the grounded user turn. The first chunk is the one routing selected.
func BuildPrompt(req Request) string {
	var prompt strings.Builder

	prompt.WriteString("<procedure>\n")
	if req.DocumentTitle != "" {
		prompt.WriteString("Title: ")
		prompt.WriteString(req.DocumentTitle)
		prompt.WriteString("\n")
	}
	for i, c := range req.Context {
		prompt.WriteString(fmt.Sprintf("\n[Excerpt %d]\n", i+1))
		prompt.WriteString(strings.TrimSpace(c.Content))
		prompt.WriteString("\n")
	}
	prompt.WriteString("</procedure>\n\n")

	prompt.WriteString("<guidelines>\n")
	prompt.WriteString("- Lead with the steps or requirements the user asked about\n")
	prompt.WriteString("- Keep the order of steps as written in the procedure\n")
	prompt.WriteString("- Do not invent fees, deadlines or documents that are not in the excerpts\n")
	prompt.WriteString("</guidelines>\n\n")

	prompt.WriteString("Question: ")
	prompt.WriteString(req.Query)
	return prompt.String()
}
