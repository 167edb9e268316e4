// Package ai generates facilitator utterances from a discussion context
// window.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/seminarhq/seminar/internal/discussion/message"
	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
)

// Context is the window handed to the generation backend: what the
// discussion is about, who is in it, and what was said recently.
type Context struct {
	DiscussionID string
	Title        string
	Description  string
	Roster       []string
	Messages     []message.Message
}

// Utterance is one generated facilitator contribution.
type Utterance struct {
	Content            string
	Type               message.Type
	SuggestedFollowUps []string
}

// Generator produces a facilitator utterance for a stalled discussion.
// Implementations make exactly one attempt per call.
type Generator interface {
	Generate(ctx context.Context, window Context) (Utterance, error)
}

// LLMGenerator backs Generator with a langchaingo model.
type LLMGenerator struct {
	model       llms.Model
	temperature float64
}

// NewLLMGenerator wraps a langchaingo model.
func NewLLMGenerator(model llms.Model) *LLMGenerator {
	return &LLMGenerator{model: model, temperature: 0.7}
}

// Generate assembles a single prompt from the context window and makes one
// call to the model. Any backend failure surfaces as GENERATION_FAILED so
// the scheduler can wait for its next cycle instead of retrying.
func (g *LLMGenerator) Generate(ctx context.Context, window Context) (Utterance, error) {
	if g == nil || g.model == nil {
		return Utterance{}, apperrors.New(apperrors.CodeGenerationFailed, "generation backend is not configured")
	}
	if err := ctx.Err(); err != nil {
		return Utterance{}, err
	}

	response, err := llms.GenerateFromSinglePrompt(ctx, g.model, buildPrompt(window),
		llms.WithTemperature(g.temperature),
	)
	if err != nil {
		return Utterance{}, apperrors.Wrap(apperrors.CodeGenerationFailed, "generation backend call failed", err)
	}

	utterance, err := parseResponse(response)
	if err != nil {
		return Utterance{}, err
	}
	return utterance, nil
}

func buildPrompt(window Context) string {
	var b strings.Builder
	b.WriteString("You are the facilitator of a seminar discussion.\n")
	fmt.Fprintf(&b, "Topic: %s\n", window.Title)
	if window.Description != "" {
		fmt.Fprintf(&b, "Lesson notes: %s\n", window.Description)
	}
	if len(window.Roster) > 0 {
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(window.Roster, ", "))
	}
	b.WriteString("\nRecent messages, oldest first:\n")
	if len(window.Messages) == 0 {
		b.WriteString("(none yet)\n")
	}
	for _, m := range window.Messages {
		name := m.Author.UserID
		if name == "" {
			name = m.Author.ParticipantID
		}
		if m.Author.System() {
			name = "system"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", message.TypeLabel(m.Type), name, m.Content)
	}
	b.WriteString("\nThe conversation has stalled. Write one short question or\n")
	b.WriteString("prompt that moves it forward, on a single line. Optionally add\n")
	b.WriteString("follow-up suggestions, each on its own line prefixed with \"- \".\n")
	return b.String()
}

// parseResponse takes the first non-empty line as the utterance and any
// "- " lines after it as follow-up suggestions. A trailing question mark
// classifies the utterance as a question rather than a prompt.
func parseResponse(response string) (Utterance, error) {
	var utterance Utterance
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utterance.Content == "" {
			utterance.Content = line
			continue
		}
		if followUp := strings.TrimPrefix(line, "- "); followUp != line {
			utterance.SuggestedFollowUps = append(utterance.SuggestedFollowUps, strings.TrimSpace(followUp))
		}
	}
	if utterance.Content == "" {
		return Utterance{}, apperrors.New(apperrors.CodeGenerationFailed, "generation backend returned no content")
	}

	utterance.Type = message.TypeAIPrompt
	if strings.HasSuffix(utterance.Content, "?") {
		utterance.Type = message.TypeAIQuestion
	}
	return utterance, nil
}
