package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/seminarhq/seminar/internal/discussion/message"
	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name          string
		response      string
		wantContent   string
		wantType      message.Type
		wantFollowUps []string
		wantErr       bool
	}{
		{
			name:        "question",
			response:    "What changed your mind about this?",
			wantContent: "What changed your mind about this?",
			wantType:    message.TypeAIQuestion,
		},
		{
			name:        "prompt",
			response:    "Consider the counterexample from the reading.",
			wantContent: "Consider the counterexample from the reading.",
			wantType:    message.TypeAIPrompt,
		},
		{
			name:        "follow ups collected",
			response:    "Where does the argument break down?\n- Ask for a concrete case\n- Revisit the definition",
			wantContent: "Where does the argument break down?",
			wantType:    message.TypeAIQuestion,
			wantFollowUps: []string{
				"Ask for a concrete case",
				"Revisit the definition",
			},
		},
		{
			name:        "leading blank lines skipped",
			response:    "\n\n  How would you test that claim?  \n",
			wantContent: "How would you test that claim?",
			wantType:    message.TypeAIQuestion,
		},
		{
			name:     "empty response",
			response: "\n  \n",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResponse(tt.response)
			if tt.wantErr {
				if !apperrors.IsCode(err, apperrors.CodeGenerationFailed) {
					t.Fatalf("err = %v, want GENERATION_FAILED", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseResponse: %v", err)
			}
			if got.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", got.Content, tt.wantContent)
			}
			if got.Type != tt.wantType {
				t.Errorf("type = %v, want %v", got.Type, tt.wantType)
			}
			if len(got.SuggestedFollowUps) != len(tt.wantFollowUps) {
				t.Fatalf("follow ups = %v, want %v", got.SuggestedFollowUps, tt.wantFollowUps)
			}
			for i, want := range tt.wantFollowUps {
				if got.SuggestedFollowUps[i] != want {
					t.Errorf("follow up %d = %q, want %q", i, got.SuggestedFollowUps[i], want)
				}
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	window := Context{
		DiscussionID: "disc-1",
		Title:        "Epistemology",
		Description:  "Week 3: justified belief",
		Roster:       []string{"Ada", "Grace"},
		Messages: []message.Message{
			{Author: message.Author{}, Content: "Ada joined", Type: message.TypeSystem},
			{Author: message.Author{UserID: "user-ada"}, Content: "I think knowledge needs truth.", Type: message.TypeUser},
		},
	}

	prompt := buildPrompt(window)
	for _, want := range []string{
		"Topic: Epistemology",
		"Week 3: justified belief",
		"Ada, Grace",
		"system: Ada joined",
		"user-ada: I think knowledge needs truth.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGenerateUnconfigured(t *testing.T) {
	var g *LLMGenerator
	if _, err := g.Generate(context.Background(), Context{}); !apperrors.IsCode(err, apperrors.CodeGenerationFailed) {
		t.Fatalf("err = %v, want GENERATION_FAILED", err)
	}
}
