package message

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
	"github.com/seminarhq/seminar/internal/discussion/participant"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr error
	}{
		{
			name:    "trims whitespace",
			content: "  hello everyone  ",
			want:    "hello everyone",
		},
		{
			name:    "empty content",
			content: "",
			wantErr: ErrEmptyContent,
		},
		{
			name:    "whitespace only",
			content: "   \n\t ",
			wantErr: ErrEmptyContent,
		},
		{
			name:    "too long",
			content: strings.Repeat("a", MaxContentRunes+1),
			wantErr: ErrContentTooLong,
		},
		{
			name:    "at limit",
			content: strings.Repeat("a", MaxContentRunes),
			want:    strings.Repeat("a", MaxContentRunes),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeContent(tt.content)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NormalizeContent() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeContent() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeContent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTypeImmutable(t *testing.T) {
	tests := []struct {
		typ  Type
		want bool
	}{
		{TypeUser, false},
		{TypeModerator, false},
		{TypeSystem, true},
		{TypeAIQuestion, true},
		{TypeAIPrompt, true},
	}

	for _, tt := range tests {
		t.Run(TypeLabel(tt.typ), func(t *testing.T) {
			if got := tt.typ.Immutable(); got != tt.want {
				t.Errorf("Immutable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypeAutomated(t *testing.T) {
	if TypeSystem.Automated() {
		t.Error("system messages are not facilitator output")
	}
	if !TypeAIQuestion.Automated() || !TypeAIPrompt.Automated() {
		t.Error("facilitator types must report automated")
	}
}

func TestAuthorSystem(t *testing.T) {
	if !(Author{}).System() {
		t.Error("empty author should be system")
	}
	if (Author{UserID: "user-1"}).System() {
		t.Error("author with user id is not system")
	}
	if (Author{ParticipantID: "part-1"}).System() {
		t.Error("author with participant id is not system")
	}
}

func TestTypeForRole(t *testing.T) {
	tests := []struct {
		role participant.Role
		want Type
	}{
		{participant.RoleParticipant, TypeUser},
		{participant.RoleModerator, TypeModerator},
		{participant.RoleCreator, TypeModerator},
	}

	for _, tt := range tests {
		if got := TypeForRole(tt.role); got != tt.want {
			t.Errorf("TypeForRole(%v) = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestTypeLabelRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeUser, TypeModerator, TypeSystem, TypeAIQuestion, TypeAIPrompt} {
		got, err := TypeFromLabel(TypeLabel(typ))
		if err != nil {
			t.Fatalf("TypeFromLabel(%q) error: %v", TypeLabel(typ), err)
		}
		if got != typ {
			t.Errorf("round trip %v = %v", typ, got)
		}
	}

	if _, err := TypeFromLabel("bogus"); !apperrors.IsCode(err, apperrors.CodeMessageInvalidType) {
		t.Errorf("TypeFromLabel(bogus) error = %v, want invalid type code", err)
	}

	if _, err := TypeFromLabel(" user "); err != nil {
		t.Errorf("TypeFromLabel should normalize case and whitespace, got error %v", err)
	}
}
