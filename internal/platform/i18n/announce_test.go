package i18n

import (
	"strings"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Locale
	}{
		{name: "empty defaults to english", input: "", want: LocaleEnUS},
		{name: "exact english", input: "en-US", want: LocaleEnUS},
		{name: "plain english", input: "en", want: LocaleEnUS},
		{name: "brazilian portuguese", input: "pt-BR", want: LocalePtBR},
		{name: "plain portuguese", input: "pt", want: LocalePtBR},
		{name: "accept-language list", input: "pt-BR,pt;q=0.9,en;q=0.8", want: LocalePtBR},
		{name: "unsupported falls back", input: "fr-FR", want: LocaleEnUS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.input); got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestJoinAnnouncement(t *testing.T) {
	body := JoinAnnouncement(LocaleEnUS, "Alice", "Ethics of AI")
	if !strings.Contains(body, "Alice") || !strings.Contains(body, "Ethics of AI") {
		t.Fatalf("unexpected announcement: %q", body)
	}

	ptBody := JoinAnnouncement(LocalePtBR, "Alice", "Ethics of AI")
	if !strings.Contains(ptBody, "entrou") {
		t.Fatalf("expected portuguese announcement, got %q", ptBody)
	}
}

func TestJoinAnnouncementDefaults(t *testing.T) {
	body := JoinAnnouncement(LocaleEnUS, "  ", "")
	if !strings.Contains(body, "participant") || !strings.Contains(body, "the discussion") {
		t.Fatalf("expected fallback labels, got %q", body)
	}
}

func TestLeaveAnnouncement(t *testing.T) {
	if body := LeaveAnnouncement(LocalePtBR, "Bob"); !strings.Contains(body, "saiu") {
		t.Fatalf("expected portuguese announcement, got %q", body)
	}
	if body := LeaveAnnouncement(LocaleEnUS, "Bob"); !strings.Contains(body, "left") {
		t.Fatalf("expected english announcement, got %q", body)
	}
}
