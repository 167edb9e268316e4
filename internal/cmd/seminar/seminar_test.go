package seminar

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("seminar", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.DBPath != "seminar.db" {
		t.Errorf("db path = %q, want seminar.db", cfg.DBPath)
	}
	if !cfg.FacilitatorEnabled {
		t.Error("facilitator should default to enabled")
	}
	if cfg.InactivityThreshold != 5*time.Minute {
		t.Errorf("inactivity threshold = %v, want 5m", cfg.InactivityThreshold)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("SEMINAR_HTTP_ADDR", ":9000")
	t.Setenv("SEMINAR_FACILITATOR_MAX_PROMPTS", "5")

	fs := flag.NewFlagSet("seminar", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-addr", ":9001", "-facilitator=false"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":9001" {
		t.Errorf("addr = %q, want flag override :9001", cfg.HTTPAddr)
	}
	if cfg.MaxPromptsPerWindow != 5 {
		t.Errorf("max prompts = %d, want env override 5", cfg.MaxPromptsPerWindow)
	}
	if cfg.FacilitatorEnabled {
		t.Error("facilitator flag override should disable it")
	}
}

func TestSignerFromConfigDecodesKey(t *testing.T) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	signer, err := signerFromConfig(Config{
		TokenIssuer:     "seminar",
		TokenAudience:   "seminar-join",
		TokenPrivateKey: base64.RawStdEncoding.EncodeToString(private),
	})
	if err != nil {
		t.Fatalf("signer from config: %v", err)
	}
	if !signer.PublicKey.Equal(public) {
		t.Error("derived public key does not match the generated pair")
	}
}

func TestSignerFromConfigRejectsGarbage(t *testing.T) {
	if _, err := signerFromConfig(Config{TokenPrivateKey: "not-base64!!"}); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := signerFromConfig(Config{TokenPrivateKey: base64.RawStdEncoding.EncodeToString([]byte("short"))}); err == nil {
		t.Fatal("expected key size error")
	}
}

func TestSignerFromConfigEphemeral(t *testing.T) {
	signer, err := signerFromConfig(Config{TokenIssuer: "seminar", TokenAudience: "seminar-join"})
	if err != nil {
		t.Fatalf("signer from config: %v", err)
	}
	if len(signer.PrivateKey) != ed25519.PrivateKeySize {
		t.Errorf("ephemeral private key size = %d", len(signer.PrivateKey))
	}
}
