// Package seminar parses runtime flags and launches the discussion server.
package seminar

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/seminarhq/seminar/internal/admission"
	"github.com/seminarhq/seminar/internal/ai"
	"github.com/seminarhq/seminar/internal/bus"
	"github.com/seminarhq/seminar/internal/facilitator"
	entrypoint "github.com/seminarhq/seminar/internal/platform/cmd"
	"github.com/seminarhq/seminar/internal/registry"
	"github.com/seminarhq/seminar/internal/server"
	"github.com/seminarhq/seminar/internal/storage/sqlite"
	"github.com/seminarhq/seminar/internal/token"
)

// Config holds seminar command configuration.
type Config struct {
	HTTPAddr string `env:"SEMINAR_HTTP_ADDR" envDefault:":8080"`
	DBPath   string `env:"SEMINAR_DB_PATH"   envDefault:"seminar.db"`

	TokenIssuer     string `env:"SEMINAR_TOKEN_ISSUER"   envDefault:"seminar"`
	TokenAudience   string `env:"SEMINAR_TOKEN_AUDIENCE" envDefault:"seminar-join"`
	TokenPrivateKey string `env:"SEMINAR_TOKEN_PRIVATE_KEY"`

	FacilitatorEnabled  bool          `env:"SEMINAR_FACILITATOR_ENABLED"          envDefault:"true"`
	InactivityThreshold time.Duration `env:"SEMINAR_FACILITATOR_INACTIVITY"       envDefault:"5m"`
	MaxPromptsPerWindow int           `env:"SEMINAR_FACILITATOR_MAX_PROMPTS"      envDefault:"3"`
	PromptWindow        time.Duration `env:"SEMINAR_FACILITATOR_WINDOW"           envDefault:"15m"`
	ContextMessages     int           `env:"SEMINAR_FACILITATOR_CONTEXT_MESSAGES" envDefault:"20"`
	SweepInterval       time.Duration `env:"SEMINAR_FACILITATOR_SWEEP_INTERVAL"   envDefault:"1m"`

	GenerationModel string `env:"SEMINAR_GENERATION_MODEL" envDefault:"gpt-4o-mini"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "The HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the SQLite database file")
	fs.BoolVar(&cfg.FacilitatorEnabled, "facilitator", cfg.FacilitatorEnabled, "Enable the automated facilitator")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run wires the runtime together and serves until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSeminar, func(ctx context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("seminar: close store: %v", err)
			}
		}()

		signer, err := signerFromConfig(cfg)
		if err != nil {
			return err
		}

		tokens := token.NewService(store, signer)
		reg := registry.New()
		b := bus.New(store, reg)
		controller := admission.New(store, tokens, b)

		facilitatorConfig := facilitator.Config{
			Enabled:             cfg.FacilitatorEnabled,
			InactivityThreshold: cfg.InactivityThreshold,
			MaxPromptsPerWindow: cfg.MaxPromptsPerWindow,
			Window:              cfg.PromptWindow,
			ContextMessages:     cfg.ContextMessages,
			SweepInterval:       cfg.SweepInterval,
		}
		var generator ai.Generator
		if facilitatorConfig.Enabled {
			model, err := openai.New(openai.WithModel(cfg.GenerationModel))
			if err != nil {
				log.Printf("seminar: generation backend unavailable, facilitator disabled: %v", err)
				facilitatorConfig.Enabled = false
			} else {
				generator = ai.NewLLMGenerator(model)
			}
		}
		scheduler := facilitator.New(store, b, reg, generator, facilitatorConfig)

		srv, err := server.New(server.Config{HTTPAddr: cfg.HTTPAddr}, server.Services{
			Tokens:      tokens,
			Admission:   controller,
			Bus:         b,
			Facilitator: scheduler,
			Registry:    reg,
		})
		if err != nil {
			return fmt.Errorf("init server: %w", err)
		}

		go func() {
			if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("seminar: facilitator sweeper: %v", err)
			}
		}()

		return srv.ListenAndServe(ctx)
	})
}

// signerFromConfig decodes the configured signing key, or mints an ephemeral
// pair so local runs work out of the box. Ephemeral keys invalidate signed
// tokens across restarts.
func signerFromConfig(cfg Config) (token.SignerConfig, error) {
	signer := token.SignerConfig{
		Issuer:   strings.TrimSpace(cfg.TokenIssuer),
		Audience: strings.TrimSpace(cfg.TokenAudience),
	}

	raw := strings.TrimSpace(cfg.TokenPrivateKey)
	if raw == "" {
		publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return token.SignerConfig{}, fmt.Errorf("generate ephemeral token key: %w", err)
		}
		log.Printf("seminar: SEMINAR_TOKEN_PRIVATE_KEY is unset, using an ephemeral key; signed tokens will not survive restarts")
		signer.PrivateKey = privateKey
		signer.PublicKey = publicKey
		return signer, nil
	}

	decoded, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		return token.SignerConfig{}, fmt.Errorf("decode SEMINAR_TOKEN_PRIVATE_KEY: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return token.SignerConfig{}, fmt.Errorf("SEMINAR_TOKEN_PRIVATE_KEY must be %d bytes, got %d", ed25519.PrivateKeySize, len(decoded))
	}
	privateKey := ed25519.PrivateKey(decoded)
	signer.PrivateKey = privateKey
	signer.PublicKey = privateKey.Public().(ed25519.PublicKey)
	return signer, nil
}
