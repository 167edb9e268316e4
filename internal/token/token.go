// Package token issues and validates discussion invitation tokens.
//
// Two kinds exist. Ledger tokens are opaque identifiers backed by a status
// row, so they can be listed and revoked at any time. Signed tokens are
// self-contained EdDSA JWTs that validate with no storage read, so they can
// be handed out in volume, but they cannot be revoked before expiry.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seminarhq/seminar/internal/discussion"
	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
	"github.com/seminarhq/seminar/internal/platform/id"
	"github.com/seminarhq/seminar/internal/storage"
)

// DefaultTTL applies when a policy does not name an expiry window.
const DefaultTTL = 24 * time.Hour

// Kind identifies a token variant.
type Kind int

const (
	// KindUnspecified lets the policy pick the variant.
	KindUnspecified Kind = iota
	// KindLedger is a stored, revocable token.
	KindLedger
	// KindSigned is a self-contained, non-revocable token.
	KindSigned
)

// KindLabel returns the string label for a token kind.
func KindLabel(kind Kind) string {
	switch kind {
	case KindLedger:
		return "LEDGER"
	case KindSigned:
		return "SIGNED"
	default:
		return "UNSPECIFIED"
	}
}

// Policy describes how an invitation will be used, so Generate can pick the
// appropriate kind.
type Policy struct {
	ExpectsHighVolume  bool
	RequiresRevocation bool
	IsTemporary        bool
	KindOverride       Kind
	ExpiresIn          time.Duration
	RecipientEmail     string
}

// kind resolves the token variant. An explicit override always wins;
// revocability needs a ledger row; high-volume or throwaway invitations get
// the storage-free signed kind; ledger is the default.
func (p Policy) kind() Kind {
	if p.KindOverride != KindUnspecified {
		return p.KindOverride
	}
	if p.RequiresRevocation {
		return KindLedger
	}
	if p.ExpectsHighVolume || p.IsTemporary {
		return KindSigned
	}
	return KindLedger
}

// Grant is the result of token generation.
type Grant struct {
	Token     string
	Kind      Kind
	ExpiresAt time.Time
}

// Validation is the result of a successful token validation.
type Validation struct {
	Kind         Kind
	DiscussionID string
	ExpiresAt    time.Time
	Discussion   discussion.Summary
}

// Store is the persistence surface the token service needs.
type Store interface {
	GetDiscussion(ctx context.Context, id string) (discussion.Discussion, error)
	CountActiveParticipants(ctx context.Context, discussionID string) (int, error)
	PutToken(ctx context.Context, t storage.InvitationToken) error
	GetToken(ctx context.Context, token string) (storage.InvitationToken, error)
	ListTokens(ctx context.Context, discussionID string) ([]storage.InvitationToken, error)
	TransitionTokenStatus(ctx context.Context, token string, from string, to string, updatedAt time.Time) (bool, error)
}

// Service issues, validates and revokes invitation tokens.
type Service struct {
	store       Store
	signer      SignerConfig
	now         func() time.Time
	idGenerator func() (string, error)
}

// NewService creates a token service. A nil store restricts the service to
// the signed kind, which needs no persistence.
func NewService(store Store, signer SignerConfig) *Service {
	return &Service{
		store:       store,
		signer:      signer,
		now:         time.Now,
		idGenerator: id.NewID,
	}
}

// Generate mints an invitation token for a discussion. Only the discussion
// creator may invite.
func (s *Service) Generate(ctx context.Context, discussionID string, callerUserID string, policy Policy) (Grant, error) {
	if s == nil {
		return Grant{}, errors.New("token service is not configured")
	}
	discussionID = strings.TrimSpace(discussionID)
	if discussionID == "" {
		return Grant{}, discussion.ErrEmptyID
	}

	d, err := s.loadDiscussion(ctx, discussionID)
	if err != nil {
		return Grant{}, err
	}
	if strings.TrimSpace(callerUserID) == "" || callerUserID != d.CreatorUserID {
		return Grant{}, apperrors.New(apperrors.CodePermissionDenied, "only the discussion creator may invite")
	}
	now := s.now().UTC()
	if err := d.AdmissionError(now); err != nil {
		return Grant{}, err
	}

	expiresIn := policy.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultTTL
	}
	expiresAt := now.Add(expiresIn)

	switch kind := policy.kind(); kind {
	case KindSigned:
		jti, err := s.idGenerator()
		if err != nil {
			return Grant{}, fmt.Errorf("generate token id: %w", err)
		}
		value, err := s.issueSigned(discussionID, jti, expiresAt)
		if err != nil {
			return Grant{}, err
		}
		return Grant{Token: value, Kind: KindSigned, ExpiresAt: expiresAt}, nil

	case KindLedger:
		if s.store == nil {
			return Grant{}, errors.New("token store is required for ledger tokens")
		}
		value, err := s.idGenerator()
		if err != nil {
			return Grant{}, fmt.Errorf("generate token value: %w", err)
		}
		if err := s.store.PutToken(ctx, storage.InvitationToken{
			Token:          value,
			DiscussionID:   discussionID,
			Status:         storage.TokenStatusPending,
			SenderID:       callerUserID,
			RecipientEmail: strings.TrimSpace(policy.RecipientEmail),
			ExpiresAt:      expiresAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		}); err != nil {
			return Grant{}, fmt.Errorf("store token: %w", err)
		}
		return Grant{Token: value, Kind: KindLedger, ExpiresAt: expiresAt}, nil

	default:
		return Grant{}, apperrors.New(apperrors.CodeTokenUnsupported, "unknown token kind")
	}
}

// Validate checks a token of either kind. The kind is detected structurally
// from the value itself; callers never declare it. The returned summary
// carries no owner-identifying fields.
func (s *Service) Validate(ctx context.Context, tokenValue string) (Validation, error) {
	if s == nil {
		return Validation{}, errors.New("token service is not configured")
	}
	tokenValue = strings.TrimSpace(tokenValue)
	if tokenValue == "" {
		return Validation{}, apperrors.New(apperrors.CodeTokenInvalid, "token is required")
	}

	if Signed(tokenValue) {
		discussionID, expiresAt, err := s.verifySigned(tokenValue)
		if err != nil {
			return Validation{}, err
		}
		validation := Validation{
			Kind:         KindSigned,
			DiscussionID: discussionID,
			ExpiresAt:    expiresAt,
			Discussion:   discussion.Summary{ID: discussionID},
		}
		// Signature and expiry alone decide validity. The summary is a
		// courtesy enrichment when storage is wired.
		if s.store != nil {
			summary, err := s.summarize(ctx, discussionID)
			if err != nil {
				return Validation{}, err
			}
			validation.Discussion = summary
		}
		return validation, nil
	}

	if s.store == nil {
		return Validation{}, errors.New("token store is required for ledger tokens")
	}
	row, err := s.store.GetToken(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Validation{}, apperrors.New(apperrors.CodeTokenInvalid, "token is not recognized")
		}
		return Validation{}, fmt.Errorf("load token: %w", err)
	}

	now := s.now().UTC()
	switch row.Status {
	case storage.TokenStatusCancelled:
		return Validation{}, apperrors.New(apperrors.CodeTokenRevoked, "token was revoked")
	case storage.TokenStatusExpired:
		return Validation{}, apperrors.New(apperrors.CodeTokenExpired, "token is expired")
	case storage.TokenStatusAccepted:
		return Validation{}, apperrors.New(apperrors.CodeTokenInvalid, "token was already used")
	case storage.TokenStatusPending:
	default:
		return Validation{}, apperrors.New(apperrors.CodeTokenInvalid, "token status is unknown")
	}
	if !row.ExpiresAt.After(now) {
		// Lazily settle the row; validity is decided by the clock either way.
		if _, err := s.store.TransitionTokenStatus(ctx, tokenValue, storage.TokenStatusPending, storage.TokenStatusExpired, now); err != nil {
			return Validation{}, fmt.Errorf("expire token: %w", err)
		}
		return Validation{}, apperrors.New(apperrors.CodeTokenExpired, "token is expired")
	}

	summary, err := s.summarize(ctx, row.DiscussionID)
	if err != nil {
		return Validation{}, err
	}
	return Validation{
		Kind:         KindLedger,
		DiscussionID: row.DiscussionID,
		ExpiresAt:    row.ExpiresAt,
		Discussion:   summary,
	}, nil
}

// Accept consumes a ledger token after a successful admission. Signed tokens
// have no row to settle, so they pass through.
func (s *Service) Accept(ctx context.Context, tokenValue string) error {
	if s == nil {
		return errors.New("token service is not configured")
	}
	tokenValue = strings.TrimSpace(tokenValue)
	if tokenValue == "" || Signed(tokenValue) {
		return nil
	}
	if s.store == nil {
		return errors.New("token store is required for ledger tokens")
	}
	if _, err := s.store.TransitionTokenStatus(ctx, tokenValue, storage.TokenStatusPending, storage.TokenStatusAccepted, s.now().UTC()); err != nil {
		return fmt.Errorf("accept token: %w", err)
	}
	return nil
}

// Revoke cancels a pending ledger token. Signed tokens cannot be revoked;
// they stay valid until expiry.
func (s *Service) Revoke(ctx context.Context, tokenValue string, callerUserID string) error {
	if s == nil {
		return errors.New("token service is not configured")
	}
	tokenValue = strings.TrimSpace(tokenValue)
	if tokenValue == "" {
		return apperrors.New(apperrors.CodeTokenInvalid, "token is required")
	}
	if Signed(tokenValue) {
		return apperrors.New(apperrors.CodeTokenUnsupported, "signed tokens cannot be revoked")
	}
	if s.store == nil {
		return errors.New("token store is required for ledger tokens")
	}

	row, err := s.store.GetToken(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNotFound, "token does not exist")
		}
		return fmt.Errorf("load token: %w", err)
	}

	d, err := s.loadDiscussion(ctx, row.DiscussionID)
	if err != nil {
		return err
	}
	caller := strings.TrimSpace(callerUserID)
	if caller == "" || (caller != row.SenderID && caller != d.CreatorUserID) {
		return apperrors.New(apperrors.CodePermissionDenied, "only the sender or the discussion creator may revoke")
	}

	transitioned, err := s.store.TransitionTokenStatus(ctx, tokenValue, storage.TokenStatusPending, storage.TokenStatusCancelled, s.now().UTC())
	if err != nil {
		return fmt.Errorf("cancel token: %w", err)
	}
	if transitioned {
		return nil
	}

	current, err := s.store.GetToken(ctx, tokenValue)
	if err != nil {
		return fmt.Errorf("reload token: %w", err)
	}
	if current.Status == storage.TokenStatusCancelled {
		return apperrors.New(apperrors.CodeTokenAlreadyCancelled, "token was already cancelled")
	}
	return apperrors.WithMetadata(
		apperrors.CodePreconditionFailed,
		"token is not pending",
		map[string]string{"Status": current.Status},
	)
}

// List returns the ledger rows for a discussion. Creator only.
func (s *Service) List(ctx context.Context, discussionID string, callerUserID string) ([]storage.InvitationToken, error) {
	if s == nil {
		return nil, errors.New("token service is not configured")
	}
	if s.store == nil {
		return nil, errors.New("token store is required for ledger tokens")
	}
	d, err := s.loadDiscussion(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(callerUserID) == "" || callerUserID != d.CreatorUserID {
		return nil, apperrors.New(apperrors.CodePermissionDenied, "only the discussion creator may list invitations")
	}
	return s.store.ListTokens(ctx, d.ID)
}

func (s *Service) loadDiscussion(ctx context.Context, discussionID string) (discussion.Discussion, error) {
	d, err := s.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return discussion.Discussion{}, apperrors.New(apperrors.CodeNotFound, "discussion does not exist")
		}
		return discussion.Discussion{}, fmt.Errorf("load discussion: %w", err)
	}
	return d, nil
}

func (s *Service) summarize(ctx context.Context, discussionID string) (discussion.Summary, error) {
	d, err := s.loadDiscussion(ctx, discussionID)
	if err != nil {
		return discussion.Summary{}, err
	}
	activeCount, err := s.store.CountActiveParticipants(ctx, discussionID)
	if err != nil {
		return discussion.Summary{}, fmt.Errorf("count active participants: %w", err)
	}
	return d.Summarize(activeCount), nil
}
