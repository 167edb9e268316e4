package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
)

// SignerConfig holds the EdDSA key material and claim expectations for the
// signed token kind. Issuance needs PrivateKey; validation only PublicKey.
type SignerConfig struct {
	Issuer     string
	Audience   string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// signedClaims is the internal claims type used for JWT parsing.
type signedClaims struct {
	jwt.RegisteredClaims
	DiscussionID string `json:"discussion_id"`
}

// Signed reports whether a token value is structurally a signed token:
// three non-empty dot-separated segments. Ledger values never contain dots.
func Signed(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
	}
	return true
}

// issueSigned mints a signed token carrying the discussion claim. The token
// is self-contained; nothing is persisted.
func (s *Service) issueSigned(discussionID string, jti string, expiresAt time.Time) (string, error) {
	if len(s.signer.PrivateKey) != ed25519.PrivateKeySize {
		return "", errors.New("signed token issuer is not configured")
	}
	now := s.now().UTC()
	claims := signedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.signer.Issuer,
			Audience:  jwt.ClaimStrings{s.signer.Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		DiscussionID: discussionID,
	}
	value, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.signer.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return value, nil
}

// verifySigned validates a signed token with no storage read and returns the
// discussion claim and expiry.
func (s *Service) verifySigned(token string) (string, time.Time, error) {
	if len(s.signer.PublicKey) != ed25519.PublicKeySize {
		return "", time.Time{}, errors.New("signed token verifier is not configured")
	}

	var parsed signedClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return s.signer.PublicKey, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", time.Time{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != s.signer.Issuer {
		return "", time.Time{}, apperrors.WithMetadata(
			apperrors.CodeTokenInvalid,
			"token issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, s.signer.Audience) {
		return "", time.Time{}, apperrors.WithMetadata(
			apperrors.CodeTokenInvalid,
			"token audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if strings.TrimSpace(parsed.DiscussionID) == "" {
		return "", time.Time{}, apperrors.New(apperrors.CodeTokenInvalid, "token discussion claim is required")
	}
	if parsed.ExpiresAt == nil {
		return "", time.Time{}, apperrors.New(apperrors.CodeTokenInvalid, "token exp is required")
	}

	now := s.now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return "", time.Time{}, apperrors.New(apperrors.CodeTokenExpired, "token is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return "", time.Time{}, apperrors.New(apperrors.CodeTokenInvalid, "token not active yet")
	}

	return parsed.DiscussionID, exp, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeTokenInvalid, "token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeTokenInvalid, "token alg is invalid")
	}
	return apperrors.New(apperrors.CodeTokenInvalid, "token is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}
