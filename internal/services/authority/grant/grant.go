// Package grant issues and verifies participant grants: EdDSA-signed JWTs
// that identify the participant calling the authority.
package grant

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mughalz/investordefend/internal/platform/config"
	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/platform/id"
)

// Environment variable suffixes, prefixed by config.EnvPrefix.
const (
	EnvIssuer     = "GRANT_ISSUER"
	EnvAudience   = "GRANT_AUDIENCE"
	EnvPublicKey  = "GRANT_PUBLIC_KEY"
	EnvPrivateKey = "GRANT_PRIVATE_KEY"
)

const defaultTTL = 24 * time.Hour

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer     string        `env:"GRANT_ISSUER"`
	Audience   string        `env:"GRANT_AUDIENCE"`
	PublicKey  string        `env:"GRANT_PUBLIC_KEY"`
	PrivateKey string        `env:"GRANT_PRIVATE_KEY"`
	TTL        time.Duration `env:"GRANT_TTL"         envDefault:"24h"`
}

// VerifierConfig defines how grants are verified.
type VerifierConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// SignerConfig defines how grants are issued.
type SignerConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	TTL      time.Duration
	Now      func() time.Time
}

// Claims captures validated grant claims.
type Claims struct {
	Issuer        string
	Audience      []string
	ExpiresAt     time.Time
	IssuedAt      time.Time
	JWTID         string
	ParticipantID string
}

type grantClaims struct {
	jwt.RegisteredClaims
	ParticipantID string `json:"participant_id"`
}

// LoadVerifierConfigFromEnv reads grant verification configuration.
func LoadVerifierConfigFromEnv(now func() time.Time) (VerifierConfig, error) {
	raw, err := parseEnv()
	if err != nil {
		return VerifierConfig{}, err
	}
	publicKey := strings.TrimSpace(raw.PublicKey)
	if publicKey == "" {
		return VerifierConfig{}, fmt.Errorf("%s is required", config.VarName(EnvPublicKey))
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return VerifierConfig{}, fmt.Errorf("decode grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return VerifierConfig{}, fmt.Errorf("grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return VerifierConfig{
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// LoadSignerConfigFromEnv reads grant signing configuration.
func LoadSignerConfigFromEnv(now func() time.Time) (SignerConfig, error) {
	raw, err := parseEnv()
	if err != nil {
		return SignerConfig{}, err
	}
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if privateKey == "" {
		return SignerConfig{}, fmt.Errorf("%s is required", config.VarName(EnvPrivateKey))
	}
	keyBytes, err := decodeBase64(privateKey)
	if err != nil {
		return SignerConfig{}, fmt.Errorf("decode grant private key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return SignerConfig{}, fmt.Errorf("grant private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if raw.TTL <= 0 {
		return SignerConfig{}, fmt.Errorf("grant ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return SignerConfig{
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
		Key:      ed25519.PrivateKey(keyBytes),
		TTL:      raw.TTL,
		Now:      now,
	}, nil
}

func parseEnv() (grantEnv, error) {
	var raw grantEnv
	if err := config.ParseEnv(&raw); err != nil {
		return grantEnv{}, fmt.Errorf("parse grant env: %w", err)
	}
	if strings.TrimSpace(raw.Issuer) == "" {
		return grantEnv{}, fmt.Errorf("%s is required", config.VarName(EnvIssuer))
	}
	if strings.TrimSpace(raw.Audience) == "" {
		return grantEnv{}, fmt.Errorf("%s is required", config.VarName(EnvAudience))
	}
	return raw, nil
}

// Issue signs a grant for participantID.
func Issue(participantID string, cfg SignerConfig) (string, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return "", errors.New("participant id is required")
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PrivateKeySize {
		return "", errors.New("grant signer is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	jti, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate grant id: %w", err)
	}
	now := cfg.Now().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   participantID,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		ParticipantID: participantID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return token, nil
}

// Validate verifies a grant token and returns its claims. Every failure is
// UNAUTHORIZED with a Field hint in the metadata.
func Validate(token string, cfg VerifierConfig) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, unauthorized("grant is required", "token")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return Claims{}, errors.New("grant verifier is not configured")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Claims{}, unauthorized("grant issuer mismatch", "issuer")
	}
	if !slices.Contains(parsed.Audience, cfg.Audience) {
		return Claims{}, unauthorized("grant audience mismatch", "audience")
	}
	if parsed.ID == "" {
		return Claims{}, unauthorized("grant jti is required", "jti")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, unauthorized("grant exp is required", "exp")
	}
	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, unauthorized("grant is expired", "exp")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return Claims{}, unauthorized("grant not active yet", "nbf")
	}
	participantID := strings.TrimSpace(parsed.ParticipantID)
	if participantID == "" || (parsed.Subject != "" && parsed.Subject != participantID) {
		return Claims{}, unauthorized("grant participant is missing or inconsistent", "participant_id")
	}

	claims := Claims{
		Issuer:        parsed.Issuer,
		Audience:      []string(parsed.Audience),
		ExpiresAt:     exp,
		JWTID:         parsed.ID,
		ParticipantID: participantID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

func unauthorized(message, field string) error {
	return apperrors.WithMetadata(apperrors.CodeUnauthorized, message, map[string]string{"Field": field})
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return unauthorized("grant signature is invalid", "signature")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return unauthorized("grant alg is invalid", "alg")
	}
	return unauthorized("grant is invalid", "token")
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
