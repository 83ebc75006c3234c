// Package linktoken issues and verifies the signed capability tokens embedded
// in email action links.
package linktoken

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/fleet-maintenance/internal/domain/workflow"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MaxTTL is the longest lifetime a link token may have
const MaxTTL = 7 * 24 * time.Hour

const (
	defaultTTL           = 72 * time.Hour
	defaultIssuer        = "fleet-maintenance"
	defaultAudience      = "maintenance-links"
	defaultVerifyTimeout = 2 * time.Second
)

// Config holds token settings
type Config struct {
	Secret        string
	TTL           time.Duration
	Issuer        string
	Audience      string
	VerifyTimeout time.Duration

	// Legacy links are honoured only until LegacySunset; zero disables them
	LegacySecret string
	LegacySunset time.Time
}

// Claims binds one request, one actor and one allowed action
type Claims struct {
	RequestID int64  `json:"rid"`
	ActorID   string `json:"aid"`
	Action    string `json:"act"`
	jwt.RegisteredClaims
}

// Grant is what a verified token authorizes
type Grant struct {
	RequestID int64
	ActorID   string
	Action    workflow.Action
	ExpiresAt time.Time
	Legacy    bool
}

// Service issues and verifies link tokens
type Service struct {
	secret []byte
	cfg    Config
	now    func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a token service; the signing secret is mandatory
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("link token secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.TTL > MaxTTL {
		cfg.TTL = MaxTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = defaultAudience
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = defaultVerifyTimeout
	}

	s := &Service{
		secret: []byte(cfg.Secret),
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue mints a token for (requestID, actorID, action). ttl <= 0 uses the
// configured default; anything above MaxTTL is clamped.
func (s *Service) Issue(requestID int64, actorID string, action workflow.Action, ttl time.Duration) (string, error) {
	if !action.IsValid() {
		return "", fmt.Errorf("%w: %q", workflow.ErrUnknownAction, action)
	}
	ttl = s.EffectiveTTL(ttl)

	now := s.now()
	claims := &Claims{
		RequestID: requestID,
		ActorID:   actorID,
		Action:    string(action),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign link token: %w", err)
	}
	return signed, nil
}

// EffectiveTTL returns the lifetime Issue would use for the requested ttl
func (s *Service) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	return ttl
}

// Verify checks signature, expiry, issuer and audience and returns the grant.
// Every failure is reported as ErrInvalidToken.
func (s *Service) Verify(ctx context.Context, token string) (*Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancel()

	grant, err := s.verify(token)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrInvalidToken, err)
	}
	return grant, nil
}

// VerifyFor verifies a token and additionally requires it to have been minted
// for exactly (requestID, action)
func (s *Service) VerifyFor(ctx context.Context, token string, requestID int64, action workflow.Action) (*Grant, error) {
	grant, err := s.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if grant.RequestID != requestID || grant.Action != action {
		return nil, fmt.Errorf("%w: token not valid for %s on request %d", workflow.ErrInvalidToken, action, requestID)
	}
	return grant, nil
}

func (s *Service) verify(token string) (*Grant, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}
	if isLegacy(token) {
		return s.verifyLegacy(token)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}

	action := workflow.Action(claims.Action)
	if !action.IsValid() || claims.RequestID <= 0 || claims.ActorID == "" {
		return nil, errors.New("incomplete claims")
	}

	// Tokens minted with a longer lifetime than allowed are refused
	if claims.IssuedAt != nil && claims.ExpiresAt.Sub(claims.IssuedAt.Time) > MaxTTL {
		return nil, errors.New("token lifetime exceeds maximum")
	}

	return &Grant{
		RequestID: claims.RequestID,
		ActorID:   claims.ActorID,
		Action:    action,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Fingerprint returns a short, non-reversible identifier safe to log
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}

// ClaimedRequestID reads the request id a token claims without verifying it.
// Only for audit logging of rejected tokens.
func ClaimedRequestID(token string) int64 {
	if isLegacy(token) {
		if p, err := decodeLegacyPayload(token); err == nil {
			return p.RequestID
		}
		return 0
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0
	}
	return claims.RequestID
}
