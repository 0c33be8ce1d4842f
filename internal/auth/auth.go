package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer     = "payerbook"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	errMissingSecret = errors.New("auth: access and refresh secrets are required")
	errSharedSecret  = errors.New("auth: access and refresh secrets must differ")
)

// Claims is the signed payload shared by access and refresh tokens.
type Claims struct {
	UserID int64 `json:"userId"`
	jwt.RegisteredClaims
}

// Identity is the verified subject of a token.
type Identity struct {
	UserID    int64
	TokenID   string
	ExpiresAt time.Time
}

// TokenPair holds a freshly minted access/refresh couple.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	// RefreshTTL is RefreshExpiresAt measured from the service clock at issue.
	RefreshTTL time.Duration
}

// Service signs and verifies session tokens. Access and refresh tokens use
// distinct secrets so one leaked key cannot forge the other kind.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
	revoker       Revoker
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithRevoker enables single-use refresh tokens backed by a revocation set.
func WithRevoker(r Revoker) ServiceOption {
	return func(s *Service) error {
		s.revoker = r
		return nil
	}
}

// NewService constructs Service from the two signing secrets.
func NewService(accessSecret, refreshSecret string, opts ...ServiceOption) (*Service, error) {
	accessSecret = strings.TrimSpace(accessSecret)
	refreshSecret = strings.TrimSpace(refreshSecret)
	if accessSecret == "" || refreshSecret == "" {
		return nil, errMissingSecret
	}
	if accessSecret == refreshSecret {
		return nil, errSharedSecret
	}
	svc := &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        defaultIssuer,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// Stateless reports whether rotated refresh tokens stay valid until expiry.
func (s *Service) Stateless() bool { return s.revoker == nil }

// IssueTokens signs {userId} with both secrets. Transport is the caller's job.
func (s *Service) IssueTokens(userID int64) (TokenPair, error) {
	if userID <= 0 {
		return TokenPair{}, errors.New("auth: user id must be positive")
	}
	now := s.now().UTC()
	access, accessExp, err := s.sign(userID, s.accessSecret, s.accessTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.sign(userID, s.refreshSecret, s.refreshTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		RefreshTTL:       refreshExp.Sub(now),
	}, nil
}

// VerifyAccess checks signature, issuer and expiry against the access secret.
func (s *Service) VerifyAccess(token string) (Identity, error) {
	claims, err := s.parse(token, s.accessSecret)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return identityOf(claims), nil
}

// RotateRefresh exchanges a valid refresh token for a new pair carrying the
// same user id. With a revoker configured the presented token is consumed;
// without one it stays valid until its own expiry.
func (s *Service) RotateRefresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.parse(refreshToken, s.refreshSecret)
	if err != nil {
		return TokenPair{}, ErrInvalidRefreshToken
	}
	if s.revoker != nil {
		consumed, err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
		if err != nil {
			return TokenPair{}, fmt.Errorf("revoke refresh token: %w", err)
		}
		if !consumed {
			return TokenPair{}, ErrInvalidRefreshToken
		}
	}
	return s.IssueTokens(claims.UserID)
}

// RevokeRefresh invalidates a refresh token ahead of its expiry when a
// revoker is configured.
func (s *Service) RevokeRefresh(ctx context.Context, refreshToken string) error {
	claims, err := s.parse(refreshToken, s.refreshSecret)
	if err != nil {
		return ErrInvalidRefreshToken
	}
	if s.revoker == nil {
		return nil
	}
	if _, err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *Service) sign(userID int64, secret []byte, ttl time.Duration, now time.Time) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) parse(token string, secret []byte) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 || claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.ID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func identityOf(c *Claims) Identity {
	id := Identity{UserID: c.UserID, TokenID: c.ID}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}
