package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "zerogchat"
	defaultAudience = "zerogchat-web"
	defaultTTL      = 30 * 24 * time.Hour
)

var defaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken covers malformed, expired, and badly signed tokens.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrRevoked is returned for tokens that were signed out.
	ErrRevoked = errors.New("session revoked")
)

// Options configures claim validation.
type Options struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Manager issues and validates HS256 session tokens.
type Manager struct {
	secret   []byte
	ttl      time.Duration
	revoker  Revoker
	issuer   string
	audience string
	leeway   time.Duration
}

// NewManager builds a session manager signing with secret.
// revoker may be nil, in which case sign-out only clears the client cookie.
func NewManager(secret string, ttl time.Duration, revoker Revoker, opts Options) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session secret required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	opts = normalizeOptions(opts)
	return &Manager{
		secret:   []byte(secret),
		ttl:      ttl,
		revoker:  revoker,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
	}, nil
}

// TTL reports how long issued sessions stay valid.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue signs a new session token for the user ID.
func (m *Manager) Issue(userID string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("user id required")
	}
	now := time.Now().UTC()
	expires := now.Add(m.ttl)
	jti, err := randomID()
	if err != nil {
		return "", time.Time{}, err
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    m.issuer,
		Audience:  jwt.ClaimStrings{m.audience},
		ExpiresAt: jwt.NewNumericDate(expires),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        jti,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, expires, nil
}

// Verify validates the token and returns its user ID.
func (m *Manager) Verify(ctx context.Context, token string) (string, error) {
	claims, err := m.parse(token)
	if err != nil {
		return "", err
	}
	if m.revoker != nil {
		revoked, err := m.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return "", fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return "", ErrRevoked
		}
	}
	return claims.Subject, nil
}

// Revoke invalidates the token until it would have expired.
// Tokens that no longer verify are ignored.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if m.revoker == nil {
		return nil
	}
	claims, err := m.parse(token)
	if err != nil {
		return nil
	}
	return m.revoker.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

func (m *Manager) parse(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
	)
	if err != nil || !parsed.Valid {
		return claims, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return claims, ErrInvalidToken
	}
	return claims, nil
}

func randomID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return fmt.Sprintf("%x", buf), nil
}

func normalizeOptions(opts Options) Options {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultLeeway
	}
	return opts
}
