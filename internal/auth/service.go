package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nudgebot/internal/redis"
)

const redisTokenPrefix = "nudgebot:token:"

var (
	ErrTokenRequired = errors.New("token required")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
)

// Service issues, validates, and revokes service tokens used by the
// internal callers that post domain events. Validated tokens are cached in
// redis when a client is configured.
type Service struct {
	db         *sql.DB
	cache      *redis.Client
	tokenTTL   time.Duration
	headerName string
}

// NewService constructs an auth service with the supplied token lifetime.
// cache may be nil.
func NewService(db *sql.DB, cache *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return &Service{
		db:         db,
		cache:      cache,
		tokenTTL:   ttl,
		headerName: "Authorization",
	}
}

// IssueToken mints a new random token for the named caller and persists it.
func (s *Service) IssueToken(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("token name required")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO service_tokens (token, name, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			token, name, now, expiresAt,
		)
		if err == nil {
			s.cacheToken(ctx, token, name, s.tokenTTL)
			return token, nil
		}
	}
	return "", errors.New("could not issue token")
}

// ValidateToken verifies the token exists and has not expired, returning the
// caller name.
func (s *Service) ValidateToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrTokenRequired
	}
	if s.cache != nil {
		if name, err := s.cache.Get(ctx, redisTokenPrefix+token); err == nil && name != "" {
			return name, nil
		} else if err != nil && !errors.Is(err, redis.ErrCacheMiss) {
			slog.Warn("token cache lookup failed", "err", err)
		}
	}

	var (
		name    string
		expires time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, expires_at FROM service_tokens WHERE token = ?`, token,
	).Scan(&name, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	now := time.Now().UTC()
	if now.After(expires) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM service_tokens WHERE token = ?`, token)
		return "", ErrTokenExpired
	}
	s.cacheToken(ctx, token, name, expires.Sub(now))
	return name, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM service_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, redisTokenPrefix+token); err != nil {
			slog.Warn("token cache delete failed", "err", err)
		}
	}
	return nil
}

func (s *Service) cacheToken(ctx context.Context, token, name string, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, redisTokenPrefix+token, name, ttl); err != nil {
		slog.Warn("token cache write failed", "err", err)
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
