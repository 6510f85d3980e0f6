package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/petal/pkg/destination"
	"github.com/Ramsey-B/petal/pkg/redis"
)

const (
	DefaultTokenTTL       = time.Hour
	DefaultTokenKeyPrefix = "petal:auth:token:"
	// expirySkew is subtracted from expires_in so a stored token expires early.
	expirySkew = time.Minute
)

var ErrTokenNotFound = errors.New("cached token not found")

// StoredToken is the persisted form of a refreshed token.
type StoredToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

func (t StoredToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != 0 && now.Unix() >= t.ExpiresAt
}

// KeyValue is the subset of the Redis client the store needs.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

var _ KeyValue = (*redis.Client)(nil)

// RedisTokenStore persists refreshed tokens per credential key.
type RedisTokenStore struct {
	kv        KeyValue
	keyPrefix string
	now       func() time.Time
	logger    ectologger.Logger
}

func NewRedisTokenStore(kv KeyValue, keyPrefix string, logger ectologger.Logger) *RedisTokenStore {
	if keyPrefix == "" {
		keyPrefix = DefaultTokenKeyPrefix
	}
	return &RedisTokenStore{kv: kv, keyPrefix: keyPrefix, now: time.Now, logger: logger}
}

func (s *RedisTokenStore) Save(ctx context.Context, key string, tokens destination.RefreshAccessTokenResult) error {
	now := s.now()
	stored := StoredToken{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		CreatedAt:    now.Unix(),
	}

	ttl := DefaultTokenTTL
	if tokens.ExpiresIn > 0 {
		expiresIn := time.Duration(tokens.ExpiresIn) * time.Second
		stored.ExpiresAt = now.Add(expiresIn).Unix()
		if expiresIn > expirySkew {
			ttl = expiresIn - expirySkew
		} else {
			ttl = expiresIn
		}
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := s.kv.Set(ctx, s.keyPrefix+key, string(data), ttl); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	s.logger.WithContext(ctx).WithField("key", key).Debug("stored refreshed token")
	return nil
}

// Load returns ErrTokenNotFound for a missing or expired token.
func (s *RedisTokenStore) Load(ctx context.Context, key string) (*StoredToken, error) {
	data, err := s.kv.Get(ctx, s.keyPrefix+key)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	var token StoredToken
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached token: %w", err)
	}
	if token.IsExpired(s.now()) {
		return nil, ErrTokenNotFound
	}
	return &token, nil
}

func (s *RedisTokenStore) Invalidate(ctx context.Context, key string) error {
	return s.kv.Del(ctx, s.keyPrefix+key)
}

// Apply overlays a stored token for key onto auth. auth is returned unchanged
// when nothing is stored.
func (s *RedisTokenStore) Apply(ctx context.Context, key string, auth *destination.AuthTokens) *destination.AuthTokens {
	stored, err := s.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrTokenNotFound) {
			s.logger.WithContext(ctx).WithError(err).Warn("failed to load stored token")
		}
		return auth
	}
	return destination.RefreshAccessTokenResult{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
	}.Apply(auth)
}

// OnTokenRefresh returns a hook that saves refreshed tokens under key.
func (s *RedisTokenStore) OnTokenRefresh(key string) func(context.Context, destination.RefreshAccessTokenResult) error {
	return func(ctx context.Context, tokens destination.RefreshAccessTokenResult) error {
		return s.Save(ctx, key, tokens)
	}
}
