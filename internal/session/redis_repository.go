package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	backend "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "supportbot:session:"

// RedisRepository keeps sessions in Redis with an optional expiry.
type RedisRepository struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Compile-time check that RedisRepository implements Repository.
var _ Repository = (*RedisRepository)(nil)

// RedisOption configures a RedisRepository.
type RedisOption func(*RedisRepository)

// WithTTL sets the expiration for sessions. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisRepository) {
		r.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisRepository) {
		r.prefix = prefix
	}
}

// NewRedisRepository connects to Redis at address.
func NewRedisRepository(address, password string, db int, opts ...RedisOption) *RedisRepository {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisRepositoryFromClient(client, opts...)
}

// NewRedisRepositoryFromClient wraps an existing client.
func NewRedisRepositoryFromClient(client *backend.Client, opts ...RedisOption) *RedisRepository {
	r := &RedisRepository{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRepository) key(userID string) string {
	return r.prefix + userID
}

// Ping checks connectivity.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Load reads and decodes the user's session.
func (r *RedisRepository) Load(ctx context.Context, userID string) (*models.Session, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session from redis: %w", err)
	}
	s, err := Decode(data)
	if err != nil {
		slog.Warn("RedisRepository.Load: discarding session", "userID", userID, "error", err)
		return nil, err
	}
	return s, nil
}

// Save writes the session with the configured TTL.
func (r *RedisRepository) Save(ctx context.Context, s *models.Session) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(s.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session to redis: %w", err)
	}
	return nil
}

// Delete removes the user's session.
func (r *RedisRepository) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session from redis: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
