package identity

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// RedisProvider stores sessions as Redis hashes under "session:<token>".
// Expiry is the key's TTL.
type RedisProvider struct {
	rdb *redis.Client
}

// NewRedisProvider wraps an existing client. The caller owns its lifetime.
func NewRedisProvider(rdb *redis.Client) *RedisProvider {
	return &RedisProvider{rdb: rdb}
}

// Authenticate implements Provider.
func (p *RedisProvider) Authenticate(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNoSession
	}
	key := sessionKeyPrefix + token

	vals, err := p.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Session{}, errors.Mark(errors.Wrap(err, "identity: load session"), ErrUnavailable)
	}
	if vals["user_id"] == "" {
		return Session{}, ErrNoSession
	}

	s := Session{Token: token, UserID: vals["user_id"], Email: vals["email"]}
	ttl, err := p.rdb.TTL(ctx, key).Result()
	if err != nil {
		return Session{}, errors.Mark(errors.Wrap(err, "identity: session ttl"), ErrUnavailable)
	}
	if ttl > 0 {
		s.ExpiresAt = time.Now().Add(ttl)
	}
	return s, nil
}

// Create stores a new session for userID and returns it with a fresh token.
// A zero ttl creates a session that never expires.
func (p *RedisProvider) Create(ctx context.Context, userID, email string, ttl time.Duration) (Session, error) {
	if userID == "" {
		return Session{}, errors.New("identity: userID cannot be empty")
	}
	s := Session{Token: uuid.New().String(), UserID: userID, Email: email}
	key := sessionKeyPrefix + s.Token

	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{"user_id": userID, "email": email})
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return Session{}, errors.Mark(errors.Wrap(err, "identity: create session"), ErrUnavailable)
	}
	if ttl > 0 {
		s.ExpiresAt = time.Now().Add(ttl)
	}
	return s, nil
}

// Revoke deletes a session. Unknown tokens are not an error.
func (p *RedisProvider) Revoke(ctx context.Context, token string) error {
	if err := p.rdb.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return errors.Mark(errors.Wrap(err, "identity: revoke session"), ErrUnavailable)
	}
	return nil
}

// Ping checks connectivity for health reporting.
func (p *RedisProvider) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
