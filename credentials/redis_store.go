package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis failure other than a missing key.
var ErrRedisUnavailable = errors.New("redis unavailable")

// DefaultSessionTTL bounds a stored session whose refresh expiry is unknown.
const DefaultSessionTTL = 7 * 24 * time.Hour

// RedisStore is a Store shared between processes. Each store instance holds
// one session under <prefix>:cred:<id>.
type RedisStore struct {
	redis       redis.UniversalClient
	prefix      string
	id          string
	fallbackTTL time.Duration
	now         func() time.Time
}

// NewRedisStore returns a store for the session named id. An empty prefix
// defaults to "af".
func NewRedisStore(client redis.UniversalClient, prefix, id string) *RedisStore {
	if prefix == "" {
		prefix = "af"
	}
	return &RedisStore{
		redis:       client,
		prefix:      prefix,
		id:          id,
		fallbackTTL: DefaultSessionTTL,
		now:         time.Now,
	}
}

// WithFallbackTTL sets the TTL used when the refresh expiry is unknown.
func (s *RedisStore) WithFallbackTTL(d time.Duration) *RedisStore {
	if d > 0 {
		s.fallbackTTL = d
	}
	return s
}

func (s *RedisStore) key() string {
	return s.prefix + ":cred:" + s.id
}

func (s *RedisStore) Load(ctx context.Context) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Decode(data)
}

// Save stores sess with a TTL bounded by its refresh expiry. A session whose
// refresh credential has already expired is not stored and any previous one
// is cleared.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.AccessToken == "" {
		return ErrEmptySession
	}
	ttl := sess.TTL(s.now(), s.fallbackTTL)
	if ttl <= 0 {
		return s.Clear(ctx)
	}

	data, err := Encode(sess)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Clear is idempotent.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping measures one round trip.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
