package loginlimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLocked           = errors.New("too many failed logins")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config tunes the failed-login window.
type Config struct {
	// Prefix namespaces keys. Defaults to "sf:login".
	Prefix      string
	MaxFailures int
	Window      time.Duration
	// PerIP adds a second counter keyed by client address.
	PerIP bool
}

// Limiter counts failed logins per identifier, and optionally per IP, in
// Redis fixed windows.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter. Non-positive limits take 5 failures per minute.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "sf:login"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{redis: client, config: cfg}
}

// Check returns ErrLocked once user or ip has used up its failures.
func (l *Limiter) Check(ctx context.Context, user, ip string) error {
	for _, key := range l.keys(user, ip) {
		count, err := l.redis.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if count >= int64(l.config.MaxFailures) {
			return ErrLocked
		}
	}
	return nil
}

// Fail records one failed login.
func (l *Limiter) Fail(ctx context.Context, user, ip string) error {
	for _, key := range l.keys(user, ip) {
		count, err := l.redis.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		// The window starts at the first failure.
		if count == 1 {
			if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
	}
	return nil
}

// Reset clears the counters after a successful login.
func (l *Limiter) Reset(ctx context.Context, user, ip string) error {
	if err := l.redis.Del(ctx, l.keys(user, ip)...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Failures returns the current count for user. Unknown users read as zero.
func (l *Limiter) Failures(ctx context.Context, user string) (int, error) {
	count, err := l.redis.Get(ctx, l.config.Prefix+":u:"+user).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

func (l *Limiter) keys(user, ip string) []string {
	keys := []string{l.config.Prefix + ":u:" + user}
	if l.config.PerIP && ip != "" {
		keys = append(keys, l.config.Prefix+":ip:"+ip)
	}
	return keys
}
