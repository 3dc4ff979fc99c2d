package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fleetpilot-backend/internal/config"
)

const (
	lastSeenPrefix = "fleet:agent:last_seen:"
	lockPrefix     = "fleet:lock:"
	ratePrefix     = "fleet:rate:"
)

// ErrLockHeld is returned when another instance owns the lock.
var ErrLockHeld = errors.New("lock held")

// ErrLockLost is returned when a lease expired or was taken over before it
// could be extended.
var ErrLockLost = errors.New("lock lost")

type Client interface {
	SetLastSeen(ctx context.Context, agentID string, at time.Time, ttl time.Duration) error
	GetLastSeen(ctx context.Context, agentID string) (time.Time, error)
	SubscribeExpired(ctx context.Context) (*redis.PubSub, error)
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	AcquireLock(ctx context.Context, name string, lease time.Duration) (string, error)
	ExtendLock(ctx context.Context, name, token string, lease time.Duration) error
	ReleaseLock(ctx context.Context, name, token string) error
	Ping(ctx context.Context) error
	Close() error
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{rdb: rdb}, nil
}

func LastSeenKey(agentID string) string {
	return lastSeenPrefix + agentID
}

// AgentFromLastSeenKey extracts the agent id from an expired last-seen key.
func AgentFromLastSeenKey(key string) (string, bool) {
	if !strings.HasPrefix(key, lastSeenPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, lastSeenPrefix)
	return id, id != ""
}

func (c *RedisCache) SetLastSeen(ctx context.Context, agentID string, at time.Time, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return c.rdb.Set(ctx, LastSeenKey(agentID), at.UnixMilli(), ttl).Err()
}

func (c *RedisCache) GetLastSeen(ctx context.Context, agentID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	val, err := c.rdb.Get(ctx, LastSeenKey(agentID)).Result()
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last seen: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// SubscribeExpired listens for key expiry events. The server must have
// notify-keyspace-events including Ex.
func (c *RedisCache) SubscribeExpired(ctx context.Context) (*redis.PubSub, error) {
	channel := fmt.Sprintf("__keyevent@%d__:expired", c.rdb.Options().DB)
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pubsub := c.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	return pubsub, nil
}

// IncrWithTTL increments a counter and starts its expiry on first use.
func (c *RedisCache) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	key = ratePrefix + key
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// AcquireLock takes a named lease and returns the token needed to release
// it. It returns ErrLockHeld when the lease is owned elsewhere.
func (c *RedisCache) AcquireLock(ctx context.Context, name string, lease time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockPrefix+name, token, lease).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ExtendLock resets the lease of a lock still carrying token.
func (c *RedisCache) ExtendLock(ctx context.Context, name, token string, lease time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	n, err := extendScript.Run(ctx, c.rdb, []string{lockPrefix + name}, token, lease.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// ReleaseLock drops the lease only if it still carries token.
func (c *RedisCache) ReleaseLock(ctx context.Context, name, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return releaseScript.Run(ctx, c.rdb, []string{lockPrefix + name}, token).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
