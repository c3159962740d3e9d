package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/RyanBlaney/sonido-sentinel/logging"
)

// RedisConfig describes the Redis server used for cross-process locks.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`

	// Prefix is prepended to every lock name.
	Prefix string `json:"prefix" yaml:"prefix"`

	// TTL bounds how long a crashed holder can keep a lock. A live holder
	// renews its key every TTL/3.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultRedisConfig returns a config for a local Redis with a 30 minute TTL.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "sonido:lock:",
		TTL:    30 * time.Minute,
	}
}

// unlockScript deletes the key only while it still holds our token, so an
// expired lock that someone else has since taken is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key's expiry only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker shared by every process using the same server and
// prefix. Locks are SET NX PX keys holding a random token.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger logging.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, config RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisFromClient(client, config), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client redis.UniversalClient, config RedisConfig) *Redis {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultRedisConfig().TTL
	}
	return &Redis{
		client: client,
		prefix: config.Prefix,
		ttl:    ttl,
		logger: logging.WithFields(logging.Fields{
			"component": "redis_lock",
		}),
	}
}

func (r *Redis) TryLock(ctx context.Context, name string) (Unlock, error) {
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	interval := max(r.ttl/3, time.Millisecond)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(stop, interval, func() (bool, error) {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			n, err := refreshScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int()
			return n == 1, err
		}, r.logger.WithFields(logging.Fields{"name": name}))
	}()

	var once sync.Once
	var unlockErr error
	return func() error {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's context may already be done when the work it
			// guarded fails, so release on a fresh one.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			n, err := unlockScript.Run(ctx, r.client, []string{key}, token).Int()
			if err != nil {
				unlockErr = fmt.Errorf("unlock %s: %w", name, err)
				return
			}
			if n == 0 {
				r.logger.Warn("Lock expired before release", logging.Fields{"name": name})
			}
		})
		return unlockErr
	}, nil
}

// keepAlive calls refresh every interval until stop is closed or the lock
// turns out to be lost. A failed call is retried on the next tick; the key
// keeps its remaining TTL meanwhile.
func keepAlive(stop <-chan struct{}, interval time.Duration, refresh func() (bool, error), logger logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			held, err := refresh()
			if err != nil {
				logger.Warn("Lock refresh failed", logging.Fields{"error": err.Error()})
				continue
			}
			if !held {
				logger.Warn("Lock lost before release")
				return
			}
		}
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Locker = (*Redis)(nil)
