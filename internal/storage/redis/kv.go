package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"trend-oracle/internal/storage"
)

const (
	scanBatch      = 500
	defaultLockTTL = 30 * time.Second
	lockKeyPrefix  = "lock/"
)

// releaseLock deletes the lock only while it still carries our token, so an
// expired lock taken over by another holder is left alone.
var releaseLock = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config configures the Redis backend.
type Config struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	KeyPrefix string // namespace prepended to every key, e.g. "trendoracle:"
	// LockTTL bounds how long a crashed holder keeps an advisory lock. Defaults to 30s.
	LockTTL time.Duration
}

// KV stores oracle records as plain Redis strings.
type KV struct {
	client  *goredis.Client
	prefix  string
	lockTTL time.Duration
}

// New creates a Redis-backed KV and pings the server.
func New(ctx context.Context, cfg Config) (*KV, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &KV{client: client, prefix: cfg.KeyPrefix, lockTTL: lockTTL}, nil
}

// Client returns the underlying Redis client for health checks.
func (s *KV) Client() *goredis.Client { return s.client }

// Put sets key to value.
func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Create sets key to value only if it is absent.
func (s *KV) Create(ctx context.Context, key string, value []byte) error {
	ok, err := s.client.SetNX(ctx, s.prefix+key, value, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return storage.ErrDuplicateKey
	}
	return nil
}

// Get reads key.
func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// Scan walks keys with the given prefix using SCAN and visits them in key order.
// Keys deleted between SCAN and GET are skipped.
func (s *KV) Scan(ctx context.Context, prefix string, fn storage.ScanFunc) error {
	match := globEscape(s.prefix+prefix) + "*"

	var keys []string
	iter := s.client.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	sort.Strings(keys)

	for _, full := range keys {
		value, err := s.client.Get(ctx, full).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return fmt.Errorf("redis get %s: %w", full, err)
		}
		if err := fn(strings.TrimPrefix(full, s.prefix), value); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the client.
func (s *KV) Close() error {
	return s.client.Close()
}

// TryAdvisoryLock takes a lock shared by every process using the same Redis
// namespace. The lock expires after the configured TTL if never released.
func (s *KV) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	lockKey := fmt.Sprintf("%s%s%d", s.prefix, lockKeyPrefix, key)
	token := uuid.NewString()

	acquired, err := s.client.SetNX(ctx, lockKey, token, s.lockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %d: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// an unreleased lock expires with its TTL
		_ = releaseLock.Run(ctxUnlock, s.client, []string{lockKey}, token).Err()
	}
	return unlock, true, nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

var (
	_ storage.KV             = (*KV)(nil)
	_ storage.AdvisoryLocker = (*KV)(nil)
)
