package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stock-ledger/internal/valuation"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	reportKey = "valuation:report"
	keyPrefix = "stock-ledger:"
)

// releaseLockScript deletes the lock only when it still holds our token
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks it is reachable
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetReport returns the cached valuation report, or nil on a miss
func (c *Client) GetReport(ctx context.Context) (*valuation.Report, error) {
	raw, err := c.rdb.Get(ctx, key(reportKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached report: %w", err)
	}
	return decodeReport(raw)
}

// SetReport caches a valuation report for ttl
func (c *Client) SetReport(ctx context.Context, report *valuation.Report, ttl time.Duration) error {
	raw, err := encodeReport(report)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key(reportKey), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache report: %w", err)
	}
	return nil
}

// InvalidateReport drops the cached valuation report
func (c *Client) InvalidateReport(ctx context.Context) error {
	return c.rdb.Del(ctx, key(reportKey)).Err()
}

// AcquireLock acquires a distributed lock. The returned token must be
// passed to ReleaseLock; an empty token means the lock is held elsewhere.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, lockName(lockKey), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseLock releases a lock acquired with token. A lock that expired and
// was taken by someone else is left alone.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := releaseLockScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", lockKey, err)
	}
	return nil
}

func key(name string) string {
	return keyPrefix + name
}

func lockName(lockKey string) string {
	return key("lock:" + lockKey)
}

func encodeReport(report *valuation.Report) ([]byte, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return raw, nil
}

func decodeReport(raw []byte) (*valuation.Report, error) {
	var report valuation.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached report: %w", err)
	}
	return &report, nil
}
