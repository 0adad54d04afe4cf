package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IlyasAtabaev731/voice-wallet/internal/ledger"
	"github.com/go-redis/redis/v8"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache keeps short-lived ledger lookups and revoked session ids. A Cache
// without a client is disabled: reads miss and writes are dropped.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

func New(addr, password string, db int, logger *slog.Logger) *Cache {
	if addr == "" {
		logger.Info("Redis address is empty, caching disabled")
		return &Cache{logger: logger}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis connection failed, caching disabled", "error", err)
		_ = client.Close()
		return &Cache{logger: logger}
	}

	logger.Info("Connected to Redis", slog.String("addr", addr))
	return &Cache{client: client, logger: logger}
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

func (c *Cache) Enabled() bool {
	return c.client != nil
}

func accountKey(address string) string {
	return "account:" + address
}

func revokedKey(tokenID string) string {
	return "revoked:" + tokenID
}

func (c *Cache) GetAccount(ctx context.Context, address string) (*ledger.AccountInfo, error) {
	if c.client == nil {
		return nil, ErrCacheMiss
	}

	raw, err := c.client.Get(ctx, accountKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis: get account: %w", err)
	}

	var info ledger.AccountInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("redis: decode account: %w", err)
	}
	return &info, nil
}

func (c *Cache) SetAccount(ctx context.Context, info *ledger.AccountInfo, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}

	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, accountKey(info.Address), raw, ttl).Err()
}

func (c *Cache) InvalidateAccount(ctx context.Context, addresses ...string) error {
	if c.client == nil || len(addresses) == 0 {
		return nil
	}

	keys := make([]string, 0, len(addresses))
	for _, a := range addresses {
		keys = append(keys, accountKey(a))
	}
	return c.client.Del(ctx, keys...).Err()
}

// Revoke blacklists a session token id until it would have expired anyway.
func (c *Cache) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	if c.client == nil || tokenID == "" {
		return nil
	}

	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, revokedKey(tokenID), 1, ttl).Err()
}

func (c *Cache) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if c.client == nil || tokenID == "" {
		return false, nil
	}

	n, err := c.client.Exists(ctx, revokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: revoked lookup: %w", err)
	}
	return n > 0, nil
}

func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
