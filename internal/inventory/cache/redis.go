package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/cache"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "stock:available:"
	defaultTTL = 5 * time.Second
)

const (
	modeFill   = "fill"
	modeCommit = "commit"
)

// putScript stores {data, version} in a hash. A fill only lands on a missing key,
// so a read that raced a commit never replaces the committed row. A commit
// overwrites any entry that is not newer than itself.
//
// KEYS[1] entry key; ARGV[1] encoded row; ARGV[2] version; ARGV[3] ttl ms; ARGV[4] mode
var putScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version")
if current then
	if ARGV[4] ~= "commit" or tonumber(current) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("HSET", KEYS[1], "data", ARGV[1], "version", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// StockCache holds short-lived copies of stock rows for availability reads.
// A nil *StockCache is a valid, always-missing cache.
type StockCache struct {
	client *cache.RedisClient
	ttl    time.Duration
	logger logger.ZapLogger
}

func NewStockCache(client *cache.RedisClient, ttl time.Duration, log logger.ZapLogger) *StockCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &StockCache{client: client, ttl: ttl, logger: log}
}

func Key(productID string) string {
	return keyPrefix + productID
}

// Get returns the cached row, or nil on a miss.
func (c *StockCache) Get(ctx context.Context, productID string) (*model.Stock, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := c.client.Client.HGet(ctx, Key(productID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached stock: %w", err)
	}

	var s model.Stock
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode cached stock: %w", err)
	}
	return &s, nil
}

// Set fills a missing entry from a database read. It reports false when an
// entry was already present and left alone.
func (c *StockCache) Set(ctx context.Context, s *model.Stock) (bool, error) {
	return c.put(ctx, s, modeFill)
}

// Store writes a committed row unless the entry already holds a newer one.
func (c *StockCache) Store(ctx context.Context, s *model.Stock) (bool, error) {
	return c.put(ctx, s, modeCommit)
}

func (c *StockCache) put(ctx context.Context, s *model.Stock, mode string) (bool, error) {
	if c == nil || s == nil {
		return false, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return false, err
	}

	res, err := putScript.Run(ctx, c.client.Client, []string{Key(s.ProductID)},
		raw, version(s), c.ttl.Milliseconds(), mode).Int64()
	if err != nil {
		return false, fmt.Errorf("put cached stock: %w", err)
	}
	return res == 1, nil
}

// version orders rows of one product by commit time. Microseconds stay exact
// in a Lua number.
func version(s *model.Stock) int64 {
	if s.UpdatedAt.IsZero() {
		return 0
	}
	return s.UpdatedAt.UnixMicro()
}

func (c *StockCache) Invalidate(ctx context.Context, productIDs ...string) error {
	if c == nil || len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = Key(id)
	}
	return c.client.Client.Del(ctx, keys...).Err()
}

// StockChanged writes the committed rows so the next read sees them. Entries
// that cannot be written are dropped instead.
func (c *StockCache) StockChanged(ctx context.Context, changes []inventory.StockChange) {
	if c == nil {
		return
	}
	var stale []string
	for _, ch := range changes {
		if ch.Stock == nil {
			stale = append(stale, ch.ProductID)
			continue
		}
		if _, err := c.Store(ctx, ch.Stock); err != nil {
			c.logger.Warn("failed to store committed stock", zap.String("product_id", ch.ProductID), zap.Error(err))
			stale = append(stale, ch.ProductID)
		}
	}
	if err := c.Invalidate(ctx, stale...); err != nil {
		c.logger.Warn("failed to invalidate stock cache", zap.Strings("product_ids", stale), zap.Error(err))
	}
}
