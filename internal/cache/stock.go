package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pharmaledger/m/domain"
)

const (
	stockInfoKeyPrefix = "stock:info"
	stockGenKeyPrefix  = "stock:gen"
	scanBatchSize      = 100
	defaultStockTTL    = time.Minute
)

// StockCache holds per-product stock breakdowns. Entries are keyed by the
// as-of day because lots expire at day boundaries, and by the product's
// generation: Invalidate bumps it, so an entry built from a read taken
// before the bump is never served afterwards. Readers must fetch the
// generation before reading the database.
type StockCache interface {
	Generation(ctx context.Context, productID int64) (int64, error)
	Get(ctx context.Context, productID, gen int64, asOf time.Time) (*domain.StockInfo, bool, error)
	Set(ctx context.Context, gen int64, asOf time.Time, info *domain.StockInfo) error
	Invalidate(ctx context.Context, productIDs ...int64) error
}

type redisStockCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopStockCache struct{}

// NewStockCache connects to Redis when redisURL is set and falls back to
// a no-op cache otherwise.
func NewStockCache(redisURL string, ttl time.Duration) (StockCache, error) {
	if redisURL == "" {
		return NewNoopStockCache(), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStockCache(client, ttl), nil
}

func NewRedisStockCache(client *redis.Client, ttl time.Duration) StockCache {
	if ttl <= 0 {
		ttl = defaultStockTTL
	}
	return &redisStockCache{client: client, ttl: ttl}
}

func NewNoopStockCache() StockCache {
	return &noopStockCache{}
}

func (c *redisStockCache) Generation(ctx context.Context, productID int64) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(productID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

func (c *redisStockCache) Get(ctx context.Context, productID, gen int64, asOf time.Time) (*domain.StockInfo, bool, error) {
	payload, err := c.client.Get(ctx, buildStockInfoKey(productID, gen, asOf)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var info domain.StockInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, false, fmt.Errorf("decode stock info cache: %w", err)
	}
	return &info, true, nil
}

func (c *redisStockCache) Set(ctx context.Context, gen int64, asOf time.Time, info *domain.StockInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode stock info cache: %w", err)
	}
	if err := c.client.Set(ctx, buildStockInfoKey(info.ProductID, gen, asOf), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate bumps each product's generation, then drops its entries.
func (c *redisStockCache) Invalidate(ctx context.Context, productIDs ...int64) error {
	for _, id := range productIDs {
		if err := c.client.Incr(ctx, generationKey(id)).Err(); err != nil {
			return fmt.Errorf("redis incr generation failed: %w", err)
		}
		if err := c.deleteKeysWithPrefix(ctx, productKeyPrefix(id)); err != nil {
			return err
		}
	}
	return nil
}

func (c *redisStockCache) deleteKeysWithPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, prefix+"*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis delete failed: %w", err)
			}
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (n *noopStockCache) Generation(ctx context.Context, productID int64) (int64, error) {
	return 0, nil
}

func (n *noopStockCache) Get(ctx context.Context, productID, gen int64, asOf time.Time) (*domain.StockInfo, bool, error) {
	return nil, false, nil
}

func (n *noopStockCache) Set(ctx context.Context, gen int64, asOf time.Time, info *domain.StockInfo) error {
	return nil
}

func (n *noopStockCache) Invalidate(ctx context.Context, productIDs ...int64) error {
	return nil
}

func productKeyPrefix(productID int64) string {
	return stockInfoKeyPrefix + ":" + strconv.FormatInt(productID, 10) + ":"
}

func generationKey(productID int64) string {
	return stockGenKeyPrefix + ":" + strconv.FormatInt(productID, 10)
}

func buildStockInfoKey(productID, gen int64, asOf time.Time) string {
	return productKeyPrefix(productID) + "g" + strconv.FormatInt(gen, 10) + ":" + domain.DateOf(asOf).Format("20060102")
}
