package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/redis"
)

const stockCacheTTL = 5 * time.Second

// RedisStockCache 缓存可售量的计算结果，只服务读端点。
// TTL 压得很短，外加写路径上的主动失效；
// 即便如此，任何写决策仍然必须回源，缓存从不参与仲裁。
type RedisStockCache struct {
	client *redis.Client
}

func NewRedisStockCache(client *redis.Client) *RedisStockCache {
	return &RedisStockCache{client: client}
}

func stockCacheKey(storeID, itemID string) string {
	return fmt.Sprintf("stock:available:%s:%s", storeID, itemID)
}

func (c *RedisStockCache) Get(ctx context.Context, storeID, itemID string) (int, bool) {
	val, err := c.client.GetClient().Get(ctx, stockCacheKey(storeID, itemID)).Result()
	if err != nil {
		if err != goredis.Nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("stock cache read failed")
		}
		return 0, false
	}
	available, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return available, true
}

func (c *RedisStockCache) Set(ctx context.Context, storeID, itemID string, available int) {
	if err := c.client.GetClient().Set(ctx, stockCacheKey(storeID, itemID), available, stockCacheTTL).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("stock cache write failed")
	}
}

func (c *RedisStockCache) Invalidate(ctx context.Context, storeID, itemID string) {
	if err := c.client.GetClient().Del(ctx, stockCacheKey(storeID, itemID)).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("stock cache invalidation failed")
	}
}
