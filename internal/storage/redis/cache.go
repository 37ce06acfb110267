package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tempmailbot/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = errors.New("cache miss")

// Cache Redis 缓存实现，只缓存活跃邮箱记录。
type Cache struct {
	client *redis.Client
	ctx    context.Context
}

// NewCache 创建 Redis 缓存实例
func NewCache(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{
		client: client,
		ctx:    ctx,
	}, nil
}

func identityKey(identity string) string {
	return fmt.Sprintf("mailbox:identity:%s", identity)
}

func addressKey(address string) string {
	return fmt.Sprintf("mailbox:address:%s", address)
}

// CacheMailbox 缓存活跃邮箱记录，按 identity 与 address 双键写入。
// ttl 应与记录剩余存活时间对齐，避免缓存活过记录本身。
func (c *Cache) CacheMailbox(mailbox *domain.Mailbox, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(mailbox)
	if err != nil {
		return err
	}

	pipe := c.client.Pipeline()
	pipe.Set(c.ctx, identityKey(mailbox.Identity), data, ttl)
	pipe.Set(c.ctx, addressKey(mailbox.Address), data, ttl)
	_, err = pipe.Exec(c.ctx)
	return err
}

// GetCachedMailbox 按 identity 获取缓存的邮箱记录。
func (c *Cache) GetCachedMailbox(identity string) (*domain.Mailbox, error) {
	return c.get(identityKey(identity))
}

// GetCachedMailboxByAddress 按地址获取缓存的邮箱记录。
func (c *Cache) GetCachedMailboxByAddress(address string) (*domain.Mailbox, error) {
	return c.get(addressKey(address))
}

func (c *Cache) get(key string) (*domain.Mailbox, error) {
	data, err := c.client.Get(c.ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var mailbox domain.Mailbox
	if err := json.Unmarshal([]byte(data), &mailbox); err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// InvalidateMailbox 删除记录的全部缓存键。
func (c *Cache) InvalidateMailbox(identity, address string) error {
	return c.client.Del(c.ctx, identityKey(identity), addressKey(address)).Err()
}

// Health 检查 Redis 连接健康状态
func (c *Cache) Health() error {
	ctx, cancel := context.WithTimeout(c.ctx, 3*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
