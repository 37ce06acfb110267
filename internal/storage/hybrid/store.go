package hybrid

import (
	"fmt"
	"time"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/storage/redis"
	sqlstore "tempmailbot/backend/internal/storage/sql"
)

// Store 混合存储实现：SQL 数据库持久化 + Redis 读缓存。
//
// 数据库是唯一事实来源，所有写操作直达数据库并使相关缓存失效；
// 读路径只对按 identity / address 的点查询走缓存。
type Store struct {
	db    *sqlstore.Store
	cache *redis.Cache
}

// NewStore 创建混合存储实例。
func NewStore(
	dbType, dsn string,
	maxOpenConns, maxIdleConns int,
	connMaxLifetime time.Duration,
	redisAddr, redisPassword string,
	redisDB int,
) (*Store, error) {
	db, err := sqlstore.NewStore(dbType, dsn, maxOpenConns, maxIdleConns, connMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	cache, err := redis.NewCache(redisAddr, redisPassword, redisDB)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	return &Store{db: db, cache: cache}, nil
}

// CreateMailbox 创建邮箱记录并写入缓存。
func (s *Store) CreateMailbox(mailbox *domain.Mailbox) error {
	if err := s.db.CreateMailbox(mailbox); err != nil {
		return err
	}
	// 缓存失败不影响创建结果
	_ = s.cache.CacheMailbox(mailbox, mailbox.TimeRemaining(time.Now()))
	return nil
}

// GetMailbox 按 identity 获取记录，活跃点查询优先走缓存。
func (s *Store) GetMailbox(identity string, activeOnly bool) (*domain.Mailbox, error) {
	if activeOnly {
		if mailbox, err := s.cache.GetCachedMailbox(identity); err == nil && mailbox.IsActive() {
			return mailbox, nil
		}
	}

	mailbox, err := s.db.GetMailbox(identity, activeOnly)
	if err != nil {
		return nil, err
	}
	if mailbox.IsActive() {
		_ = s.cache.CacheMailbox(mailbox, mailbox.TimeRemaining(time.Now()))
	}
	return mailbox, nil
}

// GetMailboxByAddress 按地址获取记录，活跃点查询优先走缓存。
func (s *Store) GetMailboxByAddress(address string, activeOnly bool) (*domain.Mailbox, error) {
	if activeOnly {
		if mailbox, err := s.cache.GetCachedMailboxByAddress(address); err == nil && mailbox.IsActive() {
			return mailbox, nil
		}
	}

	mailbox, err := s.db.GetMailboxByAddress(address, activeOnly)
	if err != nil {
		return nil, err
	}
	if mailbox.IsActive() {
		_ = s.cache.CacheMailbox(mailbox, mailbox.TimeRemaining(time.Now()))
	}
	return mailbox, nil
}

// TouchLastChecked 推进轮询水位线，缓存中的旧水位直接失效。
func (s *Store) TouchLastChecked(identity string, t time.Time) (bool, error) {
	ok, err := s.db.TouchLastChecked(identity, t)
	if err != nil || !ok {
		return ok, err
	}
	s.invalidate(identity)
	return true, nil
}

// IncrementMessageCounters 累加邮件计数并失效缓存。
func (s *Store) IncrementMessageCounters(identity string, n int, at time.Time) (bool, error) {
	ok, err := s.db.IncrementMessageCounters(identity, n, at)
	if err != nil || !ok {
		return ok, err
	}
	s.invalidate(identity)
	return true, nil
}

// DeactivateMailbox 停用记录并失效缓存。
func (s *Store) DeactivateMailbox(identity string, reason string) (bool, error) {
	ok, err := s.db.DeactivateMailbox(identity, reason)
	if err != nil || !ok {
		return ok, err
	}
	s.invalidate(identity)
	return true, nil
}

// HardDeleteMailbox 物理删除记录并失效缓存。
func (s *Store) HardDeleteMailbox(identity string) error {
	s.invalidate(identity)
	return s.db.HardDeleteMailbox(identity)
}

// SweepExpired 停用过期记录。数据库批量更新后无法逐键失效，
// 依赖缓存 TTL 与记录过期时间对齐自然淘汰。
func (s *Store) SweepExpired(now time.Time) (int, error) {
	return s.db.SweepExpired(now)
}

// PurgeInactiveBefore 物理删除保留期外的停用记录。
func (s *Store) PurgeInactiveBefore(cutoff time.Time) (int, error) {
	return s.db.PurgeInactiveBefore(cutoff)
}

// ListActiveMailboxes 返回全部活跃记录（列表查询不缓存）。
func (s *Store) ListActiveMailboxes() ([]*domain.Mailbox, error) {
	return s.db.ListActiveMailboxes()
}

// ListExpiringWithin 返回即将过期的活跃记录。
func (s *Store) ListExpiringWithin(window time.Duration) ([]*domain.Mailbox, error) {
	return s.db.ListExpiringWithin(window)
}

// Statistics 返回注册表统计快照。
func (s *Store) Statistics() (*domain.Statistics, error) {
	return s.db.Statistics()
}

// Health 逐个检查底层组件健康状态。
func (s *Store) Health() error {
	if err := s.db.Health(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.cache.Health(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	cacheErr := s.cache.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return cacheErr
}

// invalidate 按 identity 失效缓存，需要先取地址键。
func (s *Store) invalidate(identity string) {
	if mailbox, err := s.cache.GetCachedMailbox(identity); err == nil {
		_ = s.cache.InvalidateMailbox(identity, mailbox.Address)
		return
	}
	_ = s.cache.InvalidateMailbox(identity, "")
}
