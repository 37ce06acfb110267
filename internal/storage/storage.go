package storage

import (
	"errors"
	"time"

	"tempmailbot/backend/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱记录未找到错误
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrIdentityActive 同一 identity 已持有活跃邮箱错误
	ErrIdentityActive = errors.New("identity already has an active mailbox")
	// ErrDuplicateAddress 地址已被占用错误
	ErrDuplicateAddress = errors.New("address already in use")
)

// MailboxRepository 定义临时邮箱记录的存取操作。
//
// CreateMailbox 必须原子地拒绝已持有活跃邮箱的 identity（返回
// ErrIdentityActive），这是一人一箱约束的唯一裁决点；调用方的
// 预检查只是快速路径。
type MailboxRepository interface {
	CreateMailbox(mailbox *domain.Mailbox) error
	GetMailbox(identity string, activeOnly bool) (*domain.Mailbox, error)
	GetMailboxByAddress(address string, activeOnly bool) (*domain.Mailbox, error)
	TouchLastChecked(identity string, t time.Time) (bool, error)
	IncrementMessageCounters(identity string, n int, at time.Time) (bool, error)
	DeactivateMailbox(identity string, reason string) (bool, error)
	HardDeleteMailbox(identity string) error
	SweepExpired(now time.Time) (int, error)                // 停用所有已过期的活跃邮箱，返回停用数量
	PurgeInactiveBefore(cutoff time.Time) (int, error)      // 物理删除保留期外的停用记录，返回删除数量
	ListActiveMailboxes() ([]*domain.Mailbox, error)        // 按创建时间升序
	ListExpiringWithin(window time.Duration) ([]*domain.Mailbox, error)
}

// StatisticsRepository 定义运行统计查询操作。
type StatisticsRepository interface {
	Statistics() (*domain.Statistics, error)
}

// Store 定义完整的存储接口。
type Store interface {
	MailboxRepository
	StatisticsRepository

	// 工具方法
	Close() error
	Health() error
}
