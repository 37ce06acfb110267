package domain

import (
	"time"
)

// MailboxState 表示临时邮箱的生命周期状态。
//
// 状态机只允许单向流转：Active -> Inactive -> （保留期满后被物理删除）。
// 物理删除不是一个状态，而是保留期清理对 Inactive 记录的终点。
type MailboxState string

const (
	// StateActive 表示邮箱处于活跃期，参与轮询并可对外展示。
	StateActive MailboxState = "active"
	// StateInactive 表示邮箱已停用（软删除），等待保留期满后物理清理。
	StateInactive MailboxState = "inactive"
)

// 停用原因常量。
const (
	ReasonExpired = "expired" // 到达 ExpiresAt 后由清理任务停用
	ReasonDeleted = "deleted" // 用户主动删除
)

// Mailbox 表示一个临时邮箱的注册记录。
//
// 每个 Identity（聊天平台用户标识）同一时间至多持有一个 Active 记录，
// 这是注册表的核心不变量，由存储层在创建时原子保证。
type Mailbox struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Identity string `json:"identity" gorm:"type:varchar(64);index"`
	Address  string `json:"address" gorm:"type:varchar(255);uniqueIndex"`
	Prefix   string `json:"prefix" gorm:"type:varchar(32)"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"index"`

	State MailboxState `json:"state" gorm:"type:varchar(16);index:idx_state_expires"`

	// LastCheckedAt 是轮询水位线：下一次 IMAP 搜索的时间下界。
	// 活跃期间单调不减。
	LastCheckedAt time.Time `json:"lastCheckedAt"`

	// MessageCount 自创建以来观测到的邮件数（面向用户展示）。
	// TotalMessages 是存续期内的累计计数，记录存在期间从不重置。
	MessageCount  int `json:"messageCount"`
	TotalMessages int `json:"totalMessages"`

	LastMessageAt      *time.Time `json:"lastMessageAt,omitempty"`
	DeactivatedAt      *time.Time `json:"deactivatedAt,omitempty"`
	DeactivationReason string     `json:"deactivationReason,omitempty" gorm:"type:varchar(32)"`
}

// TableName 指定 GORM 表名。
func (Mailbox) TableName() string {
	return "mailboxes"
}

// IsActive 判断记录是否处于活跃状态。
func (m *Mailbox) IsActive() bool {
	return m.State == StateActive
}

// IsExpired 判断记录在给定时刻是否已越过过期时间。
// 过期不等于停用：状态流转只能由清理任务通过 Deactivate 完成。
func (m *Mailbox) IsExpired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// TimeRemaining 返回距离过期的剩余时长，已过期时返回 0。
func (m *Mailbox) TimeRemaining(now time.Time) time.Duration {
	if remaining := m.ExpiresAt.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// Deactivate 执行 Active -> Inactive 流转，重复调用返回 false。
func (m *Mailbox) Deactivate(reason string, now time.Time) bool {
	if m.State != StateActive {
		return false
	}
	m.State = StateInactive
	m.DeactivatedAt = &now
	m.DeactivationReason = reason
	return true
}

// Statistics 是注册表的统计快照，供健康检查与 /stats 查询使用。
type Statistics struct {
	TotalMailboxes    int `json:"totalMailboxes"`
	ActiveMailboxes   int `json:"activeMailboxes"`
	InactiveMailboxes int `json:"inactiveMailboxes"`
}

// MailboxStatistics 是单个邮箱的统计视图（面向用户展示）。
type MailboxStatistics struct {
	Address       string        `json:"address"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	TimeRemaining time.Duration `json:"timeRemaining"`
	IsActive      bool          `json:"isActive"`
	MessageCount  int           `json:"messageCount"`
	TotalMessages int           `json:"totalMessages"`
	LastCheckedAt time.Time     `json:"lastCheckedAt"`
	LastMessageAt *time.Time    `json:"lastMessageAt,omitempty"`
}
