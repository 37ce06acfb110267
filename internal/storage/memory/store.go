package memory

import (
	"sort"
	"sync"
	"time"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/storage"
)

// Store 使用内存保存邮箱注册记录，主要用于开发验证与测试。
//
// byIdentityActive 只索引活跃记录，保证一人一箱检查是 O(1)；
// byAddress 索引全部记录（含停用），用于地址唯一性判定。
type Store struct {
	mu               sync.RWMutex
	mailboxes        map[string]*domain.Mailbox // ID -> mailbox
	byIdentityActive map[string]string          // identity -> ID（仅活跃）
	byAddress        map[string]string          // address -> ID
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes:        make(map[string]*domain.Mailbox),
		byIdentityActive: make(map[string]string),
		byAddress:        make(map[string]string),
	}
}

// CreateMailbox 创建邮箱记录。
// 同一 identity 已有活跃记录时返回 ErrIdentityActive，
// 地址与活跃记录冲突时返回 ErrDuplicateAddress。
func (s *Store) CreateMailbox(mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byIdentityActive[mailbox.Identity]; ok {
		return storage.ErrIdentityActive
	}
	if id, ok := s.byAddress[mailbox.Address]; ok {
		if existing := s.mailboxes[id]; existing != nil && existing.IsActive() {
			return storage.ErrDuplicateAddress
		}
	}

	clone := *mailbox
	s.mailboxes[clone.ID] = &clone
	s.byIdentityActive[clone.Identity] = clone.ID
	s.byAddress[clone.Address] = clone.ID
	return nil
}

// GetMailbox 按 identity 获取邮箱记录。
// activeOnly 为 true 时只命中活跃记录，否则返回该 identity 最近一条记录。
func (s *Store) GetMailbox(identity string, activeOnly bool) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byIdentityActive[identity]; ok {
		return cloneMailbox(s.mailboxes[id]), nil
	}
	if activeOnly {
		return nil, storage.ErrMailboxNotFound
	}

	var latest *domain.Mailbox
	for _, m := range s.mailboxes {
		if m.Identity != identity {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, storage.ErrMailboxNotFound
	}
	return cloneMailbox(latest), nil
}

// GetMailboxByAddress 按邮箱地址获取记录。
func (s *Store) GetMailboxByAddress(address string, activeOnly bool) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	m := s.mailboxes[id]
	if activeOnly && !m.IsActive() {
		return nil, storage.ErrMailboxNotFound
	}
	return cloneMailbox(m), nil
}

// TouchLastChecked 推进活跃记录的轮询水位线。
// 水位线单调不减：t 不晚于当前水位时不写入。
// 返回值表示记录是否存在且活跃。
func (s *Store) TouchLastChecked(identity string, t time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byIdentityActive[identity]
	if !ok {
		return false, nil
	}
	m := s.mailboxes[id]
	if t.After(m.LastCheckedAt) {
		m.LastCheckedAt = t
	}
	return true, nil
}

// IncrementMessageCounters 累加活跃记录的邮件计数并刷新 LastMessageAt。
// 返回值表示记录是否存在且活跃。
func (s *Store) IncrementMessageCounters(identity string, n int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byIdentityActive[identity]
	if !ok {
		return false, nil
	}
	m := s.mailboxes[id]
	m.MessageCount += n
	m.TotalMessages += n
	ts := at
	m.LastMessageAt = &ts
	return true, nil
}

// DeactivateMailbox 将活跃记录置为停用。
// 记录不存在或已停用时返回 false（幂等）。
func (s *Store) DeactivateMailbox(identity string, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateLocked(identity, reason, time.Now()), nil
}

func (s *Store) deactivateLocked(identity, reason string, now time.Time) bool {
	id, ok := s.byIdentityActive[identity]
	if !ok {
		return false
	}
	m := s.mailboxes[id]
	if !m.Deactivate(reason, now) {
		return false
	}
	delete(s.byIdentityActive, identity)
	return true
}

// HardDeleteMailbox 物理删除 identity 的全部记录。
func (s *Store) HardDeleteMailbox(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for id, m := range s.mailboxes {
		if m.Identity != identity {
			continue
		}
		found = true
		delete(s.mailboxes, id)
		s.unindexAddressLocked(m.Address, id)
	}
	delete(s.byIdentityActive, identity)

	if !found {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// SweepExpired 停用所有已过期的活跃记录，返回停用数量。
func (s *Store) SweepExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for identity, id := range s.byIdentityActive {
		if s.mailboxes[id].IsExpired(now) {
			if s.deactivateLocked(identity, domain.ReasonExpired, now) {
				count++
			}
		}
	}
	return count, nil
}

// PurgeInactiveBefore 物理删除停用时间早于 cutoff 的记录，返回删除数量。
func (s *Store) PurgeInactiveBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, m := range s.mailboxes {
		if m.IsActive() || m.DeactivatedAt == nil || !m.DeactivatedAt.Before(cutoff) {
			continue
		}
		delete(s.mailboxes, id)
		s.unindexAddressLocked(m.Address, id)
		count++
	}
	return count, nil
}

// unindexAddressLocked 移除地址索引项。
// 同一地址可能被更新的记录重新索引，只在索引仍指向被删记录时移除。
func (s *Store) unindexAddressLocked(address, id string) {
	if cur, ok := s.byAddress[address]; ok && cur == id {
		delete(s.byAddress, address)
	}
}

// ListActiveMailboxes 返回全部活跃记录，按创建时间升序。
func (s *Store) ListActiveMailboxes() ([]*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Mailbox, 0, len(s.byIdentityActive))
	for _, id := range s.byIdentityActive {
		result = append(result, cloneMailbox(s.mailboxes[id]))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListExpiringWithin 返回将在 window 内过期的活跃记录，按过期时间升序。
func (s *Store) ListExpiringWithin(window time.Duration) ([]*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deadline := time.Now().Add(window)
	var result []*domain.Mailbox
	for _, id := range s.byIdentityActive {
		m := s.mailboxes[id]
		if m.ExpiresAt.Before(deadline) {
			result = append(result, cloneMailbox(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	return result, nil
}

// Statistics 返回注册表统计快照。
func (s *Store) Statistics() (*domain.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.Statistics{
		TotalMailboxes:  len(s.mailboxes),
		ActiveMailboxes: len(s.byIdentityActive),
	}
	stats.InactiveMailboxes = stats.TotalMailboxes - stats.ActiveMailboxes
	return stats, nil
}

// Health 检查存储可用性，内存存储恒为健康。
func (s *Store) Health() error {
	return nil
}

// Close 释放存储资源。
func (s *Store) Close() error {
	return nil
}

// cloneMailbox 返回记录的浅拷贝，避免调用方持有内部指针。
func cloneMailbox(m *domain.Mailbox) *domain.Mailbox {
	clone := *m
	return &clone
}
