package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/storage"
)

const mailboxColumns = `id, identity, address, prefix, created_at, expires_at, state,
	       last_checked_at, message_count, total_messages, last_message_at,
	       deactivated_at, deactivation_reason`

// CreateMailbox 在单个事务内完成一人一箱检查与插入。
//
// 预检查负责给出带现有地址的友好错误；identity 无活跃行时
// FOR UPDATE 锁不住任何东西，并发窗口由 uniq_mailboxes_active_identity
// 唯一索引兜底，插入冲突映射回 ErrIdentityActive。
func (s *Store) CreateMailbox(mailbox *domain.Mailbox) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	query := s.rebind(`SELECT id FROM mailboxes WHERE identity = ? AND state = ? FOR UPDATE`)
	err = tx.QueryRow(query, mailbox.Identity, domain.StateActive).Scan(&existing)
	if err == nil {
		return storage.ErrIdentityActive
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	query = s.rebind(`SELECT id FROM mailboxes WHERE address = ? AND state = ?`)
	err = tx.QueryRow(query, mailbox.Address, domain.StateActive).Scan(&existing)
	if err == nil {
		return storage.ErrDuplicateAddress
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	query = s.rebind(`
		INSERT INTO mailboxes (id, identity, address, prefix, created_at, expires_at, state,
		                       last_checked_at, message_count, total_messages, last_message_at,
		                       deactivated_at, deactivation_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = tx.Exec(query,
		mailbox.ID,
		mailbox.Identity,
		mailbox.Address,
		mailbox.Prefix,
		mailbox.CreatedAt,
		mailbox.ExpiresAt,
		mailbox.State,
		mailbox.LastCheckedAt,
		mailbox.MessageCount,
		mailbox.TotalMessages,
		mailbox.LastMessageAt,
		mailbox.DeactivatedAt,
		mailbox.DeactivationReason,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}

	if err := tx.Commit(); err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

// mapUniqueViolation 将插入时的唯一约束冲突翻译成存储层错误：
// 一人一箱索引冲突是 ErrIdentityActive，地址唯一索引冲突是
// ErrDuplicateAddress。其它错误原样返回。
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if pqErr.Constraint == activeIdentityIndex {
			return storage.ErrIdentityActive
		}
		return storage.ErrDuplicateAddress
	}

	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		if strings.Contains(myErr.Message, activeIdentityIndex) {
			return storage.ErrIdentityActive
		}
		return storage.ErrDuplicateAddress
	}

	return err
}

// GetMailbox 按 identity 获取邮箱记录。
// activeOnly 为 false 时返回该 identity 最近创建的一条记录。
func (s *Store) GetMailbox(identity string, activeOnly bool) (*domain.Mailbox, error) {
	var query string
	if activeOnly {
		query = s.rebind(`SELECT ` + mailboxColumns + `
			FROM mailboxes WHERE identity = ? AND state = 'active'
			ORDER BY created_at DESC LIMIT 1`)
	} else {
		query = s.rebind(`SELECT ` + mailboxColumns + `
			FROM mailboxes WHERE identity = ?
			ORDER BY created_at DESC LIMIT 1`)
	}
	return s.scanMailbox(s.db.QueryRow(query, identity))
}

// GetMailboxByAddress 按邮箱地址获取记录。
func (s *Store) GetMailboxByAddress(address string, activeOnly bool) (*domain.Mailbox, error) {
	var query string
	if activeOnly {
		query = s.rebind(`SELECT ` + mailboxColumns + `
			FROM mailboxes WHERE address = ? AND state = 'active' LIMIT 1`)
	} else {
		query = s.rebind(`SELECT ` + mailboxColumns + `
			FROM mailboxes WHERE address = ?
			ORDER BY created_at DESC LIMIT 1`)
	}
	return s.scanMailbox(s.db.QueryRow(query, address))
}

// TouchLastChecked 推进活跃记录的轮询水位线（单调不减）。
func (s *Store) TouchLastChecked(identity string, t time.Time) (bool, error) {
	query := s.rebind(`
		UPDATE mailboxes SET last_checked_at = ?
		WHERE identity = ? AND state = 'active' AND last_checked_at < ?
	`)
	result, err := s.db.Exec(query, t, identity, t)
	if err != nil {
		return false, err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return true, nil
	}

	// 水位线未推进也要区分记录是否存在
	var id string
	check := s.rebind(`SELECT id FROM mailboxes WHERE identity = ? AND state = 'active'`)
	err = s.db.QueryRow(check, identity).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// IncrementMessageCounters 累加活跃记录的邮件计数并刷新 last_message_at。
func (s *Store) IncrementMessageCounters(identity string, n int, at time.Time) (bool, error) {
	query := s.rebind(`
		UPDATE mailboxes
		SET message_count = message_count + ?, total_messages = total_messages + ?, last_message_at = ?
		WHERE identity = ? AND state = 'active'
	`)
	result, err := s.db.Exec(query, n, n, at, identity)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// DeactivateMailbox 将活跃记录置为停用，幂等。
func (s *Store) DeactivateMailbox(identity string, reason string) (bool, error) {
	query := s.rebind(`
		UPDATE mailboxes SET state = 'inactive', deactivated_at = ?, deactivation_reason = ?
		WHERE identity = ? AND state = 'active'
	`)
	result, err := s.db.Exec(query, time.Now().UTC(), reason, identity)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// HardDeleteMailbox 物理删除 identity 的全部记录。
func (s *Store) HardDeleteMailbox(identity string) error {
	query := s.rebind(`DELETE FROM mailboxes WHERE identity = ?`)
	result, err := s.db.Exec(query, identity)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// SweepExpired 停用所有已过期的活跃记录，返回停用数量。
func (s *Store) SweepExpired(now time.Time) (int, error) {
	query := s.rebind(`
		UPDATE mailboxes SET state = 'inactive', deactivated_at = ?, deactivation_reason = ?
		WHERE state = 'active' AND expires_at < ?
	`)
	result, err := s.db.Exec(query, now.UTC(), domain.ReasonExpired, now)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// PurgeInactiveBefore 物理删除停用时间早于 cutoff 的记录，返回删除数量。
func (s *Store) PurgeInactiveBefore(cutoff time.Time) (int, error) {
	query := s.rebind(`
		DELETE FROM mailboxes WHERE state = 'inactive' AND deactivated_at < ?
	`)
	result, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// ListActiveMailboxes 返回全部活跃记录，按创建时间升序。
func (s *Store) ListActiveMailboxes() ([]*domain.Mailbox, error) {
	query := s.rebind(`SELECT ` + mailboxColumns + `
		FROM mailboxes WHERE state = 'active' ORDER BY created_at ASC`)
	return s.queryMailboxes(query)
}

// ListExpiringWithin 返回将在 window 内过期的活跃记录，按过期时间升序。
func (s *Store) ListExpiringWithin(window time.Duration) ([]*domain.Mailbox, error) {
	query := s.rebind(`SELECT ` + mailboxColumns + `
		FROM mailboxes WHERE state = 'active' AND expires_at < ? ORDER BY expires_at ASC`)
	return s.queryMailboxes(query, time.Now().Add(window))
}

// Statistics 返回注册表统计快照。
func (s *Store) Statistics() (*domain.Statistics, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN state = 'active' THEN 1 END),
			COUNT(CASE WHEN state = 'inactive' THEN 1 END)
		FROM mailboxes
	`
	var stats domain.Statistics
	err := s.db.QueryRow(query).Scan(
		&stats.TotalMailboxes,
		&stats.ActiveMailboxes,
		&stats.InactiveMailboxes,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *Store) queryMailboxes(query string, args ...interface{}) ([]*domain.Mailbox, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.Mailbox
	for rows.Next() {
		m, err := s.scanMailbox(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// rowScanner 同时覆盖 *sql.Row 与 *sql.Rows。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanMailbox(row rowScanner) (*domain.Mailbox, error) {
	var m domain.Mailbox
	var lastMessageAt, deactivatedAt sql.NullTime
	var reason sql.NullString

	err := row.Scan(
		&m.ID,
		&m.Identity,
		&m.Address,
		&m.Prefix,
		&m.CreatedAt,
		&m.ExpiresAt,
		&m.State,
		&m.LastCheckedAt,
		&m.MessageCount,
		&m.TotalMessages,
		&lastMessageAt,
		&deactivatedAt,
		&reason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrMailboxNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastMessageAt.Valid {
		m.LastMessageAt = &lastMessageAt.Time
	}
	if deactivatedAt.Valid {
		m.DeactivatedAt = &deactivatedAt.Time
	}
	m.DeactivationReason = reason.String

	return &m, nil
}
