package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tempmailbot/backend/internal/config"
	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/storage"
)

var (
	// ErrNoActiveMailbox identity 当前没有活跃邮箱错误
	ErrNoActiveMailbox = errors.New("no active mailbox for identity")
	// ErrRateLimited 创建频率超出限制错误
	ErrRateLimited = errors.New("mailbox creation rate limit exceeded")
)

// RegistryService 封装邮箱注册表的业务操作：创建、删除与统计。
type RegistryService struct {
	repo      storage.Store
	generator *Generator
	cfg       config.MailboxConfig
	log       *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRegistryService 创建注册表业务服务。
// emailsPerHour 限制单个 identity 每小时可创建的邮箱数。
func NewRegistryService(repo storage.Store, generator *Generator, cfg config.MailboxConfig, emailsPerHour int, log *zap.Logger) *RegistryService {
	return &RegistryService{
		repo:      repo,
		generator: generator,
		cfg:       cfg,
		log:       log,
		limiters:  make(map[string]*rate.Limiter),
		limit:     rate.Every(time.Hour / time.Duration(emailsPerHour)),
		burst:     emailsPerHour,
	}
}

// Provision 为 identity 创建新的临时邮箱。
//
// 创建路径上的一人一箱约束由存储层原子保证：并发请求穿过生成器
// 预检查后，落败方在 CreateMailbox 收到 ErrIdentityActive，
// 这里把它翻译回 AlreadyActiveError。
func (s *RegistryService) Provision(identity, customPrefix string) (*domain.Mailbox, error) {
	if !s.limiter(identity).Allow() {
		return nil, ErrRateLimited
	}

	address, prefix, err := s.generator.Generate(identity, customPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	mailbox := &domain.Mailbox{
		ID:            uuid.New().String(),
		Identity:      identity,
		Address:       address,
		Prefix:        prefix,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.TTL),
		State:         domain.StateActive,
		LastCheckedAt: now,
	}

	if err := s.repo.CreateMailbox(mailbox); err != nil {
		if errors.Is(err, storage.ErrIdentityActive) {
			if existing, lookupErr := s.repo.GetMailbox(identity, true); lookupErr == nil {
				return nil, &AlreadyActiveError{Address: existing.Address}
			}
			return nil, &AlreadyActiveError{}
		}
		return nil, err
	}

	s.log.Info("mailbox provisioned",
		zap.String("identity", identity),
		zap.String("address", address),
		zap.Time("expiresAt", mailbox.ExpiresAt),
	)
	return mailbox, nil
}

// Delete 删除 identity 的活跃邮箱（软停用）。
func (s *RegistryService) Delete(identity string) error {
	ok, err := s.repo.DeactivateMailbox(identity, domain.ReasonDeleted)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoActiveMailbox
	}
	s.log.Info("mailbox deleted", zap.String("identity", identity))
	return nil
}

// Get 返回 identity 的活跃邮箱。
func (s *RegistryService) Get(identity string) (*domain.Mailbox, error) {
	mailbox, err := s.repo.GetMailbox(identity, true)
	if errors.Is(err, storage.ErrMailboxNotFound) {
		return nil, ErrNoActiveMailbox
	}
	return mailbox, err
}

// MailboxStats 返回 identity 活跃邮箱的统计视图。
func (s *RegistryService) MailboxStats(identity string) (*domain.MailboxStatistics, error) {
	mailbox, err := s.Get(identity)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &domain.MailboxStatistics{
		Address:       mailbox.Address,
		CreatedAt:     mailbox.CreatedAt,
		ExpiresAt:     mailbox.ExpiresAt,
		TimeRemaining: mailbox.TimeRemaining(now),
		IsActive:      mailbox.IsActive() && !mailbox.IsExpired(now),
		MessageCount:  mailbox.MessageCount,
		TotalMessages: mailbox.TotalMessages,
		LastCheckedAt: mailbox.LastCheckedAt,
		LastMessageAt: mailbox.LastMessageAt,
	}, nil
}

// Statistics 返回注册表的全局统计。
func (s *RegistryService) Statistics() (*domain.Statistics, error) {
	return s.repo.Statistics()
}

// limiter 返回 identity 对应的限流器，首次访问时创建。
func (s *RegistryService) limiter(identity string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[identity]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[identity] = l
	}
	return l
}
