package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmailbot/backend/internal/monitoring"
	"tempmailbot/backend/internal/storage"
)

// FileReclaimer 回收超龄的临时附件文件。
type FileReclaimer interface {
	ReclaimOld() int
}

// ExpiryNotifier 向在线订阅者推送邮箱即将过期的提醒。
type ExpiryNotifier interface {
	NotifyExpiring(identity, address string, expiresAt time.Time)
}

// expiryWarnWindow 过期提醒的提前量。
const expiryWarnWindow = 10 * time.Minute

// SweepStats 是清理任务的运行统计快照。
type SweepStats struct {
	Runs           uint64     `json:"runs"`
	Deactivated    uint64     `json:"deactivated"`
	Purged         uint64     `json:"purged"`
	FilesReclaimed uint64     `json:"filesReclaimed"`
	Warned         uint64     `json:"warned"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}

// Sweeper 按固定间隔执行过期清理：停用过期邮箱、回收临时文件、
// 物理删除保留期外的停用记录，并对即将过期的邮箱发出提醒。
type Sweeper struct {
	repo      storage.Store
	files     FileReclaimer
	notifier  ExpiryNotifier
	metrics   *monitoring.Metrics
	interval  time.Duration
	retention time.Duration
	log       *zap.Logger

	mu     sync.Mutex
	stats  SweepStats
	warned map[string]time.Time // mailbox ID -> 提醒时间，防止重复提醒
}

// NewSweeper 创建清理任务。files、notifier 与 metrics 可以为 nil。
func NewSweeper(repo storage.Store, files FileReclaimer, notifier ExpiryNotifier, metrics *monitoring.Metrics, interval, retention time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		repo:      repo,
		files:     files,
		notifier:  notifier,
		metrics:   metrics,
		interval:  interval,
		retention: retention,
		log:       log,
		warned:    make(map[string]time.Time),
	}
}

// Run 启动清理循环，阻塞直到 ctx 取消。
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("expiry sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce 执行一轮清理。各步骤独立失败，互不影响。
func (s *Sweeper) SweepOnce() {
	now := time.Now()

	deactivated, err := s.repo.SweepExpired(now)
	if err != nil {
		s.recordError(err)
		s.log.Error("expiry sweep failed", zap.Error(err))
	} else if deactivated > 0 {
		s.log.Info("deactivated expired mailboxes", zap.Int("count", deactivated))
	}

	reclaimed := 0
	if s.files != nil {
		reclaimed = s.files.ReclaimOld()
		if reclaimed > 0 {
			s.log.Info("reclaimed transient attachment files", zap.Int("count", reclaimed))
		}
	}

	purged, err := s.repo.PurgeInactiveBefore(now.Add(-s.retention))
	if err != nil {
		s.recordError(err)
		s.log.Error("retention purge failed", zap.Error(err))
	} else if purged > 0 {
		s.log.Info("purged long-inactive mailboxes", zap.Int("count", purged))
	}

	warned := s.warnExpiring(now)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.Deactivated += uint64(deactivated)
	s.stats.Purged += uint64(purged)
	s.stats.FilesReclaimed += uint64(reclaimed)
	s.stats.Warned += uint64(warned)
	s.stats.LastRunAt = &now
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
		s.metrics.MailboxesExpired.Add(float64(deactivated))
		s.metrics.MailboxesPurged.Add(float64(purged))
		s.metrics.FilesReclaimed.Add(float64(reclaimed))
	}
}

// warnExpiring 对将在提醒窗口内过期的活跃邮箱各发一次提醒。
func (s *Sweeper) warnExpiring(now time.Time) int {
	if s.notifier == nil {
		return 0
	}

	expiring, err := s.repo.ListExpiringWithin(expiryWarnWindow)
	if err != nil {
		s.recordError(err)
		s.log.Error("failed to list expiring mailboxes", zap.Error(err))
		return 0
	}

	warned := 0
	for _, mb := range expiring {
		if _, done := s.warned[mb.ID]; done {
			continue
		}
		s.notifier.NotifyExpiring(mb.Identity, mb.Address, mb.ExpiresAt)
		s.warned[mb.ID] = now
		warned++
		s.log.Debug("expiry warning sent",
			zap.String("identity", mb.Identity),
			zap.String("address", mb.Address),
			zap.Time("expires_at", mb.ExpiresAt),
		)
	}

	// 提醒过的邮箱最迟在窗口结束时过期，之后即可遗忘
	for id, at := range s.warned {
		if now.Sub(at) > 2*expiryWarnWindow {
			delete(s.warned, id)
		}
	}

	return warned
}

func (s *Sweeper) recordError(err error) {
	s.mu.Lock()
	s.stats.LastError = err.Error()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ErrorsTotal.WithLabelValues("sweeper").Inc()
	}
}

// Snapshot 返回运行统计的只读快照。
func (s *Sweeper) Snapshot() SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
