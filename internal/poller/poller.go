package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/mailparse"
	"tempmailbot/backend/internal/monitoring"
	"tempmailbot/backend/internal/storage"
)

// MailSource 抽象轮询所需的邮件会话能力。
type MailSource interface {
	EnsureConnection() error
	FetchList(recipient string, limit int, since time.Time) ([]*domain.FetchedMessage, error)
}

// Notifier 向在线订阅者推送新邮件预览，实现可以为空（不推送）。
type Notifier interface {
	NotifyNewMail(identity string, previews []string)
}

// Stats 是轮询器的运行统计快照。
type Stats struct {
	Cycles         uint64     `json:"cycles"`
	CycleErrors    uint64     `json:"cycleErrors"`
	EntriesChecked uint64     `json:"entriesChecked"`
	EntryErrors    uint64     `json:"entryErrors"`
	MessagesSeen   uint64     `json:"messagesSeen"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}

// Poller 按固定间隔轮询所有活跃邮箱的新邮件。
//
// 循环是单飞行的：一个周期跑完才开始下一个，慢周期只会推迟
// 而不会与后继周期并发。周期级失败记录后等下一个 tick，
// 间隔本身就是退避下界。
type Poller struct {
	repo     storage.Store
	mail     MailSource
	notifier Notifier
	metrics  *monitoring.Metrics
	interval time.Duration
	maxInbox int
	log      *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New 创建轮询器。notifier 与 metrics 可以为 nil。
func New(repo storage.Store, mail MailSource, notifier Notifier, metrics *monitoring.Metrics, interval time.Duration, maxInbox int, log *zap.Logger) *Poller {
	return &Poller{
		repo:     repo,
		mail:     mail,
		notifier: notifier,
		metrics:  metrics,
		interval: interval,
		maxInbox: maxInbox,
		log:      log,
	}
}

// Run 启动轮询循环，阻塞直到 ctx 取消。
// 取消检查只发生在周期边界，进行中的条目处理不可抢占。
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("mail poller started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("mail poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce 执行一个轮询周期。
func (p *Poller) PollOnce(ctx context.Context) {
	cycleStart := time.Now()

	// 每周期探活一次，失活会话在这里统一重建
	if err := p.mail.EnsureConnection(); err != nil {
		p.recordCycleError(err)
		p.log.Error("poll cycle aborted, mail session unavailable", zap.Error(err))
		return
	}

	entries, err := p.repo.ListActiveMailboxes()
	if err != nil {
		p.recordCycleError(err)
		p.log.Error("poll cycle aborted, failed to list active mailboxes", zap.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.MailboxesActive.Set(float64(len(entries)))
	}

	checked, seen := 0, 0
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := p.pollEntry(entry, cycleStart)
		checked++
		if err != nil {
			// 条目级失败隔离：记日志，继续下一个条目
			p.mu.Lock()
			p.stats.EntryErrors++
			p.mu.Unlock()
			p.log.Warn("failed to poll mailbox",
				zap.String("identity", entry.Identity),
				zap.String("address", entry.Address),
				zap.Error(err),
			)
			continue
		}
		seen += n
	}

	p.mu.Lock()
	p.stats.Cycles++
	p.stats.EntriesChecked += uint64(checked)
	p.stats.MessagesSeen += uint64(seen)
	now := time.Now()
	p.stats.LastCycleAt = &now
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.PollCycles.Inc()
		p.metrics.MessagesObserved.Add(float64(seen))
	}

	if seen > 0 {
		p.log.Info("poll cycle completed",
			zap.Int("entries", checked),
			zap.Int("newMessages", seen),
			zap.Duration("took", time.Since(cycleStart)),
		)
	}
}

// pollEntry 轮询单个活跃邮箱，返回新邮件数量。
func (p *Poller) pollEntry(entry *domain.Mailbox, cycleStart time.Time) (int, error) {
	messages, err := p.mail.FetchList(entry.Address, p.maxInbox, entry.LastCheckedAt)
	if err != nil {
		return 0, err
	}

	// SINCE 只有日期粒度，按精确水位线二次过滤
	var fresh []*domain.FetchedMessage
	for _, msg := range messages {
		if msg.ReceivedAt.After(entry.LastCheckedAt) {
			fresh = append(fresh, msg)
		}
	}

	if len(fresh) > 0 {
		if _, err := p.repo.IncrementMessageCounters(entry.Identity, len(fresh), cycleStart); err != nil {
			return 0, err
		}
		if p.notifier != nil {
			now := time.Now()
			previews := make([]string, 0, len(fresh))
			for _, msg := range fresh {
				previews = append(previews, mailparse.FormatPreview(msg, now))
			}
			p.notifier.NotifyNewMail(entry.Identity, previews)
		}
	}

	// 条目处理成功后才推进水位线，失败的条目下周期重试同一窗口
	if _, err := p.repo.TouchLastChecked(entry.Identity, cycleStart); err != nil {
		return len(fresh), err
	}
	return len(fresh), nil
}

func (p *Poller) recordCycleError(err error) {
	p.mu.Lock()
	p.stats.CycleErrors++
	p.stats.LastError = err.Error()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.PollErrors.Inc()
	}
}

// Snapshot 返回运行统计的只读快照。
func (p *Poller) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
