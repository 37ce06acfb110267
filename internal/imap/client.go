package imap

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/config"
	"tempmailbot/backend/internal/domain"
)

// MessageParser 将 RFC822 原始字节解析为邮件记录。
// 实现必须是永不失败的：解析出错时返回降级记录而不是 error。
type MessageParser interface {
	Parse(raw []byte, uid uint32, recipient string) *domain.FetchedMessage
}

// Client 封装单条 IMAP 连接。
//
// go-imap 的连接不支持并发命令，所有对外方法经互斥锁串行化；
// 需要并行的调用方（轮询与收件箱查询）各持有独立的 Client。
type Client struct {
	cfg    config.IMAPConfig
	parser MessageParser
	log    *zap.Logger

	mu        sync.Mutex
	cl        *client.Client
	connected bool
	folder    string
}

// NewClient 创建 IMAP 客户端（不立即建连）。
func NewClient(cfg config.IMAPConfig, parser MessageParser, log *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		parser: parser,
		log:    log,
	}
}

// Connect 建立连接并登录，已连接时直接返回。
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.connected && c.cl != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}
	var cl *client.Client
	var err error
	if c.cfg.UseTLS {
		cl, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{
			ServerName: c.cfg.Host,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		// 明文连接只用于本地调试环境
		cl, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := cl.Login(c.cfg.Username, c.cfg.Password); err != nil {
		cl.Logout() //nolint:errcheck
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	c.cl = cl
	c.connected = true
	c.folder = ""
	c.log.Info("connected to IMAP server", zap.String("host", c.cfg.Host))
	return nil
}

// Close 登出并关闭连接。
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cl == nil {
		return nil
	}
	err := c.cl.Logout()
	c.cl = nil
	c.connected = false
	c.folder = ""
	return err
}

// EnsureConnection 确保连接可用。
//
// 先用 NOOP 探活，失活后按固定间隔重连（不做指数退避，轮询周期
// 本身就是节流）。重试 MaxRetries 次后放弃，由调用方决定下一周期再试。
func (c *Client) EnsureConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.cl != nil {
		if err := c.cl.Noop(); err == nil {
			return nil
		}
		c.log.Warn("IMAP liveness probe failed, reconnecting")
		c.dropLocked()
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if lastErr = c.connectLocked(); lastErr == nil {
			return nil
		}
		c.log.Warn("IMAP reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("maxRetries", c.cfg.MaxRetries),
			zap.Error(lastErr),
		)
		if attempt < c.cfg.MaxRetries {
			time.Sleep(c.cfg.RetryDelay)
		}
	}
	return fmt.Errorf("IMAP connection failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

// dropLocked 丢弃失活连接，不等待服务器响应。
func (c *Client) dropLocked() {
	if c.cl != nil {
		_ = c.cl.Terminate()
	}
	c.cl = nil
	c.connected = false
	c.folder = ""
}

// selectLocked 选择邮箱文件夹，已选中时跳过。
func (c *Client) selectLocked(folder string) error {
	if c.folder == folder {
		return nil
	}
	if _, err := c.cl.Select(folder, false); err != nil {
		return fmt.Errorf("failed to select folder %s: %w", folder, err)
	}
	c.folder = folder
	return nil
}

// Search 返回投递给 recipient 且晚于 since 的邮件 UID 列表（升序）。
//
// IMAP 的 SINCE 只有日期粒度，调用方仍需按精确时间过滤；
// 这里只负责把候选集缩小到一天以内。
func (c *Client) Search(recipient string, since time.Time) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	if err := c.selectLocked("INBOX"); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Set("To", recipient)
	if !since.IsZero() {
		criteria.Since = since
	}

	uids, err := c.cl.UidSearch(criteria)
	if err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// Fetch 拉取单封邮件的完整内容并解析。
// 传输层错误返回 error；邮件内容解析错误不上抛，由解析器产出降级记录。
func (c *Client) Fetch(uid uint32, recipient string) (*domain.FetchedMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchLocked(uid, recipient)
}

func (c *Client) fetchLocked(uid uint32, recipient string) (*domain.FetchedMessage, error) {
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	if err := c.selectLocked("INBOX"); err != nil {
		return nil, err
	}

	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.cl.UidFetch(seq, items, ch)
	}()

	var msg *imap.Message
	for m := range ch {
		msg = m
	}
	if err := <-done; err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message %d not found", uid)
	}

	raw := readSection(msg, section)
	if len(raw) == 0 {
		c.log.Warn("fetched message has empty body", zap.Uint32("uid", uid))
		return domain.DegradedMessage(uid, recipient), nil
	}

	return c.parser.Parse(raw, uid, recipient), nil
}

// FetchList 拉取投递给 recipient 的最近邮件，按 UID 降序（新邮件在前），
// 最多 limit 封。单封邮件的拉取失败只记日志并跳过，不影响其余邮件。
func (c *Client) FetchList(recipient string, limit int, since time.Time) ([]*domain.FetchedMessage, error) {
	uids, err := c.Search(recipient, since)
	if err != nil {
		return nil, err
	}
	uids = lastN(uids, limit)

	c.mu.Lock()
	defer c.mu.Unlock()

	messages := make([]*domain.FetchedMessage, 0, len(uids))
	for i := len(uids) - 1; i >= 0; i-- {
		msg, err := c.fetchLocked(uids[i], recipient)
		if err != nil {
			c.log.Warn("skipping message after fetch failure",
				zap.Uint32("uid", uids[i]),
				zap.Error(err),
			)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// MarkRead 给邮件打上已读标记。
func (c *Client) MarkRead(uid uint32) error {
	return c.store(uid, imap.SeenFlag, false)
}

// Delete 打删除标记并立即 EXPUNGE。
func (c *Client) Delete(uid uint32) error {
	return c.store(uid, imap.DeletedFlag, true)
}

func (c *Client) store(uid uint32, flag string, expunge bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return err
	}
	if err := c.selectLocked("INBOX"); err != nil {
		return err
	}

	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.cl.UidStore(seq, item, []interface{}{flag}, nil); err != nil {
		c.dropLocked()
		return fmt.Errorf("failed to store flags on message %d: %w", uid, err)
	}
	if expunge {
		return c.cl.Expunge(nil)
	}
	return nil
}

// lastN 返回升序切片的最后 n 个元素。
func lastN(uids []uint32, n int) []uint32 {
	if n <= 0 || len(uids) <= n {
		return uids
	}
	return uids[len(uids)-n:]
}

// readSection 从 fetch 结果中读出指定 section 的完整字节。
// 服务器返回的 section key 不保证与请求指针相同，按值匹配兜底。
func readSection(msg *imap.Message, section *imap.BodySectionName) []byte {
	literal := msg.GetBody(section)
	if literal == nil {
		for _, l := range msg.Body {
			literal = l
			break
		}
	}
	if literal == nil {
		return nil
	}

	data, err := io.ReadAll(literal)
	if err != nil {
		return nil
	}
	return data
}
