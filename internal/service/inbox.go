package service

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/mailparse"
)

var (
	// ErrMessageNotFound 邮件未找到错误（会话内 UID 失效或邮件已删除）
	ErrMessageNotFound = errors.New("message not found")
	// ErrAttachmentNotFound 附件索引越界错误
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrAttachmentUnavailable 附件物化失败错误（超限或写入失败）
	ErrAttachmentUnavailable = errors.New("attachment unavailable")
)

// MailSource 抽象收件箱读取所需的邮件会话能力。
type MailSource interface {
	EnsureConnection() error
	FetchList(recipient string, limit int, since time.Time) ([]*domain.FetchedMessage, error)
	Fetch(uid uint32, recipient string) (*domain.FetchedMessage, error)
	MarkRead(uid uint32) error
	Delete(uid uint32) error
}

// MessagePreview 是收件箱列表中的单条渲染结果。
type MessagePreview struct {
	UID     uint32 `json:"uid"`
	Text    string `json:"text"`
	Subject string `json:"subject"`
}

// InboxService 处理请求驱动的收件箱操作：列表、查看全文与附件下载。
type InboxService struct {
	registry *RegistryService
	mail     MailSource
	files    *mailparse.FileStore
	maxInbox int
	log      *zap.Logger
}

// NewInboxService 创建收件箱业务服务。
func NewInboxService(registry *RegistryService, mail MailSource, files *mailparse.FileStore, maxInbox int, log *zap.Logger) *InboxService {
	return &InboxService{
		registry: registry,
		mail:     mail,
		files:    files,
		maxInbox: maxInbox,
		log:      log,
	}
}

// ListInbox 返回 identity 活跃邮箱的最近邮件预览，新邮件在前。
func (s *InboxService) ListInbox(identity string) ([]MessagePreview, error) {
	mailbox, err := s.registry.Get(identity)
	if err != nil {
		return nil, err
	}

	if err := s.mail.EnsureConnection(); err != nil {
		return nil, err
	}

	messages, err := s.mail.FetchList(mailbox.Address, s.maxInbox, mailbox.CreatedAt)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	previews := make([]MessagePreview, 0, len(messages))
	for _, msg := range messages {
		previews = append(previews, MessagePreview{
			UID:     msg.UID,
			Text:    mailparse.FormatPreview(msg, now),
			Subject: msg.Subject,
		})
	}
	return previews, nil
}

// ViewMessage 按 UID 重新拉取邮件并渲染全文，随后尽力而为地打已读标记。
func (s *InboxService) ViewMessage(identity string, uid uint32) (string, error) {
	mailbox, err := s.registry.Get(identity)
	if err != nil {
		return "", err
	}

	if err := s.mail.EnsureConnection(); err != nil {
		return "", err
	}

	msg, err := s.mail.Fetch(uid, mailbox.Address)
	if err != nil {
		return "", ErrMessageNotFound
	}

	// 已读标记失败不影响查看
	if err := s.mail.MarkRead(uid); err != nil {
		s.log.Debug("failed to mark message read",
			zap.Uint32("uid", uid),
			zap.Error(err),
		)
	}

	return mailparse.FormatFullView(msg), nil
}

// DeleteMessage 从上游服务器删除指定 UID 的邮件。
// 删除是不可逆的，先确认 UID 在当前会话内有效再执行。
func (s *InboxService) DeleteMessage(identity string, uid uint32) error {
	mailbox, err := s.registry.Get(identity)
	if err != nil {
		return err
	}

	if err := s.mail.EnsureConnection(); err != nil {
		return err
	}

	if _, err := s.mail.Fetch(uid, mailbox.Address); err != nil {
		return ErrMessageNotFound
	}

	if err := s.mail.Delete(uid); err != nil {
		return err
	}

	s.log.Info("message deleted",
		zap.String("identity", identity),
		zap.Uint32("uid", uid),
	)
	return nil
}

// DownloadAttachment 按 UID 与索引物化附件为临时文件。
func (s *InboxService) DownloadAttachment(identity string, uid uint32, index int) (*domain.PreparedFile, error) {
	mailbox, err := s.registry.Get(identity)
	if err != nil {
		return nil, err
	}

	if err := s.mail.EnsureConnection(); err != nil {
		return nil, err
	}

	msg, err := s.mail.Fetch(uid, mailbox.Address)
	if err != nil {
		return nil, ErrMessageNotFound
	}
	if index < 0 || index >= len(msg.Attachments) {
		return nil, ErrAttachmentNotFound
	}

	prepared := s.files.PrepareForDelivery(msg.Attachments[index])
	if prepared == nil {
		return nil, ErrAttachmentUnavailable
	}
	return prepared, nil
}
