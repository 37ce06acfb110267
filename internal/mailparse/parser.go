package mailparse

import (
	"bytes"
	"net/mail"
	"time"

	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
)

// Parser 将 RFC822 原始字节解析为结构化邮件记录。
type Parser struct {
	log *zap.Logger
}

// NewParser 创建邮件解析器。
func NewParser(log *zap.Logger) *Parser {
	return &Parser{log: log}
}

// Parse 解析单封邮件，永不失败。
//
// 任何解析错误（包括底层库 panic）都转换为降级记录（ParseError=true），
// 一封畸形邮件绝不能中断整个轮询批次。
func (p *Parser) Parse(raw []byte, uid uint32, recipient string) (msg *domain.FetchedMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("message parsing panicked",
				zap.Uint32("uid", uid),
				zap.Any("panic", r),
			)
			msg = domain.DegradedMessage(uid, recipient)
		}
	}()

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		p.log.Warn("failed to parse message envelope",
			zap.Uint32("uid", uid),
			zap.Error(err),
		)
		return domain.DegradedMessage(uid, recipient)
	}

	sender := env.GetHeader("From")
	if sender == "" {
		sender = "Unknown"
	}

	msg = &domain.FetchedMessage{
		UID:           uid,
		Sender:        sender,
		SenderAddress: domain.ExtractAddress(sender),
		Recipient:     recipient,
		Subject:       env.GetHeader("Subject"),
		MessageID:     env.GetHeader("Message-ID"),
		ReceivedAt:    parseDate(env.GetHeader("Date")),
		DateRaw:       env.GetHeader("Date"),
		BodyText:      env.Text,
		BodyHTML:      env.HTML,
		Size:          len(raw),
	}
	if msg.Subject == "" {
		msg.Subject = "(No Subject)"
	}

	for _, part := range env.Attachments {
		if part.FileName == "" {
			continue
		}
		msg.Attachments = append(msg.Attachments,
			domain.NewAttachment(part.FileName, part.ContentType, part.Content))
	}

	return msg
}

// parseDate 解析 Date 头，失败时用当前时间兜底（有损但不报错）。
func parseDate(header string) time.Time {
	if header == "" {
		return time.Now().UTC()
	}
	t, err := mail.ParseDate(header)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
