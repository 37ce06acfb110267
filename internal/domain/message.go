package domain

import (
	"strings"
	"time"
)

// FetchedMessage 表示一次轮询/拉取中解析出的邮件。
//
// 该结构是瞬态的：不落库，UID 仅在当前 IMAP 会话内有效，
// 「查看全文」「下载附件」等交互按 UID 重新拉取。
type FetchedMessage struct {
	UID           uint32
	Sender        string // 解码后的 From 头原文（可能带显示名）
	SenderAddress string // 从 From 头中恢复出的裸地址，恢复失败时等于 Sender
	Recipient     string
	Subject       string
	MessageID     string
	ReceivedAt    time.Time
	DateRaw       string // 原始 Date 头，用于全文展示

	BodyText string
	BodyHTML string

	Attachments []*Attachment
	Size        int

	// ParseError 标记降级记录：解析失败的邮件不会中断批次，
	// 而是以占位内容进入结果集。
	ParseError bool
}

// HasAttachments 判断邮件是否携带附件。
func (m *FetchedMessage) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// AttachmentCount 返回附件数量。
func (m *FetchedMessage) AttachmentCount() int {
	return len(m.Attachments)
}

// DegradedMessage 构造解析失败时的降级记录。
func DegradedMessage(uid uint32, recipient string) *FetchedMessage {
	return &FetchedMessage{
		UID:        uid,
		Sender:     "Unknown",
		Recipient:  recipient,
		Subject:    "Parse Error",
		ReceivedAt: time.Now().UTC(),
		ParseError: true,
	}
}

// Attachment 表示邮件附件（瞬态，仅在下载请求时物化为临时文件）。
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	Data        []byte

	IsImage    bool
	IsPDF      bool
	IsDocument bool
}

// NewAttachment 构造附件并根据 MIME 类型推导分类标记。
func NewAttachment(filename, contentType string, data []byte) *Attachment {
	ct := strings.ToLower(contentType)
	return &Attachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        len(data),
		Data:        data,
		IsImage:     strings.HasPrefix(ct, "image/"),
		IsPDF:       ct == "application/pdf",
		IsDocument: (strings.HasPrefix(ct, "application/") || strings.HasPrefix(ct, "text/")) &&
			!strings.HasPrefix(ct, "image/"),
	}
}

// PreparedFile 表示已物化到临时目录、可交付给上层的附件文件。
type PreparedFile struct {
	Path     string
	Filename string
	MimeType string
	Size     int
	IsImage  bool
}
