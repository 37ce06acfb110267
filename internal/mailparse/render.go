package mailparse

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"tempmailbot/backend/internal/domain"
)

// 渲染预算（按字符计数，不是字节）
const (
	PreviewLength  = 200  // 预览正文上限（不含省略号）
	SubjectCutoff  = 50   // 预览主题上限
	FullViewBudget = 3500 // 全文展示上限
)

var (
	// 整块剔除的危险元素
	dangerousBlockRegex = regexp.MustCompile(`(?is)<(script|style|iframe|object|embed|form|input)\b[^>]*>.*?</\s*(script|style|iframe|object|embed|form|input)\s*>`)
	selfClosingRegex    = regexp.MustCompile(`(?is)<(script|style|iframe|object|embed|form|input)\b[^>]*/?>`)

	// 事件处理器与内联样式属性
	eventAttrRegex = regexp.MustCompile(`(?i)\s+on\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	styleAttrRegex = regexp.MustCompile(`(?i)\s+style\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)

	tagRegex        = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
	blankLinesRegex = regexp.MustCompile(`\n{3,}`)

	// "On ... wrote:" 引用引导行
	quoteIntroRegex = regexp.MustCompile(`(?i)^On .* wrote:`)

	displayNameRegex = regexp.MustCompile(`^\s*"([^"]+)"`)
)

// 允许保留的标签（开闭形式都保留）
var allowedTags = map[string]bool{
	"b": true, "i": true, "u": true,
	"strong": true, "em": true,
	"a": true, "br": true, "p": true,
}

// FormatPreview 渲染邮件列表项：发件人、截断主题、净化预览和相对时间。
func FormatPreview(msg *domain.FetchedMessage, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "📧 %s\n", SenderDisplayName(msg.Sender))
	fmt.Fprintf(&b, "📋 %s\n", truncateSubject(msg.Subject))

	if preview := PreviewText(msg.BodyText); preview != "" {
		fmt.Fprintf(&b, "%s\n", preview)
	}
	if msg.HasAttachments() {
		fmt.Fprintf(&b, "📎 %d attachment(s)\n", msg.AttachmentCount())
	}
	fmt.Fprintf(&b, "🕐 %s", RelativeTime(msg.ReceivedAt, now))

	return b.String()
}

// FormatFullView 渲染邮件全文：头部块 + 净化正文 + 附件清单。
// 输出硬截断到 FullViewBudget。
func FormatFullView(msg *domain.FetchedMessage) string {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\n", msg.Sender)
	fmt.Fprintf(&b, "To: %s\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if msg.DateRaw != "" {
		fmt.Fprintf(&b, "Date: %s\n", msg.DateRaw)
	}
	if msg.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", msg.MessageID)
	}
	b.WriteString("\n")

	// HTML 正文优先，经允许列表净化；纯文本走 HTML 转义
	switch {
	case msg.BodyHTML != "":
		b.WriteString(SanitizeHTML(msg.BodyHTML))
	case msg.BodyText != "":
		b.WriteString(html.EscapeString(msg.BodyText))
	default:
		b.WriteString("(empty message)")
	}

	body := b.String()
	if truncated, ok := truncateRunes(body, FullViewBudget); ok {
		body = truncated + "\n... Message truncated"
	}

	if msg.HasAttachments() {
		body += "\n\n" + AttachmentSummary(msg.Attachments)
	}
	return body
}

// SenderDisplayName 从 From 头提取显示名，优先引号包裹的显示名。
func SenderDisplayName(sender string) string {
	if m := displayNameRegex.FindStringSubmatch(sender); m != nil {
		return m[1]
	}
	if idx := strings.Index(sender, "<"); idx > 0 {
		if name := strings.TrimSpace(sender[:idx]); name != "" {
			return name
		}
	}
	return domain.ExtractAddress(sender)
}

// truncateSubject 硬截断主题并追加省略号。
func truncateSubject(subject string) string {
	if utf8.RuneCountInString(subject) <= SubjectCutoff {
		return subject
	}
	truncated, _ := truncateRunes(subject, SubjectCutoff-3)
	return truncated + "..."
}

// PreviewText 清洗正文得到预览：剔除引用回复、签名与套话行，
// 折叠空白并截断到 PreviewLength。
func PreviewText(body string) string {
	if body == "" {
		return ""
	}

	var kept []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if quoteIntroRegex.MatchString(trimmed) {
			continue
		}
		// 签名分隔符之后全部丢弃
		if trimmed == "--" || strings.HasPrefix(line, "-- ") {
			break
		}
		if strings.HasPrefix(trimmed, "Sent from my") {
			continue
		}
		kept = append(kept, trimmed)
	}

	text := strings.TrimSpace(whitespaceRegex.ReplaceAllString(strings.Join(kept, " "), " "))
	if truncated, ok := truncateRunes(text, PreviewLength); ok {
		text = truncated + "..."
	}
	return text
}

// truncateRunes 在字符边界上截断，避免把多字节字符切成无效 UTF-8。
// 第二个返回值表示是否发生了截断。
func truncateRunes(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	return string([]rune(s)[:limit]), true
}

// RelativeTime 返回相对时间描述，按分钟/小时/天分档。
func RelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d minute(s) ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hour(s) ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d day(s) ago", int(d.Hours()/24))
	}
}

// SanitizeHTML 按允许列表净化 HTML。
//
// script/style/iframe/object/embed/form/input 连内容一起剔除，
// 其余不在允许列表的标签剥掉标签保留内容，事件处理器与内联
// 样式属性一律剔除，最后折叠多余空行。
func SanitizeHTML(input string) string {
	out := dangerousBlockRegex.ReplaceAllString(input, "")
	out = selfClosingRegex.ReplaceAllString(out, "")
	out = eventAttrRegex.ReplaceAllString(out, "")
	out = styleAttrRegex.ReplaceAllString(out, "")

	out = tagRegex.ReplaceAllStringFunc(out, func(tag string) string {
		name := strings.ToLower(strings.Trim(tag, "</> \t\n"))
		if idx := strings.IndexAny(name, " \t\n"); idx > 0 {
			name = name[:idx]
		}
		name = strings.TrimSuffix(name, "/")
		if allowedTags[name] {
			return tag
		}
		return ""
	})

	out = blankLinesRegex.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// AttachmentSummary 生成附件清单：图标 + 文件名 + 可读大小。
func AttachmentSummary(attachments []*domain.Attachment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📎 Attachments (%d):\n", len(attachments))
	for _, att := range attachments {
		fmt.Fprintf(&b, "%s %s (%s)\n", AttachmentIcon(att), att.Filename, HumanSize(int64(att.Size)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// AttachmentIcon 按 MIME 类型返回展示图标。
func AttachmentIcon(att *domain.Attachment) string {
	switch {
	case att.IsImage:
		return "🖼"
	case att.IsPDF:
		return "📕"
	case att.IsDocument:
		return "📄"
	default:
		return "📎"
	}
}

// HumanSize 返回二进制单位的可读大小，保留一位小数。
func HumanSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
