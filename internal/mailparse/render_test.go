package mailparse

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"tempmailbot/backend/internal/domain"
)

func TestSenderDisplayName(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		want   string
	}{
		{"quoted display name", `"Alice Smith" <alice@example.com>`, "Alice Smith"},
		{"unquoted display name", `Bob Jones <bob@example.com>`, "Bob Jones"},
		{"bare address", `carol@example.com`, "carol@example.com"},
		{"address in brackets", `<dave@example.com>`, "dave@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SenderDisplayName(tt.sender))
		})
	}
}

func TestTruncateSubject(t *testing.T) {
	short := "Hello"
	assert.Equal(t, short, truncateSubject(short))

	long := strings.Repeat("a", 80)
	got := truncateSubject(long)
	assert.Len(t, got, SubjectCutoff)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTruncateSubjectMultibyte(t *testing.T) {
	long := strings.Repeat("验", 80)
	got := truncateSubject(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, SubjectCutoff, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))

	// 正好到上限的多字节主题不截断
	exact := strings.Repeat("验", SubjectCutoff)
	assert.Equal(t, exact, truncateSubject(exact))
}

func TestPreviewText(t *testing.T) {
	body := `Hello there,

this is the reply.

> quoted original text
> more quoted text
On Mon, Aug 17, 2026 alice@example.com wrote:

Sent from my iPhone
--
Alice
`
	got := PreviewText(body)
	assert.Contains(t, got, "this is the reply.")
	assert.NotContains(t, got, "quoted original")
	assert.NotContains(t, got, "wrote:")
	assert.NotContains(t, got, "Sent from my")
	assert.NotContains(t, got, "Alice")
}

func TestPreviewTextTruncation(t *testing.T) {
	huge := strings.Repeat("x", 10000)
	got := PreviewText(huge)
	assert.LessOrEqual(t, len(got), PreviewLength+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestPreviewTextMultibyteTruncation(t *testing.T) {
	got := PreviewText(strings.Repeat("证", 500))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, PreviewLength+3, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 8, 17, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "just now", RelativeTime(now.Add(-30*time.Second), now))
	assert.Equal(t, "5 minute(s) ago", RelativeTime(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3 hour(s) ago", RelativeTime(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2 day(s) ago", RelativeTime(now.Add(-49*time.Hour), now))
}

func TestSanitizeHTML(t *testing.T) {
	input := `<p onclick="evil()">Hi <strong>there</strong></p>
<script>alert(1)</script>
<style>body{color:red}</style>
<iframe src="http://evil"></iframe>
<div style="display:none">wrapped</div>
<a href="http://ok">link</a>`

	got := SanitizeHTML(input)

	assert.Contains(t, got, "<strong>there</strong>")
	assert.Contains(t, got, "link")
	assert.Contains(t, got, "wrapped")
	assert.NotContains(t, got, "script")
	assert.NotContains(t, got, "alert")
	assert.NotContains(t, got, "color:red")
	assert.NotContains(t, got, "iframe")
	assert.NotContains(t, got, "onclick")
	assert.NotContains(t, got, "<div")
}

func TestFormatPreview(t *testing.T) {
	now := time.Date(2026, 8, 17, 12, 0, 0, 0, time.UTC)
	msg := &domain.FetchedMessage{
		UID:        1,
		Sender:     `"Alice" <alice@example.com>`,
		Subject:    "Hello",
		BodyText:   "Short body.",
		ReceivedAt: now.Add(-10 * time.Minute),
		Attachments: []*domain.Attachment{
			domain.NewAttachment("a.png", "image/png", []byte{1, 2, 3}),
		},
	}

	got := FormatPreview(msg, now)
	assert.Contains(t, got, "Alice")
	assert.Contains(t, got, "Hello")
	assert.Contains(t, got, "Short body.")
	assert.Contains(t, got, "1 attachment(s)")
	assert.Contains(t, got, "10 minute(s) ago")
}

func TestFormatFullViewTruncation(t *testing.T) {
	msg := &domain.FetchedMessage{
		Sender:    "alice@example.com",
		Recipient: "foobar@seveton.site",
		Subject:   "Big",
		BodyText:  strings.Repeat("z", 10000),
	}

	got := FormatFullView(msg)
	assert.Contains(t, got, "... Message truncated")
	assert.LessOrEqual(t, len(got), FullViewBudget+len("\n... Message truncated"))
}

func TestFormatPreviewMultibyteValid(t *testing.T) {
	now := time.Date(2026, 8, 17, 12, 0, 0, 0, time.UTC)
	msg := &domain.FetchedMessage{
		UID:        1,
		Sender:     "alice@example.com",
		Subject:    strings.Repeat("验证码通知", 16),
		BodyText:   strings.Repeat("您的验证码是八八六六，十分钟内有效。", 30),
		ReceivedAt: now.Add(-time.Minute),
	}

	got := FormatPreview(msg, now)
	assert.True(t, utf8.ValidString(got))
}

func TestFormatFullViewMultibyteTruncation(t *testing.T) {
	msg := &domain.FetchedMessage{
		Sender:    "alice@example.com",
		Recipient: "foobar@seveton.site",
		Subject:   "验证",
		BodyText:  strings.Repeat("汉", 5000),
	}

	got := FormatFullView(msg)
	assert.True(t, utf8.ValidString(got))
	assert.Contains(t, got, "... Message truncated")
}

func TestFormatFullViewPrefersHTML(t *testing.T) {
	msg := &domain.FetchedMessage{
		Sender:    "alice@example.com",
		Recipient: "foobar@seveton.site",
		Subject:   "Hi",
		BodyText:  "plain version",
		BodyHTML:  "<p>html <em>version</em></p><script>x()</script>",
	}

	got := FormatFullView(msg)
	assert.Contains(t, got, "<em>version</em>")
	assert.NotContains(t, got, "plain version")
	assert.NotContains(t, got, "script")
}

func TestAttachmentSummary(t *testing.T) {
	attachments := []*domain.Attachment{
		domain.NewAttachment("pic.jpg", "image/jpeg", make([]byte, 2048)),
		domain.NewAttachment("doc.pdf", "application/pdf", make([]byte, 100)),
	}

	got := AttachmentSummary(attachments)
	assert.Contains(t, got, "Attachments (2)")
	assert.Contains(t, got, "pic.jpg")
	assert.Contains(t, got, "2.0 KiB")
	assert.Contains(t, got, "doc.pdf")
	assert.Contains(t, got, "100 B")
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HumanSize(tt.size))
	}
}
