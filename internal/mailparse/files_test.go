package mailparse

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
)

// stubDetector 固定返回值的嗅探器。
type stubDetector struct {
	mime string
	ok   bool
}

func (d stubDetector) Detect([]byte) (string, bool) {
	return d.mime, d.ok
}

func newTestFileStore(t *testing.T, maxAge time.Duration, maxSize int64, det Detector) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), maxAge, maxSize, det, zap.NewNop())
	require.NoError(t, err)
	return fs
}

func TestPrepareForDelivery(t *testing.T) {
	fs := newTestFileStore(t, time.Hour, 0, stubDetector{mime: "image/png", ok: true})

	att := domain.NewAttachment("photo.png", "application/octet-stream", []byte("fake png"))
	prepared := fs.PrepareForDelivery(att)

	require.NotNil(t, prepared)
	assert.Equal(t, "photo.png", prepared.Filename)
	// 嗅探结果覆盖声明类型
	assert.Equal(t, "image/png", prepared.MimeType)
	assert.True(t, prepared.IsImage)
	assert.FileExists(t, prepared.Path)

	data, err := os.ReadFile(prepared.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake png"), data)
	assert.Equal(t, 1, fs.TrackedCount())
}

func TestPrepareForDeliveryDetectorFallback(t *testing.T) {
	fs := newTestFileStore(t, time.Hour, 0, stubDetector{ok: false})

	att := domain.NewAttachment("doc.pdf", "application/pdf", []byte("%PDF"))
	prepared := fs.PrepareForDelivery(att)

	require.NotNil(t, prepared)
	assert.Equal(t, "application/pdf", prepared.MimeType)
}

func TestPrepareForDeliveryRejectsOversized(t *testing.T) {
	fs := newTestFileStore(t, time.Hour, 10, stubDetector{ok: false})

	att := domain.NewAttachment("big.bin", "application/octet-stream", make([]byte, 100))
	assert.Nil(t, fs.PrepareForDelivery(att))
	assert.Equal(t, 0, fs.TrackedCount())
}

func TestReclaimOld(t *testing.T) {
	fs := newTestFileStore(t, time.Hour, 0, stubDetector{ok: false})

	att := domain.NewAttachment("a.txt", "text/plain", []byte("hi"))
	prepared := fs.PrepareForDelivery(att)
	require.NotNil(t, prepared)

	// 未超龄不回收
	assert.Equal(t, 0, fs.ReclaimOld())

	// 回拨创建时间使其超龄
	fs.mu.Lock()
	fs.tracked[prepared.Path] = time.Now().Add(-2 * time.Hour)
	fs.mu.Unlock()

	assert.Equal(t, 1, fs.ReclaimOld())
	assert.NoFileExists(t, prepared.Path)
	assert.Equal(t, 0, fs.TrackedCount())
}

func TestReclaimOldToleratesMissingFile(t *testing.T) {
	fs := newTestFileStore(t, time.Hour, 0, stubDetector{ok: false})

	att := domain.NewAttachment("b.txt", "text/plain", []byte("hi"))
	prepared := fs.PrepareForDelivery(att)
	require.NotNil(t, prepared)

	require.NoError(t, os.Remove(prepared.Path))
	fs.mu.Lock()
	fs.tracked[prepared.Path] = time.Now().Add(-2 * time.Hour)
	fs.mu.Unlock()

	assert.Equal(t, 1, fs.ReclaimOld())
	assert.Equal(t, 0, fs.TrackedCount())
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`bad:name*?.txt`, "bad_name__.txt"},
		{"", "attachment"},
		{"..", "attachment"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeFilename(tt.in))
	}
}

func TestMimetypeDetector(t *testing.T) {
	det := MimetypeDetector{}

	mime, ok := det.Detect([]byte("%PDF-1.4 fake pdf content"))
	assert.True(t, ok)
	assert.Contains(t, mime, "application/pdf")

	_, ok = det.Detect(nil)
	assert.False(t, ok)
}

func TestPreparedFileNameEmbedsTimestamp(t *testing.T) {
	fs := newTestFileStore(t, time.Hour, 0, stubDetector{ok: false})

	att := domain.NewAttachment("dup.txt", "text/plain", []byte("one"))
	first := fs.PrepareForDelivery(att)
	second := fs.PrepareForDelivery(att)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, filepath.Base(first.Path), filepath.Base(second.Path))
}
