package mailparse

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
)

// Detector 从内容字节嗅探 MIME 类型，嗅探失败时返回 ok=false，
// 调用方回退到声明的类型。接口化便于测试替换。
type Detector interface {
	Detect(data []byte) (mime string, ok bool)
}

// MimetypeDetector 基于 gabriel-vasile/mimetype 的内容嗅探实现。
type MimetypeDetector struct{}

// Detect 嗅探内容 MIME 类型。
func (MimetypeDetector) Detect(data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	mtype := mimetype.Detect(data)
	if mtype == nil {
		return "", false
	}
	return mtype.String(), true
}

// FileStore 管理附件的临时文件：物化、跟踪与按龄回收。
type FileStore struct {
	dir      string
	maxAge   time.Duration
	maxSize  int64 // 0 表示不限制
	detector Detector
	log      *zap.Logger

	mu      sync.Mutex
	tracked map[string]time.Time // path -> 创建时间
}

// NewFileStore 创建附件临时文件管理器并确保目录存在。
func NewFileStore(dir string, maxAge time.Duration, maxSize int64, detector Detector, log *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	return &FileStore{
		dir:      dir,
		maxAge:   maxAge,
		maxSize:  maxSize,
		detector: detector,
		log:      log,
		tracked:  make(map[string]time.Time),
	}, nil
}

// PrepareForDelivery 将附件物化为可交付的临时文件。
//
// 超过大小上限或写入失败时返回 nil（非致命，原始数据仍在内存中）。
// 文件名嵌入时间戳避免冲突，MIME 类型优先内容嗅探，回退到声明值。
func (s *FileStore) PrepareForDelivery(att *domain.Attachment) *domain.PreparedFile {
	if s.maxSize > 0 && int64(att.Size) > s.maxSize {
		s.log.Warn("attachment exceeds size limit",
			zap.String("filename", att.Filename),
			zap.Int("size", att.Size),
			zap.Int64("limit", s.maxSize),
		)
		return nil
	}

	now := time.Now()
	name := fmt.Sprintf("%d_%s", now.UnixNano(), SafeFilename(att.Filename))
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, att.Data, 0644); err != nil {
		s.log.Warn("failed to write attachment file",
			zap.String("filename", att.Filename),
			zap.Error(err),
		)
		return nil
	}

	s.mu.Lock()
	s.tracked[path] = now
	s.mu.Unlock()

	mimeType := att.ContentType
	if detected, ok := s.detector.Detect(att.Data); ok {
		mimeType = detected
	}

	return &domain.PreparedFile{
		Path:     path,
		Filename: att.Filename,
		MimeType: mimeType,
		Size:     att.Size,
		IsImage:  strings.HasPrefix(strings.ToLower(mimeType), "image/"),
	}
}

// ReclaimOld 删除超龄的临时文件，返回回收数量。
// 文件已被外部删除时只解除跟踪，不算错误。
func (s *FileStore) ReclaimOld() int {
	cutoff := time.Now().Add(-s.maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for path, created := range s.tracked {
		if created.After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove attachment file",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		delete(s.tracked, path)
		count++
	}
	return count
}

// TrackedCount 返回当前跟踪的文件数，供统计展示。
func (s *FileStore) TrackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// SafeFilename 剔除路径分隔符等危险字符，防止目录穿越。
func SafeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "attachment"
	}
	return name
}
