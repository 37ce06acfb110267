package service

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"tempmailbot/backend/internal/config"
	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/storage"
)

// ErrGenerationExhausted 地址空间尝试次数耗尽错误
var ErrGenerationExhausted = errors.New("address generation exhausted retry attempts")

// AlreadyActiveError 表示 identity 已持有活跃邮箱，携带现有地址供提示。
type AlreadyActiveError struct {
	Address string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("identity already has an active address: %s", e.Address)
}

const addressAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Generator 生成带碰撞检查的临时邮箱地址。
type Generator struct {
	repo storage.MailboxRepository
	cfg  config.MailboxConfig

	mu     sync.Mutex
	random *rand.Rand
}

// NewGenerator 创建地址生成器。
func NewGenerator(repo storage.MailboxRepository, cfg config.MailboxConfig) *Generator {
	return &Generator{
		repo:   repo,
		cfg:    cfg,
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate 为 identity 生成唯一地址。
//
// 流程：活跃预检查（快速路径，真正的裁决在存储层的原子创建）、
// 前缀归一化、随机后缀拼装、对含历史记录的全量地址做唯一性检查，
// 有界重试后仍冲突返回 ErrGenerationExhausted。
func (g *Generator) Generate(identity, customPrefix string) (string, string, error) {
	if existing, err := g.repo.GetMailbox(identity, true); err == nil {
		return "", "", &AlreadyActiveError{Address: existing.Address}
	} else if !errors.Is(err, storage.ErrMailboxNotFound) {
		return "", "", err
	}

	prefix := g.resolvePrefix(customPrefix)

	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		address := fmt.Sprintf("%s_%s@%s", prefix, g.randomToken(g.cfg.SuffixLength), g.cfg.Domain)

		// 唯一性检查包含停用的历史记录
		_, err := g.repo.GetMailboxByAddress(address, false)
		if errors.Is(err, storage.ErrMailboxNotFound) {
			return address, prefix, nil
		}
		if err != nil {
			return "", "", err
		}
	}
	return "", "", ErrGenerationExhausted
}

// resolvePrefix 归一化用户前缀到固定长度。
// 净化后为空时完全随机；超长截断；不足则用随机字符补齐。
func (g *Generator) resolvePrefix(custom string) string {
	prefix := domain.SanitizePrefix(custom)
	if len(prefix) > g.cfg.PrefixLength {
		prefix = prefix[:g.cfg.PrefixLength]
	}
	if len(prefix) < g.cfg.PrefixLength {
		prefix += g.randomToken(g.cfg.PrefixLength - len(prefix))
	}
	return prefix
}

// randomToken 从固定字母表生成随机串。
func (g *Generator) randomToken(length int) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	token := make([]byte, length)
	for i := range token {
		token[i] = addressAlphabet[g.random.Intn(len(addressAlphabet))]
	}
	return string(token)
}
