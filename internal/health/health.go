package health

import (
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/storage"
)

// MailProber 提供邮件会话的存活探测。
type MailProber interface {
	EnsureConnection() error
}

// Checker 健康检查器
type Checker struct {
	health healthcheck.Handler
	store  storage.Store
	mail   MailProber
	logger *zap.Logger
}

// NewChecker 创建健康检查器。mail 可以为 nil（未配置 IMAP 凭据时）。
func NewChecker(store storage.Store, mail MailProber, logger *zap.Logger) *Checker {
	c := &Checker{
		health: healthcheck.NewHandler(),
		store:  store,
		mail:   mail,
		logger: logger,
	}
	c.addChecks()
	return c
}

func (c *Checker) addChecks() {
	c.health.AddLivenessCheck("storage", func() error {
		return c.store.Health()
	})

	// 就绪检查包含邮件会话：IMAP 不可达时不接流量
	if c.mail != nil {
		c.health.AddReadinessCheck("imap", healthcheck.Async(func() error {
			return c.mail.EnsureConnection()
		}, 30*time.Second))
	}
}

// LiveEndpoint 返回存活检查处理器
func (c *Checker) LiveEndpoint() http.HandlerFunc {
	return c.health.LiveEndpoint
}

// ReadyEndpoint 返回就绪检查处理器
func (c *Checker) ReadyEndpoint() http.HandlerFunc {
	return c.health.ReadyEndpoint
}

// CheckHealth 执行一轮健康检查并返回各组件状态
func (c *Checker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := c.store.Health(); err != nil {
		results["storage"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["storage"] = "OK"
	}

	if c.mail != nil {
		if err := c.mail.EnsureConnection(); err != nil {
			results["imap"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["imap"] = "OK"
		}
	} else {
		results["imap"] = "NOT_CONFIGURED"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}
