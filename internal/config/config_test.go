package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.Equal(t, "seveton.site", cfg.Mailbox.Domain)
	assert.Equal(t, time.Hour, cfg.Mailbox.TTL)
	assert.Equal(t, 6, cfg.Mailbox.PrefixLength)
	assert.Equal(t, 8, cfg.Mailbox.SuffixLength)
	assert.Equal(t, 10, cfg.Mailbox.MaxAttempts)
	assert.Equal(t, 5, cfg.Mailbox.MaxInbox)
	assert.Equal(t, 30*24*time.Hour, cfg.Mailbox.Retention)

	assert.Equal(t, 60*time.Second, cfg.Poll.FetchInterval)
	assert.Equal(t, 300*time.Second, cfg.Poll.CleanupInterval)

	assert.Equal(t, 993, cfg.IMAP.Port)
	assert.True(t, cfg.IMAP.UseTLS)
	assert.Equal(t, 3, cfg.IMAP.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.IMAP.RetryDelay)

	assert.Equal(t, "temp_downloads", cfg.Files.Dir)
	assert.Equal(t, time.Hour, cfg.Files.MaxAge)

	// 默认未配置数据库，走内存存储
	assert.Empty(t, cfg.Database.Type)
	assert.Equal(t, 10, cfg.API.EmailsPerHr)
	assert.Equal(t, []string{"*"}, cfg.API.CORSOrigins)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TEMPMAILBOT_MAILBOX_DOMAIN", "Example.ORG")
	t.Setenv("TEMPMAILBOT_MAILBOX_TTL", "30m")
	t.Setenv("TEMPMAILBOT_POLL_FETCH_INTERVAL", "15s")
	t.Setenv("TEMPMAILBOT_API_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	// 域名归一化为小写
	assert.Equal(t, "example.org", cfg.Mailbox.Domain)
	assert.Equal(t, 30*time.Minute, cfg.Mailbox.TTL)
	assert.Equal(t, 15*time.Second, cfg.Poll.FetchInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.CORSOrigins)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	t.Run("invalid ttl", func(t *testing.T) {
		t.Setenv("TEMPMAILBOT_MAILBOX_TTL", "soon")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("short jwt secret", func(t *testing.T) {
		t.Setenv("TEMPMAILBOT_API_JWT_SECRET", "too-short")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("unsupported database type", func(t *testing.T) {
		t.Setenv("TEMPMAILBOT_DATABASE_TYPE", "sqlite")
		t.Setenv("TEMPMAILBOT_DATABASE_DSN", "file:test.db")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("database type without dsn", func(t *testing.T) {
		t.Setenv("TEMPMAILBOT_DATABASE_TYPE", "postgres")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList("a, b"))
	assert.Empty(t, parseList(" , "))
	assert.Equal(t, []string{"*"}, parseList("*"))
}
