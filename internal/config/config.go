package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义内部 HTTP API 的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// IMAPConfig 定义 IMAP 收信服务器的连接配置
type IMAPConfig struct {
	Host           string        // IMAP 服务器地址
	Port           int           // IMAP 端口，默认 993
	Username       string        // 登录用户名
	Password       string        // 登录密码
	UseTLS         bool          // 是否使用 TLS，默认 true
	ConnectTimeout time.Duration // 建立连接超时，默认 30s
	MaxRetries     int           // 重连尝试上限，默认 3
	RetryDelay     time.Duration // 重连固定间隔（非指数退避），默认 2s
}

// MailboxConfig 定义临时邮箱生成与生命周期的业务配置
type MailboxConfig struct {
	Domain       string        // 生成地址使用的固定域名
	TTL          time.Duration // 邮箱生存时间，过期后由清理任务停用
	PrefixLength int           // 前缀固定长度
	SuffixLength int           // 随机后缀固定长度
	MaxAttempts  int           // 地址唯一性重试上限
	MaxInbox     int           // 单轮询周期内每个邮箱最多拉取的邮件数
	Retention    time.Duration // 停用记录的保留期，期满后物理删除
}

// PollConfig 定义两个后台循环的节奏
type PollConfig struct {
	FetchInterval   time.Duration // 收信轮询间隔，默认 60s
	CleanupInterval time.Duration // 过期清理间隔，默认 300s
}

// FilesConfig 定义附件临时文件的存放策略
type FilesConfig struct {
	Dir     string        // 临时文件目录
	MaxAge  time.Duration // 文件最大存活时间，超过后被回收
	MaxSize int64         // 单附件大小上限，0 表示不限制
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，为空时使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// APIConfig 定义内部 API 的认证与限流配置
type APIConfig struct {
	JWTSecret    string        // 服务间调用令牌的签名密钥，留空时关闭认证（仅限开发）
	JWTIssuer    string        // 令牌签发者标识
	TokenExpiry  time.Duration // 令牌有效期
	EmailsPerHr  int           // 单个 identity 每小时可创建的邮箱数
	CORSOrigins  []string      // 允许的跨域来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出
	File        string // 日志文件路径，留空输出到标准输出
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	IMAP     IMAPConfig
	Mailbox  MailboxConfig
	Poll     PollConfig
	Files    FilesConfig
	Database DatabaseConfig
	Redis    RedisConfig
	API      APIConfig
	Log      LogConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TEMPMAILBOT_
// 例如: TEMPMAILBOT_IMAP_HOST, TEMPMAILBOT_MAILBOX_DOMAIN
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("tempmailbot")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("imap.host", "mail.seveton.site")
	viper.SetDefault("imap.port", 993)
	viper.SetDefault("imap.username", "")
	viper.SetDefault("imap.password", "")
	viper.SetDefault("imap.use_tls", true)
	viper.SetDefault("imap.connect_timeout", "30s")
	viper.SetDefault("imap.max_retries", 3)
	viper.SetDefault("imap.retry_delay", "2s")
	viper.SetDefault("mailbox.domain", "seveton.site")
	viper.SetDefault("mailbox.ttl", "1h")
	viper.SetDefault("mailbox.prefix_length", 6)
	viper.SetDefault("mailbox.suffix_length", 8)
	viper.SetDefault("mailbox.max_attempts", 10)
	viper.SetDefault("mailbox.max_inbox", 5)
	viper.SetDefault("mailbox.retention", "720h") // 30 天
	viper.SetDefault("poll.fetch_interval", "60s")
	viper.SetDefault("poll.cleanup_interval", "300s")
	viper.SetDefault("files.dir", "temp_downloads")
	viper.SetDefault("files.max_age", "1h")
	viper.SetDefault("files.max_size", 0)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("api.jwt_secret", "")
	viper.SetDefault("api.jwt_issuer", "tempmailbot")
	viper.SetDefault("api.token_expiry", "24h")
	viper.SetDefault("api.emails_per_hour", 10)
	viper.SetDefault("api.cors_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")

	ttl, err := time.ParseDuration(viper.GetString("mailbox.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.ttl: %w", err)
	}

	retention, err := time.ParseDuration(viper.GetString("mailbox.retention"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.retention: %w", err)
	}

	fetchInterval, err := time.ParseDuration(viper.GetString("poll.fetch_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid poll.fetch_interval: %w", err)
	}

	cleanupInterval, err := time.ParseDuration(viper.GetString("poll.cleanup_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid poll.cleanup_interval: %w", err)
	}

	domain := strings.ToLower(strings.TrimSpace(viper.GetString("mailbox.domain")))
	if domain == "" {
		return nil, fmt.Errorf("mailbox.domain must not be empty")
	}

	corsOrigins := parseList(viper.GetString("api.cors_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	jwtSecret := viper.GetString("api.jwt_secret")
	if jwtSecret != "" && len(jwtSecret) < 32 {
		return nil, fmt.Errorf("api.jwt_secret must be at least 32 characters long")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		IMAP: IMAPConfig{
			Host:           viper.GetString("imap.host"),
			Port:           viper.GetInt("imap.port"),
			Username:       viper.GetString("imap.username"),
			Password:       viper.GetString("imap.password"),
			UseTLS:         viper.GetBool("imap.use_tls"),
			ConnectTimeout: viper.GetDuration("imap.connect_timeout"),
			MaxRetries:     viper.GetInt("imap.max_retries"),
			RetryDelay:     viper.GetDuration("imap.retry_delay"),
		},
		Mailbox: MailboxConfig{
			Domain:       domain,
			TTL:          ttl,
			PrefixLength: viper.GetInt("mailbox.prefix_length"),
			SuffixLength: viper.GetInt("mailbox.suffix_length"),
			MaxAttempts:  viper.GetInt("mailbox.max_attempts"),
			MaxInbox:     viper.GetInt("mailbox.max_inbox"),
			Retention:    retention,
		},
		Poll: PollConfig{
			FetchInterval:   fetchInterval,
			CleanupInterval: cleanupInterval,
		},
		Files: FilesConfig{
			Dir:     viper.GetString("files.dir"),
			MaxAge:  viper.GetDuration("files.max_age"),
			MaxSize: viper.GetInt64("files.max_size"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		API: APIConfig{
			JWTSecret:   jwtSecret,
			JWTIssuer:   viper.GetString("api.jwt_issuer"),
			TokenExpiry: viper.GetDuration("api.token_expiry"),
			EmailsPerHr: viper.GetInt("api.emails_per_hour"),
			CORSOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate 校验关键配置项，启动前拦截明显的错误配置。
func (c *Config) validate() error {
	if c.Mailbox.TTL <= 0 {
		return fmt.Errorf("mailbox.ttl must be positive")
	}
	if c.Mailbox.PrefixLength <= 0 || c.Mailbox.SuffixLength <= 0 {
		return fmt.Errorf("mailbox prefix/suffix length must be positive")
	}
	if c.Mailbox.MaxAttempts <= 0 {
		return fmt.Errorf("mailbox.max_attempts must be positive")
	}
	if c.Mailbox.MaxInbox <= 0 {
		return fmt.Errorf("mailbox.max_inbox must be positive")
	}
	if c.Poll.FetchInterval <= 0 || c.Poll.CleanupInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Database.Type != "" && c.Database.Type != "mysql" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type: %s (supported: mysql, postgres)", c.Database.Type)
	}
	if c.Database.Type != "" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.type is set")
	}
	return nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（从子目录运行时）
//
// 文件不存在时静默失败（.env 是可选的），已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
