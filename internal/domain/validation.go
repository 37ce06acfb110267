package domain

import (
	"errors"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrPrefixEmpty    = errors.New("prefix is empty")
	ErrPrefixTooShort = errors.New("prefix too short (min 3 chars)")
	ErrPrefixTooLong  = errors.New("prefix too long (max 20 chars)")
	ErrPrefixInvalid  = errors.New("prefix must contain letters or digits")
)

// 验证常量
const (
	// 用户自定义前缀的原始输入限制（净化前）
	MinPrefixLength    = 3
	MaxRawPrefixLength = 20
)

var (
	// 裸邮箱地址的宽松匹配，用于从 From 头中恢复发件人地址
	emailRegex = regexp.MustCompile(`[\w.\-]+@[\w.\-]+\.\w+`)

	// 非字母数字字符，前缀净化时剔除
	nonAlnumRegex = regexp.MustCompile(`[^a-z0-9]`)
)

// SanitizePrefix 净化用户输入的前缀：小写并剔除非字母数字字符。
// 返回的结果可能为空，由调用方决定回退策略。
func SanitizePrefix(raw string) string {
	return nonAlnumRegex.ReplaceAllString(strings.ToLower(raw), "")
}

// ValidatePrefix 校验用户自定义前缀，返回具体的失败原因。
func ValidatePrefix(raw string) error {
	if raw == "" {
		return ErrPrefixEmpty
	}
	if len(raw) > MaxRawPrefixLength {
		return ErrPrefixTooLong
	}
	clean := SanitizePrefix(raw)
	if clean == "" {
		return ErrPrefixInvalid
	}
	if len(clean) < MinPrefixLength {
		return ErrPrefixTooShort
	}
	return nil
}

// ExtractAddress 从解码后的邮件头中恢复裸地址。
// 未匹配到时原样返回输入（与展示路径保持一致的降级行为）。
func ExtractAddress(header string) string {
	if match := emailRegex.FindString(header); match != "" {
		return strings.ToLower(match)
	}
	return header
}
