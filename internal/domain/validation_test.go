package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePrefix(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"Lowercase passthrough", "shop", "shop"},
		{"Uppercase folded", "MyShop", "myshop"},
		{"Symbols stripped", "my-shop_01!", "myshop01"},
		{"Spaces stripped", "my shop", "myshop"},
		{"Only symbols", "!!!", ""},
		{"Empty", "", ""},
		{"Unicode stripped", "店铺abc", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizePrefix(tt.raw))
		})
	}
}

func TestValidatePrefix(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"Valid", "shop42", nil},
		{"Valid mixed case", "Shop42", nil},
		{"Empty", "", ErrPrefixEmpty},
		{"Too long raw", "abcdefghijklmnopqrstu", ErrPrefixTooLong},
		{"Only symbols", "@#$", ErrPrefixInvalid},
		{"Too short after cleaning", "a-b", ErrPrefixTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrefix(tt.raw)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{"Display name form", `"Alice Smith" <alice@example.com>`, "alice@example.com"},
		{"Bare address", "bob@mail.example.org", "bob@mail.example.org"},
		{"Uppercase folded", "Carol <CAROL@Example.COM>", "carol@example.com"},
		{"No address falls back to raw", "mailer daemon", "mailer daemon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractAddress(tt.header))
		})
	}
}

func TestMailboxLifecycle(t *testing.T) {
	now := mustParse(t, "2026-01-02T10:00:00Z")

	box := &Mailbox{
		State:     StateActive,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}

	assert.True(t, box.IsActive())
	assert.False(t, box.IsExpired(now.Add(59*time.Minute)))
	assert.True(t, box.IsExpired(now.Add(61*time.Minute)))
	assert.Equal(t, time.Hour, box.TimeRemaining(now))
	assert.Equal(t, time.Duration(0), box.TimeRemaining(now.Add(2*time.Hour)))

	assert.True(t, box.Deactivate(ReasonExpired, now.Add(time.Hour)))
	assert.Equal(t, StateInactive, box.State)
	assert.Equal(t, ReasonExpired, box.DeactivationReason)
	assert.NotNil(t, box.DeactivatedAt)

	// 重复停用是幂等的
	assert.False(t, box.Deactivate(ReasonDeleted, now.Add(2*time.Hour)))
	assert.Equal(t, ReasonExpired, box.DeactivationReason)
}

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	assert.NoError(t, err)
	return ts
}
