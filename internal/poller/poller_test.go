package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/storage/memory"
)

// fakeMailSource 按收件地址返回预置邮件。
type fakeMailSource struct {
	messages     map[string][]*domain.FetchedMessage
	fetchErr     map[string]error
	ensureErr    error
	ensureCalls  int
	fetchedAddrs []string
}

func (f *fakeMailSource) EnsureConnection() error {
	f.ensureCalls++
	return f.ensureErr
}

func (f *fakeMailSource) FetchList(recipient string, limit int, since time.Time) ([]*domain.FetchedMessage, error) {
	f.fetchedAddrs = append(f.fetchedAddrs, recipient)
	if err := f.fetchErr[recipient]; err != nil {
		return nil, err
	}
	msgs := f.messages[recipient]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// captureNotifier 记录推送调用。
type captureNotifier struct {
	notified map[string][]string
}

func (n *captureNotifier) NotifyNewMail(identity string, previews []string) {
	if n.notified == nil {
		n.notified = make(map[string][]string)
	}
	n.notified[identity] = append(n.notified[identity], previews...)
}

func createActiveMailbox(t *testing.T, store *memory.Store, identity, address string, lastChecked time.Time) *domain.Mailbox {
	t.Helper()
	now := time.Now()
	mb := &domain.Mailbox{
		ID:            uuid.New().String(),
		Identity:      identity,
		Address:       address,
		CreatedAt:     now.Add(-10 * time.Minute),
		ExpiresAt:     now.Add(time.Hour),
		State:         domain.StateActive,
		LastCheckedAt: lastChecked,
	}
	require.NoError(t, store.CreateMailbox(mb))
	return mb
}

func TestPollOnceCountsNewMessages(t *testing.T) {
	store := memory.NewStore()
	watermark := time.Now().Add(-5 * time.Minute)
	createActiveMailbox(t, store, "user1", "a1@seveton.site", watermark)

	mail := &fakeMailSource{
		messages: map[string][]*domain.FetchedMessage{
			"a1@seveton.site": {
				{UID: 1, Subject: "new", ReceivedAt: time.Now()},
				{UID: 2, Subject: "old", ReceivedAt: watermark.Add(-time.Hour)},
			},
		},
	}
	notifier := &captureNotifier{}
	p := New(store, mail, notifier, nil, time.Minute, 5, zap.NewNop())

	p.PollOnce(context.Background())

	// 只有晚于水位线的邮件计入
	got, err := store.GetMailbox("user1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MessageCount)
	assert.Equal(t, 1, got.TotalMessages)
	assert.True(t, got.LastCheckedAt.After(watermark))

	require.Len(t, notifier.notified["user1"], 1)
	assert.Contains(t, notifier.notified["user1"][0], "new")

	stats := p.Snapshot()
	assert.Equal(t, uint64(1), stats.Cycles)
	assert.Equal(t, uint64(1), stats.MessagesSeen)
	assert.Equal(t, uint64(1), stats.EntriesChecked)
}

func TestPollOnceEntryFailureIsolated(t *testing.T) {
	store := memory.NewStore()
	watermark := time.Now().Add(-5 * time.Minute)
	createActiveMailbox(t, store, "user1", "bad@seveton.site", watermark)
	createActiveMailbox(t, store, "user2", "good@seveton.site", watermark)

	mail := &fakeMailSource{
		messages: map[string][]*domain.FetchedMessage{
			"good@seveton.site": {{UID: 1, Subject: "hi", ReceivedAt: time.Now()}},
		},
		fetchErr: map[string]error{
			"bad@seveton.site": errors.New("fetch failed"),
		},
	}
	p := New(store, mail, nil, nil, time.Minute, 5, zap.NewNop())

	p.PollOnce(context.Background())

	// 失败条目不阻断其余条目
	good, err := store.GetMailbox("user2", true)
	require.NoError(t, err)
	assert.Equal(t, 1, good.MessageCount)

	// 失败条目水位线不推进，下周期重试同一窗口
	bad, err := store.GetMailbox("user1", true)
	require.NoError(t, err)
	assert.True(t, bad.LastCheckedAt.Equal(watermark))

	stats := p.Snapshot()
	assert.Equal(t, uint64(1), stats.EntryErrors)
	assert.Equal(t, uint64(2), stats.EntriesChecked)
}

func TestPollOnceConnectionFailureAbortsCycle(t *testing.T) {
	store := memory.NewStore()
	createActiveMailbox(t, store, "user1", "a1@seveton.site", time.Now())

	mail := &fakeMailSource{ensureErr: errors.New("connection refused")}
	p := New(store, mail, nil, nil, time.Minute, 5, zap.NewNop())

	p.PollOnce(context.Background())

	assert.Empty(t, mail.fetchedAddrs)
	stats := p.Snapshot()
	assert.Equal(t, uint64(0), stats.Cycles)
	assert.Equal(t, uint64(1), stats.CycleErrors)
	assert.Equal(t, "connection refused", stats.LastError)
}

func TestPollOnceEnsuresConnectionOncePerCycle(t *testing.T) {
	store := memory.NewStore()
	watermark := time.Now().Add(-time.Minute)
	createActiveMailbox(t, store, "user1", "a1@seveton.site", watermark)
	createActiveMailbox(t, store, "user2", "a2@seveton.site", watermark)

	mail := &fakeMailSource{}
	p := New(store, mail, nil, nil, time.Minute, 5, zap.NewNop())

	p.PollOnce(context.Background())

	assert.Equal(t, 1, mail.ensureCalls)
	assert.Len(t, mail.fetchedAddrs, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	mail := &fakeMailSource{}
	p := New(store, mail, nil, nil, 10*time.Millisecond, 5, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancellation")
	}
	assert.GreaterOrEqual(t, p.Snapshot().Cycles, uint64(1))
}
