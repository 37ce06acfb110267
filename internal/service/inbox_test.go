package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/mailparse"
)

// MockMailSource 模拟邮件会话
type MockMailSource struct {
	mock.Mock
}

func (m *MockMailSource) EnsureConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMailSource) FetchList(recipient string, limit int, since time.Time) ([]*domain.FetchedMessage, error) {
	args := m.Called(recipient, limit, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FetchedMessage), args.Error(1)
}

func (m *MockMailSource) Fetch(uid uint32, recipient string) (*domain.FetchedMessage, error) {
	args := m.Called(uid, recipient)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FetchedMessage), args.Error(1)
}

func (m *MockMailSource) MarkRead(uid uint32) error {
	args := m.Called(uid)
	return args.Error(0)
}

func (m *MockMailSource) Delete(uid uint32) error {
	args := m.Called(uid)
	return args.Error(0)
}

func newTestInbox(t *testing.T) (*InboxService, *MockMailSource, *RegistryService) {
	t.Helper()
	registry, _ := newTestRegistry(t, 10)
	mail := new(MockMailSource)
	files, err := mailparse.NewFileStore(t.TempDir(), time.Hour, 0, mailparse.MimetypeDetector{}, zap.NewNop())
	require.NoError(t, err)
	return NewInboxService(registry, mail, files, 5, zap.NewNop()), mail, registry
}

func TestListInbox(t *testing.T) {
	svc, mail, registry := newTestInbox(t)

	mailbox, err := registry.Provision("user1", "")
	require.NoError(t, err)

	messages := []*domain.FetchedMessage{
		{UID: 12, Sender: "b@example.com", Subject: "Second", ReceivedAt: time.Now()},
		{UID: 11, Sender: "a@example.com", Subject: "First", ReceivedAt: time.Now()},
	}
	mail.On("EnsureConnection").Return(nil)
	mail.On("FetchList", mailbox.Address, 5, mock.AnythingOfType("time.Time")).Return(messages, nil)

	previews, err := svc.ListInbox("user1")
	require.NoError(t, err)
	require.Len(t, previews, 2)
	assert.Equal(t, uint32(12), previews[0].UID)
	assert.Equal(t, "Second", previews[0].Subject)
	assert.Contains(t, previews[0].Text, "Second")
	mail.AssertExpectations(t)
}

func TestListInboxWithoutMailbox(t *testing.T) {
	svc, _, _ := newTestInbox(t)

	_, err := svc.ListInbox("nobody")
	assert.ErrorIs(t, err, ErrNoActiveMailbox)
}

func TestListInboxConnectionFailure(t *testing.T) {
	svc, mail, registry := newTestInbox(t)

	_, err := registry.Provision("user1", "")
	require.NoError(t, err)

	mail.On("EnsureConnection").Return(errors.New("connection refused"))

	_, err = svc.ListInbox("user1")
	assert.Error(t, err)
}

func TestViewMessage(t *testing.T) {
	svc, mail, registry := newTestInbox(t)

	mailbox, err := registry.Provision("user1", "")
	require.NoError(t, err)

	msg := &domain.FetchedMessage{
		UID:       11,
		Sender:    "a@example.com",
		Recipient: mailbox.Address,
		Subject:   "Hello",
		BodyText:  "body text",
	}
	mail.On("EnsureConnection").Return(nil)
	mail.On("Fetch", uint32(11), mailbox.Address).Return(msg, nil)
	mail.On("MarkRead", uint32(11)).Return(nil)

	view, err := svc.ViewMessage("user1", 11)
	require.NoError(t, err)
	assert.Contains(t, view, "Subject: Hello")
	assert.Contains(t, view, "body text")
	mail.AssertExpectations(t)
}

func TestViewMessageMarkReadFailureIgnored(t *testing.T) {
	svc, mail, registry := newTestInbox(t)

	mailbox, err := registry.Provision("user1", "")
	require.NoError(t, err)

	msg := &domain.FetchedMessage{UID: 11, Sender: "a@example.com", Recipient: mailbox.Address, Subject: "Hi", BodyText: "x"}
	mail.On("EnsureConnection").Return(nil)
	mail.On("Fetch", uint32(11), mailbox.Address).Return(msg, nil)
	mail.On("MarkRead", uint32(11)).Return(errors.New("store failed"))

	_, err = svc.ViewMessage("user1", 11)
	assert.NoError(t, err)
}

func TestViewMessageNotFound(t *testing.T) {
	svc, mail, registry := newTestInbox(t)

	mailbox, err := registry.Provision("user1", "")
	require.NoError(t, err)

	mail.On("EnsureConnection").Return(nil)
	mail.On("Fetch", uint32(99), mailbox.Address).Return(nil, errors.New("no such message"))

	_, err = svc.ViewMessage("user1", 99)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDeleteMessage(t *testing.T) {
	svc, mail, registry := newTestInbox(t)

	mailbox, err := registry.Provision("user1", "")
	require.NoError(t, err)

	msg := &domain.FetchedMessage{UID: 11, Recipient: mailbox.Address, Subject: "Bye"}
	mail.On("EnsureConnection").Return(nil)
	mail.On("Fetch", uint32(11), mailbox.Address).Return(msg, nil)
	mail.On("Delete", uint32(11)).Return(nil)

	require.NoError(t, svc.DeleteMessage("user1", 11))
	mail.AssertExpectations(t)
}

func TestDeleteMessageNotFound(t *testing.T) {
	svc, mail, registry := newTestInbox(t)

	mailbox, err := registry.Provision("user1", "")
	require.NoError(t, err)

	mail.On("EnsureConnection").Return(nil)
	mail.On("Fetch", uint32(99), mailbox.Address).Return(nil, errors.New("no such message"))

	err = svc.DeleteMessage("user1", 99)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	mail.AssertNotCalled(t, "Delete", mock.Anything)
}

func TestDownloadAttachment(t *testing.T) {
	svc, mail, registry := newTestInbox(t)

	mailbox, err := registry.Provision("user1", "")
	require.NoError(t, err)

	msg := &domain.FetchedMessage{
		UID:       11,
		Recipient: mailbox.Address,
		Attachments: []*domain.Attachment{
			domain.NewAttachment("report.pdf", "application/pdf", []byte("%PDF-1.4")),
		},
	}
	mail.On("EnsureConnection").Return(nil)
	mail.On("Fetch", uint32(11), mailbox.Address).Return(msg, nil)

	prepared, err := svc.DownloadAttachment("user1", 11, 0)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", prepared.Filename)
	assert.FileExists(t, prepared.Path)

	_, err = svc.DownloadAttachment("user1", 11, 5)
	assert.ErrorIs(t, err, ErrAttachmentNotFound)
}
