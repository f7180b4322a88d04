package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/database"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/mail"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/repository"
)

// MockSender は送信したメッセージを記録するテスト用のSenderです
type MockSender struct {
	mu       sync.Mutex
	messages []mail.Message
	err      error
}

func (m *MockSender) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return m.err
}

func newTestService(t *testing.T, sender mail.Sender) (*Service, *repository.DispatchRepositoryImpl) {
	t.Helper()

	conn, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, database.Migrate(conn))

	renderer, err := mail.NewRenderer(nil)
	require.NoError(t, err)

	repo := repository.NewDispatchRepository(repository.NewDB(conn))
	s := NewService(repo, sender, renderer, []string{"admin@example.com"}, nil, zap.NewNop())
	return s, repo
}

func newTestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, seg := xray.BeginSegment(context.Background(), t.Name())
	t.Cleanup(func() { seg.Close(nil) })
	return ctx
}

func checkoutPayload(now time.Time) model.CheckoutPayload {
	return model.CheckoutPayload{
		CheckoutID:   "CO-1",
		AssetName:    "Canon EOS R5",
		AssetIDs:     []string{"A1"},
		PersonName:   "John Smith",
		PersonEmail:  "john@example.com",
		CheckoutTime: now,
	}
}

func TestService_Notify(t *testing.T) {
	ctx := newTestContext(t)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		sendErr    error
		wantStatus model.DispatchStatus
		wantErr    bool
	}{
		{name: "送信成功", wantStatus: model.DispatchStatusSent},
		{name: "送信失敗", sendErr: errors.New("smtp: 421 service not available"), wantStatus: model.DispatchStatusFailed, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &MockSender{err: tt.sendErr}
			s, repo := newTestService(t, sender)
			s.now = func() time.Time { return now }

			msg, isAdmin := s.ConfirmationMessage("john@example.com", "Checkout Confirmation: Canon EOS R5", "<p>hi</p>")
			assert.False(t, isAdmin)

			id, err := s.Notify(ctx, Notification{
				EventType: model.EventTypeCheckout,
				EventID:   "CO-1",
				Message:   msg,
				Payload:   checkoutPayload(now),
			})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.NotZero(t, id)

			require.Len(t, sender.messages, 1)
			assert.Equal(t, []string{"john@example.com"}, sender.messages[0].To)
			assert.Equal(t, []string{"admin@example.com"}, sender.messages[0].Cc)

			record, err := repo.GetByID(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, record.Status)
			assert.Equal(t, "john@example.com", record.Recipient)
			assert.False(t, record.NeedsManualSend)
			if tt.sendErr != nil {
				assert.Equal(t, tt.sendErr.Error(), record.ErrorMessage)
			}
		})
	}
}

func TestService_Skip(t *testing.T) {
	ctx := newTestContext(t)
	sender := &MockSender{}
	s, repo := newTestService(t, sender)
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	id, err := s.Skip(ctx, Notification{
		EventType: model.EventTypeCheckout,
		EventID:   "CO-1",
		Message:   mail.Message{To: []string{"john@example.com"}, Subject: "Checkout Confirmation: Canon EOS R5"},
		Payload:   checkoutPayload(now),
	})
	require.NoError(t, err)
	assert.Empty(t, sender.messages)

	record, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.DispatchStatusSkipped, record.Status)
	assert.True(t, record.NeedsManualSend)
}

func TestService_ConfirmationMessageWithoutEmail(t *testing.T) {
	s, _ := newTestService(t, &MockSender{})

	msg, isAdmin := s.ConfirmationMessage("", "subject", "<p>hi</p>")
	assert.True(t, isAdmin)
	assert.Equal(t, []string{"admin@example.com"}, msg.To)
	assert.Empty(t, msg.Cc)
}

func TestService_Resend(t *testing.T) {
	ctx := newTestContext(t)
	sender := &MockSender{}
	s, repo := newTestService(t, sender)
	first := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	later := first.Add(26 * time.Hour)

	// 古い貸出でスキップされた履歴を再送する
	s.now = func() time.Time { return first }
	originalID, err := s.Skip(ctx, Notification{
		EventType: model.EventTypeCheckout,
		EventID:   "CO-1",
		Message:   mail.Message{To: []string{"john@example.com"}, Subject: "Checkout Confirmation: Canon EOS R5"},
		Payload:   checkoutPayload(first),
	})
	require.NoError(t, err)

	s.now = func() time.Time { return later }
	resent, err := s.Resend(ctx, originalID)
	require.NoError(t, err)

	assert.NotEqual(t, originalID, resent.ID)
	assert.Equal(t, "CO-1", resent.EventID)
	assert.Equal(t, model.EventTypeCheckout, resent.EventType)
	assert.Equal(t, model.DispatchStatusSent, resent.Status)
	assert.False(t, resent.NeedsManualSend)
	assert.True(t, resent.SentAt.Equal(later))

	require.Len(t, sender.messages, 1)
	assert.Equal(t, "Checkout Confirmation: Canon EOS R5", sender.messages[0].Subject)
	assert.Contains(t, sender.messages[0].HTML, "John Smith")
	assert.Equal(t, []string{"john@example.com"}, sender.messages[0].To)

	// 元の履歴は変わらない
	original, err := repo.GetByID(ctx, originalID)
	require.NoError(t, err)
	assert.Equal(t, model.DispatchStatusSkipped, original.Status)
	assert.True(t, original.NeedsManualSend)
	assert.True(t, original.SentAt.Equal(first))
}

func TestService_ResendKeepsLateFlag(t *testing.T) {
	ctx := newTestContext(t)
	sender := &MockSender{}
	s, _ := newTestService(t, sender)
	first := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	// 延滞通知として送った履歴を再送しても延滞のまま記録する
	id, err := s.Notify(ctx, Notification{
		EventType: model.EventTypeCheckout,
		EventID:   "CO-1",
		Message:   mail.Message{To: []string{"john@example.com"}, Subject: "Late Notice: Canon EOS R5"},
		Payload:   checkoutPayload(first),
		IsLate:    true,
	})
	require.NoError(t, err)

	resent, err := s.Resend(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, id, resent.ID)
	assert.True(t, resent.IsLate)
	assert.False(t, resent.IsAdmin)
}

func TestService_ResendAdminEvent(t *testing.T) {
	ctx := newTestContext(t)
	sender := &MockSender{}
	s, _ := newTestService(t, sender)

	id, err := s.Notify(ctx, Notification{
		EventType: model.EventTypeRepair,
		EventID:   "R-1",
		Message:   s.AdminMessage("Repair Notification: Drone", "<p>repair</p>"),
		Payload:   model.RepairPayload{RepairID: "R-1", AssetID: "A3", AssetName: "Drone", Status: "open"},
		IsAdmin:   true,
	})
	require.NoError(t, err)

	resent, err := s.Resend(ctx, id)
	require.NoError(t, err)
	assert.True(t, resent.IsAdmin)
	require.Len(t, sender.messages, 2)
	assert.Equal(t, []string{"admin@example.com"}, sender.messages[1].To)
	assert.Equal(t, "Repair Notification: Drone", sender.messages[1].Subject)
}

func TestService_ResendErrors(t *testing.T) {
	ctx := newTestContext(t)
	s, repo := newTestService(t, &MockSender{})

	unknownID, err := repo.Insert(ctx, &model.DispatchRecord{
		EventType:  model.EventType("pickup"),
		EventID:    "P-1",
		Recipient:  "admin@example.com",
		Subject:    "pickup",
		Status:     model.DispatchStatusSent,
		RawPayload: []byte(`{}`),
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      int64
		wantErr error
	}{
		{name: "存在しないID", id: 9999, wantErr: ErrRecordNotFound},
		{name: "未知のイベント種別", id: unknownID, wantErr: ErrUnknownEventType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Resend(ctx, tt.id)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestService_List(t *testing.T) {
	ctx := newTestContext(t)
	s, _ := newTestService(t, &MockSender{})
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"CO-1", "CO-2"} {
		s.now = func() time.Time { return now.Add(time.Duration(i) * time.Minute) }
		p := checkoutPayload(now)
		p.CheckoutID = id
		_, err := s.Skip(ctx, Notification{
			EventType: model.EventTypeCheckout,
			EventID:   id,
			Message:   mail.Message{To: []string{"john@example.com"}, Subject: "s"},
			Payload:   p,
		})
		require.NoError(t, err)
	}

	records, err := s.List(ctx, repository.DispatchFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "CO-2", records[0].EventID)

	payload, ok := records[0].Payload.(model.CheckoutPayload)
	require.True(t, ok)
	assert.Equal(t, "CO-2", payload.CheckoutID)
}
