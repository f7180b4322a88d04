// Package dispatch は通知メールの送信と監査ログ(送信履歴)への記録、再送を担当します
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/mail"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/metrics"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/repository"
)

var (
	// ErrRecordNotFound は再送対象の送信履歴が存在しないことを表します
	ErrRecordNotFound = errors.New("dispatch record not found")
	// ErrUnknownEventType は再送用のテンプレートがないイベント種別を表します
	ErrUnknownEventType = model.ErrUnknownEventType
)

// Notification は送信または記録する1件の通知です
type Notification struct {
	EventType model.EventType
	EventID   string
	Message   mail.Message
	Payload   model.Payload
	IsAdmin   bool
	IsLate    bool
}

// Service は送信履歴の書き込みを一手に担います
type Service struct {
	repo     repository.DispatchRepository
	sender   mail.Sender
	renderer *mail.Renderer
	admins   []string
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewService は新しいServiceを作成します
func NewService(
	repo repository.DispatchRepository,
	sender mail.Sender,
	renderer *mail.Renderer,
	admins []string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		sender:   sender,
		renderer: renderer,
		admins:   admins,
		metrics:  m,
		logger:   logger.Named("dispatch"),
		now:      time.Now,
	}
}

// Renderer はメールテンプレートを返します
func (s *Service) Renderer() *mail.Renderer {
	return s.renderer
}

// ConfirmationMessage は利用者宛の確認メールを組み立てます
// 利用者のアドレスがない場合は管理者宛にし、isAdminをtrueで返します
func (s *Service) ConfirmationMessage(personEmail, subject, html string) (mail.Message, bool) {
	if personEmail == "" {
		return s.AdminMessage(subject, html), true
	}
	return mail.Message{
		To:      []string{personEmail},
		Cc:      s.admins,
		Subject: subject,
		HTML:    html,
	}, false
}

// AdminMessage は管理者宛のメールを組み立てます
func (s *Service) AdminMessage(subject, html string) mail.Message {
	return mail.Message{
		To:      s.admins,
		Subject: subject,
		HTML:    html,
	}
}

// Record は送信履歴を1件追記してIDを返します
func (s *Service) Record(ctx context.Context, record *model.DispatchRecord) (int64, error) {
	if record.Payload == nil && len(record.RawPayload) == 0 {
		return 0, fmt.Errorf("dispatch record for %s %s has no payload", record.EventType, record.EventID)
	}
	if record.SentAt.IsZero() {
		record.SentAt = s.now()
	}

	id, err := s.repo.Insert(ctx, record)
	if err != nil {
		return 0, fmt.Errorf("failed to record dispatch for %s %s: %w", record.EventType, record.EventID, err)
	}

	s.metrics.IncDispatch(string(record.EventType), string(record.Status))
	return id, nil
}

// Notify はメールを送信し、結果をsentまたはfailedとして記録します
// 送信に失敗した場合もfailedの履歴を残したうえで送信エラーを返します
func (s *Service) Notify(ctx context.Context, n Notification) (int64, error) {
	sendErr := s.sender.Send(ctx, n.Message)

	record := s.newRecord(n)
	record.Status = model.DispatchStatusSent
	if sendErr != nil {
		record.Status = model.DispatchStatusFailed
		record.ErrorMessage = sendErr.Error()
	}

	logger := s.logger.With(
		zap.String("event_type", string(n.EventType)),
		zap.String("event_id", n.EventID),
		zap.String("recipient", record.Recipient),
		zap.String("subject", n.Message.Subject),
	)

	id, recErr := s.Record(ctx, record)
	if recErr != nil {
		logger.Error("failed to write dispatch record", zap.Error(recErr))
	}

	if sendErr != nil {
		logger.Warn("email send failed", zap.Int64("record_id", id), zap.Error(sendErr))
		return id, errors.Join(fmt.Errorf("send %s %s: %w", n.EventType, n.EventID, sendErr), recErr)
	}

	logger.Info("email sent", zap.Int64("record_id", id))
	return id, recErr
}

// Skip は送信せずに手動送信が必要な履歴として記録します
func (s *Service) Skip(ctx context.Context, n Notification) (int64, error) {
	record := s.newRecord(n)
	record.Status = model.DispatchStatusSkipped
	record.NeedsManualSend = true

	id, err := s.Record(ctx, record)
	if err != nil {
		return 0, err
	}

	s.logger.Info("email skipped, manual send required",
		zap.String("event_type", string(n.EventType)),
		zap.String("event_id", n.EventID),
		zap.String("recipient", record.Recipient),
		zap.Int64("record_id", id),
	)
	return id, nil
}

// Resend は保存したペイロードから確認メールを組み立て直して送信し、新しい履歴として追記します
// 元の履歴は変更しません
func (s *Service) Resend(ctx context.Context, id int64) (*model.DispatchRecord, error) {
	original, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
		}
		return nil, err
	}

	if err := original.DecodePayload(); err != nil {
		return nil, fmt.Errorf("resend %d: %w", id, err)
	}

	subject, html, err := s.renderer.Render(original.Payload)
	if err != nil {
		return nil, fmt.Errorf("resend %d: %w", id, err)
	}

	var (
		msg     mail.Message
		isAdmin bool
	)
	switch p := original.Payload.(type) {
	case model.CheckoutPayload:
		msg, isAdmin = s.ConfirmationMessage(p.PersonEmail, subject, html)
	case model.ReservationPayload:
		msg, isAdmin = s.ConfirmationMessage(p.PersonEmail, subject, html)
	default:
		msg, isAdmin = s.AdminMessage(subject, html), true
	}

	n := Notification{
		EventType: original.EventType,
		EventID:   original.EventID,
		Message:   msg,
		Payload:   original.Payload,
		IsAdmin:   isAdmin,
		IsLate:    original.IsLate,
	}
	newID, err := s.Notify(ctx, n)
	if newID == 0 {
		return nil, err
	}

	record, getErr := s.repo.GetByID(ctx, newID)
	if getErr != nil {
		return nil, errors.Join(err, getErr)
	}
	s.logger.Info("email resent",
		zap.Int64("original_id", id),
		zap.Int64("record_id", newID),
		zap.String("status", string(record.Status)),
	)
	return record, err
}

// List は送信履歴を新しい順に返します
// ペイロードを復元できないレコードもそのまま返します
func (s *Service) List(ctx context.Context, filter repository.DispatchFilter) ([]model.DispatchRecord, error) {
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if err := records[i].DecodePayload(); err != nil {
			s.logger.Warn("failed to decode dispatch payload",
				zap.Int64("record_id", records[i].ID),
				zap.String("event_type", string(records[i].EventType)),
				zap.Error(err),
			)
		}
	}
	return records, nil
}

func (s *Service) newRecord(n Notification) *model.DispatchRecord {
	return &model.DispatchRecord{
		EventType: n.EventType,
		EventID:   n.EventID,
		Recipient: strings.Join(n.Message.To, ", "),
		Subject:   n.Message.Subject,
		SentAt:    s.now(),
		IsAdmin:   n.IsAdmin,
		IsLate:    n.IsLate,
		Payload:   n.Payload,
	}
}
