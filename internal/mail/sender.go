package mail

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrNoRecipients は宛先が1件もないメッセージを表します
var ErrNoRecipients = errors.New("mail: no recipients")

// Message は送信する1通のメールです
type Message struct {
	To      []string
	Cc      []string
	Subject string
	HTML    string
}

// Recipients はToとCcを重複なく連結して返します
func (m Message) Recipients() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, addr := range append(append([]string{}, m.To...), m.Cc...) {
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// Sender はメール送信の外部コラボレーターです
// 配送できなかった場合はエラーを返します
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NoOpSender はSMTPが設定されていない環境で送信内容をログに出すだけのSenderです
type NoOpSender struct {
	logger *zap.Logger
}

// NewNoOpSender は新しいNoOpSenderを作成します
func NewNoOpSender(logger *zap.Logger) *NoOpSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoOpSender{logger: logger.Named("mail")}
}

func (s *NoOpSender) Send(ctx context.Context, msg Message) error {
	if len(msg.Recipients()) == 0 {
		return ErrNoRecipients
	}
	s.logger.Info("smtp is not configured, email not delivered",
		zap.Strings("to", msg.To),
		zap.Strings("cc", msg.Cc),
		zap.String("subject", msg.Subject),
	)
	return nil
}
