package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/utils"
)

// SMTPConfig はSMTP送信の設定です
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender はnet/smtpでメールを送信します
type SMTPSender struct {
	cfg      SMTPConfig
	timeout  time.Duration
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPSender は新しいSMTPSenderを作成します
// timeoutは1通あたりの送信の上限です
func NewSMTPSender(cfg SMTPConfig, timeout time.Duration) *SMTPSender {
	return &SMTPSender{
		cfg:      cfg,
		timeout:  timeout,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Send はメールを送信します
// smtp.SendMailはcontextを受け取らないので、タイムアウトしたら待たずにエラーを返します
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	recipients := msg.Recipients()
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	body, err := s.buildMessage(msg)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	return utils.CallWithTimeout(ctx, s.timeout, func(ctx context.Context) error {
		done := make(chan error, 1)
		go func() {
			done <- s.sendMail(addr, auth, s.cfg.From, recipients, body)
		}()

		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("smtp send to %s: %w", strings.Join(recipients, ","), err)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (s *SMTPSender) buildMessage(msg Message) ([]byte, error) {
	from := mail.Address{Name: s.cfg.FromName, Address: s.cfg.From}

	var buf bytes.Buffer
	writeHeader := func(key, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
	}

	writeHeader("From", from.String())
	if len(msg.To) > 0 {
		writeHeader("To", strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		writeHeader("Cc", strings.Join(msg.Cc, ", "))
	}
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Date", s.now().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", `text/html; charset="UTF-8"`)
	buf.WriteString("\r\n")
	buf.WriteString(msg.HTML)

	return buf.Bytes(), nil
}
