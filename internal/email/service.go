package email

import (
	"context"
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/sportadm/events-api/internal/service/dispatch"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender delivers EMAIL-channel posts over SMTP. Targets are plain addresses;
// the post title becomes the subject and the body the message text, with the
// announcement link appended when present.
type Sender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSender(cfg Config) *Sender {
	return &Sender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *Sender) Send(_ context.Context, target, text string, pres *dispatch.Presentation) error {
	subject := text
	body := text
	// First line doubles as the subject.
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			subject = text[:i]
			break
		}
	}
	if pres != nil && pres.LinkURL != "" {
		body = fmt.Sprintf("%s\n\n%s", body, pres.LinkURL)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", target)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}
