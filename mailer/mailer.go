package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"sync"

	"teamspace/config"

	"go.uber.org/zap"
)

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// New returns an SMTP mailer when a host is configured, otherwise one that logs.
func New(cfg config.MailConfig, log *zap.Logger) Mailer {
	if cfg.Host == "" {
		return &LogMailer{log: log}
	}
	return &SMTPMailer{cfg: cfg, log: log}
}

type SMTPMailer struct {
	cfg config.MailConfig
	log *zap.Logger
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := []byte(
		"From: " + m.cfg.From + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
			"\r\n" +
			htmlBody + "\r\n")

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := smtp.SendMail(m.cfg.Host+":"+m.cfg.Port, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	m.log.Info("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// LogMailer writes mail to the log instead of sending it.
type LogMailer struct {
	log *zap.Logger
}

func (m *LogMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.log.Info("mock email", zap.String("to", to), zap.String("subject", subject), zap.String("body", htmlBody))
	return nil
}

// Recorder keeps sent mail in memory. Used by tests.
type Recorder struct {
	mu   sync.Mutex
	Sent []Sent
	Err  error
}

type Sent struct {
	To      string
	Subject string
	Body    string
}

func (r *Recorder) Send(_ context.Context, to, subject, htmlBody string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Sent = append(r.Sent, Sent{To: to, Subject: subject, Body: htmlBody})
	return nil
}

func (r *Recorder) Last() (Sent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Sent) == 0 {
		return Sent{}, false
	}
	return r.Sent[len(r.Sent)-1], true
}

const codeTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <p>{{.Intro}}</p>
  <p style="font-size: 24px; font-weight: bold; letter-spacing: 4px;">{{.Code}}</p>
  <p>This code expires in {{.Minutes}} minutes. If you did not request it, you can ignore this email.</p>
</body>
</html>`

var codeTmpl = template.Must(template.New("code").Parse(codeTemplate))

// RenderCode renders the one-time code email body.
func RenderCode(intro, code string, minutes int) (string, error) {
	var body bytes.Buffer
	err := codeTmpl.Execute(&body, map[string]interface{}{
		"Intro":   intro,
		"Code":    code,
		"Minutes": minutes,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return body.String(), nil
}
