// Package mail delivers transactional email. Delivery always happens
// after the issuing transaction has committed and a failure is logged,
// never surfaced to the request that triggered it.
package mail

import (
	"fmt"
	"net/smtp"

	"github.com/campus-board/community-auth-backend/internal/config"
)

type Mailer interface {
	SendEmail(to, subject, body string) error
}

type smtpMailer struct {
	host     string
	port     string
	from     string
	username string
	password string
}

func NewSMTPMailer(cfg config.SMTPConfig) Mailer {
	return &smtpMailer{
		host:     cfg.Host,
		port:     cfg.Port,
		from:     cfg.From,
		username: cfg.Username,
		password: cfg.Password,
	}
}

func (m *smtpMailer) SendEmail(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg))
}

// OtpMessage renders the signup verification mail. The code appears
// only here and in the SMTP channel, never in storage or logs.
func OtpMessage(to, code string) Message {
	return Message{
		To:      to,
		Subject: "Your verification code",
		Body:    fmt.Sprintf("Your verification code is %s.\r\n\r\nIt expires shortly. If you did not request it, ignore this mail.", code),
	}
}
