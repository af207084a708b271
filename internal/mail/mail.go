package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Email struct {
	Name    string
	To      string
	Subject string
	Plain   string
	Html    string
}

type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// SendGridMailer delivers through the SendGrid v3 API.
type SendGridMailer struct {
	client   *sendgrid.Client
	fromName string
	fromAddr string
}

func NewSendGridMailer(apiKey, fromName, fromAddr string) *SendGridMailer {
	return &SendGridMailer{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		fromAddr: fromAddr,
	}
}

func (m *SendGridMailer) Send(ctx context.Context, email Email) error {
	from := sgmail.NewEmail(m.fromName, m.fromAddr)
	to := sgmail.NewEmail(email.Name, email.To)
	message := sgmail.NewSingleEmail(from, email.Subject, to, email.Plain, email.Html)

	res, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

// LogMailer only logs messages. Used when no SendGrid key is configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, email Email) error {
	slog.InfoContext(ctx, "Mail not sent, no provider configured", "to", email.To, "subject", email.Subject, "body", email.Plain)
	return nil
}

// New picks SendGrid when apiKey is set and logging otherwise.
func New(apiKey, fromName, fromAddr string) Mailer {
	if apiKey == "" {
		return LogMailer{}
	}
	return NewSendGridMailer(apiKey, fromName, fromAddr)
}

// PasswordResetEmail builds the message carrying a reset link for token.
func PasswordResetEmail(to, resetURL, token string) Email {
	link := resetURL + "?token=" + url.QueryEscape(token)
	return Email{
		Name:    to,
		To:      to,
		Subject: "Reset your Crystal password",
		Plain:   fmt.Sprintf("Follow this link to choose a new password: %s\nThe link expires in one hour.\n", link),
		Html:    fmt.Sprintf(`<p>Follow <a href="%s">this link</a> to choose a new password.</p><p>The link expires in one hour.</p>`, link),
	}
}
