package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/dom/pickup-match/internal/config"
	"github.com/dom/pickup-match/internal/domain"
	"github.com/dom/pickup-match/internal/metrics"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

const queueSize = 100

// ErrQueueFull is returned when the outgoing queue cannot take more mail.
var ErrQueueFull = errors.New("mail queue is full")

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Email represents an email message.
type Email struct {
	To      []string
	Subject string
	Body    string
}

// Mailer sends mail from a background queue so request handlers never wait
// on SMTP.
type Mailer struct {
	sender  Sender
	from    string
	baseURL string
	queue   chan Email
	logger  zerolog.Logger
}

// New builds a mailer that dials the configured SMTP server.
func New(cfg *config.Config, logger zerolog.Logger) *Mailer {
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	return NewWithSender(dialer, cfg.MailFrom, cfg.AppBaseURL, logger)
}

func NewWithSender(sender Sender, from, baseURL string, logger zerolog.Logger) *Mailer {
	return &Mailer{
		sender:  sender,
		from:    from,
		baseURL: baseURL,
		queue:   make(chan Email, queueSize),
		logger:  logger.With().Str("component", "mailer").Logger(),
	}
}

// Run delivers queued mail until ctx is cancelled.
func (m *Mailer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case email := <-m.queue:
			if err := m.Send(email); err != nil {
				metrics.MailsSent.WithLabelValues("failure").Inc()
				m.logger.Error().Err(err).Strs("to", email.To).Str("subject", email.Subject).Msg("failed to send email")
				continue
			}
			metrics.MailsSent.WithLabelValues("success").Inc()
		}
	}
}

// Enqueue schedules email for delivery without blocking.
func (m *Mailer) Enqueue(email Email) error {
	if len(email.To) == 0 {
		return fmt.Errorf("no recipients specified")
	}
	select {
	case m.queue <- email:
		return nil
	default:
		return ErrQueueFull
	}
}

// Send delivers a single email synchronously.
func (m *Mailer) Send(email Email) error {
	if len(email.To) == 0 {
		return fmt.Errorf("no recipients specified")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email.To...)
	msg.SetHeader("Subject", email.Subject)

	msg.SetBody("text/plain", email.Body)

	return m.sender.DialAndSend(msg)
}

// SendVerification queues the address-confirmation mail for a new account.
func (m *Mailer) SendVerification(_ context.Context, user *domain.User, token string) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", m.baseURL, url.QueryEscape(token))
	return m.Enqueue(Email{
		To:      []string{user.Email},
		Subject: "Confirm your email address",
		Body: fmt.Sprintf("Hi %s,\n\nConfirm your email address by opening the link below:\n\n%s\n",
			user.DisplayName, link),
	})
}
