package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/wneessen/go-mail"
)

const resetSubject = "Reset your password"

//go:embed templates/*.html
var templates embed.FS

var resetTemplate = template.Must(template.ParseFS(templates, "templates/reset_password.html"))

var ErrNotConfigured = errors.New("mail server is not configured")

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer sends password reset links over SMTP. Consecutive delivery failures
// open a circuit breaker so a dead SMTP server does not stall every request.
type Mailer struct {
	cfg     config.MailConfig
	client  sender
	breaker *gobreaker.CircuitBreaker
}

func New(cfg config.MailConfig) (*Mailer, error) {
	if cfg.Server == "" {
		logrus.Warn("SMTP_SERVER is not set, reset mails will not be delivered")
		return newMailer(cfg, nil), nil
	}

	client, err := mail.NewClient(cfg.Server, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return newMailer(cfg, client), nil
}

func newMailer(cfg config.MailConfig, client sender) *Mailer {
	return &Mailer{
		cfg:    cfg,
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "smtp",
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logrus.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Mail circuit breaker changed state")
			},
		}),
	}
}

func clientOptions(cfg config.MailConfig) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
	}

	switch {
	case cfg.SSLTLS:
		opts = append(opts, mail.WithSSL())
	case cfg.StartTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if !cfg.ValidateCerts {
		opts = append(opts, mail.WithTLSConfig(&tls.Config{
			ServerName:         cfg.Server,
			InsecureSkipVerify: true,
		}))
	}

	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return opts
}

// SendResetLink mails the reset link for token to email and reports whether
// the message was handed to the SMTP server.
func (m *Mailer) SendResetLink(ctx context.Context, email, token string) bool {
	if err := m.send(ctx, email, token); err != nil {
		logrus.WithError(err).WithField("recipient", email).Error("Failed to send reset mail")
		return false
	}
	logrus.WithField("recipient", email).Info("Reset mail sent")
	return true
}

func (m *Mailer) send(ctx context.Context, email, token string) error {
	if m.client == nil {
		return ErrNotConfigured
	}

	msg, err := m.buildResetMessage(email, token)
	if err != nil {
		return err
	}

	_, err = m.breaker.Execute(func() (interface{}, error) {
		return nil, m.client.DialAndSendWithContext(ctx, msg)
	})
	return err
}

func (m *Mailer) buildResetMessage(email, token string) (*mail.Msg, error) {
	body, err := renderResetBody(email, m.cfg.ResetLink(token))
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(email); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(resetSubject)
	msg.SetBodyString(mail.TypeTextHTML, body)
	return msg, nil
}

func renderResetBody(email, link string) (string, error) {
	var buf bytes.Buffer
	err := resetTemplate.Execute(&buf, struct {
		Email string
		Link  string
	}{Email: email, Link: link})
	if err != nil {
		return "", fmt.Errorf("failed to render reset mail: %w", err)
	}
	return buf.String(), nil
}
