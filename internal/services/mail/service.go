// Package mail sends the end-of-run summary mail. Messages are buffered
// during the run and flushed once as a single message at shutdown.
package mail

import (
	"context"
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/rs/zerolog"
)

// Sender delivers one composed message. Injectable for tests.
type Sender interface {
	Send(ctx context.Context, cfg models.MailConfig, subject, body string) error
}

// SMTPSender sends mail through wneessen/go-mail.
type SMTPSender struct{}

// Send composes and delivers the message over SMTP.
func (s *SMTPSender) Send(ctx context.Context, cfg models.MailConfig, subject, body string) error {
	msg := gomail.NewMsg()
	if err := msg.From(cfg.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(cfg.To...); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	opts := []gomail.Option{
		gomail.WithPort(cfg.SMTPPort),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}

	return client.DialAndSendWithContext(ctx, msg)
}

// Notifier accumulates summary lines during a run.
type Notifier struct {
	cfg    *models.MailConfig // nil disables buffering and sending
	sender Sender
	lines  []string
	errors int
	logger zerolog.Logger
}

// NewNotifier creates a buffered notifier. A nil config yields a no-op
// notifier so callers never need to branch.
func NewNotifier(cfg *models.MailConfig, logger zerolog.Logger) *Notifier {
	return NewNotifierWithSender(cfg, &SMTPSender{}, logger)
}

// NewNotifierWithSender creates a notifier with a custom sender (for testing).
func NewNotifierWithSender(cfg *models.MailConfig, sender Sender, logger zerolog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		sender: sender,
		logger: logger,
	}
}

// Enabled reports whether mail reporting is configured.
func (n *Notifier) Enabled() bool { return n.cfg != nil }

// Append records one summary line.
func (n *Notifier) Append(format string, args ...any) {
	if n.cfg == nil {
		return
	}
	n.lines = append(n.lines, fmt.Sprintf(format, args...))
}

// AppendError records one failure line; failures change the subject line.
func (n *Notifier) AppendError(format string, args ...any) {
	if n.cfg == nil {
		return
	}
	n.errors++
	n.lines = append(n.lines, "ERROR: "+fmt.Sprintf(format, args...))
}

// Flush sends everything accumulated so far as one message.
func (n *Notifier) Flush(ctx context.Context, hostname string) {
	if n.cfg == nil || len(n.lines) == 0 {
		return
	}

	subject := fmt.Sprintf("sysbackup on %s: ok", hostname)
	if n.errors > 0 {
		subject = fmt.Sprintf("sysbackup on %s: %d error(s)", hostname, n.errors)
	}

	if err := n.sender.Send(ctx, *n.cfg, subject, strings.Join(n.lines, "\n")+"\n"); err != nil {
		n.logger.Error().Err(err).Msg("failed to send summary mail")
		return
	}

	n.logger.Info().Int("lines", len(n.lines)).Msg("summary mail sent")
	n.lines = nil
	n.errors = 0
}
