package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// ErrNoRecipients is returned when none of a message's recipients resolve to an address.
var ErrNoRecipients = errors.New("no resolvable recipients")

// SMTPConfig holds mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier sends messages as multipart email.
type SMTPNotifier struct {
	cfg       SMTPConfig
	directory *Directory
	logger    *slog.Logger
}

// NewSMTPNotifier creates a notifier that resolves recipients through directory.
func NewSMTPNotifier(cfg SMTPConfig, directory *Directory, logger *slog.Logger) (*SMTPNotifier, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is empty")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address is empty")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPNotifier{cfg: cfg, directory: directory, logger: logger}, nil
}

// Send delivers msg. Unknown recipients are logged and skipped.
func (s *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	to, unknown := s.directory.Resolve(msg.To)
	if len(unknown) > 0 {
		s.logger.Warn("recipients missing from directory", "names", unknown, "subject", msg.Subject)
	}
	if len(to) == 0 {
		return ErrNoRecipients
	}

	m, err := buildMessage(s.cfg.From, to, msg, time.Now())
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send to %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	return nil
}

func (s *SMTPNotifier) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password))
	}
	return opts
}

// buildMessage assembles a text message with an optional HTML alternative.
func buildMessage(from string, to []string, msg Message, at time.Time) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("smtp from %q: %w", from, err)
	}
	if err := m.To(to...); err != nil {
		return nil, fmt.Errorf("smtp recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(at)
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}
