package notify

import (
	"bytes"
	"context"

	"stall-service/internal/util"

	"github.com/pkg/errors"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Message is one outgoing e-mail
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	Inline   []Inline
}

// Inline is a file embedded in the mail and referenced from the body as cid:<Name>.
// The extension of Name decides its content type.
type Inline struct {
	Name string
	Data []byte
}

// Mailer delivers e-mail
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures SMTPMailer
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers mail through an SMTP relay
type SMTPMailer struct {
	client *mail.Client
	from   string
}

// NewSMTPMailer creates a mailer for cfg. Authentication is used only when a
// username is set.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create smtp client")
	}
	return &SMTPMailer{client: client, from: cfg.From}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	email, err := m.compose(msg)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, email); err != nil {
		return errors.Wrap(err, "failed to send mail")
	}
	return nil
}

func (m *SMTPMailer) compose(msg Message) (*mail.Msg, error) {
	email := mail.NewMsg()
	if err := email.From(m.from); err != nil {
		return nil, errors.Wrap(err, "invalid sender address")
	}
	if err := email.To(msg.To); err != nil {
		return nil, errors.Wrapf(err, "invalid recipient address %q", msg.To)
	}
	email.Subject(msg.Subject)
	email.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)

	for _, in := range msg.Inline {
		if err := email.EmbedReader(in.Name, bytes.NewReader(in.Data)); err != nil {
			return nil, errors.Wrapf(err, "failed to embed %s", in.Name)
		}
	}
	return email, nil
}

// LogMailer only logs what it would send. Used when no SMTP host is configured.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer() *LogMailer {
	return &LogMailer{logger: util.GetLogger()}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.Info("Mail delivery disabled, dropping message",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("inline_files", len(msg.Inline)))
	return nil
}
