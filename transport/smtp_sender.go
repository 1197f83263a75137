package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-ticketmail/core"
	"github.com/goliatone/go-ticketmail/mimemsg"
)

const implicitTLSPort = 465

type SMTPOption func(*SMTPSender)

func WithSMTPTLSConfig(cfg *tls.Config) SMTPOption {
	return func(s *SMTPSender) {
		s.tlsConfig = cfg
	}
}

func WithSMTPDialer(dialer *net.Dialer) SMTPOption {
	return func(s *SMTPSender) {
		if dialer != nil {
			s.dialer = dialer
		}
	}
}

func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(s *SMTPSender) {
		if now != nil {
			s.now = now
		}
	}
}

// SMTPSender delivers messages to one relay. Port 465 uses implicit TLS;
// other ports upgrade with STARTTLS when enabled and offered.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	startTLS  bool
	from      core.EmailAddress
	tlsConfig *tls.Config
	dialer    *net.Dialer
	now       func() time.Time
}

func NewSMTPSender(cfg core.OutboundConfig, opts ...SMTPOption) (*SMTPSender, error) {
	host := strings.TrimSpace(cfg.SMTP.Host)
	if host == "" {
		return nil, core.NewConfigurationError("smtp host is required")
	}
	if cfg.SMTP.Port <= 0 || cfg.SMTP.Port > 65535 {
		return nil, core.NewConfigurationError("smtp port is invalid")
	}
	if strings.TrimSpace(cfg.FromAddress) == "" {
		return nil, core.NewConfigurationError("outbound from_address is required")
	}
	sender := &SMTPSender{
		host:     host,
		port:     cfg.SMTP.Port,
		username: strings.TrimSpace(cfg.SMTP.Username),
		password: cfg.SMTP.Password,
		startTLS: cfg.SMTP.StartTLS,
		from:     core.EmailAddress{Address: strings.TrimSpace(cfg.FromAddress), Name: cfg.FromName},
		dialer:   &net.Dialer{Timeout: 30 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sender)
		}
	}
	return sender, nil
}

func (s *SMTPSender) Kind() string { return KindSMTP }

// Send returns the Message-ID of the delivered message.
func (s *SMTPSender) Send(ctx context.Context, msg core.OutgoingMessage) (string, error) {
	if s == nil {
		return "", transportError("transport: smtp sender is nil", goerrors.CategoryInternal, 500, nil)
	}
	if strings.TrimSpace(msg.From.Address) == "" {
		msg.From = s.from
	}
	recipients := mimemsg.Recipients(msg.To)
	if len(recipients) == 0 {
		return "", transportError("transport: at least one recipient is required", goerrors.CategoryBadInput, 400, nil)
	}
	raw, err := mimemsg.Compose(msg, s.now().UTC())
	if err != nil {
		return "", transportWrapError(err, goerrors.CategoryBadInput, "transport: compose message", 400, nil)
	}

	client, err := s.connect(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Close() }()

	if err := s.deliver(client, msg.From.Address, recipients, raw); err != nil {
		return "", err
	}
	_ = client.Quit()
	return msg.MessageID, nil
}

func (s *SMTPSender) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, transportWrapError(err, goerrors.CategoryExternal, "transport: smtp dial failed", 502, map[string]any{
			"address":   addr,
			"retryable": true,
		})
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if s.port == implicitTLSPort {
		conn = tls.Client(conn, s.clientTLSConfig())
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return nil, s.protocolError("greeting", err)
	}
	if s.startTLS && s.port != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(s.clientTLSConfig()); err != nil {
				_ = client.Close()
				return nil, s.protocolError("starttls", err)
			}
		}
	}
	if s.username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			_ = client.Close()
			return nil, transportWrapError(err, goerrors.CategoryAuth, "transport: smtp authentication failed", 401, map[string]any{
				"retryable": false,
			})
		}
	}
	return client, nil
}

func (s *SMTPSender) deliver(client *smtp.Client, from string, recipients []string, raw []byte) error {
	if err := client.Mail(from); err != nil {
		return s.protocolError("mail_from", err)
	}
	for _, recipient := range recipients {
		if err := client.Rcpt(recipient); err != nil {
			return s.protocolError("rcpt_to", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return s.protocolError("data", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return s.protocolError("data", err)
	}
	if err := w.Close(); err != nil {
		return s.protocolError("data", err)
	}
	return nil
}

func (s *SMTPSender) clientTLSConfig() *tls.Config {
	if s.tlsConfig != nil {
		return s.tlsConfig
	}
	return &tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12}
}

// protocolError maps SMTP replies onto the error envelope: 4yz replies are
// transient, 5yz are permanent.
func (s *SMTPSender) protocolError(stage string, err error) error {
	metadata := map[string]any{"stage": stage, "host": s.host}
	var reply *textproto.Error
	if errors.As(err, &reply) {
		metadata["smtp_code"] = reply.Code
		metadata["retryable"] = reply.Code >= 400 && reply.Code < 500
		return transportWrapError(err, goerrors.CategoryExternal,
			fmt.Sprintf("transport: smtp %s rejected (%d)", stage, reply.Code), 502, metadata)
	}
	metadata["retryable"] = core.IsRetryable(err)
	return transportWrapError(err, goerrors.CategoryExternal, "transport: smtp "+stage+" failed", 502, metadata)
}

var _ Sender = (*SMTPSender)(nil)
