package external

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mealreminder/internal/types"
)

const (
	// DefaultSMTPHost is Gmail's submission host.
	DefaultSMTPHost = "smtp.gmail.com"
	// DefaultSMTPPort is the STARTTLS submission port.
	DefaultSMTPPort = 587
	// implicitTLSPort is the SMTPS port where TLS starts before the greeting.
	implicitTLSPort = 465

	defaultSMTPTimeout = 30 * time.Second
)

// SMTPClientConfig holds SMTP connection settings.
type SMTPClientConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// RequireTLS refuses to authenticate over a connection that could not be
	// upgraded with STARTTLS.
	RequireTLS bool
	Timeout    time.Duration
	TLSConfig  *tls.Config
	Logger     *slog.Logger
}

// SMTPClient implements EmailProvider over authenticated SMTP. Each Verify and
// Send opens its own connection; nothing is pooled between calls.
type SMTPClient struct {
	cfg    SMTPClientConfig
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	now    func() time.Time
	logger *slog.Logger
}

// NewSMTPClient creates an SMTPClient, defaulting to Gmail on port 587.
func NewSMTPClient(cfg SMTPClientConfig) *SMTPClient {
	if cfg.Host == "" {
		cfg.Host = DefaultSMTPHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultSMTPPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &SMTPClient{cfg: cfg, now: time.Now, logger: logger}
	d := &net.Dialer{Timeout: cfg.Timeout}
	if cfg.Port == implicitTLSPort {
		td := &tls.Dialer{NetDialer: d, Config: cfg.TLSConfig}
		c.dial = td.DialContext
	} else {
		c.dial = d.DialContext
	}
	return c
}

// Verify connects, upgrades to TLS, authenticates and quits.
func (c *SMTPClient) Verify(ctx context.Context) error {
	client, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Quit(); err != nil {
		return smtpError("QUIT", err)
	}
	return nil
}

// Send delivers a multipart/alternative message and returns its Message-ID.
func (c *SMTPClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	messageID := newMessageID(input.From.Address)
	msg, err := buildMIMEMessage(input, messageID, c.now())
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalRender, "failed to build MIME message", err)
	}

	client, err := c.open(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if err := client.Mail(input.From.Address); err != nil {
		return "", smtpError("MAIL FROM", err)
	}
	if err := client.Rcpt(input.To); err != nil {
		return "", smtpError("RCPT TO", err)
	}
	w, err := client.Data()
	if err != nil {
		return "", smtpError("DATA", err)
	}
	if _, err := w.Write(msg); err != nil {
		return "", smtpError("DATA", err)
	}
	if err := w.Close(); err != nil {
		return "", smtpError("DATA", err)
	}
	if err := client.Quit(); err != nil {
		// The message was accepted at the end of DATA.
		c.logger.WarnContext(ctx, "SMTP QUIT failed after delivery", "error", err)
	}
	return messageID, nil
}

// open dials, negotiates TLS and authenticates. The connection deadline
// follows ctx so a stuck server cannot outlive the run.
func (c *SMTPClient) open(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, smtpError("CONN", err)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.Timeout)
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, smtpError("CONN", err)
	}

	_, implicitTLS := conn.(*tls.Conn)
	if !implicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(c.cfg.TLSConfig); err != nil {
				client.Close()
				return nil, smtpError("STARTTLS", err)
			}
		} else if c.cfg.RequireTLS {
			client.Close()
			return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamEmailProvider,
				"SMTP server does not offer STARTTLS", nil, map[string]any{"command": "STARTTLS"})
		}
	}

	if c.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
			if err := client.Auth(auth); err != nil {
				client.Close()
				return nil, smtpError("AUTH PLAIN", err)
			}
		}
	}
	return client, nil
}

// smtpError maps an SMTP failure to an AppError. Reply codes 530/534/535 are
// credential problems; 550-554 at RCPT mean the recipient was refused.
func smtpError(command string, err error) error {
	details := map[string]any{"command": command}
	code := types.ErrCodeUpstreamEmailProvider

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		details["responseCode"] = protoErr.Code
		details["response"] = protoErr.Msg
		switch {
		case protoErr.Code == 530 || protoErr.Code == 534 || protoErr.Code == 535:
			code = types.ErrCodeUpstreamAuth
			details["code"] = "EAUTH"
		case command == "RCPT TO" && protoErr.Code >= 550 && protoErr.Code <= 554:
			code = types.ErrCodeEmailBlocked
			details["code"] = "EENVELOPE"
		case protoErr.Code == 421 || protoErr.Code == 450 || protoErr.Code == 451:
			code = types.ErrCodeUpstreamUnavailable
		}
	} else {
		var netErr net.Error
		if errors.As(err, &netErr) || command == "CONN" {
			code = types.ErrCodeUpstreamUnavailable
			details["code"] = "ECONNECTION"
		}
	}

	return types.NewAppErrorWithDetails(code, fmt.Sprintf("smtp %s failed: %v", command, err), err, details)
}

func newMessageID(from string) string {
	domain := "localhost"
	if _, d, ok := strings.Cut(from, "@"); ok && d != "" {
		domain = d
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// buildMIMEMessage renders a multipart/alternative message with a text part
// followed by an HTML part, both quoted-printable.
func buildMIMEMessage(input types.SendInput, messageID string, now time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", input.BodyText},
		{"text/html; charset=UTF-8", input.BodyHTML},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	from := (&mail.Address{Name: input.From.Name, Address: input.From.Address}).String()

	var msg bytes.Buffer
	headers := []struct{ k, v string }{
		{"From", from},
		{"To", input.To},
		{"Subject", mime.QEncoding.Encode("UTF-8", input.Subject)},
		{"Date", now.Format(time.RFC1123Z)},
		{"Message-ID", messageID},
		{"MIME-Version", "1.0"},
		{"Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": mw.Boundary()})},
	}
	if input.ReferenceID != "" {
		headers = append(headers, struct{ k, v string }{"X-Reminder-Key", input.ReferenceID})
	}
	for _, h := range headers {
		fmt.Fprintf(&msg, "%s: %s\r\n", h.k, h.v)
	}
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// Compile-time assertion that SMTPClient satisfies EmailProvider.
var _ EmailProvider = (*SMTPClient)(nil)
