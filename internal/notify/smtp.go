package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
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

	"github.com/propnest/propnest-backend/pkg/config"
)

// SMTPProvider sends mail through an SMTP relay.
type SMTPProvider struct {
	cfg  config.SMTPConfig
	from mail.Address
	// tlsConfig is used for STARTTLS; nil means verify against the relay host.
	tlsConfig *tls.Config
}

// NewSMTPProvider creates the SMTP provider. Missing settings are reported
// by Send so that the server can start without mail credentials.
func NewSMTPProvider(cfg config.SMTPConfig, fromAddress, fromName string) *SMTPProvider {
	return &SMTPProvider{
		cfg:  cfg,
		from: mail.Address{Name: fromName, Address: fromAddress},
	}
}

func (p *SMTPProvider) Name() string {
	return "smtp"
}

func (p *SMTPProvider) fail(code string, status int, err error) error {
	return &DeliveryError{Provider: p.Name(), Code: code, StatusCode: status, Err: err}
}

// Send delivers msg, honoring ctx for the dial and as the connection deadline.
func (p *SMTPProvider) Send(ctx context.Context, msg *Message) error {
	if p.cfg.Host == "" || p.cfg.Port == 0 || p.from.Address == "" {
		return p.fail(CodeNotConfigured, 0, ErrNotConfigured)
	}

	body, err := buildMIMEMessage(p.from, msg)
	if err != nil {
		return p.fail(CodeInvalidMessage, 0, err)
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return p.classify(ctx, fmt.Errorf("failed to connect to %s: %w", addr, err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return p.classify(ctx, err)
	}
	defer func() { _ = client.Close() }()

	if p.cfg.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := p.tlsConfig
			if tlsConfig == nil {
				tlsConfig = &tls.Config{ServerName: p.cfg.Host, MinVersion: tls.VersionTLS12}
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				return p.classify(ctx, fmt.Errorf("starttls: %w", err))
			}
		}
	}

	if p.cfg.Username != "" {
		auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
		if err := client.Auth(auth); err != nil {
			var tpErr *textproto.Error
			if errors.As(err, &tpErr) {
				return p.fail(CodeAuthFailed, tpErr.Code, err)
			}
			return p.fail(CodeAuthFailed, 0, err)
		}
	}

	if err := client.Mail(p.from.Address); err != nil {
		return p.classify(ctx, err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return p.classify(ctx, err)
	}
	w, err := client.Data()
	if err != nil {
		return p.classify(ctx, err)
	}
	if _, err := w.Write(body); err != nil {
		return p.classify(ctx, err)
	}
	if err := w.Close(); err != nil {
		return p.classify(ctx, err)
	}
	return p.classify(ctx, client.Quit())
}

func (p *SMTPProvider) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch {
		case tpErr.Code == 530 || tpErr.Code == 534 || tpErr.Code == 535:
			return p.fail(CodeAuthFailed, tpErr.Code, err)
		case tpErr.Code >= 500:
			return p.fail(CodeRejected, tpErr.Code, err)
		default:
			return p.fail(CodeTransport, tpErr.Code, err)
		}
	}

	var netErr net.Error
	if ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		return p.fail(CodeTimeout, 0, err)
	}
	return p.fail(CodeTransport, 0, err)
}

// buildMIMEMessage renders a multipart/alternative message with a text and
// an HTML part.
func buildMIMEMessage(from mail.Address, msg *Message) ([]byte, error) {
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []struct{ key, value string }{
		{"From", from.String()},
		{"To", to.String()},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", time.Now().Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(from.Address))},
		{"MIME-Version", "1.0"},
		{"Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary())},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.key, h.value)
	}
	buf.WriteString("\r\n")

	parts := []struct{ contentType, body string }{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, part := range parts {
		if part.body == "" {
			continue
		}
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func domainOf(address string) string {
	if i := strings.LastIndexByte(address, '@'); i >= 0 {
		return address[i+1:]
	}
	return "localhost"
}
