package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail/smtp"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
)

// SMTPClient sends mail through the account's submission server.
type SMTPClient struct {
	config *config.AccountConfig
	secret credential.Provider
	logger *logrus.Logger
}

// EmailMessage represents an email to be sent
type EmailMessage struct {
	To          []string     `json:"to"`
	Cc          []string     `json:"cc,omitempty"`
	Bcc         []string     `json:"bcc,omitempty"`
	Subject     string       `json:"subject"`
	BodyText    string       `json:"body_text,omitempty"`
	BodyHTML    string       `json:"body_html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	InReplyTo   string       `json:"in_reply_to,omitempty"`
}

// Attachment represents an email attachment
type Attachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
	MimeType string `json:"mime_type"`
}

// NewSMTPClient creates a new SMTP client
func NewSMTPClient(cfg *config.AccountConfig) (*SMTPClient, error) {
	secret, err := credential.Parse(cfg.SMTP.Secret)
	if err != nil {
		return nil, fmt.Errorf("invalid smtp secret of %s: %w", cfg.Name, err)
	}
	return &SMTPClient{
		config: cfg,
		secret: secret,
		logger: logrus.New(),
	}, nil
}

// SetLogger sets the logger for the client
func (c *SMTPClient) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// Send composes msg, submits it and returns the bytes that were sent so
// the caller can file a copy.
func (c *SMTPClient) Send(ctx context.Context, msg *EmailMessage) ([]byte, error) {
	raw, err := c.compose(msg, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	recipients, err := addresses(append(append(append([]string{}, msg.To...), msg.Cc...), msg.Bcc...))
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}

	client, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := c.authenticate(ctx, client); err != nil {
		return nil, err
	}
	if err := client.Mail(c.config.SMTP.Login); err != nil {
		return nil, fmt.Errorf("failed to set sender: %w", err)
	}
	for _, to := range recipients {
		if err := client.Rcpt(to); err != nil {
			return nil, fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to send data command: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close data writer: %w", err)
	}
	if err := client.Quit(); err != nil {
		return nil, fmt.Errorf("failed to quit: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"account":    c.config.Name,
		"recipients": len(recipients),
	}).Info("Sent message")
	return raw, nil
}

func (c *SMTPClient) dial(ctx context.Context) (*smtp.Client, error) {
	cfg := c.config.SMTP
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tlsConfig := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if cfg.Encryption == "tls" {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if cfg.Encryption == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	return client, nil
}

func (c *SMTPClient) authenticate(ctx context.Context, client *smtp.Client) error {
	if ok, _ := client.Extension("AUTH"); !ok {
		return nil
	}
	password, err := c.secret.Secret(ctx)
	if err != nil {
		return fmt.Errorf("failed to read smtp secret: %w", err)
	}

	var sc sasl.Client
	if c.config.IMAP.Auth == "oauth2" {
		sc = sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: c.config.SMTP.Login,
			Token:    password,
			Host:     c.config.SMTP.Host,
			Port:     c.config.SMTP.Port,
		})
	} else {
		sc = sasl.NewPlainClient("", c.config.SMTP.Login, password)
	}
	if err := client.Auth(saslAuth{sc}); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	return nil
}

// compose renders msg as RFC 5322 bytes: a plain or alternative body
// followed by the attachments.
func (c *SMTPClient) compose(msg *EmailMessage, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	from, err := mail.ParseAddress(c.config.SMTP.Login)
	if err != nil {
		from = &mail.Address{Address: c.config.SMTP.Login}
	}
	h.SetAddressList("From", []*mail.Address{from})
	for key, list := range map[string][]string{"To": msg.To, "Cc": msg.Cc} {
		if len(list) == 0 {
			continue
		}
		addrs, err := mail.ParseAddressList(strings.Join(list, ", "))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		h.SetAddressList(key, addrs)
	}
	if msg.ReplyTo != "" {
		h.Set("Reply-To", msg.ReplyTo)
	}
	if msg.InReplyTo != "" {
		h.Set("In-Reply-To", "<"+strings.Trim(msg.InReplyTo, "<>")+">")
	}

	var buf bytes.Buffer
	w, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	tw, err := w.CreateInline()
	if err != nil {
		return nil, err
	}
	if msg.BodyText != "" || msg.BodyHTML == "" {
		if err := writeInline(tw, "text/plain", msg.BodyText); err != nil {
			return nil, err
		}
	}
	if msg.BodyHTML != "" {
		if err := writeInline(tw, "text/html", msg.BodyHTML); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		mimeType := att.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		ah.Set("Content-Type", mimeType)
		ah.SetFilename(att.Filename)
		aw, err := w.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := aw.Write(att.Content); err != nil {
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeInline(tw *mail.InlineWriter, contentType, body string) error {
	var th mail.InlineHeader
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := tw.CreatePart(th)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return err
	}
	return pw.Close()
}

// addresses extracts the bare addresses of a recipient list.
func addresses(list []string) ([]string, error) {
	var out []string
	for _, entry := range list {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		parsed, err := mail.ParseAddressList(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", entry, err)
		}
		for _, addr := range parsed {
			out = append(out, addr.Address)
		}
	}
	return out, nil
}

// saslAuth adapts a SASL client to the SMTP AUTH exchange.
type saslAuth struct {
	client sasl.Client
}

func (a saslAuth) Start(*smtp.ServerInfo) (string, []byte, error) {
	return a.client.Start()
}

func (a saslAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.client.Next(fromServer)
}
