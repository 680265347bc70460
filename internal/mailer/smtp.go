// internal/mailer/smtp.go
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SMTPMailer sends through an authenticated SMTP endpoint. Every Send opens
// its own connection, so a single instance may be shared by any number of
// workers without session coordination.
type SMTPMailer struct {
	cfg Config
}

func NewSMTPMailer(cfg Config) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// ConfigFromEnv builds an SMTP config from the SMTP_* environment variables.
func ConfigFromEnv() Config {
	port, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if port == 0 {
		port = 587
	}
	return Config{
		Host:       os.Getenv("SMTP_HOST"),
		Port:       port,
		Username:   os.Getenv("SMTP_USERNAME"),
		Password:   os.Getenv("SMTP_PASSWORD"),
		From:       os.Getenv("SMTP_FROM"),
		SenderName: os.Getenv("SMTP_SENDER_NAME"),
		UseTLS:     os.Getenv("SMTP_USE_TLS") != "0",
	}
}

// Authenticate opens a connection, authenticates and quits. Used as the
// pre-campaign credential check so a bad login aborts before any send.
func (m *SMTPMailer) Authenticate(ctx context.Context) error {
	client, err := m.connect(ctx)
	if err != nil {
		return &AuthError{Err: err}
	}
	defer client.Close()
	return client.Quit()
}

// Send delivers one message over a fresh connection.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	client, err := m.connect(ctx)
	if err != nil {
		return classify(err)
	}
	defer client.Close()

	from := m.cfg.From
	if from == "" {
		from = m.cfg.Username
	}

	if err := client.Mail(from); err != nil {
		return classify(err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return classify(err)
	}
	w, err := client.Data()
	if err != nil {
		return classify(err)
	}
	data, err := buildMessage(from, m.cfg.SenderName, msg)
	if err != nil {
		return &SendError{Kind: Permanent, Err: err}
	}
	if _, err := w.Write(data); err != nil {
		return classify(err)
	}
	if err := w.Close(); err != nil {
		return classify(err)
	}

	// The server accepted the message when DATA closed; a failed QUIT must
	// not turn an accepted delivery into a retried one.
	_ = client.Quit()
	return nil
}

func (m *SMTPMailer) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("new client: %w", err)
	}

	if m.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConf := &tls.Config{
				ServerName: m.cfg.Host,
				MinVersion: tls.VersionTLS12,
			}
			if err := client.StartTLS(tlsConf); err != nil {
				client.Close()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	return client, nil
}

// classify maps transport errors onto the retry taxonomy. SMTP 4xx replies
// are retryable and the throttling codes get the longer backoff, 5xx is a
// permanent rejection, and anything else (timeouts, resets, DNS) is transient.
func classify(err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		switch {
		case proto.Code == 421 || proto.Code == 450 || proto.Code == 451 || proto.Code == 452:
			return &SendError{Kind: Throttled, Err: err}
		case proto.Code >= 400 && proto.Code < 500:
			return &SendError{Kind: Transient, Err: err}
		case proto.Code >= 500:
			return &SendError{Kind: Permanent, Err: err}
		}
	}
	return &SendError{Kind: Transient, Err: err}
}

// maxAttachmentBytes caps a single attachment before encoding; anything
// larger fails the send rather than producing a message most relays reject.
var maxAttachmentBytes int64 = 25 << 20

// buildMessage assembles the RFC 2822 payload: plain text when there are no
// attachments, multipart/mixed with base64 parts otherwise.
func buildMessage(from, senderName string, msg Message) ([]byte, error) {
	var buf bytes.Buffer

	fromHeader := from
	if senderName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", senderName), from)
	}
	fmt.Fprintf(&buf, "From: %s\r\n", fromHeader)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	if len(msg.Attachments) == 0 {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.Body)
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(msg.Body)); err != nil {
		return nil, err
	}

	for _, path := range msg.Attachments {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", path, err)
		}
		if info.Size() > maxAttachmentBytes {
			return nil, fmt.Errorf("attachment %s: %d bytes exceeds the %d byte limit", path, info.Size(), maxAttachmentBytes)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", path, err)
		}
		name := filepath.Base(path)
		ctype := mime.TypeByExtension(filepath.Ext(path))
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {ctype},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
		})
		if err != nil {
			return nil, err
		}
		enc := base64.StdEncoding.EncodeToString(content)
		for len(enc) > 76 {
			if _, err := part.Write([]byte(enc[:76] + "\r\n")); err != nil {
				return nil, err
			}
			enc = enc[76:]
		}
		if _, err := part.Write([]byte(enc)); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
