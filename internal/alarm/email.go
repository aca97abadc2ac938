package alarm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	xerrors "strategykit/internal/errors"
	"strategykit/internal/ops"
)

var (
	ErrNoContent   = errors.New("alarm: email has no content")
	ErrUnknownKind = errors.New("alarm: unknown content kind")
	ErrNoRecipient = errors.New("alarm: email has no recipient")
)

const defaultSendTimeout = 30 * time.Second

// Kind is the MIME flavour of an attached part.
type Kind string

const (
	KindText Kind = "text"
	KindHTML Kind = "html"
	KindApp  Kind = "app"
)

type part struct {
	kind     Kind
	body     []byte
	filename string
}

// Email collects parts and sends them as one multipart/alternative message.
type Email struct {
	server     string
	port       int
	account    string
	password   string
	sender     string
	recipients []string

	mu    sync.Mutex
	parts []part
}

// New builds an Email from the ALARM.EMAIL config section.
func New(cfg ops.EmailConfig) *Email {
	return &Email{
		server:     cfg.SMTPServer,
		port:       cfg.SMTPPort,
		account:    cfg.SMTPAccount,
		password:   cfg.SMTPPassword,
		sender:     cfg.Sender,
		recipients: append([]string(nil), cfg.Recipients...),
	}
}

// Attach adds a text or html body, or an application part named
// "attachment".
func (e *Email) Attach(kind Kind, body string) error {
	switch kind {
	case KindText, KindHTML:
		e.add(part{kind: kind, body: []byte(body)})
	case KindApp:
		e.add(part{kind: kind, body: []byte(body), filename: "attachment"})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return nil
}

// AttachFile adds an application part carrying data as filename.
func (e *Email) AttachFile(filename string, data []byte) {
	e.add(part{kind: KindApp, body: append([]byte(nil), data...), filename: filename})
}

// Reset drops every attached part.
func (e *Email) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parts = nil
}

func (e *Email) add(p part) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parts = append(e.parts, p)
}

// Send delivers the attached parts under title. The relay is upgraded with
// STARTTLS when it offers it, and PLAIN auth is used when an account is set.
func (e *Email) Send(ctx context.Context, title string) error {
	msg, err := e.Message(title)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(e.server, strconv.Itoa(e.port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return xerrors.Wrap(err, "dial "+addr)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSendTimeout)
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, e.server)
	if err != nil {
		return xerrors.Wrap(err, "smtp handshake")
	}
	defer client.Close()

	if err := e.deliver(client, msg); err != nil {
		return err
	}
	return xerrors.Wrap(client.Quit(), "smtp quit")
}

func (e *Email) deliver(client *smtp.Client, msg []byte) error {
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.server, MinVersion: tls.VersionTLS12}); err != nil {
			return xerrors.Wrap(err, "smtp starttls")
		}
	}

	if e.account != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", e.account, e.password, e.server)); err != nil {
				return xerrors.Wrap(err, "smtp auth")
			}
		}
	}

	if err := client.Mail(e.sender); err != nil {
		return xerrors.Wrap(err, "smtp mail from")
	}
	for _, rcpt := range e.recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return xerrors.Wrap(err, "smtp rcpt "+rcpt)
		}
	}

	w, err := client.Data()
	if err != nil {
		return xerrors.Wrap(err, "smtp data")
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return xerrors.Wrap(err, "smtp write")
	}
	return xerrors.Wrap(w.Close(), "smtp data end")
}

// Message renders the RFC 5322 message Send would deliver.
func (e *Email) Message(title string) ([]byte, error) {
	e.mu.Lock()
	parts := append([]part(nil), e.parts...)
	e.mu.Unlock()

	if len(parts) == 0 {
		return nil, ErrNoContent
	}
	if len(e.recipients) == 0 {
		return nil, ErrNoRecipient
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		if err := writePart(mw, p); err != nil {
			return nil, xerrors.Wrap(err, "compose email")
		}
	}
	if err := mw.Close(); err != nil {
		return nil, xerrors.Wrap(err, "compose email")
	}

	var msg bytes.Buffer
	header := func(key, value string) {
		msg.WriteString(key + ": " + value + "\r\n")
	}
	header("Subject", mime.QEncoding.Encode("utf-8", title))
	header("From", e.sender)
	header("To", strings.Join(e.recipients, ", "))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": mw.Boundary()}))
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func writePart(mw *multipart.Writer, p part) error {
	h := textproto.MIMEHeader{}
	switch p.kind {
	case KindText, KindHTML:
		subtype := "plain"
		if p.kind == KindHTML {
			subtype = "html"
		}
		h.Set("Content-Type", mime.FormatMediaType("text/"+subtype, map[string]string{"charset": "utf-8"}))
		h.Set("Content-Transfer-Encoding", "quoted-printable")

		w, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write(p.body); err != nil {
			return err
		}
		return qp.Close()
	default:
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": p.filename}))

		w, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		encoded := base64.StdEncoding.EncodeToString(p.body)
		for len(encoded) > 76 {
			if _, err := io.WriteString(w, encoded[:76]+"\r\n"); err != nil {
				return err
			}
			encoded = encoded[76:]
		}
		_, err = io.WriteString(w, encoded+"\r\n")
		return err
	}
}
