// Package mail delivers transactional email on behalf of the accounts flows.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"booky.app/internal/obs"
)

// ErrDeliveryFailed wraps every delivery failure.
var ErrDeliveryFailed = errors.New("mail: delivery failed")

// Message is a single outbound email.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Dispatcher sends messages.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

var (
	_ Dispatcher = (*SMTP)(nil)
	_ Dispatcher = LogDispatcher{}
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP delivers through a relay using net/smtp.
type SMTP struct {
	addr string
	from string
	auth smtp.Auth
	send sendFunc
}

// NewSMTP builds a dispatcher for relay addr (host:port). Username may be
// empty for unauthenticated relays.
func NewSMTP(addr, username, password, from string) (*SMTP, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.TrimSpace(from) == "" {
		return nil, errors.New("mail: smtp address and sender are required")
	}
	s := &SMTP{addr: addr, from: from, send: smtp.SendMail}
	if username != "" {
		host := addr
		if i := strings.LastIndexByte(addr, ':'); i > 0 {
			host = addr[:i]
		}
		s.auth = smtp.PlainAuth("", username, password, host)
	}
	return s, nil
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	body, err := encode(s.from, msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if err := s.send(s.addr, s.auth, s.from, []string{msg.To}, body); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// encode renders a multipart/alternative message with text and HTML parts.
func encode(from string, msg Message) ([]byte, error) {
	if strings.ContainsAny(msg.To+msg.Subject, "\r\n") {
		return nil, errors.New("header injection")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	parts := []struct{ ctype, body string }{
		{"text/plain; charset=utf-8", msg.TextBody},
		{"text/html; charset=utf-8", msg.HTMLBody},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LogDispatcher records that a message would have been sent. Bodies are not
// logged since they carry confirmation links.
type LogDispatcher struct{}

func (LogDispatcher) Send(ctx context.Context, msg Message) error {
	obs.Logger().InfoContext(ctx, "email dispatched",
		"to", msg.To,
		"subject", msg.Subject,
		"transport", "log",
	)
	return nil
}
