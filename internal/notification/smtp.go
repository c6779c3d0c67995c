package notification

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier delivers messages as plain text email.
type SMTPNotifier struct {
	addr     string
	from     string
	auth     smtp.Auth
	sendMail sendMailFunc
}

// NewSMTPNotifier builds an email notifier. Username may be empty for relays
// that accept unauthenticated submission.
func NewSMTPNotifier(addr, username, password, from string) *SMTPNotifier {
	n := &SMTPNotifier{addr: addr, from: from, sendMail: smtp.SendMail}
	if username != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		n.auth = smtp.PlainAuth("", username, password, host)
	}
	return n
}

// Send writes the message through the SMTP relay. The relay call is not
// context aware; cancellation abandons the wait, not the delivery.
func (n *SMTPNotifier) Send(ctx context.Context, message Message) error {
	if !strings.Contains(message.Destination, "@") {
		return fmt.Errorf("smtp notifier: %q is not an email address", message.Destination)
	}
	subject := message.Subject
	if subject == "" {
		subject = "Your verification code"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", message.Destination)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(message.Body)
	b.WriteString("\r\n")

	done := make(chan error, 1)
	go func() {
		done <- n.sendMail(n.addr, n.auth, n.from, []string{message.Destination}, []byte(b.String()))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp notifier: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp notifier: %w", ctx.Err())
	}
}
