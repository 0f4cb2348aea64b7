package delivery

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/kebairia/borgreport/internal/format"
	"github.com/kebairia/borgreport/internal/report"
)

// Mailer hands a message to a mail transport.
type Mailer interface {
	Send(ctx context.Context, msg *mail.Msg) error
}

// Sendmail delivers through a local sendmail compatible binary.
type Sendmail struct {
	// Path defaults to /usr/sbin/sendmail.
	Path string
}

func (s Sendmail) Send(ctx context.Context, msg *mail.Msg) error {
	path := s.Path
	if path == "" {
		path = mail.SendmailPath
	}
	// go-mail passes -oi -t itself.
	return msg.WriteToSendmailWithContext(ctx, path)
}

// Mail sends the report as a multipart message with a plain text and an
// HTML alternative.
type Mail struct {
	To     []string
	From   string
	Text   format.Formatter
	HTML   format.Formatter
	Mailer Mailer
}

func (m Mail) Name() string { return "mail to " + strings.Join(m.To, ", ") }

func (m Mail) Deliver(ctx context.Context, r *report.Report) error {
	if m.Mailer == nil {
		return fmt.Errorf("%w: no mail transport for %s", ErrDelivery, strings.Join(m.To, ", "))
	}
	text, err := format.Render(m.Text, r)
	if err != nil {
		return err
	}
	html, err := format.Render(m.HTML, r)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return fmt.Errorf("%w: sender %q: %v", ErrDelivery, m.From, err)
	}
	if err := msg.To(m.To...); err != nil {
		return fmt.Errorf("%w: recipients %v: %v", ErrDelivery, m.To, err)
	}
	msg.Subject(Subject(r))
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)

	if err := m.Mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: send mail: %v", ErrDelivery, err)
	}
	return nil
}

// Subject is "Backup report (<date>)" followed by the number of errors and
// warnings when there are any.
func Subject(r *report.Report) string {
	parts := []string{"Backup report (" + format.Date(r.GeneratedAt) + ")"}
	if n := len(r.Errors); n > 0 {
		parts = append(parts, fmt.Sprintf("Errors:%d", n))
	}
	if n := len(r.Warnings); n > 0 {
		parts = append(parts, fmt.Sprintf("Warnings:%d", n))
	}
	return strings.Join(parts, " ")
}

// DefaultSender returns "<user>@<host>" for the current process, falling
// back to "borgreport" and "localhost".
func DefaultSender() string {
	name := format.Name
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return name + "@" + host
}
