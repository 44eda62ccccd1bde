// Package listener contains webmentions.Notifier implementations that
// report processed and deleted mentions to the site owner over various
// channels.
package listener

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/emersion/go-msgauth/dkim"
	"gopkg.in/gomail.v2"

	"github.com/wmkit/webmentions"
)

type (
	// MailerExternalSmtp reports mentions by email through an external
	// submission server, authenticated by the gomail dialer.
	MailerExternalSmtp struct {
		Sender, Receiver string
		Dialer           *gomail.Dialer
		SubjectLine      func(*webmentions.Mention, string) string
		Body             func(*webmentions.Mention, string) string
	}

	// MailerInternalSmtp reports mentions by handing the email directly to
	// the receiver's MX, optionally DKIM-signing it first.
	MailerInternalSmtp struct {
		Sender, Receiver string
		SubjectLine      func(*webmentions.Mention, string) string
		Body             func(*webmentions.Mention, string) string
		UseDkim          bool
		DkimSignOpts     dkim.SignOptions
		Addr             string
	}
)

func defaultSubjectLine(mention *webmentions.Mention, event string) string {
	if event == "deleted" {
		return "A mention of your site was deleted"
	}
	return "A post of yours has been mentioned"
}

func defaultBody(mention *webmentions.Mention, event string) string {
	return fmt.Sprintf("event: %s\nsource: %s\ntarget: %s\ntype: %s\nstatus: %s\n",
		event, mention.Source, mention.Target, mention.Type, mention.Status)
}

// NewMailerExternal configures a mailer using an external SMTP server.
// SubjectLine and Body may be replaced to customize the emails.
func NewMailerExternal(dialer *gomail.Dialer, sender, receiver string) *MailerExternalSmtp {
	return &MailerExternalSmtp{
		Sender:      sender,
		Receiver:    receiver,
		Dialer:      dialer,
		SubjectLine: defaultSubjectLine,
		Body:        defaultBody,
	}
}

func NewMailerInternal(receiverAddr string, sender, receiver string, useDkim bool, dkimOptions dkim.SignOptions) *MailerInternalSmtp {
	return &MailerInternalSmtp{
		Sender:       sender,
		Receiver:     receiver,
		SubjectLine:  defaultSubjectLine,
		Body:         defaultBody,
		UseDkim:      useDkim,
		DkimSignOpts: dkimOptions,
		Addr:         receiverAddr,
	}
}

func (m *MailerExternalSmtp) MentionProcessed(mention *webmentions.Mention) {
	m.send(mention, "processed")
}

func (m *MailerExternalSmtp) MentionDeleted(mention *webmentions.Mention) {
	m.send(mention, "deleted")
}

func (m *MailerExternalSmtp) send(mention *webmentions.Mention, event string) {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.Sender)
	msg.SetHeader("To", m.Receiver)
	msg.SetHeader("Subject", m.SubjectLine(mention, event))
	msg.SetBody("text/plain", m.Body(mention, event))
	if err := m.Dialer.DialAndSend(msg); err != nil {
		slog.Error("mail listener: failed to send email", "error", err, "source", mention.Source, "target", mention.Target)
	}
}

func (m *MailerInternalSmtp) MentionProcessed(mention *webmentions.Mention) {
	m.send(mention, "processed")
}

func (m *MailerInternalSmtp) MentionDeleted(mention *webmentions.Mention) {
	m.send(mention, "deleted")
}

func (m *MailerInternalSmtp) send(mention *webmentions.Mention, event string) {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.Sender)
	msg.SetHeader("To", m.Receiver)
	msg.SetHeader("Subject", m.SubjectLine(mention, event))
	msg.SetBody("text/plain", m.Body(mention, event))

	var message bytes.Buffer
	if _, err := msg.WriteTo(&message); err != nil {
		slog.Error("mail listener: failed to write mail contents", "error", err)
		return
	}
	payload := message.Bytes()
	if m.UseDkim {
		var signedMessage bytes.Buffer
		if err := dkim.Sign(&signedMessage, &message, &m.DkimSignOpts); err != nil {
			slog.Error("mail listener: failed to sign mail", "error", err)
			return
		}
		payload = signedMessage.Bytes()
	}
	if err := smtp.SendMail(m.Addr, nil, m.Sender, []string{m.Receiver}, payload); err != nil {
		slog.Error("mail listener: failed to send mail", "error", err, "source", mention.Source, "target", mention.Target)
	}
}
