package listener

import (
	"fmt"
	"log/slog"

	"gosrc.io/xmpp"
	"gosrc.io/xmpp/stanza"

	"github.com/wmkit/webmentions"
)

// XmppBot sends a chat message to a JID for every processed or deleted
// mention. The sender is typically an xmpp.Client kept connected by an
// xmpp.StreamManager; connection management stays with the caller.
type XmppBot struct {
	Sender        xmpp.Sender
	ReportToJid   string
	FormatMessage func(*webmentions.Mention, string) string
}

func NewXmppBot(sender xmpp.Sender, reportToJid string) *XmppBot {
	return &XmppBot{
		Sender:      sender,
		ReportToJid: reportToJid,
		FormatMessage: func(mention *webmentions.Mention, event string) string {
			return fmt.Sprintf("Mention %s!\nsource: %s\ntarget: %s\ntype: %s\nstatus: %s\n",
				event, mention.Source, mention.Target, mention.Type, mention.Status)
		},
	}
}

func (bot *XmppBot) MentionProcessed(mention *webmentions.Mention) {
	bot.report(mention, "processed")
}

func (bot *XmppBot) MentionDeleted(mention *webmentions.Mention) {
	bot.report(mention, "deleted")
}

func (bot *XmppBot) report(mention *webmentions.Mention, event string) {
	msg := stanza.Message{
		Attrs: stanza.Attrs{To: bot.ReportToJid, Type: stanza.MessageTypeChat},
		Body:  bot.FormatMessage(mention, event),
	}
	if err := bot.Sender.Send(msg); err != nil {
		slog.Error("xmpp listener: failed to send message", "error", err, "jid", bot.ReportToJid)
	}
}
