package listener

import (
	"context"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/wmkit/webmentions"
)

// MatrixBot posts a message into a Matrix room for every processed or
// deleted mention.
type MatrixBot struct {
	Client        *mautrix.Client
	ReportToRoom  id.RoomID
	FormatMessage func(*webmentions.Mention, string) string
}

func NewMatrixBot(client *mautrix.Client, reportToRoom id.RoomID) *MatrixBot {
	return &MatrixBot{
		Client:       client,
		ReportToRoom: reportToRoom,
		FormatMessage: func(mention *webmentions.Mention, event string) string {
			return fmt.Sprintf("Mention %s!\nsource: %s\ntarget: %s\ntype: %s\nstatus: %s\n",
				event, mention.Source, mention.Target, mention.Type, mention.Status)
		},
	}
}

func (bot *MatrixBot) MentionProcessed(mention *webmentions.Mention) {
	bot.report(mention, "processed")
}

func (bot *MatrixBot) MentionDeleted(mention *webmentions.Mention) {
	bot.report(mention, "deleted")
}

func (bot *MatrixBot) report(mention *webmentions.Mention, event string) {
	_, err := bot.Client.SendText(context.Background(), bot.ReportToRoom, bot.FormatMessage(mention, event))
	if err != nil {
		slog.Error("matrix listener: failed to send message", "error", err, "room", bot.ReportToRoom)
	}
}
