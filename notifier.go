package webmentions

import "log/slog"

type (
	// Notifier is the extension point for moderation, spam filtering, and
	// side-channel notifications. Implementations are invoked on the
	// processing goroutine and must tolerate reentrancy; panics are recovered
	// and logged, they never reach the processors.
	Notifier interface {
		MentionProcessed(mention *Mention)
		MentionDeleted(mention *Mention)
	}

	// NotifierFuncs adapts plain functions to the Notifier interface. Nil
	// fields are no-ops.
	NotifierFuncs struct {
		Processed func(mention *Mention)
		Deleted   func(mention *Mention)
	}

	// NoopNotifier ignores every event. Embed it to implement only part of
	// the Notifier interface.
	NoopNotifier struct{}
)

func (NoopNotifier) MentionProcessed(*Mention) {}
func (NoopNotifier) MentionDeleted(*Mention)   {}

func (f NotifierFuncs) MentionProcessed(mention *Mention) {
	if f.Processed != nil {
		f.Processed(mention)
	}
}

func (f NotifierFuncs) MentionDeleted(mention *Mention) {
	if f.Deleted != nil {
		f.Deleted(mention)
	}
}

// notify invokes one notifier callback, containing any panic.
func notify(cb func(*Mention), mention *Mention, event string) {
	if cb == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("notifier panicked",
				"event", event,
				"panic", rec,
				"source", mention.Source,
				"target", mention.Target,
				"direction", mention.Direction,
			)
		}
	}()
	cb(mention)
}
