package webmentions

import (
	"context"
	"errors"
	"log/slog"
)

// IncomingProcessor orchestrates the handling of a received webmention:
// parse and verify the source, persist the result, invoke notifiers.
type IncomingProcessor struct {
	storage       Storage
	parser        *Parser
	notifier      Notifier
	initialStatus Status
}

// ProcessIncoming parses and stores one incoming mention.
//
// The configured initial status overrides whatever the parser produced;
// with StatusPending, integrators can run moderation inside the notifier and
// re-persist with StatusConfirmed or StatusDeleted.
//
// A GoneError from the parser tombstones the mention: the stored record is
// deleted, the deleted notifier fires, and the GoneError is returned so the
// HTTP layer can report it.
func (p *IncomingProcessor) ProcessIncoming(ctx context.Context, source, target string) (*Mention, error) {
	mention, err := p.parser.Parse(ctx, source, target)
	if err != nil {
		var gone GoneError
		if errors.As(err, &gone) {
			p.tombstone(source, target)
		}
		return nil, err
	}

	if p.initialStatus != "" {
		mention.Status = p.initialStatus
	}
	mention.Normalize()

	if err := p.storage.Store(mention); err != nil {
		return nil, StorageError{Op: "store", Err: err}
	}

	slog.Info("processed incoming webmention",
		"source", mention.Source,
		"target", mention.Target,
		"type", mention.Type,
		"status", mention.Status,
	)
	notify(p.notifier.MentionProcessed, mention, "mention_processed")
	return mention, nil
}

func (p *IncomingProcessor) tombstone(source, target string) {
	if err := p.storage.Delete(source, target, DirectionIn); err != nil {
		slog.Error("deleting tombstoned webmention",
			"source", source, "target", target, "error", err)
		return
	}
	slog.Info("deleted tombstoned webmention", "source", source, "target", target)
	deleted := &Mention{
		Source:    source,
		Target:    target,
		Direction: DirectionIn,
		Status:    StatusDeleted,
	}
	notify(p.notifier.MentionDeleted, deleted, "mention_deleted")
}
