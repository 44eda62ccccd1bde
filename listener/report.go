package listener

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/wmkit/webmentions"
)

// ReportAggregator batches mention events and delivers them as one digest per
// interval, so a burst of mentions does not produce a burst of notifications.
// Close flushes the remaining events.
type ReportAggregator struct {
	send func(report string)

	mu    sync.Mutex
	lines []string

	stop chan struct{}
	done chan struct{}
}

func NewReportAggregator(interval time.Duration, send func(report string)) *ReportAggregator {
	a := &ReportAggregator{
		send: send,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go a.run(interval)
	return a
}

// NewMailReporter aggregates mention events into periodic digest emails sent
// through the given dialer.
func NewMailReporter(dialer *gomail.Dialer, sender, receiver string, interval time.Duration) *ReportAggregator {
	return NewReportAggregator(interval, func(report string) {
		msg := gomail.NewMessage()
		msg.SetHeader("From", sender)
		msg.SetHeader("To", receiver)
		msg.SetHeader("Subject", "Webmention digest")
		msg.SetBody("text/plain", report)
		if err := dialer.DialAndSend(msg); err != nil {
			slog.Error("mail reporter: failed to send digest", "error", err)
		}
	})
}

func (a *ReportAggregator) MentionProcessed(mention *webmentions.Mention) {
	a.add("processed", mention)
}

func (a *ReportAggregator) MentionDeleted(mention *webmentions.Mention) {
	a.add("deleted", mention)
}

func (a *ReportAggregator) add(event string, mention *webmentions.Mention) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, fmt.Sprintf("%s: %s -> %s (%s, %s)",
		event, mention.Source, mention.Target, mention.Direction, mention.Type))
}

func (a *ReportAggregator) run(interval time.Duration) {
	defer close(a.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.stop:
			a.flush()
			return
		}
	}
}

func (a *ReportAggregator) flush() {
	a.mu.Lock()
	lines := a.lines
	a.lines = nil
	a.mu.Unlock()
	if len(lines) == 0 {
		return
	}
	a.send(strings.Join(lines, "\n"))
}

// Close stops the digest loop after flushing pending events. The aggregator
// must not be used afterwards.
func (a *ReportAggregator) Close() {
	close(a.stop)
	<-a.done
}
