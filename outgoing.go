package webmentions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

// TextFormat describes how outbound links are extracted from content.
type TextFormat string

const (
	FormatHTML     TextFormat = "html"
	FormatMarkdown TextFormat = "markdown"
	FormatText     TextFormat = "text"
)

const defaultMaxWorkers = 4

// OutgoingProcessor diffs the links currently present in a local resource
// against the set of targets previously notified for it, then notifies
// additions and removals in the background.
type OutgoingProcessor struct {
	storage    Storage
	discoverer *Discoverer
	notifier   Notifier
	userAgent  string
	httpClient *http.Client
	maxWorkers int

	inflight sync.WaitGroup
}

// ProcessOutgoing extracts the current target set from text (fetching the
// source URL when text is nil), diffs it against the previously notified
// set, and dispatches notifications on a bounded worker pool. It returns
// after dispatching; delivery is best effort and failures are logged, never
// surfaced.
func (p *OutgoingProcessor) ProcessOutgoing(ctx context.Context, sourceURL string, text *string, format TextFormat) {
	content := ""
	if text != nil {
		content = *text
	} else {
		fetched, err := p.fetchSource(ctx, sourceURL)
		if err != nil {
			slog.Error("fetching source for outgoing webmentions", "source", sourceURL, "error", err)
			return
		}
		content = fetched
		if format == "" {
			format = FormatHTML
		}
	}

	now := ExtractTargets(content, format)

	previous := map[string]bool{}
	stored, err := p.storage.Retrieve(sourceURL, DirectionOut)
	if err != nil {
		// A broken storage read must not stop notifications for new links;
		// removals will be recomputed on the next change.
		slog.Error("retrieving previously sent webmentions", "source", sourceURL, "error", err)
	} else {
		for _, m := range stored {
			previous[m.Target] = true
		}
	}

	var added []string
	for _, target := range now {
		if !previous[target] {
			added = append(added, target)
		}
	}
	nowSet := map[string]bool{}
	for _, target := range now {
		nowSet[target] = true
	}
	var removed []string
	for _, m := range stored {
		if !nowSet[m.Target] {
			removed = append(removed, m.Target)
		}
	}

	if len(added) == 0 && len(removed) == 0 {
		return
	}
	slog.Info("dispatching outgoing webmentions",
		"source", sourceURL, "added", len(added), "removed", len(removed))

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		group := new(errgroup.Group)
		group.SetLimit(p.maxWorkers)
		for _, target := range added {
			target := target
			group.Go(func() error {
				p.notifyAdded(context.Background(), sourceURL, target)
				return nil
			})
		}
		for _, target := range removed {
			target := target
			group.Go(func() error {
				p.notifyRemoved(context.Background(), sourceURL, target)
				return nil
			})
		}
		_ = group.Wait()
	}()
}

// Wait blocks until all background notification tasks have finished. Used on
// shutdown and by tests.
func (p *OutgoingProcessor) Wait() {
	p.inflight.Wait()
}

func (p *OutgoingProcessor) fetchSource(ctx context.Context, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", p.userAgent)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", UpstreamError{URL: sourceURL, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// notifyAdded delivers a mention for a newly appearing target. The sent
// state is recorded only after the remote endpoint accepted the POST, so a
// failed delivery is retried naturally on the next content change.
func (p *OutgoingProcessor) notifyAdded(ctx context.Context, source, target string) {
	endpoint := p.discoverer.Discover(ctx, target)
	if endpoint == nil {
		slog.Debug("no webmention endpoint", "target", target)
		return
	}
	if err := p.post(ctx, endpoint, source, target); err != nil {
		slog.Error("sending webmention", "source", source, "target", target, "endpoint", endpoint, "error", err)
		return
	}
	mention := &Mention{
		Source:    source,
		Target:    target,
		Direction: DirectionOut,
		Status:    StatusConfirmed,
		Type:      TypeMention,
	}
	mention.Normalize()
	if err := p.storage.Store(mention); err != nil {
		slog.Error("recording sent webmention", "source", source, "target", target, "error", err)
		return
	}
	slog.Info("sent webmention", "source", source, "target", target, "endpoint", endpoint)
	notify(p.notifier.MentionProcessed, mention, "mention_processed")
}

// notifyRemoved re-sends the mention for a target that disappeared from the
// source; a conforming receiver treats "source no longer links to target" as
// a deletion. The local record is removed regardless of the remote outcome.
func (p *OutgoingProcessor) notifyRemoved(ctx context.Context, source, target string) {
	if endpoint := p.discoverer.Discover(ctx, target); endpoint != nil {
		if err := p.post(ctx, endpoint, source, target); err != nil {
			slog.Debug("notifying removed webmention", "source", source, "target", target, "error", err)
		}
	}
	if err := p.storage.Delete(source, target, DirectionOut); err != nil {
		slog.Error("deleting sent webmention", "source", source, "target", target, "error", err)
		return
	}
	slog.Info("deleted sent webmention", "source", source, "target", target)
	deleted := &Mention{
		Source:    source,
		Target:    target,
		Direction: DirectionOut,
		Status:    StatusDeleted,
	}
	notify(p.notifier.MentionDeleted, deleted, "mention_deleted")
}

func (p *OutgoingProcessor) post(ctx context.Context, endpoint *url.URL, source, target string) error {
	form := url.Values{}
	form.Set("source", source)
	form.Set("target", target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", p.userAgent)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint %s returned %s", endpoint, resp.Status)
	}
	return nil
}

var bareURLPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// ExtractTargets returns the absolute http(s) URLs linked from content, in
// order of first appearance, without duplicates.
func ExtractTargets(content string, format TextFormat) []string {
	switch format {
	case FormatMarkdown:
		return extractMarkdownTargets(content)
	case FormatText:
		matches := bareURLPattern.FindAllString(content, -1)
		for i, match := range matches {
			// Sentence punctuation after a bare URL is not part of it.
			matches[i] = strings.TrimRight(match, ".,;:!?")
		}
		return dedupeAbsolute(matches)
	default:
		return extractHTMLTargets(content)
	}
}

func extractHTMLTargets(content string) []string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil
	}
	var hrefs []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			for _, attr := range node.Attr {
				if strings.EqualFold(attr.Key, "href") {
					hrefs = append(hrefs, attr.Val)
				}
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return dedupeAbsolute(hrefs)
}

// extractMarkdownTargets walks the goldmark AST; the Linkify extension turns
// bare URLs into autolinks so both [text](url) and plain URLs are covered.
func extractMarkdownTargets(content string) []string {
	md := goldmark.New(goldmark.WithExtensions(extension.Linkify))
	source := []byte(content)
	doc := md.Parser().Parse(text.NewReader(source))

	var links []string
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Link:
			links = append(links, string(n.Destination))
		case *ast.AutoLink:
			links = append(links, string(n.URL(source)))
		}
		return ast.WalkContinue, nil
	})
	return dedupeAbsolute(links)
}

func dedupeAbsolute(raw []string) []string {
	seen := map[string]bool{}
	var targets []string
	for _, candidate := range raw {
		if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
			continue
		}
		if seen[candidate] {
			continue
		}
		seen[candidate] = true
		targets = append(targets, candidate)
	}
	return targets
}
