package webmentions

import (
	"context"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/wmkit/webmentions/watcher"
)

// SourceMapper translates the path of a changed content file into the public
// URL it is served under. Returning false skips the file.
type SourceMapper func(path string) (string, bool)

// RelativeSourceMapper maps files under root to URLs under baseURL by their
// relative path, so root/posts/hello.md becomes baseURL/posts/hello.md.
func RelativeSourceMapper(root string, baseURL *url.URL) SourceMapper {
	return func(path string) (string, bool) {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", false
		}
		ref := &url.URL{Path: filepath.ToSlash(rel)}
		return baseURL.ResolveReference(ref).String(), true
	}
}

// FileSystemMonitor watches a content directory and keeps outgoing
// webmentions in sync with it: edited files are re-scanned for links, and a
// deleted file withdraws every mention it had sent.
type FileSystemMonitor struct {
	handler *Handler
	mapper  SourceMapper
	watcher *watcher.Watcher
}

func NewFileSystemMonitor(handler *Handler, root string, mapper SourceMapper, opts ...watcher.Option) *FileSystemMonitor {
	m := &FileSystemMonitor{
		handler: handler,
		mapper:  mapper,
	}
	m.watcher = watcher.New(root, m.apply, opts...)
	return m
}

func (m *FileSystemMonitor) Start() error {
	return m.watcher.Start()
}

func (m *FileSystemMonitor) Stop() {
	m.watcher.Stop()
}

// apply forwards one debounced change to outgoing processing. A deletion is
// processed as empty content: the target diff then removes every previously
// sent mention.
func (m *FileSystemMonitor) apply(change watcher.ContentChange) {
	source, ok := m.mapper(change.Path)
	if !ok {
		slog.Debug("changed file has no public URL", "path", change.Path)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch change.Kind {
	case watcher.KindDeleted:
		empty := ""
		m.handler.ProcessOutgoing(ctx, source, &empty, FormatText)
	default:
		m.handler.ProcessOutgoing(ctx, source, change.Text, textFormat(change.Format))
	}
}

func textFormat(format watcher.Format) TextFormat {
	switch format {
	case watcher.FormatMarkdown:
		return FormatMarkdown
	case watcher.FormatText:
		return FormatText
	default:
		return FormatHTML
	}
}
