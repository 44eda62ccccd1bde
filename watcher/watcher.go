// Package watcher observes a directory tree for content file changes and
// reports them debounced, so that editors writing a file in several bursts
// produce a single change event.
package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type (
	// Kind classifies a content change.
	Kind string

	// Format is the content format guessed from the file extension.
	Format string

	// ContentChange is one debounced change to a watched file. Text is nil
	// for deletions.
	ContentChange struct {
		Kind   Kind
		Path   string
		Text   *string
		Format Format
	}

	// Sink receives debounced changes. A panicking sink is recovered and
	// logged; it never takes the watcher down.
	Sink func(change ContentChange)
)

const (
	KindAdded   Kind = "added"
	KindEdited  Kind = "edited"
	KindDeleted Kind = "deleted"

	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

const (
	DefaultDebounce = 2 * time.Second

	joinTimeout = 5 * time.Second
)

var defaultExtensions = []string{".md", ".markdown", ".txt", ".text", ".html", ".htm"}

type (
	Watcher struct {
		root       string
		sink       Sink
		debounce   time.Duration
		extensions map[string]bool

		mu      sync.Mutex
		running bool
		fsw     *fsnotify.Watcher
		stop    chan struct{}
		done    chan struct{}
	}

	Option func(*Watcher)
)

// WithDebounce sets the quiet period a file must reach before its change is
// reported.
func WithDebounce(debounce time.Duration) Option {
	return func(w *Watcher) {
		if debounce > 0 {
			w.debounce = debounce
		}
	}
}

// WithExtensions replaces the set of watched file extensions, e.g. ".md".
// Matching is case-insensitive.
func WithExtensions(extensions ...string) Option {
	return func(w *Watcher) {
		w.extensions = map[string]bool{}
		for _, ext := range extensions {
			w.extensions[strings.ToLower(ext)] = true
		}
	}
}

func New(root string, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		root:       root,
		sink:       sink,
		debounce:   DefaultDebounce,
		extensions: map[string]bool{},
	}
	for _, ext := range defaultExtensions {
		w.extensions[ext] = true
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Start begins watching. It is a no-op when the root directory does not
// exist, and when the watcher is already running.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	info, err := os.Stat(w.root)
	if err != nil || !info.IsDir() {
		slog.Warn("watch root missing, not watching", "root", w.root)
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addRecursive(fsw, w.root); err != nil {
		fsw.Close()
		return err
	}

	w.fsw = fsw
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true
	go w.loop(fsw, w.stop, w.done)
	slog.Info("watching for content changes", "root", w.root, "debounce", w.debounce)
	return nil
}

// Stop halts watching and waits for the event loop to drain. Safe to call
// repeatedly and before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stop)
	w.fsw.Close()
	select {
	case <-w.done:
	case <-time.After(joinTimeout):
		slog.Warn("watcher did not stop in time", "root", w.root)
	}
	w.running = false
	w.fsw = nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

type pendingEvent struct {
	kind Kind
	at   time.Time
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)

	pending := map[string]pendingEvent{}
	var lastProcessed time.Time

	tick := time.NewTicker(w.debounce / 2)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Error("watch error", "root", w.root, "error", err)
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.record(fsw, pending, event)
		case now := <-tick.C:
			lastProcessed = w.flush(pending, now, lastProcessed)
		}
	}
}

// record coalesces a raw filesystem event into the pending map. Later events
// for the same path overwrite earlier ones, so only the final kind is
// reported. A rename leaves only the old path behind; the new path arrives
// as its own create event.
func (w *Watcher) record(fsw *fsnotify.Watcher, pending map[string]pendingEvent, event fsnotify.Event) {
	if event.Op.Has(fsnotify.Chmod) {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addRecursive(fsw, event.Name); err != nil {
				slog.Error("watching new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	if !w.watched(event.Name) {
		return
	}

	kind := KindEdited
	switch {
	case event.Op.Has(fsnotify.Create):
		kind = KindAdded
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		kind = KindDeleted
	}
	pending[event.Name] = pendingEvent{kind: kind, at: time.Now()}
}

// flush emits pending changes that have been quiet for at least the debounce
// interval. A second condition throttles globally: no change is emitted
// within one debounce interval of the previous emission, so a burst across
// many files trickles out instead of flooding the sink.
func (w *Watcher) flush(pending map[string]pendingEvent, now time.Time, lastProcessed time.Time) time.Time {
	for path, event := range pending {
		if now.Sub(event.at) < w.debounce {
			continue
		}
		if now.Sub(lastProcessed) < w.debounce {
			continue
		}
		delete(pending, path)
		if change, ok := w.materialize(path, event.kind); ok {
			w.emit(change)
			lastProcessed = now
		}
	}
	return lastProcessed
}

// materialize turns a debounced event into a ContentChange, reading the file
// for additions and edits. Changes to files with an unrecognized content
// format are discarded. A file that vanished before it could be read is
// reported as deleted; other read failures keep the kind and format but carry
// no text.
func (w *Watcher) materialize(path string, kind Kind) (ContentChange, bool) {
	change := ContentChange{Kind: kind, Path: path}
	if kind == KindDeleted {
		return change, true
	}

	format, ok := guessFormat(path)
	if !ok {
		slog.Debug("ignoring file with unknown content format", "path", path)
		return ContentChange{}, false
	}
	change.Format = format

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ContentChange{Kind: KindDeleted, Path: path}, true
		}
		slog.Warn("reading changed file", "path", path, "error", err)
		return change, true
	}
	text := string(raw)
	change.Text = &text
	return change, true
}

func (w *Watcher) emit(change ContentChange) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("change sink panicked", "path", change.Path, "panic", r)
		}
	}()
	w.sink(change)
}

func (w *Watcher) watched(path string) bool {
	if path == "" {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return w.extensions[strings.ToLower(filepath.Ext(path))]
}

func guessFormat(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return FormatMarkdown, true
	case ".txt", ".text":
		return FormatText, true
	case ".html", ".htm":
		return FormatHTML, true
	}
	return "", false
}
