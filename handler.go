package webmentions

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Handler ties a storage backend together with the incoming and outgoing
// processors. It holds no long-lived connections; storage is passed in as a
// collaborator, never reached back into.
type Handler struct {
	storage  Storage
	incoming *IncomingProcessor
	outgoing *OutgoingProcessor
}

type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	baseURL       *url.URL
	timeout       time.Duration
	userAgent     string
	notifier      Notifier
	initialStatus Status
	maxWorkers    int
}

// WithBaseURL restricts incoming mention targets to the given URL's host.
func WithBaseURL(baseURL *url.URL) HandlerOption {
	return func(c *handlerConfig) { c.baseURL = baseURL }
}

// WithTimeout bounds all outbound HTTP requests.
func WithTimeout(timeout time.Duration) HandlerOption {
	return func(c *handlerConfig) { c.timeout = timeout }
}

// WithUserAgent overrides the User-Agent for outbound requests. Should (but
// doesn't have to) include the string "Webmention".
func WithUserAgent(agent string) HandlerOption {
	return func(c *handlerConfig) { c.userAgent = agent }
}

// WithNotifier installs the moderation/notification hook.
func WithNotifier(notifier Notifier) HandlerOption {
	return func(c *handlerConfig) {
		if notifier != nil {
			c.notifier = notifier
		}
	}
}

// WithInitialStatus sets the status applied to freshly parsed incoming
// mentions. StatusPending forces moderation: the mention is persisted but
// integrators decide inside the notifier when it becomes confirmed.
func WithInitialStatus(status Status) HandlerOption {
	return func(c *handlerConfig) { c.initialStatus = status }
}

// WithMaxWorkers bounds the parallelism of outbound dispatch.
func WithMaxWorkers(workers int) HandlerOption {
	return func(c *handlerConfig) {
		if workers > 0 {
			c.maxWorkers = workers
		}
	}
}

func NewHandler(storage Storage, opts ...HandlerOption) *Handler {
	cfg := handlerConfig{
		timeout:       DefaultHTTPTimeout,
		userAgent:     DefaultUserAgent,
		notifier:      NoopNotifier{},
		initialStatus: StatusConfirmed,
		maxWorkers:    defaultMaxWorkers,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	client := &http.Client{Timeout: cfg.timeout}
	parser := &Parser{
		BaseURL:    cfg.baseURL,
		UserAgent:  cfg.userAgent,
		HTTPClient: client,
	}
	discoverer := &Discoverer{
		UserAgent:  cfg.userAgent,
		HTTPClient: client,
	}

	return &Handler{
		storage: storage,
		incoming: &IncomingProcessor{
			storage:       storage,
			parser:        parser,
			notifier:      cfg.notifier,
			initialStatus: cfg.initialStatus,
		},
		outgoing: &OutgoingProcessor{
			storage:    storage,
			discoverer: discoverer,
			notifier:   cfg.notifier,
			userAgent:  cfg.userAgent,
			httpClient: client,
			maxWorkers: cfg.maxWorkers,
		},
	}
}

// ProcessIncoming handles one received webmention. See
// IncomingProcessor.ProcessIncoming.
func (h *Handler) ProcessIncoming(ctx context.Context, source, target string) (*Mention, error) {
	return h.incoming.ProcessIncoming(ctx, source, target)
}

// ProcessOutgoing dispatches webmentions for links in a local resource. Pass
// a nil text to have the source URL fetched. See
// OutgoingProcessor.ProcessOutgoing.
func (h *Handler) ProcessOutgoing(ctx context.Context, sourceURL string, text *string, format TextFormat) {
	h.outgoing.ProcessOutgoing(ctx, sourceURL, text, format)
}

// Retrieve returns the stored mentions for a resource: incoming mentions of
// a page, or the outbound record of a page's sent mentions.
func (h *Handler) Retrieve(resource string, direction Direction) ([]*Mention, error) {
	return h.storage.Retrieve(resource, direction)
}

// Wait blocks until background outbound deliveries have drained. Call on
// shutdown.
func (h *Handler) Wait() {
	h.outgoing.Wait()
}
