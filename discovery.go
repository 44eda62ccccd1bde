package webmentions

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tomnomnom/linkheader"
	"golang.org/x/net/html"
)

// Discoverer resolves the webmention endpoint advertised by a target URL,
// first through Link response headers, then through <link> and <a> elements
// in the document.
type Discoverer struct {
	UserAgent  string
	HTTPClient *http.Client
}

func NewDiscoverer() *Discoverer {
	return &Discoverer{
		UserAgent:  DefaultUserAgent,
		HTTPClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
}

// Discover returns the endpoint URL for target, or nil if the target does
// not advertise one or cannot be fetched. Fetch failures are not errors for
// the caller: a target without an endpoint simply receives no mention.
func (d *Discoverer) Discover(ctx context.Context, target string) *url.URL {
	targetURL, err := url.Parse(target)
	if err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", d.UserAgent)

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		slog.Debug("endpoint discovery fetch failed", "target", target, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if endpoint := endpointFromLinkHeaders(resp.Header.Values("Link"), targetURL); endpoint != nil {
		return endpoint
	}

	// Relative hrefs in the document resolve against the final URL after
	// redirects, not the URL we asked for.
	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	return endpointFromDocument(resp.Body, finalURL)
}

func endpointFromLinkHeaders(headers []string, base *url.URL) *url.URL {
	for _, link := range linkheader.ParseMultiple(headers) {
		if !relContains(link.Rel, "webmention") {
			continue
		}
		href, err := url.Parse(link.URL)
		if err != nil {
			continue
		}
		return base.ResolveReference(href)
	}
	return nil
}

// relContains matches the whole token "webmention" within a (possibly
// multi-valued, space-separated) rel attribute.
func relContains(rel, token string) bool {
	for _, field := range strings.Fields(rel) {
		if strings.EqualFold(field, token) {
			return true
		}
	}
	return false
}

// endpointFromDocument picks the first <link> or <a> in document order that
// carries rel=webmention and an href attribute. An empty href is valid and
// resolves to the page itself.
func endpointFromDocument(body io.Reader, base *url.URL) *url.URL {
	doc, err := html.Parse(body)
	if err != nil {
		return nil
	}

	var endpoint *url.URL
	var walk func(*html.Node) bool
	walk = func(node *html.Node) bool {
		if node.Type == html.ElementNode && (node.Data == "link" || node.Data == "a") {
			rel := ""
			href := ""
			hasHref := false
			for _, attr := range node.Attr {
				switch strings.ToLower(attr.Key) {
				case "rel":
					rel = attr.Val
				case "href":
					href = attr.Val
					hasHref = true
				}
			}
			if hasHref && relContains(rel, "webmention") {
				parsed, err := url.Parse(href)
				if err == nil {
					endpoint = base.ResolveReference(parsed)
					return true
				}
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if walk(child) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return endpoint
}
