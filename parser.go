package webmentions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"willnorris.com/go/microformats"
)

// Parser fetches a mention's source document, verifies that it really links
// to the target, and extracts microformats2 and meta-tag metadata into a
// Mention record.
type Parser struct {
	// BaseURL, when set, restricts targets to its host. A mention for a
	// target on any other host fails with a ValidationError.
	BaseURL    *url.URL
	UserAgent  string
	HTTPClient *http.Client
}

func NewParser() *Parser {
	return &Parser{
		UserAgent:  DefaultUserAgent,
		HTTPClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
}

// Parse processes an incoming webmention request. The returned error is a
// GoneError when the source is gone (404/410) or no longer links to the
// target; callers treat that as a tombstone.
func (p *Parser) Parse(ctx context.Context, source, target string) (*Mention, error) {
	if source == "" || target == "" {
		return nil, ValidationError{Message: "missing source or target URL"}
	}
	if p.BaseURL != nil {
		targetURL, err := url.Parse(target)
		if err != nil {
			return nil, ValidationError{Message: "target url is malformed"}
		}
		if !strings.EqualFold(targetURL.Host, p.BaseURL.Host) {
			return nil, ValidationError{Message: "target URL domain does not match server domain"}
		}
	}

	body, err := p.fetchSource(ctx, source, target)
	if err != nil {
		return nil, err
	}

	if !sourceMentionsTarget(body, target) {
		return nil, GoneError{Source: source, Target: target, Message: "target URL not found in source content"}
	}

	mention := &Mention{
		Source:    source,
		Target:    target,
		Direction: DirectionIn,
		Status:    StatusConfirmed,
		Type:      TypeUnknown,
		Metadata:  map[string]any{},
	}

	if entry := extractHEntry(body, source); entry != nil {
		fillFromHEntry(mention, entry, target)
	}
	if mention.Excerpt == "" && mention.Content != "" {
		mention.Excerpt = DeriveExcerpt(mention.Content, 240)
	}

	fillFromHTMLFallbacks(mention, body)
	if mention.Excerpt == "" && mention.Content != "" {
		mention.Excerpt = DeriveExcerpt(mention.Content, 250)
	}

	return mention, nil
}

func (p *Parser) fetchSource(ctx context.Context, source, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, ValidationError{Message: fmt.Sprintf("source url is malformed: %s", err)}
	}
	req.Header.Set("User-Agent", p.UserAgent)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, UpstreamError{URL: source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, GoneError{Source: source, Target: target, Message: "source URL not found"}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, UpstreamError{URL: source, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, UpstreamError{URL: source, Err: err}
	}
	return body, nil
}

// sourceMentionsTarget requires an exact match of the target URL as an href
// or src attribute value. The REC mandates exact comparison: a trailing
// slash difference means no match. If the document cannot be parsed at all,
// a raw substring search is the fallback.
func sourceMentionsTarget(body []byte, target string) bool {
	doc, err := html.Parse(bytes.NewReader(body))
	if err == nil {
		var walk func(*html.Node) bool
		walk = func(node *html.Node) bool {
			if node.Type == html.ElementNode {
				for _, attr := range node.Attr {
					if (strings.EqualFold(attr.Key, "href") || strings.EqualFold(attr.Key, "src")) && attr.Val == target {
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
		if walk(doc) {
			return true
		}
	}
	return bytes.Contains(body, []byte(target))
}

// extractHEntry returns the first top-level h-entry, or failing that the
// first h-entry among any top-level item's children.
func extractHEntry(body []byte, source string) *microformats.Microformat {
	sourceURL, err := url.Parse(source)
	if err != nil {
		return nil
	}
	data := microformats.Parse(bytes.NewReader(body), sourceURL)
	if data == nil {
		return nil
	}
	for _, item := range data.Items {
		if hasType(item, "h-entry") {
			return item
		}
	}
	for _, item := range data.Items {
		for _, child := range item.Children {
			if hasType(child, "h-entry") {
				return child
			}
		}
	}
	return nil
}

func hasType(item *microformats.Microformat, typ string) bool {
	for _, t := range item.Type {
		if t == typ {
			return true
		}
	}
	return false
}

// firstString reduces an mf2 property value to a scalar: strings pass
// through, maps yield their "value" then "url" entry, nested microformats
// their value then url property, lists recurse on their first element.
func firstString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]string:
		if s := v["value"]; s != "" {
			return s
		}
		return v["url"]
	case map[string]any:
		if s, ok := v["value"].(string); ok && s != "" {
			return s
		}
		if s, ok := v["url"].(string); ok {
			return s
		}
	case *microformats.Microformat:
		if v == nil {
			return ""
		}
		if v.Value != "" {
			return v.Value
		}
		return firstString(v.Properties["url"])
	case []any:
		if len(v) > 0 {
			return firstString(v[0])
		}
	}
	return ""
}

func firstStringOrNil(value any) any {
	if s := firstString(value); s != "" {
		return s
	}
	return nil
}

func fillFromHEntry(mention *Mention, entry *microformats.Microformat, target string) {
	props := entry.Properties
	fillMF2Metadata(mention, entry, props)
	fillCoreFields(mention, props)
	fillAuthor(mention, props)
	inferType(mention, props, target)
	fillComments(mention, props)
}

// mf2 raw-array properties recorded verbatim under metadata.mf2.
var mf2ArrayProps = map[string]string{
	"category":     "category",
	"syndication":  "syndication",
	"bookmark-of":  "bookmark_of",
	"like-of":      "like_of",
	"repost-of":    "repost_of",
	"in-reply-to":  "in_reply_to",
	"follow-of":    "follow_of",
	"quotation-of": "quotation_of",
	"photo":        "photo",
	"featured":     "featured",
	"video":        "video",
	"audio":        "audio",
	"location":     "location",
}

func fillMF2Metadata(mention *Mention, entry *microformats.Microformat, props map[string][]any) {
	mf2, ok := mention.Metadata["mf2"].(map[string]any)
	if !ok {
		mf2 = map[string]any{}
		mention.Metadata["mf2"] = mf2
	}

	mf2["type"] = entry.Type
	mf2["url"] = firstStringOrNil(props["url"])
	mf2["uid"] = firstStringOrNil(props["uid"])
	mf2["rsvp"] = firstStringOrNil(props["rsvp"])

	for prop, key := range mf2ArrayProps {
		values := props[prop]
		if values == nil {
			values = []any{}
		}
		mf2[key] = values
	}

	mf2["photo_url"] = firstStringOrNil(props["photo"])
	mf2["featured_url"] = firstStringOrNil(props["featured"])
	mf2["video_url"] = firstStringOrNil(props["video"])
	mf2["audio_url"] = firstStringOrNil(props["audio"])
	mf2["location_normalized"] = extractLocation(props)
}

func extractLocation(props map[string][]any) any {
	values := props["location"]
	if len(values) == 0 {
		return nil
	}
	switch loc := values[0].(type) {
	case string:
		return map[string]any{"name": nil, "url": loc}
	case *microformats.Microformat:
		return map[string]any{
			"type":      loc.Type,
			"name":      firstStringOrNil(loc.Properties["name"]),
			"url":       firstStringOrNil(loc.Properties["url"]),
			"latitude":  firstStringOrNil(loc.Properties["latitude"]),
			"longitude": firstStringOrNil(loc.Properties["longitude"]),
		}
	}
	return nil
}

func fillCoreFields(mention *Mention, props map[string][]any) {
	if mention.Title == "" {
		mention.Title = firstString(props["name"])
	}
	if mention.Published == nil {
		if published, err := ParseTime(firstString(props["published"])); err == nil {
			mention.Published = published
		}
	}
	if mention.Excerpt == "" {
		mention.Excerpt = firstString(props["summary"])
	}
	if mention.Content == "" {
		if content := props["content"]; len(content) > 0 {
			switch c := content[0].(type) {
			case map[string]string:
				if c["value"] != "" {
					mention.Content = c["value"]
				} else {
					mention.Content = c["html"]
				}
			case string:
				mention.Content = c
			}
		}
	}
	if mention.Content == "" {
		mention.Content = firstString(props["content"])
	}
}

func fillAuthor(mention *Mention, props map[string][]any) {
	if mention.AuthorName != "" || mention.AuthorURL != "" || mention.AuthorPhoto != "" {
		return
	}
	name, authorURL, photo := extractAuthor(props)
	mention.AuthorName = name
	mention.AuthorURL = authorURL
	mention.AuthorPhoto = photo
}

// extractAuthor resolves the mf2 author property: a plain string is an
// author URL, an h-card yields name/url/photo.
func extractAuthor(props map[string][]any) (name, authorURL, photo string) {
	values := props["author"]
	if len(values) == 0 {
		return "", "", ""
	}
	switch author := values[0].(type) {
	case string:
		return "", author, ""
	case *microformats.Microformat:
		return firstString(author.Properties["name"]),
			firstString(author.Properties["url"]),
			firstString(author.Properties["photo"])
	}
	return "", "", ""
}

// typeProps is the inference priority order mandated by the protocol
// semantics: the most specific relation to the target wins.
var typeProps = []string{"like-of", "repost-of", "bookmark-of", "in-reply-to", "follow-of"}

func inferType(mention *Mention, props map[string][]any, target string) {
	if mention.Type != TypeUnknown {
		return
	}
	for _, prop := range typeProps {
		for _, value := range props[prop] {
			if s, ok := value.(string); ok && s == target {
				mention.TypeRaw = prop
				mention.Type = TypeFromRaw(prop)
				return
			}
		}
	}
	if firstString(props["rsvp"]) != "" {
		mention.TypeRaw = "rsvp"
		mention.Type = TypeRSVP
		return
	}
	mention.TypeRaw = "mention"
	mention.Type = TypeMention
}

func fillComments(mention *Mention, props map[string][]any) {
	comments := props["comment"]
	if len(comments) == 0 {
		return
	}
	if _, exists := mention.Metadata["comments"]; exists {
		return
	}
	extracted := make([]any, 0, len(comments))
	for _, comment := range comments {
		switch c := comment.(type) {
		case string:
			extracted = append(extracted, map[string]any{"url": c})
		case *microformats.Microformat:
			name, authorURL, photo := extractAuthor(c.Properties)
			var content string
			if values := c.Properties["content"]; len(values) > 0 {
				if m, ok := values[0].(map[string]string); ok {
					if m["value"] != "" {
						content = m["value"]
					} else {
						content = m["html"]
					}
				} else if s, ok := values[0].(string); ok {
					content = s
				}
			}
			if content == "" {
				content = firstString(c.Properties["content"])
			}
			extracted = append(extracted, map[string]any{
				"type":      c.Type,
				"name":      firstStringOrNil(c.Properties["name"]),
				"url":       firstStringOrNil(c.Properties["url"]),
				"published": firstStringOrNil(c.Properties["published"]),
				"content":   content,
				"author": map[string]any{
					"name":  name,
					"url":   authorURL,
					"photo": photo,
				},
			})
		}
	}
	mention.Metadata["comments"] = extracted
}

// fillFromHTMLFallbacks covers sources without microformats markup using
// OpenGraph, Twitter card, and plain meta tags. Like the mf2 pipeline it is
// strictly additive: fields already set are kept.
func fillFromHTMLFallbacks(mention *Mention, body []byte) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return
	}

	if mention.Title == "" {
		if v, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok && v != "" {
			mention.Title = v
		} else if v, ok := doc.Find(`meta[name="twitter:title"]`).First().Attr("content"); ok && v != "" {
			mention.Title = v
		} else if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
			mention.Title = title
		}
	}

	if mention.AuthorName == "" {
		if v, ok := doc.Find(`meta[name="author"]`).First().Attr("content"); ok && v != "" {
			mention.AuthorName = v
		}
	}

	if mention.Published == nil {
		if v, ok := doc.Find(`meta[property="article:published_time"]`).First().Attr("content"); ok {
			if published, err := ParseTime(v); err == nil {
				mention.Published = published
			}
		}
	}

	if mention.Content == "" {
		if v, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok && v != "" {
			mention.Content = v
		}
	}
}
