// Package render turns stored mentions into HTML fragments through pongo2
// templates, for embedding under posts on statically generated sites.
package render

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/wmkit/webmentions"
)

// DefaultTemplate renders one mention as a list item. Sites with their own
// markup pass a template of their own to NewFromString.
const DefaultTemplate = `<li class="webmention webmention-{{ mention.mention_type }}">
  {% if mention.author_name %}
  <span class="webmention-author">
    {% if mention.author_photo|safe_url %}<img src="{{ mention.author_photo|safe_url }}" alt="" class="webmention-author-photo">{% endif %}
    {% if mention.author_url|safe_url %}<a href="{{ mention.author_url|safe_url }}">{{ mention.author_name }}</a>{% else %}{{ mention.author_name }}{% endif %}
  </span>
  {% endif %}
  <a href="{{ mention.source|safe_url }}" class="webmention-source">{% if mention.title %}{{ mention.title }}{% else %}{{ mention.source|hostname }}{% endif %}</a>
  {% if mention.published %}<time datetime="{{ mention.published|format_datetime }}">{{ mention.published|format_date }}</time>{% endif %}
  {% if mention.excerpt %}<blockquote class="webmention-excerpt">{{ mention.excerpt }}</blockquote>{% endif %}
</li>`

var registerOnce sync.Once

func registerFilters() {
	registerOnce.Do(func() {
		pongo2.RegisterFilter("format_date", filterFormatDate)
		pongo2.RegisterFilter("format_datetime", filterFormatDatetime)
		pongo2.RegisterFilter("hostname", filterHostname)
		pongo2.RegisterFilter("as_url", filterAsURL)
		pongo2.RegisterFilter("safe_url", filterSafeURL)
	})
}

type Renderer struct {
	template *pongo2.Template
}

func New() (*Renderer, error) {
	return NewFromString(DefaultTemplate)
}

func NewFromString(source string) (*Renderer, error) {
	registerFilters()
	template, err := pongo2.FromString(source)
	if err != nil {
		return nil, err
	}
	return &Renderer{template: template}, nil
}

// Render produces the HTML fragment for one mention.
func (r *Renderer) Render(mention *webmentions.Mention) (string, error) {
	return r.template.Execute(pongo2.Context{"mention": templateContext(mention)})
}

// RenderAll renders the mentions in order and concatenates the fragments.
func (r *Renderer) RenderAll(mentions []*webmentions.Mention) (string, error) {
	var b strings.Builder
	for _, mention := range mentions {
		fragment, err := r.Render(mention)
		if err != nil {
			return "", err
		}
		b.WriteString(fragment)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func templateContext(m *webmentions.Mention) pongo2.Context {
	return pongo2.Context{
		"source":           m.Source,
		"target":           m.Target,
		"direction":        string(m.Direction),
		"title":            m.Title,
		"excerpt":          m.Excerpt,
		"content":          m.Content,
		"author_name":      m.AuthorName,
		"author_url":       m.AuthorURL,
		"author_photo":     m.AuthorPhoto,
		"published":        m.Published,
		"status":           string(m.Status),
		"mention_type":     string(m.Type),
		"mention_type_raw": m.TypeRaw,
		"metadata":         m.Metadata,
	}
}

func asTime(in *pongo2.Value) (time.Time, bool) {
	switch v := in.Interface().(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v != nil {
			return *v, true
		}
	}
	return time.Time{}, false
}

func filterFormatDate(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	t, ok := asTime(in)
	if !ok {
		return pongo2.AsValue(""), nil
	}
	layout := "Jan 2, 2006"
	if param != nil && param.String() != "" {
		layout = param.String()
	}
	return pongo2.AsValue(t.Format(layout)), nil
}

func filterFormatDatetime(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	t, ok := asTime(in)
	if !ok {
		return pongo2.AsValue(""), nil
	}
	return pongo2.AsValue(t.Format(time.RFC3339)), nil
}

// filterHostname reduces a URL to its host, for compact source labels.
func filterHostname(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	parsed, err := url.Parse(in.String())
	if err != nil {
		return pongo2.AsValue(""), nil
	}
	return pongo2.AsValue(parsed.Host), nil
}

// filterAsURL normalizes a URL string through parsing, emptying values that
// do not parse at all.
func filterAsURL(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	parsed, err := url.Parse(in.String())
	if err != nil {
		return pongo2.AsValue(""), nil
	}
	return pongo2.AsValue(parsed.String()), nil
}

// filterSafeURL passes through http and https URLs and empties anything
// else, keeping javascript: and data: URLs out of rendered attributes.
func filterSafeURL(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	raw := in.String()
	parsed, err := url.Parse(raw)
	if err != nil {
		return pongo2.AsValue(""), nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return pongo2.AsValue(""), nil
	}
	return pongo2.AsValue(raw), nil
}
