package webmentions

import (
	"strings"
	"time"
	"unicode/utf8"
)

type (
	// Direction tells whether a mention was received by this server or sent
	// from it.
	Direction string

	// Status is the moderation state of a stored mention.
	Status string

	// Type classifies a mention according to the mf2 property that produced
	// it. The list is not exhaustive; the Webmention recommendation itself
	// does not define one.
	Type string
)

const (
	DirectionIn  Direction = "incoming"
	DirectionOut Direction = "outgoing"
)

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDeleted   Status = "deleted"
)

const (
	TypeUnknown  Type = "unknown"
	TypeMention  Type = "mention"
	TypeReply    Type = "reply"
	TypeLike     Type = "like"
	TypeRepost   Type = "repost"
	TypeBookmark Type = "bookmark"
	TypeRSVP     Type = "rsvp"
	TypeFollow   Type = "follow"
)

// ParseDirection accepts both the wire form ("incoming") and the enum name
// ("IN", any case).
func ParseDirection(raw string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "incoming", "in":
		return DirectionIn, true
	case "outgoing", "out":
		return DirectionOut, true
	}
	return "", false
}

// TypeFromRaw maps an mf2 property name (or a plain type name) to a Type.
func TypeFromRaw(raw string) Type {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "in-reply-to", "reply":
		return TypeReply
	case "like-of", "like":
		return TypeLike
	case "repost-of", "repost":
		return TypeRepost
	case "bookmark-of", "bookmark":
		return TypeBookmark
	case "rsvp":
		return TypeRSVP
	case "follow-of", "follow":
		return TypeFollow
	case "mention":
		return TypeMention
	}
	return TypeUnknown
}

// Mention is the canonical record of a single webmention. The triple
// (Source, Target, Direction) is its identity; everything else is
// descriptive and may be rewritten on re-ingestion.
type Mention struct {
	Source      string         `json:"source"`
	Target      string         `json:"target"`
	Direction   Direction      `json:"direction"`
	Title       string         `json:"title,omitempty"`
	Excerpt     string         `json:"excerpt,omitempty"`
	Content     string         `json:"content,omitempty"`
	AuthorName  string         `json:"author_name,omitempty"`
	AuthorURL   string         `json:"author_url,omitempty"`
	AuthorPhoto string         `json:"author_photo,omitempty"`
	Published   *time.Time     `json:"published,omitempty"`
	Status      Status         `json:"status"`
	Type        Type           `json:"mention_type"`
	TypeRaw     string         `json:"mention_type_raw,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// Key identifies a mention record.
type Key struct {
	Source    string
	Target    string
	Direction Direction
}

func (m *Mention) Key() Key {
	return Key{Source: m.Source, Target: m.Target, Direction: m.Direction}
}

// Normalize fills enum zero values with their defaults and forces naive
// timestamps to UTC. It is applied on construction and when records are read
// back from storage.
func (m *Mention) Normalize() {
	if m.Status == "" {
		m.Status = StatusConfirmed
	}
	if m.Type == "" {
		m.Type = TypeUnknown
	}
	m.Published = toUTC(m.Published)
	m.CreatedAt = toUTC(m.CreatedAt)
	m.UpdatedAt = toUTC(m.UpdatedAt)
}

func toUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// timeLayouts are the ISO-8601 shapes accepted for published timestamps.
// Layouts without a zone are interpreted as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 timestamp. A blank string yields nil, not an
// error, because mf2 commonly carries empty published values.
func ParseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			t = t.UTC()
			return &t, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// DeriveExcerpt derives a short plain-text summary from content: whitespace runs
// collapse to single spaces and the result is truncated to at most maxRunes
// code points. Empty results are reported as the empty string.
func DeriveExcerpt(content string, maxRunes int) string {
	collapsed := strings.Join(strings.Fields(content), " ")
	if collapsed == "" {
		return ""
	}
	if utf8.RuneCountInString(collapsed) <= maxRunes {
		return collapsed
	}
	runes := []rune(collapsed)
	return string(runes[:maxRunes])
}
