// Package storage provides persistence backends for webmentions: a SQL
// store over sqlite or postgres, and an in-memory store for tests and
// short-lived setups.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/wmkit/webmentions"
)

const timeLayout = time.RFC3339Nano

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS webmentions (
		source           TEXT NOT NULL,
		target           TEXT NOT NULL,
		direction        TEXT NOT NULL,
		title            TEXT NOT NULL DEFAULT '',
		excerpt          TEXT NOT NULL DEFAULT '',
		content          TEXT NOT NULL DEFAULT '',
		author_name      TEXT NOT NULL DEFAULT '',
		author_url       TEXT NOT NULL DEFAULT '',
		author_photo     TEXT NOT NULL DEFAULT '',
		published        TEXT,
		status           TEXT NOT NULL,
		mention_type     TEXT NOT NULL,
		mention_type_raw TEXT NOT NULL DEFAULT '',
		metadata         TEXT NOT NULL DEFAULT '{}',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		PRIMARY KEY (source, target, direction)
	)`,
	`CREATE INDEX IF NOT EXISTS webmentions_target_idx ON webmentions (target, direction)`,
	`CREATE INDEX IF NOT EXISTS webmentions_source_idx ON webmentions (source, direction)`,
}

// Store persists mentions in a SQL database. The dialect is picked from the
// engine URL: postgres:// and postgresql:// use lib/pq, anything else is
// treated as a sqlite file path (optionally prefixed sqlite://).
type Store struct {
	db     *sql.DB
	driver string
}

var _ webmentions.Storage = (*Store)(nil)

func Open(engineURL string) (*Store, error) {
	driver, dsn, err := detectDriver(engineURL)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driver == "sqlite" {
		// modernc.org/sqlite does not serialize writers across connections.
		db.SetMaxOpenConns(1)
	}
	store := &Store{db: db, driver: driver}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func detectDriver(engineURL string) (driver, dsn string, err error) {
	switch {
	case engineURL == "":
		return "", "", errors.New("empty database URL")
	case strings.HasPrefix(engineURL, "postgres://"), strings.HasPrefix(engineURL, "postgresql://"):
		return "postgres", engineURL, nil
	case strings.HasPrefix(engineURL, "sqlite://"):
		return "sqlite", sqliteDSN(strings.TrimPrefix(engineURL, "sqlite://")), nil
	default:
		return "sqlite", sqliteDSN(engineURL), nil
	}
}

func sqliteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func (s *Store) migrate() error {
	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into the $n form postgres expects.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store upserts a mention keyed by (source, target, direction). On update
// the original created_at survives; everything else is replaced.
func (s *Store) Store(m *webmentions.Mention) error {
	m.Normalize()

	now := time.Now().UTC()
	createdAt := now
	if m.CreatedAt != nil {
		createdAt = m.CreatedAt.UTC()
	} else if m.Published != nil {
		createdAt = m.Published.UTC()
	}

	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = s.db.Exec(s.rebind(`
		INSERT INTO webmentions (
			source, target, direction, title, excerpt, content,
			author_name, author_url, author_photo, published,
			status, mention_type, mention_type_raw, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, target, direction) DO UPDATE SET
			title = excluded.title,
			excerpt = excluded.excerpt,
			content = excluded.content,
			author_name = excluded.author_name,
			author_url = excluded.author_url,
			author_photo = excluded.author_photo,
			published = excluded.published,
			status = excluded.status,
			mention_type = excluded.mention_type,
			mention_type_raw = excluded.mention_type_raw,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`),
		m.Source, m.Target, string(m.Direction), m.Title, m.Excerpt, m.Content,
		m.AuthorName, m.AuthorURL, m.AuthorPhoto, nullableTime(m.Published),
		string(m.Status), string(m.Type), m.TypeRaw, string(metadata),
		createdAt.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("storing mention: %w", err)
	}
	return nil
}

// Delete removes one mention. Deleting a mention that does not exist is not
// an error.
func (s *Store) Delete(source, target string, direction webmentions.Direction) error {
	_, err := s.db.Exec(
		s.rebind(`DELETE FROM webmentions WHERE source = ? AND target = ? AND direction = ?`),
		source, target, string(direction),
	)
	if err != nil {
		return fmt.Errorf("deleting mention: %w", err)
	}
	return nil
}

// Retrieve returns mentions for a resource, oldest first. For incoming
// mentions the resource is the target page; for outgoing ones it is the
// source page whose sent mentions are on record.
func (s *Store) Retrieve(resource string, direction webmentions.Direction) ([]*webmentions.Mention, error) {
	column := "target"
	if direction == webmentions.DirectionOut {
		column = "source"
	}
	rows, err := s.db.Query(
		s.rebind(`SELECT source, target, direction, title, excerpt, content,
			author_name, author_url, author_photo, published,
			status, mention_type, mention_type_raw, metadata,
			created_at, updated_at
		FROM webmentions
		WHERE `+column+` = ? AND direction = ?
		ORDER BY created_at, source, target`),
		resource, string(direction),
	)
	if err != nil {
		return nil, fmt.Errorf("querying mentions: %w", err)
	}
	defer rows.Close()

	var mentions []*webmentions.Mention
	for rows.Next() {
		m, err := scanMention(rows)
		if err != nil {
			return nil, err
		}
		mentions = append(mentions, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading mentions: %w", err)
	}
	return mentions, nil
}

func scanMention(rows *sql.Rows) (*webmentions.Mention, error) {
	var (
		m                              webmentions.Mention
		direction, status, mentionType string
		published                      sql.NullString
		metadata, createdAt, updatedAt string
	)
	err := rows.Scan(
		&m.Source, &m.Target, &direction, &m.Title, &m.Excerpt, &m.Content,
		&m.AuthorName, &m.AuthorURL, &m.AuthorPhoto, &published,
		&status, &mentionType, &m.TypeRaw, &metadata,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning mention: %w", err)
	}
	m.Direction = webmentions.Direction(direction)
	m.Status = webmentions.Status(status)
	m.Type = webmentions.Type(mentionType)
	if published.Valid && published.String != "" {
		if t, err := parseStoredTime(published.String); err == nil {
			m.Published = t
		}
	}
	if t, err := parseStoredTime(createdAt); err == nil {
		m.CreatedAt = t
	}
	if t, err := parseStoredTime(updatedAt); err == nil {
		m.UpdatedAt = t
	}
	if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &m, nil
}

func parseStoredTime(raw string) (*time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
