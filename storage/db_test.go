package storage_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	webmentions "github.com/wmkit/webmentions"
	"github.com/wmkit/webmentions/storage"
)

// backends runs the same contract against every storage implementation.
func backends(t *testing.T) map[string]webmentions.Storage {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "webmentions.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return map[string]webmentions.Storage{
		"sqlite": store,
		"memory": storage.NewMemory(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			published := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
			mention := &webmentions.Mention{
				Source:      "https://a.example/reply",
				Target:      "https://b.example/post",
				Direction:   webmentions.DirectionIn,
				Title:       "A reply",
				Excerpt:     "short version",
				Content:     "the full text",
				AuthorName:  "Jo Writer",
				AuthorURL:   "https://a.example/",
				AuthorPhoto: "https://a.example/me.jpg",
				Published:   &published,
				Status:      webmentions.StatusConfirmed,
				Type:        webmentions.TypeReply,
				TypeRaw:     "in-reply-to",
				Metadata:    map[string]any{"mf2": map[string]any{"rsvp": nil}},
			}
			require.NoError(t, store.Store(mention))

			mentions, err := store.Retrieve("https://b.example/post", webmentions.DirectionIn)
			require.NoError(t, err)
			require.Len(t, mentions, 1)

			got := mentions[0]
			assert.Equal(t, mention.Source, got.Source)
			assert.Equal(t, mention.Target, got.Target)
			assert.Equal(t, webmentions.DirectionIn, got.Direction)
			assert.Equal(t, "A reply", got.Title)
			assert.Equal(t, "short version", got.Excerpt)
			assert.Equal(t, "the full text", got.Content)
			assert.Equal(t, "Jo Writer", got.AuthorName)
			assert.Equal(t, webmentions.TypeReply, got.Type)
			assert.Equal(t, "in-reply-to", got.TypeRaw)
			require.NotNil(t, got.Published)
			assert.True(t, got.Published.Equal(published))
			require.NotNil(t, got.CreatedAt)
			require.NotNil(t, got.UpdatedAt)
			assert.Contains(t, got.Metadata, "mf2")
		})
	}
}

func TestStoreUpsertPreservesCreatedAt(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			mention := &webmentions.Mention{
				Source:    "https://a.example/reply",
				Target:    "https://b.example/post",
				Direction: webmentions.DirectionIn,
				Title:     "first title",
			}
			require.NoError(t, store.Store(mention))

			first, err := store.Retrieve("https://b.example/post", webmentions.DirectionIn)
			require.NoError(t, err)
			require.Len(t, first, 1)
			createdAt := first[0].CreatedAt
			require.NotNil(t, createdAt)

			updated := &webmentions.Mention{
				Source:    mention.Source,
				Target:    mention.Target,
				Direction: mention.Direction,
				Title:     "second title",
			}
			require.NoError(t, store.Store(updated))

			second, err := store.Retrieve("https://b.example/post", webmentions.DirectionIn)
			require.NoError(t, err)
			require.Len(t, second, 1, "upsert must not create a second row")
			assert.Equal(t, "second title", second[0].Title)
			assert.True(t, second[0].CreatedAt.Equal(*createdAt), "created_at survives re-ingestion")
		})
	}
}

func TestDeleteIdempotent(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			mention := &webmentions.Mention{
				Source:    "https://a.example/reply",
				Target:    "https://b.example/post",
				Direction: webmentions.DirectionIn,
			}
			require.NoError(t, store.Store(mention))
			require.NoError(t, store.Delete(mention.Source, mention.Target, mention.Direction))
			require.NoError(t, store.Delete(mention.Source, mention.Target, mention.Direction),
				"deleting an absent mention is not an error")

			mentions, err := store.Retrieve("https://b.example/post", webmentions.DirectionIn)
			require.NoError(t, err)
			assert.Empty(t, mentions)
		})
	}
}

func TestRetrieveByDirection(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			page := "https://b.example/post"
			incoming := &webmentions.Mention{
				Source:    "https://a.example/reply",
				Target:    page,
				Direction: webmentions.DirectionIn,
			}
			outgoing := &webmentions.Mention{
				Source:    page,
				Target:    "https://c.example/other",
				Direction: webmentions.DirectionOut,
			}
			require.NoError(t, store.Store(incoming))
			require.NoError(t, store.Store(outgoing))

			// Incoming mentions are looked up by target, outgoing ones by
			// source: both use the local page as the resource.
			in, err := store.Retrieve(page, webmentions.DirectionIn)
			require.NoError(t, err)
			require.Len(t, in, 1)
			assert.Equal(t, incoming.Source, in[0].Source)

			out, err := store.Retrieve(page, webmentions.DirectionOut)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, outgoing.Target, out[0].Target)
		})
	}
}

func TestRetrieveOrderedByCreation(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			page := "https://b.example/post"
			older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			newer := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
			require.NoError(t, store.Store(&webmentions.Mention{
				Source: "https://a.example/second", Target: page,
				Direction: webmentions.DirectionIn, CreatedAt: &newer,
			}))
			require.NoError(t, store.Store(&webmentions.Mention{
				Source: "https://a.example/first", Target: page,
				Direction: webmentions.DirectionIn, CreatedAt: &older,
			}))

			mentions, err := store.Retrieve(page, webmentions.DirectionIn)
			require.NoError(t, err)
			require.Len(t, mentions, 2)
			assert.Equal(t, "https://a.example/first", mentions[0].Source)
			assert.Equal(t, "https://a.example/second", mentions[1].Source)
		})
	}
}

func TestOpenRejectsEmptyURL(t *testing.T) {
	_, err := storage.Open("")
	assert.Error(t, err)
}

func TestOpenSqliteScheme(t *testing.T) {
	store, err := storage.Open("sqlite://" + filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
