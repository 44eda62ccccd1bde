package render_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	webmentions "github.com/wmkit/webmentions"
	"github.com/wmkit/webmentions/render"
)

func sampleMention() *webmentions.Mention {
	published := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return &webmentions.Mention{
		Source:      "https://commenter.example/reply",
		Target:      "https://blog.example/post",
		Direction:   webmentions.DirectionIn,
		Title:       "Thoughts on your article",
		Excerpt:     "Great points.",
		AuthorName:  "Jo Writer",
		AuthorURL:   "https://commenter.example/",
		AuthorPhoto: "https://commenter.example/me.jpg",
		Published:   &published,
		Status:      webmentions.StatusConfirmed,
		Type:        webmentions.TypeReply,
	}
}

func TestRenderDefaultTemplate(t *testing.T) {
	renderer, err := render.New()
	require.NoError(t, err)

	html, err := renderer.Render(sampleMention())
	require.NoError(t, err)

	assert.Contains(t, html, "webmention-reply")
	assert.Contains(t, html, "Jo Writer")
	assert.Contains(t, html, `href="https://commenter.example/"`)
	assert.Contains(t, html, `src="https://commenter.example/me.jpg"`)
	assert.Contains(t, html, "Thoughts on your article")
	assert.Contains(t, html, "Great points.")
	assert.Contains(t, html, `datetime="2024-01-15T10:30:00Z"`)
	assert.Contains(t, html, "Jan 15, 2024")
}

func TestRenderBlocksUnsafeURLs(t *testing.T) {
	renderer, err := render.New()
	require.NoError(t, err)

	mention := sampleMention()
	mention.AuthorURL = "javascript:alert(1)"
	mention.AuthorPhoto = "data:image/png;base64,x"

	html, err := renderer.Render(mention)
	require.NoError(t, err)
	assert.NotContains(t, html, "javascript:")
	assert.NotContains(t, html, "data:image")
}

func TestRenderHostnameFallback(t *testing.T) {
	renderer, err := render.New()
	require.NoError(t, err)

	mention := sampleMention()
	mention.Title = ""
	html, err := renderer.Render(mention)
	require.NoError(t, err)
	assert.Contains(t, html, "commenter.example")
}

func TestRenderCustomTemplate(t *testing.T) {
	renderer, err := render.NewFromString(`{{ mention.source|hostname }}: {{ mention.mention_type }}`)
	require.NoError(t, err)

	html, err := renderer.Render(sampleMention())
	require.NoError(t, err)
	assert.Equal(t, "commenter.example: reply", html)
}

func TestRenderAll(t *testing.T) {
	renderer, err := render.NewFromString(`<li>{{ mention.author_name }}</li>`)
	require.NoError(t, err)

	first := sampleMention()
	second := sampleMention()
	second.AuthorName = "Sam Page"

	html, err := renderer.RenderAll([]*webmentions.Mention{first, second})
	require.NoError(t, err)
	assert.Equal(t, "<li>Jo Writer</li>\n<li>Sam Page</li>\n", html)
}

func TestRenderInvalidTemplate(t *testing.T) {
	_, err := render.NewFromString(`{% if %}`)
	assert.Error(t, err)
}
