package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	webmentions "github.com/wmkit/webmentions"
	"github.com/wmkit/webmentions/server"
)

// fakeProcessor lets each test script the processing outcome.
type fakeProcessor struct {
	processIncoming func(source, target string) (*webmentions.Mention, error)
	retrieve        func(resource string, direction webmentions.Direction) ([]*webmentions.Mention, error)
}

func (p *fakeProcessor) ProcessIncoming(ctx context.Context, source, target string) (*webmentions.Mention, error) {
	return p.processIncoming(source, target)
}

func (p *fakeProcessor) Retrieve(resource string, direction webmentions.Direction) ([]*webmentions.Mention, error) {
	return p.retrieve(resource, direction)
}

func postForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestReceiveOK(t *testing.T) {
	var gotSource, gotTarget string
	processor := &fakeProcessor{
		processIncoming: func(source, target string) (*webmentions.Mention, error) {
			gotSource, gotTarget = source, target
			return &webmentions.Mention{Source: source, Target: target}, nil
		},
	}
	routes := server.Routes(processor, server.Config{})

	rec := postForm(t, routes, "/webmention", url.Values{
		"source": {"https://a.example/post"},
		"target": {"https://b.example/post"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://a.example/post", gotSource)
	assert.Equal(t, "https://b.example/post", gotTarget)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestReceiveValidationError(t *testing.T) {
	processor := &fakeProcessor{
		processIncoming: func(source, target string) (*webmentions.Mention, error) {
			return nil, webmentions.ValidationError{Message: "missing source or target URL"}
		},
	}
	routes := server.Routes(processor, server.Config{})

	rec := postForm(t, routes, "/webmention", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "missing source or target URL", body["error"])
}

func TestReceiveInternalError(t *testing.T) {
	processor := &fakeProcessor{
		processIncoming: func(source, target string) (*webmentions.Mention, error) {
			return nil, assert.AnError
		},
	}
	routes := server.Routes(processor, server.Config{})

	rec := postForm(t, routes, "/webmention", url.Values{
		"source": {"https://a.example/post"},
		"target": {"https://b.example/post"},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRetrieve(t *testing.T) {
	processor := &fakeProcessor{
		retrieve: func(resource string, direction webmentions.Direction) ([]*webmentions.Mention, error) {
			assert.Equal(t, "https://b.example/post", resource)
			assert.Equal(t, webmentions.DirectionIn, direction)
			return []*webmentions.Mention{
				{Source: "https://a.example/1", Target: resource, Direction: direction},
				{Source: "https://a.example/2", Target: resource, Direction: direction},
			}, nil
		},
	}
	routes := server.Routes(processor, server.Config{})

	req := httptest.NewRequest(http.MethodGet, "/webmention?resource="+url.QueryEscape("https://b.example/post"), nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var mentions []webmentions.Mention
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mentions))
	require.Len(t, mentions, 2)
	assert.Equal(t, "https://a.example/1", mentions[0].Source)
}

func TestRetrieveEmptyIsArray(t *testing.T) {
	processor := &fakeProcessor{
		retrieve: func(string, webmentions.Direction) ([]*webmentions.Mention, error) {
			return nil, nil
		},
	}
	routes := server.Routes(processor, server.Config{})

	req := httptest.NewRequest(http.MethodGet, "/webmention?resource=x", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestRetrieveBadParams(t *testing.T) {
	processor := &fakeProcessor{}
	routes := server.Routes(processor, server.Config{})

	req := httptest.NewRequest(http.MethodGet, "/webmention", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/webmention?resource=x&direction=sideways", nil)
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieveOutgoingDirection(t *testing.T) {
	processor := &fakeProcessor{
		retrieve: func(resource string, direction webmentions.Direction) ([]*webmentions.Mention, error) {
			assert.Equal(t, webmentions.DirectionOut, direction)
			return nil, nil
		},
	}
	routes := server.Routes(processor, server.Config{})

	req := httptest.NewRequest(http.MethodGet, "/webmention?resource=x&direction=outgoing", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCustomRoutes(t *testing.T) {
	processor := &fakeProcessor{
		retrieve: func(string, webmentions.Direction) ([]*webmentions.Mention, error) {
			return nil, nil
		},
	}
	routes := server.Routes(processor, server.Config{
		EndpointRoute:  "/api/webmention",
		RetrievalRoute: "/api/webmentions",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/webmentions?resource=x", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdvertise(t *testing.T) {
	endpoint := "https://blog.example/webmention"
	wrap := server.Advertise(endpoint)

	t.Run("adds the header on text responses", func(t *testing.T) {
		handler := wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, `<https://blog.example/webmention>; rel="webmention"`, rec.Header().Get("Link"))
	})

	t.Run("leaves non-text responses alone", func(t *testing.T) {
		handler := wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte("{}"))
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Empty(t, rec.Header().Get("Link"))
	})

	t.Run("does not duplicate an existing advertisement", func(t *testing.T) {
		handler := wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Header().Add("Link", `</other>; rel="webmention"`)
			w.Write([]byte("<html></html>"))
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, rec.Header().Values("Link"), 1)
	})
}
