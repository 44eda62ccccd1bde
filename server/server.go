// Package server exposes webmention processing over HTTP: an endpoint
// accepting mentions, a retrieval API for rendering them, and middleware
// that advertises the endpoint on HTML responses.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wmkit/webmentions"
)

// Processor is the part of webmentions.Handler the HTTP layer needs.
type Processor interface {
	ProcessIncoming(ctx context.Context, source, target string) (*webmentions.Mention, error)
	Retrieve(resource string, direction webmentions.Direction) ([]*webmentions.Mention, error)
}

// Config carries the route layout. The zero value serves both receiving
// (POST) and retrieval (GET) on /webmention; RetrievalRoute moves retrieval
// to a path of its own.
type Config struct {
	EndpointRoute  string
	RetrievalRoute string
}

func (c Config) endpointRoute() string {
	if c.EndpointRoute == "" {
		return "/webmention"
	}
	return c.EndpointRoute
}

func (c Config) retrievalRoute() string {
	if c.RetrievalRoute == "" {
		return c.endpointRoute()
	}
	return c.RetrievalRoute
}

// Routes builds the webmention router. Mount it into a site router or serve
// it directly.
func Routes(processor Processor, cfg Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post(cfg.endpointRoute(), receive(processor))
	r.Get(cfg.retrievalRoute(), retrieve(processor))
	return r
}

// receive accepts a webmention notification as form-encoded source and
// target. Processing happens synchronously; a valid mention is stored before
// the 200 goes out.
func receive(processor Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			respondError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		source := r.PostFormValue("source")
		target := r.PostFormValue("target")

		_, err := processor.ProcessIncoming(r.Context(), source, target)
		if err != nil {
			var responder webmentions.ErrorResponder
			if errors.As(err, &responder) && responder.RespondError(w, r) {
				return
			}
			slog.Error("processing incoming webmention", "source", source, "target", target, "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// retrieve returns the stored mentions for ?resource=, filtered by
// ?direction= (incoming when absent).
func retrieve(processor Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resource := r.URL.Query().Get("resource")
		if resource == "" {
			respondError(w, http.StatusBadRequest, "missing resource parameter")
			return
		}
		direction := webmentions.DirectionIn
		if raw := r.URL.Query().Get("direction"); raw != "" {
			parsed, ok := webmentions.ParseDirection(raw)
			if !ok {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid direction %q", raw))
				return
			}
			direction = parsed
		}

		mentions, err := processor.Retrieve(resource, direction)
		if err != nil {
			slog.Error("retrieving webmentions", "resource", resource, "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if mentions == nil {
			mentions = []*webmentions.Mention{}
		}
		respondJSON(w, http.StatusOK, mentions)
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("writing response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Advertise returns middleware that announces the webmention endpoint with a
// Link header on text responses. Responses that already carry a webmention
// link are left alone.
func Advertise(endpoint string) func(http.Handler) http.Handler {
	value := fmt.Sprintf(`<%s>; rel="webmention"`, endpoint)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&advertiseWriter{ResponseWriter: w, link: value}, r)
		})
	}
}

type advertiseWriter struct {
	http.ResponseWriter
	link        string
	wroteHeader bool
}

func (w *advertiseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		if w.shouldAdvertise() {
			w.Header().Add("Link", w.link)
		}
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *advertiseWriter) Write(body []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(body)
}

func (w *advertiseWriter) shouldAdvertise() bool {
	contentType := w.Header().Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "text/") {
		return false
	}
	for _, existing := range w.Header().Values("Link") {
		if strings.Contains(existing, `rel="webmention"`) || strings.Contains(existing, "rel=webmention") {
			return false
		}
	}
	return true
}
