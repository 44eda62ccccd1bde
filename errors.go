package webmentions

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type (
	// ErrorResponder lets an error decide how to answer the HTTP request that
	// caused it. The server package consults it before falling back to a
	// generic 500.
	ErrorResponder interface {
		RespondError(w http.ResponseWriter, r *http.Request) bool
	}

	// ValidationError reports malformed caller input: missing URLs, a target
	// outside the configured base domain, an unknown direction.
	ValidationError struct {
		Message string
	}

	// GoneError marks a mention as a tombstone: the source answered 404/410,
	// or no longer contains the target URL. The incoming processor reacts by
	// deleting the stored mention.
	GoneError struct {
		Source, Target string
		Message        string
	}

	// UpstreamError wraps a failed or non-2xx fetch of a remote resource.
	UpstreamError struct {
		URL        string
		StatusCode int
		Err        error
	}

	// StorageError wraps a failure of the storage backend.
	StorageError struct {
		Op  string
		Err error
	}
)

func (e ValidationError) Error() string { return e.Message }

func (e GoneError) Error() string {
	return fmt.Sprintf("%s: <source=%s target=%s>", e.Message, e.Source, e.Target)
}

func (e UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetching %s: %s", e.URL, e.Err)
	}
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e UpstreamError) Unwrap() error { return e.Err }

func (e StorageError) Error() string { return fmt.Sprintf("storage %s: %s", e.Op, e.Err) }
func (e StorageError) Unwrap() error { return e.Err }

func (e ValidationError) RespondError(w http.ResponseWriter, r *http.Request) bool {
	respondJSONError(w, http.StatusBadRequest, e.Message)
	return true
}

func (e GoneError) RespondError(w http.ResponseWriter, r *http.Request) bool {
	respondJSONError(w, http.StatusBadRequest, e.Error())
	return true
}

func (e UpstreamError) RespondError(w http.ResponseWriter, r *http.Request) bool {
	respondJSONError(w, http.StatusBadRequest, e.Error())
	return true
}

func respondJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
