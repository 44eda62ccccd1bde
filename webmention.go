// Package webmentions implements both sides of the Webmention protocol
// (https://www.w3.org/TR/webmention/): receiving notifications about pages
// that link to yours, and notifying pages that you link to.
//
// The entry point is the Handler, which ties a storage backend together with
// the incoming and outgoing processors. HTTP binding lives in the server
// subpackage, durable storage in the storage subpackage, and the filesystem
// watcher that drives outbound dispatch in the watcher subpackage.
package webmentions

import (
	"fmt"
	"time"
)

const Version = "0.1.0"

// DefaultUserAgent identifies this library in outbound requests. It includes
// the word "Webmention" to give receivers an indication as to the purpose of
// the requests.
var DefaultUserAgent = fmt.Sprintf("Webmention (github.com/wmkit/webmentions %s)", Version)

// DefaultHTTPTimeout bounds every outbound fetch: source verification,
// endpoint discovery, and mention delivery.
const DefaultHTTPTimeout = 10 * time.Second
