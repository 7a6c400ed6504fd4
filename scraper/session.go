package scraper

import (
	"context"
	"time"

	"github.com/ysmood/gson"
)

// Session is one addressable browser tab. It is the only surface the fetch
// logic needs from the automation engine, so tests can substitute fakes.
//
// A session is exclusively owned by one task between pool acquisition and
// release; it must never be driven by two tasks at once.
type Session interface {
	// Navigate loads url and waits for the document to settle.
	Navigate(ctx context.Context, url string) error

	// Title returns the current document title, live from the engine.
	Title() string

	// HTML returns the current rendered document.
	HTML() (string, error)

	// Element waits up to timeout for a CSS selector match.
	// The second return is false when no match appeared in time.
	Element(selector string, timeout time.Duration) (Element, bool)

	// Eval runs a JS function literal in the page and returns its value.
	Eval(js string) (gson.JSON, error)

	// Cookies returns the session's cookie jar as name/value pairs.
	Cookies() map[string]string

	// UserAgent returns the user-agent string the session navigates with.
	UserAgent() string

	// CaptureExchange arms an interceptor for requests whose URL contains
	// pathPattern, runs trigger (typically a navigation that causes the page
	// to issue the call), and waits up to timeout for exactly one matching
	// request/response pair. The interceptor is disarmed before returning.
	CaptureExchange(ctx context.Context, pathPattern string, trigger func() error, timeout time.Duration) (*Exchange, error)

	// Close destroys the underlying tab.
	Close() error
}

// Element is a located DOM node.
type Element interface {
	// Text returns the node's visible text ("" on engine failure).
	Text() string

	// Attribute returns the named attribute's value, "" when absent.
	Attribute(name string) string
}

// Exchange is a captured request/response pair. Headers and Body describe the
// outbound request and may be mutated before a replay; Status and
// ResponseBody describe the response the page received.
type Exchange struct {
	Method       string
	URL          string
	Headers      map[string]string
	Body         []byte
	Status       int
	ResponseBody []byte
}
