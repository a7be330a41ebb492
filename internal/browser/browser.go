// Package browser abstracts the driven browser behind small capability
// interfaces so the authenticator and extractor can be tested against fakes.
package browser

import (
	"encoding/json"
	"time"
)

// Page is the minimal rendered-page surface the pipeline needs.
// All waits are bounded by explicit timeouts; implementations do not block
// indefinitely.
type Page interface {
	// Navigate loads url and waits for the DOM to be ready.
	Navigate(url string, timeout time.Duration) error
	// URL reports the page's current address, after any redirects.
	URL() string
	// WaitVisible blocks until the selector is visible or the timeout expires.
	WaitVisible(selector string, timeout time.Duration) error
	// IsVisible reports whether the selector is currently visible.
	IsVisible(selector string) bool
	Click(selector string) error
	Fill(selector, value string) error
	SelectOption(selector, value string) error
	// TextContent returns the text of the first element matching selector.
	TextContent(selector string) (string, error)
	// Content returns the full rendered HTML of the page.
	Content() (string, error)
	Screenshot(path string) error
}

// Session is an isolated browser context, optionally bound to restored
// authentication state.
type Session interface {
	NewPage() (Page, error)
	// StorageState exports the context's cookies/storage as an opaque blob.
	StorageState() (json.RawMessage, error)
	Close() error
}

// Driver launches browser sessions.
type Driver interface {
	// NewSession opens a context. A nil storageState starts unauthenticated.
	NewSession(storageState json.RawMessage) (Session, error)
	Close() error
}
