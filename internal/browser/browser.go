package browser

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a selector matches nothing on the page.
var ErrNotFound = errors.New("element not found")

// Page is one browser tab owned by a single job attempt. Every method takes a
// context that bounds that step; the tab itself lives until Close.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	// Exists checks the current DOM without waiting.
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	// Scroll scrolls the element matched by selector, or the window when
	// selector is empty, by pixels.
	Scroll(ctx context.Context, selector string, pixels int) error
	Back(ctx context.Context) error
	Reload(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	// Screenshot captures the element matched by selector as PNG, or the
	// viewport when selector is empty.
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	Close() error
}

// Opener hands out pages on a shared browser.
type Opener interface {
	NewPage(ctx context.Context) (Page, error)
}
