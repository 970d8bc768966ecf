// Package driver abstracts the browser automation backend. The pool and
// the action executor program against these interfaces; the rod-backed
// implementation is the only production driver, with fakes used in tests.
package driver

import (
	"context"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// Driver launches browsers.
type Driver interface {
	// Launch starts a browser process and connects to it.
	Launch(ctx context.Context) (Browser, error)
	// Name identifies the backend in logs and health output.
	Name() string
}

// Browser is a single running browser process.
type Browser interface {
	// NewPage opens a fresh tab on about:blank.
	NewPage(ctx context.Context) (Page, error)
	// PageCount returns the number of open page targets.
	PageCount(ctx context.Context) (int, error)
	// Healthy performs a cheap responsiveness probe.
	Healthy(ctx context.Context) error
	// MemoryUsage returns the JS heap in use, in bytes. Implementations
	// may return 0 when the metric is unavailable.
	MemoryUsage(ctx context.Context) (int64, error)
	// Close terminates the browser process.
	Close() error
}

// Page is a single tab. Every operation honors the context deadline and
// returns a sentinel-wrapped error on failure so callers can classify.
type Page interface {
	Navigate(ctx context.Context, p types.NavigateParams) error
	Click(ctx context.Context, p types.ClickParams) error
	Type(ctx context.Context, p types.TypeParams) error
	Select(ctx context.Context, p types.SelectParams) error
	Keyboard(ctx context.Context, p types.KeyboardParams) error
	Mouse(ctx context.Context, p types.MouseParams) error
	Screenshot(ctx context.Context, p types.ScreenshotParams) ([]byte, error)
	PDF(ctx context.Context, p types.PDFParams) ([]byte, error)
	Content(ctx context.Context, p types.ContentParams) (string, error)
	Wait(ctx context.Context, p types.WaitParams) error
	Scroll(ctx context.Context, p types.ScrollParams) error
	Evaluate(ctx context.Context, p types.EvaluateParams) (any, error)
	Upload(ctx context.Context, p types.UploadParams) error
	Cookies(ctx context.Context, p types.CookieParams) ([]types.Cookie, error)

	// URL returns the last known page URL without a round trip.
	URL() string
	// Title fetches the current document title.
	Title(ctx context.Context) (string, error)
	// SetViewport overrides the page viewport.
	SetViewport(width, height int) error
	// Close closes the tab.
	Close() error
}
