package driver

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// FakeDriver is an in-memory Driver used by pool and executor tests.
// Behavior is scripted through the public fields.
type FakeDriver struct {
	mu sync.Mutex

	// LaunchErr fails every launch when set.
	LaunchErr error
	// FailLaunches fails the first N launches.
	FailLaunches int

	launched int
	browsers []*FakeBrowser
}

// NewFakeDriver returns an empty fake.
func NewFakeDriver() *FakeDriver { return &FakeDriver{} }

// Name implements Driver.
func (d *FakeDriver) Name() string { return "fake" }

// Launch implements Driver.
func (d *FakeDriver) Launch(ctx context.Context) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.launched++
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	if d.FailLaunches > 0 {
		d.FailLaunches--
		return nil, types.Errorf(types.ErrBrowserLaunch, "scripted launch failure")
	}

	b := &FakeBrowser{}
	d.browsers = append(d.browsers, b)
	return b, nil
}

// Launched returns how many launches were attempted.
func (d *FakeDriver) Launched() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launched
}

// Browsers returns every browser handed out so far.
func (d *FakeDriver) Browsers() []*FakeBrowser {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeBrowser, len(d.browsers))
	copy(out, d.browsers)
	return out
}

// FakeBrowser is the Browser counterpart of FakeDriver.
type FakeBrowser struct {
	// HealthErr makes Healthy fail when set.
	HealthErr atomic.Value // error
	// Memory is returned by MemoryUsage.
	Memory atomic.Int64

	closed atomic.Bool
	pages  atomic.Int32
}

// NewPage implements Browser.
func (b *FakeBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, types.Errorf(types.ErrBrowserCrashed, "browser closed")
	}
	b.pages.Add(1)
	return &FakePage{browser: b}, nil
}

// PageCount implements Browser.
func (b *FakeBrowser) PageCount(context.Context) (int, error) {
	return int(b.pages.Load()), nil
}

// Healthy implements Browser.
func (b *FakeBrowser) Healthy(context.Context) error {
	if b.closed.Load() {
		return types.Errorf(types.ErrBrowserCrashed, "browser closed")
	}
	if err, _ := b.HealthErr.Load().(error); err != nil {
		return err
	}
	return nil
}

// MemoryUsage implements Browser.
func (b *FakeBrowser) MemoryUsage(context.Context) (int64, error) {
	return b.Memory.Load(), nil
}

// Close implements Browser.
func (b *FakeBrowser) Close() error {
	b.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (b *FakeBrowser) Closed() bool { return b.closed.Load() }

// FakePage is a scriptable Page. Zero value succeeds on every call.
type FakePage struct {
	browser *FakeBrowser

	mu sync.Mutex
	// Err fails every operation when set.
	Err error
	// FailTimes fails the next N operations, then succeeds.
	FailTimes int
	// EvalResult is returned by Evaluate.
	EvalResult any
	// ContentResult is returned by Content.
	ContentResult string
	// CookieJar is returned by Cookies get.
	CookieJar []types.Cookie

	calls   []string
	url     string
	closed  bool
	width   int
	height  int
	viewSet bool
}

func (p *FakePage) op(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, name)
	if p.closed {
		return types.ErrPageClosed
	}
	if p.Err != nil {
		return p.Err
	}
	if p.FailTimes > 0 {
		p.FailTimes--
		return types.Errorf(types.ErrBrowserCrashed, "scripted %s failure", name)
	}
	return nil
}

// Calls returns the operations invoked so far.
func (p *FakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// Navigate implements Page.
func (p *FakePage) Navigate(_ context.Context, params types.NavigateParams) error {
	if err := p.op("navigate"); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = params.URL
	p.mu.Unlock()
	return nil
}

// Click implements Page.
func (p *FakePage) Click(context.Context, types.ClickParams) error { return p.op("click") }

// Type implements Page.
func (p *FakePage) Type(context.Context, types.TypeParams) error { return p.op("type") }

// Select implements Page.
func (p *FakePage) Select(context.Context, types.SelectParams) error { return p.op("select") }

// Keyboard implements Page.
func (p *FakePage) Keyboard(context.Context, types.KeyboardParams) error { return p.op("keyboard") }

// Mouse implements Page.
func (p *FakePage) Mouse(context.Context, types.MouseParams) error { return p.op("mouse") }

// Screenshot implements Page.
func (p *FakePage) Screenshot(context.Context, types.ScreenshotParams) ([]byte, error) {
	if err := p.op("screenshot"); err != nil {
		return nil, err
	}
	return []byte("fake-image"), nil
}

// PDF implements Page.
func (p *FakePage) PDF(context.Context, types.PDFParams) ([]byte, error) {
	if err := p.op("pdf"); err != nil {
		return nil, err
	}
	return []byte("fake-pdf"), nil
}

// Content implements Page.
func (p *FakePage) Content(context.Context, types.ContentParams) (string, error) {
	if err := p.op("content"); err != nil {
		return "", err
	}
	return p.ContentResult, nil
}

// Wait implements Page.
func (p *FakePage) Wait(context.Context, types.WaitParams) error { return p.op("wait") }

// Scroll implements Page.
func (p *FakePage) Scroll(context.Context, types.ScrollParams) error { return p.op("scroll") }

// Evaluate implements Page.
func (p *FakePage) Evaluate(context.Context, types.EvaluateParams) (any, error) {
	if err := p.op("evaluate"); err != nil {
		return nil, err
	}
	return p.EvalResult, nil
}

// Upload implements Page.
func (p *FakePage) Upload(context.Context, types.UploadParams) error { return p.op("upload") }

// Cookies implements Page.
func (p *FakePage) Cookies(_ context.Context, params types.CookieParams) ([]types.Cookie, error) {
	if err := p.op("cookie"); err != nil {
		return nil, err
	}
	if params.Operation == types.CookieOpGet {
		return p.CookieJar, nil
	}
	return nil, nil
}

// URL implements Page.
func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Title implements Page.
func (p *FakePage) Title(context.Context) (string, error) { return "fake page", nil }

// SetViewport implements Page.
func (p *FakePage) SetViewport(width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width, p.height = width, height
	p.viewSet = true
	return nil
}

// Viewport returns the last viewport set, if any.
func (p *FakePage) Viewport() (int, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height, p.viewSet
}

// Close implements Page.
func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.browser != nil {
		p.browser.pages.Add(-1)
	}
	return nil
}

// IsClosed reports whether Close was called.
func (p *FakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
