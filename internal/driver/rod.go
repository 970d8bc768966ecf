package driver

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/humanize"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// RodDriver launches Chromium through go-rod.
type RodDriver struct {
	cfg *config.Config
}

// NewRodDriver creates the production driver.
func NewRodDriver(cfg *config.Config) *RodDriver {
	return &RodDriver{cfg: cfg}
}

// Name implements Driver.
func (d *RodDriver) Name() string { return "rod" }

// createLauncher builds a launcher with flags tuned for containers.
// Launchers are single-use; one per browser.
func (d *RodDriver) createLauncher() *launcher.Launcher {
	l := launcher.New()

	if d.cfg.BrowserPath != "" {
		l = l.Bin(d.cfg.BrowserPath)
	}

	if d.cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod enables headless by default; must be disabled explicitly
		// when running against a virtual display.
		l = l.Headless(false)
	}

	// Container security flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")

	// Stability and resource limits
	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote")

	l = l.Set("window-size", "1920,1080")
	l = l.Set("js-flags", "--max-old-space-size=256").
		Set("disable-renderer-backgrounding")

	l = l.Set("disable-gpu-sandbox")
	if runtime.GOARCH == "arm64" || runtime.GOARCH == "arm" {
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

// Launch implements Driver.
func (d *RodDriver) Launch(ctx context.Context) (Browser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l := d.createLauncher()
	url, err := l.Launch()
	if err != nil {
		return nil, types.Errorf(types.ErrBrowserLaunch, "launching browser: %v", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, types.Errorf(types.ErrBrowserLaunch, "connecting to browser: %v", err)
	}

	log.Debug().Str("control_url", url).Msg("Browser launched")
	return &rodBrowser{browser: browser, launcher: l, stealth: d.cfg.StealthMode}, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	stealth  bool
}

func (b *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	var page *rod.Page
	var err error
	if b.stealth {
		page, err = stealth.Page(b.browser.Context(ctx))
	} else {
		page, err = b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, types.Errorf(types.ErrBrowserUnhealthy, "creating page: %v", err)
	}
	return &rodPage{page: page, human: b.stealth}, nil
}

func (b *rodBrowser) PageCount(ctx context.Context) (int, error) {
	pages, err := b.browser.Context(ctx).Pages()
	if err != nil {
		return 0, types.Errorf(types.ErrBrowserUnhealthy, "listing pages: %v", err)
	}
	return len(pages), nil
}

// Healthy creates and closes a blank page as a responsiveness probe.
func (b *rodBrowser) Healthy(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	page, err := b.browser.Context(probeCtx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return types.Errorf(types.ErrBrowserUnhealthy, "health probe: %v", err)
	}
	if err := page.Close(); err != nil {
		return types.Errorf(types.ErrBrowserUnhealthy, "health probe close: %v", err)
	}
	return nil
}

// MemoryUsage samples the JS heap of the first open page. Returns 0 when
// no page exists to sample.
func (b *rodBrowser) MemoryUsage(ctx context.Context) (int64, error) {
	pages, err := b.browser.Context(ctx).Pages()
	if err != nil || len(pages) == 0 {
		return 0, nil
	}
	page := pages.First().Context(ctx)

	if err := (proto.PerformanceEnable{}).Call(page); err != nil {
		return 0, nil
	}
	res, err := proto.PerformanceGetMetrics{}.Call(page)
	if err != nil {
		return 0, nil
	}
	for _, m := range res.Metrics {
		if m.Name == "JSHeapUsedSize" {
			return int64(m.Value), nil
		}
	}
	return 0, nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	// Reap the chromium process even if the CDP close failed.
	b.launcher.Kill()
	if err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}
	return nil
}

type rodPage struct {
	page *rod.Page
	// human enables curved pointer paths and keystroke pacing in
	// stealth mode.
	human bool
}

func (p *rodPage) ctx(ctx context.Context) *rod.Page {
	return p.page.Context(ctx)
}

func (p *rodPage) Navigate(ctx context.Context, params types.NavigateParams) error {
	page := p.ctx(ctx)

	event := proto.PageLifecycleEventNameLoad
	switch params.WaitUntil {
	case "domcontentloaded":
		event = proto.PageLifecycleEventNameDOMContentLoaded
	case "networkidle":
		event = proto.PageLifecycleEventNameNetworkIdle
	}
	wait := page.WaitNavigation(event)

	nav := proto.PageNavigate{URL: params.URL}
	if params.Referer != "" {
		nav.Referrer = params.Referer
	}
	if _, err := nav.Call(page); err != nil {
		return types.Errorf(types.ErrNavigationFail, "navigating to %s: %v", params.URL, err)
	}
	wait()

	if ctx.Err() != nil {
		return types.Errorf(types.ErrTimeout, "navigation to %s: %v", params.URL, ctx.Err())
	}
	return nil
}

func (p *rodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.ctx(ctx).Element(selector)
	if err != nil {
		return nil, types.Errorf(types.ErrBadArgument, "selector %q: %v", selector, err)
	}
	return el, nil
}

func mouseButton(name string) proto.InputMouseButton {
	switch name {
	case "right":
		return proto.InputMouseButtonRight
	case "middle":
		return proto.InputMouseButtonMiddle
	default:
		return proto.InputMouseButtonLeft
	}
}

func (p *rodPage) Click(ctx context.Context, params types.ClickParams) error {
	el, err := p.element(ctx, params.Selector)
	if err != nil {
		return err
	}
	defer func() { _ = el.Release() }()

	clicks := params.ClickCount
	if clicks < 1 {
		clicks = 1
	}
	if p.human {
		ptr := humanize.NewPointer(p.ctx(ctx))
		if err := ptr.PressElement(ctx, el, mouseButton(params.Button), clicks); err != nil {
			return fmt.Errorf("clicking %q: %w", params.Selector, err)
		}
		return nil
	}
	if err := el.Click(mouseButton(params.Button), clicks); err != nil {
		return fmt.Errorf("clicking %q: %w", params.Selector, err)
	}
	return nil
}

func (p *rodPage) Type(ctx context.Context, params types.TypeParams) error {
	el, err := p.element(ctx, params.Selector)
	if err != nil {
		return err
	}
	defer func() { _ = el.Release() }()

	if params.ClearFirst {
		if err := el.SelectAllText(); err != nil {
			return fmt.Errorf("selecting text in %q: %w", params.Selector, err)
		}
	}
	if p.human {
		return p.typeSlowly(ctx, el, params)
	}
	if err := el.Input(params.Text); err != nil {
		return fmt.Errorf("typing into %q: %w", params.Selector, err)
	}
	return nil
}

// typeSlowly inserts the text one character at a time with randomized
// inter-keystroke pauses.
func (p *rodPage) typeSlowly(ctx context.Context, el *rod.Element, params types.TypeParams) error {
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focusing %q: %w", params.Selector, err)
	}
	page := p.ctx(ctx)
	profile := humanize.DefaultProfile()
	for _, r := range params.Text {
		if err := page.InsertText(string(r)); err != nil {
			return fmt.Errorf("typing into %q: %w", params.Selector, err)
		}
		if !humanize.Sleep(ctx, profile.KeystrokeDelay()) {
			return types.Errorf(types.ErrCanceled, "typing interrupted: %v", ctx.Err())
		}
	}
	return nil
}

func (p *rodPage) Select(ctx context.Context, params types.SelectParams) error {
	el, err := p.element(ctx, params.Selector)
	if err != nil {
		return err
	}
	defer func() { _ = el.Release() }()

	if err := el.Select(params.Values, true, rod.SelectorTypeText); err != nil {
		return fmt.Errorf("selecting options in %q: %w", params.Selector, err)
	}
	return nil
}

// namedKeys maps wire key names to CDP input keys. Single-character keys
// fall through to a direct rune conversion.
var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Space,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
}

func keyFor(name string) (input.Key, error) {
	if k, ok := namedKeys[strings.ToLower(name)]; ok {
		return k, nil
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return input.Key(runes[0]), nil
	}
	return 0, types.Errorf(types.ErrBadArgument, "unknown key %q", name)
}

func (p *rodPage) Keyboard(ctx context.Context, params types.KeyboardParams) error {
	key, err := keyFor(params.Key)
	if err != nil {
		return err
	}
	kb := p.ctx(ctx).Keyboard

	switch params.Action {
	case "down":
		err = kb.Press(key)
	case "up":
		err = kb.Release(key)
	default: // press
		err = kb.Type(key)
	}
	if err != nil {
		return fmt.Errorf("keyboard %s %q: %w", params.Action, params.Key, err)
	}
	return nil
}

func (p *rodPage) Mouse(ctx context.Context, params types.MouseParams) error {
	mouse := p.ctx(ctx).Mouse

	var err error
	switch params.Action {
	case "move":
		err = mouse.MoveTo(proto.NewPoint(params.X, params.Y))
	case "down":
		err = mouse.Down(mouseButton(params.Button), 1)
	case "up":
		err = mouse.Up(mouseButton(params.Button), 1)
	case "wheel":
		err = mouse.Scroll(params.X, params.DeltaY, 1)
	default:
		return types.Errorf(types.ErrBadArgument, "unknown mouse action %q", params.Action)
	}
	if err != nil {
		return fmt.Errorf("mouse %s: %w", params.Action, err)
	}
	return nil
}

func (p *rodPage) Screenshot(ctx context.Context, params types.ScreenshotParams) ([]byte, error) {
	format := proto.PageCaptureScreenshotFormatPng
	var quality *int
	if params.Format == "jpeg" {
		format = proto.PageCaptureScreenshotFormatJpeg
		q := params.Quality
		if q <= 0 || q > 100 {
			q = 80
		}
		quality = &q
	}

	if params.Selector != "" {
		el, err := p.element(ctx, params.Selector)
		if err != nil {
			return nil, err
		}
		defer func() { _ = el.Release() }()
		q := 0
		if quality != nil {
			q = *quality
		}
		data, err := el.Screenshot(format, q)
		if err != nil {
			return nil, fmt.Errorf("element screenshot: %w", err)
		}
		return data, nil
	}

	data, err := p.ctx(ctx).Screenshot(params.FullPage, &proto.PageCaptureScreenshot{
		Format:  format,
		Quality: quality,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

// paperSizes maps named formats to width/height in inches.
var paperSizes = map[string][2]float64{
	"a3":     {11.69, 16.54},
	"a4":     {8.27, 11.69},
	"a5":     {5.83, 8.27},
	"letter": {8.5, 11},
	"legal":  {8.5, 14},
}

func (p *rodPage) PDF(ctx context.Context, params types.PDFParams) ([]byte, error) {
	req := &proto.PagePrintToPDF{
		Landscape:       params.Landscape,
		PrintBackground: params.PrintBackground,
	}
	if params.Scale > 0 {
		scale := params.Scale
		req.Scale = &scale
	}
	if size, ok := paperSizes[strings.ToLower(params.Format)]; ok {
		w, h := size[0], size[1]
		req.PaperWidth = &w
		req.PaperHeight = &h
	}

	reader, err := p.ctx(ctx).PDF(req)
	if err != nil {
		return nil, fmt.Errorf("rendering pdf: %w", err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading pdf stream: %w", err)
	}
	return data, nil
}

func (p *rodPage) Content(ctx context.Context, params types.ContentParams) (string, error) {
	page := p.ctx(ctx)

	switch params.Type {
	case "title":
		return p.Title(ctx)
	case "url":
		info, err := page.Info()
		if err != nil {
			return "", fmt.Errorf("page info: %w", err)
		}
		return info.URL, nil
	case "text":
		selector := params.Selector
		if selector == "" {
			selector = "body"
		}
		el, err := p.element(ctx, selector)
		if err != nil {
			return "", err
		}
		defer func() { _ = el.Release() }()
		text, err := el.Text()
		if err != nil {
			return "", fmt.Errorf("extracting text: %w", err)
		}
		return text, nil
	default: // html
		if params.Selector != "" {
			el, err := p.element(ctx, params.Selector)
			if err != nil {
				return "", err
			}
			defer func() { _ = el.Release() }()
			html, err := el.HTML()
			if err != nil {
				return "", fmt.Errorf("extracting element html: %w", err)
			}
			return html, nil
		}
		html, err := page.HTML()
		if err != nil {
			return "", fmt.Errorf("extracting html: %w", err)
		}
		return html, nil
	}
}

func (p *rodPage) Wait(ctx context.Context, params types.WaitParams) error {
	page := p.ctx(ctx)

	switch params.Type {
	case "selector":
		el, err := p.element(ctx, params.Selector)
		if err != nil {
			return err
		}
		defer func() { _ = el.Release() }()
		if err := el.WaitVisible(); err != nil {
			return types.Errorf(types.ErrTimeout, "waiting for %q: %v", params.Selector, err)
		}
		return nil
	case "navigation":
		if err := page.WaitLoad(); err != nil {
			return types.Errorf(types.ErrTimeout, "waiting for navigation: %v", err)
		}
		return nil
	case "timeout":
		select {
		case <-time.After(params.Duration):
			return nil
		case <-ctx.Done():
			return types.Errorf(types.ErrCanceled, "wait interrupted: %v", ctx.Err())
		}
	default:
		return types.Errorf(types.ErrBadArgument, "unknown wait type %q", params.Type)
	}
}

func (p *rodPage) Scroll(ctx context.Context, params types.ScrollParams) error {
	if params.Selector != "" {
		el, err := p.element(ctx, params.Selector)
		if err != nil {
			return err
		}
		defer func() { _ = el.Release() }()
		if err := el.ScrollIntoView(); err != nil {
			return fmt.Errorf("scrolling to %q: %w", params.Selector, err)
		}
		return nil
	}

	amount := float64(params.Amount)
	if amount == 0 {
		amount = 500
	}
	var dx, dy float64
	switch params.Direction {
	case "up":
		dy = -amount
	case "left":
		dx = -amount
	case "right":
		dx = amount
	default: // down
		dy = amount
	}
	if p.human {
		if err := humanize.NewWheel(p.ctx(ctx)).Scroll(ctx, dx, dy); err != nil {
			return fmt.Errorf("scrolling: %w", err)
		}
		return nil
	}
	if err := p.ctx(ctx).Mouse.Scroll(dx, dy, 1); err != nil {
		return fmt.Errorf("scrolling: %w", err)
	}
	return nil
}

func (p *rodPage) Evaluate(ctx context.Context, params types.EvaluateParams) (any, error) {
	page := p.ctx(ctx)

	if len(params.Args) > 0 {
		obj, err := page.Eval(params.Script, params.Args...)
		if err != nil {
			return nil, fmt.Errorf("evaluating script: %w", err)
		}
		return obj.Value.Val(), nil
	}

	res, err := proto.RuntimeEvaluate{
		Expression:    params.Script,
		ReturnByValue: true,
		AwaitPromise:  true,
	}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("evaluating script: %w", err)
	}
	if res.ExceptionDetails != nil {
		return nil, types.Errorf(types.ErrBadArgument, "script threw: %s", res.ExceptionDetails.Text)
	}
	var value gson.JSON = res.Result.Value
	return value.Val(), nil
}

func (p *rodPage) Upload(ctx context.Context, params types.UploadParams) error {
	el, err := p.element(ctx, params.Selector)
	if err != nil {
		return err
	}
	defer func() { _ = el.Release() }()

	if err := el.SetFiles(params.FilePaths); err != nil {
		return fmt.Errorf("setting files on %q: %w", params.Selector, err)
	}
	return nil
}

func sameSite(name string) proto.NetworkCookieSameSite {
	switch strings.ToLower(name) {
	case "strict":
		return proto.NetworkCookieSameSiteStrict
	case "none":
		return proto.NetworkCookieSameSiteNone
	case "lax":
		return proto.NetworkCookieSameSiteLax
	default:
		return ""
	}
}

func (p *rodPage) Cookies(ctx context.Context, params types.CookieParams) ([]types.Cookie, error) {
	page := p.ctx(ctx)

	switch params.Operation {
	case types.CookieOpGet:
		raw, err := page.Cookies(nil)
		if err != nil {
			return nil, fmt.Errorf("reading cookies: %w", err)
		}
		out := make([]types.Cookie, 0, len(raw))
		for _, c := range raw {
			out = append(out, types.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  float64(c.Expires),
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: string(c.SameSite),
			})
		}
		return out, nil

	case types.CookieOpSet:
		cdp := make([]*proto.NetworkCookieParam, 0, len(params.Cookies))
		for _, c := range params.Cookies {
			param := &proto.NetworkCookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
				SameSite: sameSite(c.SameSite),
			}
			if param.Path == "" {
				param.Path = "/"
			}
			if c.Domain == "" {
				param.URL = p.URL()
			}
			if c.Expires > 0 {
				param.Expires = proto.TimeSinceEpoch(c.Expires)
			}
			cdp = append(cdp, param)
		}
		if err := page.SetCookies(cdp); err != nil {
			return nil, fmt.Errorf("setting cookies: %w", err)
		}
		return nil, nil

	case types.CookieOpDelete:
		for _, name := range params.Names {
			if err := (proto.NetworkDeleteCookies{Name: name, URL: p.URL()}).Call(page); err != nil {
				return nil, fmt.Errorf("deleting cookie %q: %w", name, err)
			}
		}
		return nil, nil

	case types.CookieOpClear:
		if err := (proto.NetworkClearBrowserCookies{}).Call(page); err != nil {
			return nil, fmt.Errorf("clearing cookies: %w", err)
		}
		return nil, nil

	default:
		return nil, types.Errorf(types.ErrBadArgument, "unknown cookie operation %q", params.Operation)
	}
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.ctx(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.Title, nil
}

func (p *rodPage) SetViewport(width, height int) error {
	err := p.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("setting viewport: %w", err)
	}
	return nil
}

func (p *rodPage) Close() error {
	if err := p.page.Close(); err != nil {
		return fmt.Errorf("closing page: %w", err)
	}
	return nil
}
