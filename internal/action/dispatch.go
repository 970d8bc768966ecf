package action

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/driver"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// Handler executes one action kind against a page and returns the
// result payload.
type Handler func(ctx context.Context, page driver.Page, a types.Action) (any, error)

// Dispatcher routes validated actions to their handlers. Custom kinds
// can be registered as long as they do not collide with built-ins.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[types.ActionKind]Handler
}

// NewDispatcher creates a dispatcher with every built-in handler
// registered.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{handlers: make(map[types.ActionKind]Handler)}
	d.handlers[types.ActionNavigate] = handleNavigate
	d.handlers[types.ActionClick] = handleClick
	d.handlers[types.ActionType] = handleType
	d.handlers[types.ActionSelect] = handleSelect
	d.handlers[types.ActionKeyboard] = handleKeyboard
	d.handlers[types.ActionMouse] = handleMouse
	d.handlers[types.ActionScreenshot] = handleScreenshot
	d.handlers[types.ActionPDF] = handlePDF
	d.handlers[types.ActionContent] = handleContent
	d.handlers[types.ActionWait] = handleWait
	d.handlers[types.ActionScroll] = handleScroll
	d.handlers[types.ActionEvaluate] = handleEvaluate
	d.handlers[types.ActionUpload] = handleUpload
	d.handlers[types.ActionCookie] = handleCookie
	return d
}

// Register adds a handler for a new kind.
func (d *Dispatcher) Register(kind types.ActionKind, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[kind]; exists {
		return types.Errorf(types.ErrBadArgument, "handler for %s already registered", kind)
	}
	d.handlers[kind] = h
	return nil
}

// IsSupported reports whether a handler exists for the kind.
func (d *Dispatcher) IsSupported(kind types.ActionKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[kind]
	return ok
}

// Kinds returns every registered kind.
func (d *Dispatcher) Kinds() []types.ActionKind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.ActionKind, 0, len(d.handlers))
	for k := range d.handlers {
		out = append(out, k)
	}
	return out
}

// Dispatch runs the handler for the action.
func (d *Dispatcher) Dispatch(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	d.mu.RLock()
	h, ok := d.handlers[a.Kind]
	d.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrUnsupported, "no handler for %s", a.Kind)
	}
	return h(ctx, page, a)
}

func handleNavigate(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.NavigateParams](a)
	if err != nil {
		return nil, err
	}
	if err := page.Navigate(ctx, p); err != nil {
		return nil, err
	}
	title, _ := page.Title(ctx)
	return map[string]any{"url": page.URL(), "title": title}, nil
}

func handleClick(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.ClickParams](a)
	if err != nil {
		return nil, err
	}
	return nil, page.Click(ctx, p)
}

func handleType(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.TypeParams](a)
	if err != nil {
		return nil, err
	}
	return nil, page.Type(ctx, p)
}

func handleSelect(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.SelectParams](a)
	if err != nil {
		return nil, err
	}
	return nil, page.Select(ctx, p)
}

func handleKeyboard(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.KeyboardParams](a)
	if err != nil {
		return nil, err
	}
	return nil, page.Keyboard(ctx, p)
}

func handleMouse(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.MouseParams](a)
	if err != nil {
		return nil, err
	}
	return nil, page.Mouse(ctx, p)
}

func handleScreenshot(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.ScreenshotParams](a)
	if err != nil {
		return nil, err
	}
	data, err := page.Screenshot(ctx, p)
	if err != nil {
		return nil, err
	}
	format := p.Format
	if format == "" {
		format = "png"
	}
	return map[string]any{
		"format": format,
		"data":   base64.StdEncoding.EncodeToString(data),
		"size":   len(data),
	}, nil
}

func handlePDF(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.PDFParams](a)
	if err != nil {
		return nil, err
	}
	data, err := page.PDF(ctx, p)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"data": base64.StdEncoding.EncodeToString(data),
		"size": len(data),
	}, nil
}

func handleContent(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.ContentParams](a)
	if err != nil {
		return nil, err
	}
	content, err := page.Content(ctx, p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": content, "length": len(content)}, nil
}

func handleWait(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.WaitParams](a)
	if err != nil {
		return nil, err
	}
	return nil, page.Wait(ctx, p)
}

func handleScroll(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.ScrollParams](a)
	if err != nil {
		return nil, err
	}
	return nil, page.Scroll(ctx, p)
}

func handleEvaluate(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.EvaluateParams](a)
	if err != nil {
		return nil, err
	}
	value, err := page.Evaluate(ctx, p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": value}, nil
}

func handleUpload(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.UploadParams](a)
	if err != nil {
		return nil, err
	}
	if err := page.Upload(ctx, p); err != nil {
		return nil, err
	}
	return map[string]any{"uploaded": len(p.FilePaths)}, nil
}

func handleCookie(ctx context.Context, page driver.Page, a types.Action) (any, error) {
	p, err := types.DecodeParams[types.CookieParams](a)
	if err != nil {
		return nil, err
	}
	cookies, err := page.Cookies(ctx, p)
	if err != nil {
		return nil, err
	}
	if p.Operation == types.CookieOpGet {
		return map[string]any{"cookies": cookies, "count": len(cookies)}, nil
	}
	return nil, nil
}
