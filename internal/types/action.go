package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionKind discriminates the action variants. The validator and dispatcher
// are both keyed by this tag; the dispatcher only sees kinds that passed the
// validator.
type ActionKind string

// Supported action kinds.
const (
	ActionNavigate   ActionKind = "navigate"
	ActionClick      ActionKind = "click"
	ActionType       ActionKind = "type"
	ActionSelect     ActionKind = "select"
	ActionKeyboard   ActionKind = "keyboard"
	ActionMouse      ActionKind = "mouse"
	ActionScreenshot ActionKind = "screenshot"
	ActionPDF        ActionKind = "pdf"
	ActionContent    ActionKind = "content"
	ActionWait       ActionKind = "wait"
	ActionScroll     ActionKind = "scroll"
	ActionEvaluate   ActionKind = "evaluate"
	ActionUpload     ActionKind = "upload"
	ActionCookie     ActionKind = "cookie"
)

// AllActionKinds lists every kind with a built-in handler.
var AllActionKinds = []ActionKind{
	ActionNavigate, ActionClick, ActionType, ActionSelect, ActionKeyboard,
	ActionMouse, ActionScreenshot, ActionPDF, ActionContent, ActionWait,
	ActionScroll, ActionEvaluate, ActionUpload, ActionCookie,
}

// Action is a single request against a page. Params holds the kind-specific
// payload and is decoded by the handler after validation.
type Action struct {
	Kind    ActionKind      `json:"kind"`
	PageID  string          `json:"pageId"`
	Timeout int             `json:"timeout,omitempty"` // milliseconds
	Params  json.RawMessage `json:"params,omitempty"`
}

// TimeoutDuration returns the per-action timeout, or zero when unset.
func (a Action) TimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Millisecond
}

// DecodeParams decodes an action's params into the kind-specific struct.
func DecodeParams[T any](a Action) (T, error) {
	var out T
	if len(a.Params) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(a.Params, &out); err != nil {
		return out, Errorf(ErrBadArgument, "decoding %s params", a.Kind)
	}
	return out, nil
}

// NavigateParams drive the navigate action.
type NavigateParams struct {
	URL       string `json:"url"`
	WaitUntil string `json:"waitUntil,omitempty"` // load | domcontentloaded | networkidle
	Referer   string `json:"referer,omitempty"`
}

// ClickParams drive the click action.
type ClickParams struct {
	Selector   string `json:"selector"`
	Button     string `json:"button,omitempty"` // left | right | middle
	ClickCount int    `json:"clickCount,omitempty"`
	Delay      int    `json:"delay,omitempty"` // ms between mousedown and mouseup
}

// TypeParams drive the type action.
type TypeParams struct {
	Selector   string `json:"selector"`
	Text       string `json:"text"`
	Delay      int    `json:"delay,omitempty"` // ms between keystrokes
	ClearFirst bool   `json:"clearFirst,omitempty"`
}

// SelectParams drive the select action.
type SelectParams struct {
	Selector string   `json:"selector"`
	Values   []string `json:"values"`
}

// KeyboardParams drive raw keyboard events.
type KeyboardParams struct {
	Key    string `json:"key"`
	Action string `json:"action,omitempty"` // press | down | up
}

// MouseParams drive raw mouse events.
type MouseParams struct {
	Action string  `json:"action"` // move | down | up | wheel
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button string  `json:"button,omitempty"`
	DeltaY float64 `json:"deltaY,omitempty"`
}

// ScreenshotParams drive the screenshot action.
type ScreenshotParams struct {
	FullPage bool   `json:"fullPage,omitempty"`
	Format   string `json:"format,omitempty"` // png | jpeg
	Quality  int    `json:"quality,omitempty"`
	Selector string `json:"selector,omitempty"` // capture a single element
}

// PDFParams drive the pdf action.
type PDFParams struct {
	Format          string  `json:"format,omitempty"` // A4, Letter, ...
	Landscape       bool    `json:"landscape,omitempty"`
	PrintBackground bool    `json:"printBackground,omitempty"`
	Scale           float64 `json:"scale,omitempty"`
}

// ContentParams drive the content-extraction action.
type ContentParams struct {
	Selector string `json:"selector,omitempty"`
	Type     string `json:"type,omitempty"` // text | html | title | url
}

// WaitParams drive the wait action.
type WaitParams struct {
	Type     string        `json:"type"` // selector | navigation | timeout
	Selector string        `json:"selector,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// ScrollParams drive the scroll action.
type ScrollParams struct {
	Direction string `json:"direction,omitempty"` // up | down | left | right
	Amount    int    `json:"amount,omitempty"`    // pixels
	Selector  string `json:"selector,omitempty"`  // scroll element into view
}

// EvaluateParams drive the evaluate action.
type EvaluateParams struct {
	Script string `json:"script"`
	Args   []any  `json:"args,omitempty"`
}

// UploadParams drive the file-upload action.
type UploadParams struct {
	Selector  string   `json:"selector"`
	FilePaths []string `json:"filePaths"`
}

// CookieOp enumerates cookie sub-operations.
const (
	CookieOpSet    = "set"
	CookieOpGet    = "get"
	CookieOpDelete = "delete"
	CookieOpClear  = "clear"
)

// Cookie mirrors a browser cookie on the wire.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // unix seconds, 0 = session cookie
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"` // Strict | Lax | None
}

// CookieParams drive the cookie action.
type CookieParams struct {
	Operation string   `json:"operation"`
	Cookies   []Cookie `json:"cookies,omitempty"`
	Names     []string `json:"names,omitempty"` // for delete
}

// ActionResult is the outcome of a dispatched action.
// Invariant: Success=false implies Data is nil.
type ActionResult struct {
	Success    bool           `json:"success"`
	ActionType ActionKind     `json:"actionType"`
	Data       any            `json:"data,omitempty"`
	Error      *WireError     `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Failure builds a failed result from an error, classifying it first.
func Failure(kind ActionKind, err error, started time.Time) ActionResult {
	wire := Classify(err).ToWire("")
	return ActionResult{
		Success:    false,
		ActionType: kind,
		Error:      &wire,
		Duration:   time.Since(started),
		Timestamp:  time.Now().UTC(),
	}
}

// Success builds a successful result.
func SuccessResult(kind ActionKind, data any, started time.Time) ActionResult {
	return ActionResult{
		Success:    true,
		ActionType: kind,
		Data:       data,
		Duration:   time.Since(started),
		Timestamp:  time.Now().UTC(),
		Metadata:   make(map[string]any),
	}
}

// BatchOptions control multi-action execution.
type BatchOptions struct {
	StopOnError    bool `json:"stopOnError,omitempty"`
	Parallel       bool `json:"parallel,omitempty"`
	MaxConcurrency int  `json:"maxConcurrency,omitempty"`
}

// String implements fmt.Stringer for log fields.
func (k ActionKind) String() string { return string(k) }

// Valid reports whether the kind is one of the known variants.
func (k ActionKind) Valid() bool {
	for _, known := range AllActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// UnmarshalJSON validates the kind tag during decode so malformed envelopes
// fail before reaching the executor.
func (a *Action) UnmarshalJSON(data []byte) error {
	type alias Action
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	if tmp.Kind == "" {
		return fmt.Errorf("action kind is required")
	}
	*a = Action(tmp)
	return nil
}
