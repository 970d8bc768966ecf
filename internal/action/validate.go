package action

import (
	"fmt"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/security"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// Validation error codes surfaced to clients.
const (
	CodeMissingSelector   = "MISSING_SELECTOR"
	CodeMissingURL        = "MISSING_URL"
	CodeBlockedURL        = "BLOCKED_URL"
	CodeMissingScript     = "MISSING_SCRIPT"
	CodeMissingKey        = "MISSING_KEY"
	CodeDangerousSelector = "DANGEROUS_SELECTOR"
	CodeInvalidParams     = "INVALID_PARAMS"
	CodeUnsupported       = "UNSUPPORTED_ACTION"
	CodeTooManyFiles      = "TOO_MANY_FILES"
	CodeInvalidFile       = "INVALID_FILE"
)

// maxTypeTextLen is the text length above which a type action draws a
// warning; it still executes.
const maxTypeTextLen = 10000

// FieldError is one validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating one action. Warnings do
// not block execution; errors do.
type ValidationResult struct {
	Valid    bool         `json:"valid"`
	Errors   []FieldError `json:"errors,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

func (r *ValidationResult) addError(field, code, message string) {
	r.Errors = append(r.Errors, FieldError{Field: field, Code: code, Message: message})
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Err converts a failed result into a validation error for callers that
// only want an error.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	first := r.Errors[0]
	return types.Errorf(types.ErrValidation, "%s: %s", first.Code, first.Message)
}

// Validator checks actions against the active policy before dispatch.
type Validator struct {
	policies *PolicyStore
}

// NewValidator creates a validator backed by the policy store.
func NewValidator(policies *PolicyStore) *Validator {
	return &Validator{policies: policies}
}

// Validate runs the kind-specific checks for one action.
func (v *Validator) Validate(a types.Action) ValidationResult {
	res := ValidationResult{}
	pol := v.policies.Current()

	if !a.Kind.Valid() {
		res.addError("kind", CodeUnsupported, fmt.Sprintf("unknown action kind %q", a.Kind))
		return res
	}
	if a.PageID == "" {
		res.addError("pageId", CodeInvalidParams, "pageId is required")
	}
	if a.Timeout < 0 {
		res.addError("timeout", CodeInvalidParams, "timeout must not be negative")
	}

	switch a.Kind {
	case types.ActionNavigate:
		v.validateNavigate(a, pol, &res)
	case types.ActionClick:
		p, err := types.DecodeParams[types.ClickParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		v.checkSelector(p.Selector, pol, &res)
		switch p.Button {
		case "", "left", "right", "middle":
		default:
			res.addError("button", CodeInvalidParams, fmt.Sprintf("unknown button %q", p.Button))
		}
	case types.ActionType:
		p, err := types.DecodeParams[types.TypeParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		v.checkSelector(p.Selector, pol, &res)
		if security.IsSensitiveSelector(p.Selector) {
			res.addWarning("typing into a sensitive field, value will be redacted from logs")
		}
		if len(p.Text) > maxTypeTextLen {
			res.addWarning("text length %d exceeds %d, typing will be slow", len(p.Text), maxTypeTextLen)
		}
	case types.ActionSelect:
		p, err := types.DecodeParams[types.SelectParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		v.checkSelector(p.Selector, pol, &res)
		if len(p.Values) == 0 {
			res.addError("values", CodeInvalidParams, "at least one value is required")
		}
	case types.ActionKeyboard:
		p, err := types.DecodeParams[types.KeyboardParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		if p.Key == "" {
			res.addError("key", CodeMissingKey, "key is required")
		}
		switch p.Action {
		case "", "press", "down", "up":
		default:
			res.addError("action", CodeInvalidParams, fmt.Sprintf("unknown keyboard action %q", p.Action))
		}
	case types.ActionMouse:
		p, err := types.DecodeParams[types.MouseParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		switch p.Action {
		case "move", "down", "up", "wheel":
		default:
			res.addError("action", CodeInvalidParams, fmt.Sprintf("unknown mouse action %q", p.Action))
		}
	case types.ActionScreenshot:
		p, err := types.DecodeParams[types.ScreenshotParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		switch p.Format {
		case "", "png", "jpeg":
		default:
			res.addError("format", CodeInvalidParams, fmt.Sprintf("unknown format %q", p.Format))
		}
		if p.Quality < 0 || p.Quality > 100 {
			res.addError("quality", CodeInvalidParams, "quality must be in [0,100]")
		}
		if p.Selector != "" {
			v.checkSelector(p.Selector, pol, &res)
		}
	case types.ActionPDF:
		p, err := types.DecodeParams[types.PDFParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		if p.Scale != 0 && (p.Scale < 0.1 || p.Scale > 2) {
			res.addError("scale", CodeInvalidParams, "scale must be in [0.1,2]")
		}
	case types.ActionContent:
		p, err := types.DecodeParams[types.ContentParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		switch p.Type {
		case "", "text", "html", "title", "url":
		default:
			res.addError("type", CodeInvalidParams, fmt.Sprintf("unknown content type %q", p.Type))
		}
		if p.Selector != "" {
			v.checkSelector(p.Selector, pol, &res)
		}
	case types.ActionWait:
		p, err := types.DecodeParams[types.WaitParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		switch p.Type {
		case "selector":
			v.checkSelector(p.Selector, pol, &res)
		case "navigation":
		case "timeout":
			if p.Duration <= 0 {
				res.addError("duration", CodeInvalidParams, "duration is required for timeout waits")
			}
		default:
			res.addError("type", CodeInvalidParams, fmt.Sprintf("unknown wait type %q", p.Type))
		}
	case types.ActionScroll:
		p, err := types.DecodeParams[types.ScrollParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		switch p.Direction {
		case "", "up", "down", "left", "right":
		default:
			res.addError("direction", CodeInvalidParams, fmt.Sprintf("unknown direction %q", p.Direction))
		}
		if p.Selector != "" {
			v.checkSelector(p.Selector, pol, &res)
		}
	case types.ActionEvaluate:
		p, err := types.DecodeParams[types.EvaluateParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		if p.Script == "" {
			res.addError("script", CodeMissingScript, "script is required")
		}
	case types.ActionUpload:
		v.validateUpload(a, pol, &res)
	case types.ActionCookie:
		p, err := types.DecodeParams[types.CookieParams](a)
		if err != nil {
			res.addError("params", CodeInvalidParams, err.Error())
			break
		}
		switch p.Operation {
		case types.CookieOpGet, types.CookieOpClear:
		case types.CookieOpSet:
			if len(p.Cookies) == 0 {
				res.addError("cookies", CodeInvalidParams, "set requires at least one cookie")
			}
			for i, c := range p.Cookies {
				if c.Name == "" {
					res.addError(fmt.Sprintf("cookies[%d].name", i), CodeInvalidParams, "cookie name is required")
				}
				switch c.SameSite {
				case "", "Strict", "Lax", "None":
				default:
					res.addError(fmt.Sprintf("cookies[%d].sameSite", i), CodeInvalidParams, fmt.Sprintf("sameSite must be Strict, Lax or None, got %q", c.SameSite))
				}
				if c.Expires < 0 {
					res.addError(fmt.Sprintf("cookies[%d].expires", i), CodeInvalidParams, "expires must not be negative")
				}
				if c.SameSite == "None" && !c.Secure {
					res.addWarning("cookie %q has sameSite=None without secure, browsers may reject it", c.Name)
				}
			}
		case types.CookieOpDelete:
			if len(p.Names) == 0 {
				res.addError("names", CodeInvalidParams, "delete requires cookie names")
			}
		default:
			res.addError("operation", CodeInvalidParams, fmt.Sprintf("unknown cookie operation %q", p.Operation))
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func (v *Validator) validateNavigate(a types.Action, pol Policy, res *ValidationResult) {
	p, err := types.DecodeParams[types.NavigateParams](a)
	if err != nil {
		res.addError("params", CodeInvalidParams, err.Error())
		return
	}
	if p.URL == "" {
		res.addError("url", CodeMissingURL, "url is required")
		return
	}
	if err := pol.URLPolicy().Validate(p.URL); err != nil {
		res.addError("url", CodeBlockedURL, err.Error())
	}
	switch p.WaitUntil {
	case "", "load", "domcontentloaded", "networkidle":
	default:
		res.addError("waitUntil", CodeInvalidParams, fmt.Sprintf("unknown waitUntil %q", p.WaitUntil))
	}
}

func (v *Validator) validateUpload(a types.Action, pol Policy, res *ValidationResult) {
	p, err := types.DecodeParams[types.UploadParams](a)
	if err != nil {
		res.addError("params", CodeInvalidParams, err.Error())
		return
	}
	v.checkSelector(p.Selector, pol, res)
	if len(p.FilePaths) == 0 {
		res.addError("filePaths", CodeInvalidParams, "at least one file path is required")
		return
	}
	if pol.MaxFiles > 0 && len(p.FilePaths) > pol.MaxFiles {
		res.addError("filePaths", CodeTooManyFiles, fmt.Sprintf("at most %d files per upload", pol.MaxFiles))
		return
	}
	fp := pol.FilePolicy()
	for i, path := range p.FilePaths {
		if err := fp.ValidatePath(path); err != nil {
			res.addError(fmt.Sprintf("filePaths[%d]", i), CodeInvalidFile, err.Error())
		}
	}
}

// checkSelector enforces presence and flags injection-shaped selectors.
// In strict mode a dangerous selector is an error; otherwise a warning.
func (v *Validator) checkSelector(selector string, pol Policy, res *ValidationResult) {
	if selector == "" {
		res.addError("selector", CodeMissingSelector, "selector is required")
		return
	}
	if security.SelectorInjectionRisk(selector) {
		if pol.StrictSelectors {
			res.addError("selector", CodeDangerousSelector, "selector contains script-injection fragments")
		} else {
			res.addWarning("selector %q contains suspicious fragments", security.TruncateForLog(selector, 64))
		}
	}
}
