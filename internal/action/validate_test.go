package action

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

func newTestValidator(t *testing.T, mutate func(*config.Config)) *Validator {
	t.Helper()
	cfg := &config.Config{
		AllowedSchemes: []string{"http", "https"},
		MaxFiles:       3,
		MaxFileSizeMB:  10,
	}
	if mutate != nil {
		mutate(cfg)
	}
	store, err := NewPolicyStore(cfg)
	if err != nil {
		t.Fatalf("NewPolicyStore: %v", err)
	}
	t.Cleanup(store.Close)
	return NewValidator(store)
}

func mkAction(t *testing.T, kind types.ActionKind, params any) types.Action {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshaling params: %v", err)
	}
	return types.Action{Kind: kind, PageID: "p1", Params: raw}
}

func hasCode(res ValidationResult, code string) bool {
	for _, e := range res.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func TestValidateNavigate(t *testing.T) {
	v := newTestValidator(t, nil)

	res := v.Validate(mkAction(t, types.ActionNavigate, types.NavigateParams{URL: "https://example.com"}))
	if !res.Valid {
		t.Fatalf("expected valid, got %+v", res.Errors)
	}

	res = v.Validate(mkAction(t, types.ActionNavigate, types.NavigateParams{}))
	if res.Valid || !hasCode(res, CodeMissingURL) {
		t.Fatalf("expected MISSING_URL, got %+v", res)
	}

	res = v.Validate(mkAction(t, types.ActionNavigate, types.NavigateParams{URL: "file:///etc/passwd"}))
	if res.Valid || !hasCode(res, CodeBlockedURL) {
		t.Fatalf("expected BLOCKED_URL, got %+v", res)
	}
}

func TestValidateDomainAllowList(t *testing.T) {
	v := newTestValidator(t, func(c *config.Config) {
		c.AllowedDomains = []string{"example.com"}
	})

	res := v.Validate(mkAction(t, types.ActionNavigate, types.NavigateParams{URL: "https://sub.example.com/x"}))
	if !res.Valid {
		t.Fatalf("subdomain should pass, got %+v", res.Errors)
	}

	res = v.Validate(mkAction(t, types.ActionNavigate, types.NavigateParams{URL: "https://evil.com"}))
	if res.Valid || !hasCode(res, CodeBlockedURL) {
		t.Fatalf("expected BLOCKED_URL, got %+v", res)
	}
}

func TestValidateMissingSelector(t *testing.T) {
	v := newTestValidator(t, nil)

	res := v.Validate(mkAction(t, types.ActionClick, types.ClickParams{}))
	if res.Valid || !hasCode(res, CodeMissingSelector) {
		t.Fatalf("expected MISSING_SELECTOR, got %+v", res)
	}
}

func TestValidateDangerousSelector(t *testing.T) {
	lenient := newTestValidator(t, nil)
	res := lenient.Validate(mkAction(t, types.ActionClick, types.ClickParams{Selector: `a[href="javascript:void(0)"]`}))
	if !res.Valid {
		t.Fatalf("lenient mode should warn, got errors %+v", res.Errors)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected injection warning")
	}

	strict := newTestValidator(t, func(c *config.Config) { c.StrictSelector = true })
	res = strict.Validate(mkAction(t, types.ActionClick, types.ClickParams{Selector: `a[href="javascript:void(0)"]`}))
	if res.Valid || !hasCode(res, CodeDangerousSelector) {
		t.Fatalf("strict mode should reject, got %+v", res)
	}
}

func TestValidateUnknownKind(t *testing.T) {
	v := newTestValidator(t, nil)

	res := v.Validate(types.Action{Kind: "teleport", PageID: "p1"})
	if res.Valid || !hasCode(res, CodeUnsupported) {
		t.Fatalf("expected UNSUPPORTED_ACTION, got %+v", res)
	}
}

func TestValidateEvaluate(t *testing.T) {
	v := newTestValidator(t, nil)

	res := v.Validate(mkAction(t, types.ActionEvaluate, types.EvaluateParams{}))
	if res.Valid || !hasCode(res, CodeMissingScript) {
		t.Fatalf("expected MISSING_SCRIPT, got %+v", res)
	}
}

func TestValidateUploadLimits(t *testing.T) {
	v := newTestValidator(t, nil)

	res := v.Validate(mkAction(t, types.ActionUpload, types.UploadParams{
		Selector:  "input[type=file]",
		FilePaths: []string{"a.txt", "b.txt", "c.txt", "d.txt"},
	}))
	if res.Valid || !hasCode(res, CodeTooManyFiles) {
		t.Fatalf("expected TOO_MANY_FILES, got %+v", res)
	}
}

func TestValidateCookieOperations(t *testing.T) {
	v := newTestValidator(t, nil)

	res := v.Validate(mkAction(t, types.ActionCookie, types.CookieParams{Operation: types.CookieOpSet}))
	if res.Valid {
		t.Fatal("set with no cookies should fail")
	}

	res = v.Validate(mkAction(t, types.ActionCookie, types.CookieParams{Operation: "rotate"}))
	if res.Valid {
		t.Fatal("unknown operation should fail")
	}

	res = v.Validate(mkAction(t, types.ActionCookie, types.CookieParams{Operation: types.CookieOpGet}))
	if !res.Valid {
		t.Fatalf("get should pass, got %+v", res.Errors)
	}
}

func TestValidateCookieAttributes(t *testing.T) {
	v := newTestValidator(t, nil)

	res := v.Validate(mkAction(t, types.ActionCookie, types.CookieParams{
		Operation: types.CookieOpSet,
		Cookies:   []types.Cookie{{Name: "sid", Value: "v", SameSite: "Sideways"}},
	}))
	if res.Valid || !hasCode(res, CodeInvalidParams) {
		t.Fatalf("expected sameSite rejection, got %+v", res)
	}

	res = v.Validate(mkAction(t, types.ActionCookie, types.CookieParams{
		Operation: types.CookieOpSet,
		Cookies:   []types.Cookie{{Name: "sid", Value: "v", Expires: -1}},
	}))
	if res.Valid {
		t.Fatalf("negative expires should fail, got %+v", res)
	}

	// sameSite=None without secure is legal but warned.
	res = v.Validate(mkAction(t, types.ActionCookie, types.CookieParams{
		Operation: types.CookieOpSet,
		Cookies:   []types.Cookie{{Name: "sid", Value: "v", SameSite: "None"}},
	}))
	if !res.Valid {
		t.Fatalf("expected valid, got %+v", res.Errors)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected sameSite=None warning")
	}

	res = v.Validate(mkAction(t, types.ActionCookie, types.CookieParams{
		Operation: types.CookieOpSet,
		Cookies:   []types.Cookie{{Name: "sid", Value: "v", SameSite: "None", Secure: true}},
	}))
	if !res.Valid || len(res.Warnings) != 0 {
		t.Fatalf("secure None cookie should pass cleanly, got %+v", res)
	}
}

func TestValidateTypeTextLengthWarns(t *testing.T) {
	v := newTestValidator(t, nil)

	res := v.Validate(mkAction(t, types.ActionType, types.TypeParams{
		Selector: "#comment",
		Text:     strings.Repeat("a", maxTypeTextLen+1),
	}))
	if !res.Valid {
		t.Fatalf("oversized text must still validate, got %+v", res.Errors)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected length warning")
	}

	res = v.Validate(mkAction(t, types.ActionType, types.TypeParams{
		Selector: "#comment",
		Text:     strings.Repeat("a", maxTypeTextLen),
	}))
	if !res.Valid || len(res.Warnings) != 0 {
		t.Fatalf("text at the limit should pass cleanly, got %+v", res)
	}
}

func TestValidateMissingPageID(t *testing.T) {
	v := newTestValidator(t, nil)

	a := mkAction(t, types.ActionContent, types.ContentParams{})
	a.PageID = ""
	res := v.Validate(a)
	if res.Valid {
		t.Fatal("missing pageId should fail")
	}
}

func TestValidateWait(t *testing.T) {
	v := newTestValidator(t, nil)

	res := v.Validate(mkAction(t, types.ActionWait, types.WaitParams{Type: "timeout"}))
	if res.Valid {
		t.Fatal("timeout wait without duration should fail")
	}

	res = v.Validate(mkAction(t, types.ActionWait, types.WaitParams{Type: "selector", Selector: "#done"}))
	if !res.Valid {
		t.Fatalf("selector wait should pass, got %+v", res.Errors)
	}
}
