// Package blockdetect scans page content for signs that the target
// site is refusing automated traffic: rate limits, access denials,
// challenge pages, and geo restrictions.
package blockdetect

import (
	"regexp"
	"strings"
)

// Bodies are truncated before regex matching so hostile pages cannot
// stall the pipeline.
const maxScanLen = 100 * 1024

// Category is the broad class of a detected block.
type Category string

const (
	CategoryRateLimit    Category = "rate_limit"
	CategoryAccessDenied Category = "access_denied"
	CategoryChallenge    Category = "challenge"
	CategoryGeoBlocked   Category = "geo_blocked"
)

// Signal describes a detected block.
type Signal struct {
	Detected    bool     `json:"detected"`
	Code        string   `json:"code,omitempty"`
	Category    Category `json:"category,omitempty"`
	RetryAfter  int      `json:"retryAfterMs,omitempty"`
	Description string   `json:"description,omitempty"`
}

type pattern struct {
	re          *regexp.Regexp
	code        string
	category    Category
	retryMs     int
	description string
}

// cfCode matches Cloudflare "error code: NNNN" markup. The [^<] classes
// keep matching across element boundaries without catastrophic
// backtracking.
func cfCode(code string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}` + code)
}

// patterns is ordered most specific first; the first match wins.
var patterns = []pattern{
	{cfCode("1015"), "CF_1015", CategoryRateLimit, 60000, "Cloudflare rate limit exceeded"},
	{cfCode("1020"), "CF_1020", CategoryAccessDenied, 30000, "Cloudflare access denied"},
	{cfCode("1006"), "CF_1006", CategoryAccessDenied, 30000, "Cloudflare access denied"},
	{cfCode("1007"), "CF_1007", CategoryAccessDenied, 30000, "Cloudflare access denied"},
	{cfCode("1008"), "CF_1008", CategoryAccessDenied, 30000, "Cloudflare access denied"},
	{cfCode("1009"), "CF_1009", CategoryGeoBlocked, 0, "Cloudflare geo restriction"},
	{cfCode("1010"), "CF_1010", CategoryAccessDenied, 30000, "Cloudflare browser signature rejected"},
	{cfCode("1012"), "CF_1012", CategoryAccessDenied, 30000, "Cloudflare access denied"},

	{regexp.MustCompile(`(?i)access\s{1,5}denied`), "ACCESS_DENIED", CategoryAccessDenied, 5000, "Access denied"},
	{regexp.MustCompile(`(?i)rate\s{0,3}limit`), "RATE_LIMITED", CategoryRateLimit, 10000, "Rate limited"},
	{regexp.MustCompile(`(?i)too\s{1,5}many\s{1,5}requests`), "TOO_MANY_REQUESTS", CategoryRateLimit, 10000, "Too many requests"},
	{regexp.MustCompile(`(?i)you\s{1,5}(have\s{1,5}been\s{1,5})?blocked`), "BLOCKED", CategoryAccessDenied, 15000, "Request blocked"},
	{regexp.MustCompile(`(?i)(captcha|hcaptcha|recaptcha|checking\s{1,5}your\s{1,5}browser)`), "CHALLENGE", CategoryChallenge, 0, "Challenge page served"},
}

// Scan inspects page content for block markers. A zero Signal means
// nothing matched.
func Scan(body string) Signal {
	if len(body) > maxScanLen {
		body = body[:maxScanLen]
	}

	for _, p := range patterns {
		if p.re.MatchString(body) {
			return Signal{
				Detected:    true,
				Code:        p.code,
				Category:    p.category,
				RetryAfter:  p.retryMs,
				Description: p.description,
			}
		}
	}

	// Bare Cloudflare interstitials carry no error code.
	lower := strings.ToLower(body)
	if strings.Contains(lower, "cloudflare") && strings.Contains(lower, "attention required") {
		return Signal{
			Detected:    true,
			Code:        "CF_BLOCK",
			Category:    CategoryAccessDenied,
			RetryAfter:  30000,
			Description: "Cloudflare block page",
		}
	}
	return Signal{}
}
