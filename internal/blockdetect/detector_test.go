package blockdetect

import (
	"strings"
	"testing"
)

func TestScan(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantDetected bool
		wantCode     string
		wantCategory Category
		wantRetry    int
	}{
		{
			name:         "cloudflare 1015 rate limit",
			body:         "<html><body>Error code: 1015 - You are being rate limited</body></html>",
			wantDetected: true,
			wantCode:     "CF_1015",
			wantCategory: CategoryRateLimit,
			wantRetry:    60000,
		},
		{
			name:         "cloudflare 1020 access denied",
			body:         "<html><body>Error code: 1020 - Access denied</body></html>",
			wantDetected: true,
			wantCode:     "CF_1020",
			wantCategory: CategoryAccessDenied,
			wantRetry:    30000,
		},
		{
			name:         "cloudflare 1009 geo blocked",
			body:         "<html><body>Error code: 1009 - Access denied due to your region</body></html>",
			wantDetected: true,
			wantCode:     "CF_1009",
			wantCategory: CategoryGeoBlocked,
		},
		{
			name:         "generic access denied",
			body:         "<html><body>Access denied. Please try again later.</body></html>",
			wantDetected: true,
			wantCode:     "ACCESS_DENIED",
			wantCategory: CategoryAccessDenied,
			wantRetry:    5000,
		},
		{
			name:         "generic rate limit text",
			body:         "<html><body>Rate limit exceeded. Please slow down.</body></html>",
			wantDetected: true,
			wantCode:     "RATE_LIMITED",
			wantCategory: CategoryRateLimit,
			wantRetry:    10000,
		},
		{
			name:         "too many requests",
			body:         "<html><body>Too many requests from your IP</body></html>",
			wantDetected: true,
			wantCode:     "TOO_MANY_REQUESTS",
			wantCategory: CategoryRateLimit,
			wantRetry:    10000,
		},
		{
			name:         "blocked phrase",
			body:         "<html><body>Sorry, you have been blocked from this site</body></html>",
			wantDetected: true,
			wantCode:     "BLOCKED",
			wantCategory: CategoryAccessDenied,
			wantRetry:    15000,
		},
		{
			name:         "recaptcha challenge",
			body:         "<html><body>Please complete the reCAPTCHA to continue</body></html>",
			wantDetected: true,
			wantCode:     "CHALLENGE",
			wantCategory: CategoryChallenge,
		},
		{
			name:         "cloudflare interstitial without code",
			body:         "<html><head><title>Attention Required! | Cloudflare</title></head></html>",
			wantDetected: true,
			wantCode:     "CF_BLOCK",
			wantCategory: CategoryAccessDenied,
			wantRetry:    30000,
		},
		{
			name: "ordinary page",
			body: "<html><body>Hello World</body></html>",
		},
		{
			name: "ordinary 404 page",
			body: "<html><body>Page not found</body></html>",
		},
		{
			name:         "case insensitive match",
			body:         "<html><body>ACCESS DENIED - You cannot view this page</body></html>",
			wantDetected: true,
			wantCode:     "ACCESS_DENIED",
			wantCategory: CategoryAccessDenied,
			wantRetry:    5000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Scan(tt.body)
			if sig.Detected != tt.wantDetected {
				t.Fatalf("Detected = %v, want %v", sig.Detected, tt.wantDetected)
			}
			if sig.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", sig.Code, tt.wantCode)
			}
			if sig.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", sig.Category, tt.wantCategory)
			}
			if sig.RetryAfter != tt.wantRetry {
				t.Errorf("RetryAfter = %d, want %d", sig.RetryAfter, tt.wantRetry)
			}
		})
	}
}

func TestScanSpecificityOrder(t *testing.T) {
	// A Cloudflare code page also contains generic phrases; the coded
	// pattern must win.
	body := "<html><body>Error code: 1015. You are being rate limited. Access denied.</body></html>"
	if sig := Scan(body); sig.Code != "CF_1015" {
		t.Fatalf("Code = %q, want CF_1015", sig.Code)
	}
}

func TestScanTruncatesLargeBodies(t *testing.T) {
	// The marker sits past the scan window, so it must not match.
	body := strings.Repeat("a", maxScanLen) + " rate limit "
	if sig := Scan(body); sig.Detected {
		t.Fatalf("expected no detection past scan window, got %+v", sig)
	}
}
