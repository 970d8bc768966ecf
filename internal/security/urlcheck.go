package security

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// eventHandlerPattern matches inline event handler attributes (onclick=,
// onload=, ...) smuggled into selectors.
var eventHandlerPattern = regexp.MustCompile(`on\w+=`)

// URL validation errors.
var (
	ErrInvalidURL    = errors.New("invalid URL")
	ErrBlockedScheme = errors.New("URL scheme not allowed")
	ErrBlockedDomain = errors.New("domain not allowed")
)

// URLPolicy holds the scheme and domain allow lists applied to navigation
// targets. An empty domain list allows all domains.
type URLPolicy struct {
	AllowedSchemes []string
	AllowedDomains []string
}

// DefaultURLPolicy permits plain web navigation only.
func DefaultURLPolicy() URLPolicy {
	return URLPolicy{AllowedSchemes: []string{"http", "https"}}
}

// Validate checks a navigation URL against the policy.
func (p URLPolicy) Validate(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return ErrInvalidURL
	}

	scheme := strings.ToLower(parsed.Scheme)
	allowed := false
	for _, s := range p.AllowedSchemes {
		if scheme == strings.ToLower(s) {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrBlockedScheme
	}

	if len(p.AllowedDomains) > 0 {
		host := strings.ToLower(parsed.Hostname())
		ok := false
		for _, d := range p.AllowedDomains {
			d = strings.ToLower(strings.TrimSpace(d))
			if d == "" {
				continue
			}
			if host == d || strings.HasSuffix(host, "."+d) {
				ok = true
				break
			}
		}
		if !ok {
			return ErrBlockedDomain
		}
	}

	return nil
}

// dangerousSelectorFragments are substrings that indicate script injection
// through a selector. Matches are warnings unless strict validation is
// configured.
var dangerousSelectorFragments = []string{
	"javascript:",
	"vbscript:",
	"data:",
	"<script",
}

// SelectorInjectionRisk reports whether a selector contains a fragment
// associated with script injection.
func SelectorInjectionRisk(selector string) bool {
	lower := strings.ToLower(selector)
	for _, frag := range dangerousSelectorFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return eventHandlerPattern.MatchString(lower)
}
