// Package scope decides which discovered links the crawler follows.
package scope

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Rejection reasons returned by Validator.Check.
const (
	ReasonOK          = ""
	ReasonInvalid     = "invalid"
	ReasonScheme      = "scheme"
	ReasonDomain      = "domain"
	ReasonPathRule    = "path_rule"
	ReasonExtension   = "extension"
	ReasonTrap        = "trap"
	ReasonLength      = "length"
	ReasonRepetitions = "repetition"
)

// Validator checks URLs against Rules. It is immutable after construction
// and safe for concurrent use.
type Validator struct {
	rules          Rules
	allowedDomains []string
	traps          []*regexp.Regexp
	extensions     map[string]struct{}
	pathRules      []PathRule
	censusSuffixes []string
}

// NewValidator compiles rules into a Validator.
func NewValidator(rules Rules) (*Validator, error) {
	if len(rules.AllowedDomains) == 0 {
		return nil, errors.New("at least one allowed domain is required")
	}

	v := &Validator{
		rules:      rules,
		extensions: make(map[string]struct{}),
	}

	for _, d := range rules.AllowedDomains {
		d = normalizeDomain(d)
		if d == "" {
			return nil, fmt.Errorf("empty allowed domain")
		}
		v.allowedDomains = append(v.allowedDomains, d)
	}

	for _, pattern := range rules.TrapPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid trap pattern %q: %w", pattern, err)
		}
		v.traps = append(v.traps, re)
	}

	exts := rules.DisallowedExtensions
	if len(exts) == 0 {
		exts = DefaultDisallowedExtensions
	}
	for _, ext := range exts {
		v.extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	for _, pr := range rules.PathRules {
		v.pathRules = append(v.pathRules, PathRule{Host: normalizeDomain(pr.Host), PathContains: pr.PathContains})
	}

	for _, s := range rules.SubdomainSuffixes {
		v.censusSuffixes = append(v.censusSuffixes, normalizeDomain(s))
	}

	return v, nil
}

// Allowed reports whether rawURL is in scope.
func (v *Validator) Allowed(rawURL string) bool {
	return v.Check(rawURL) == ReasonOK
}

// Check returns ReasonOK for an in-scope URL, otherwise the first rule that
// rejected it.
func (v *Validator) Check(rawURL string) string {
	if v.rules.MaxURLLength > 0 && len(rawURL) > v.rules.MaxURLLength {
		return ReasonLength
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ReasonInvalid
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ReasonScheme
	}

	host := strings.ToLower(parsed.Hostname())
	if !v.domainAllowed(host) {
		return ReasonDomain
	}

	for _, pr := range v.pathRules {
		if matchesDomain(host, pr.Host) && !strings.Contains(parsed.Path, pr.PathContains) {
			return ReasonPathRule
		}
	}

	if ext := strings.TrimPrefix(path.Ext(strings.ToLower(parsed.Path)), "."); ext != "" {
		if _, bad := v.extensions[ext]; bad {
			return ReasonExtension
		}
	}

	for _, re := range v.traps {
		if re.MatchString(rawURL) {
			return ReasonTrap
		}
	}

	if v.rules.MaxRepeatedSegments > 0 && repeatedSegments(parsed.Path) > v.rules.MaxRepeatedSegments {
		return ReasonRepetitions
	}

	return ReasonOK
}

// CensusHost returns the host of rawURL when it belongs in the subdomain
// census, or "" otherwise.
func (v *Validator) CensusHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ""
	}
	if len(v.censusSuffixes) == 0 {
		return host
	}
	for _, s := range v.censusSuffixes {
		if matchesDomain(host, s) {
			return host
		}
	}
	return ""
}

func (v *Validator) domainAllowed(host string) bool {
	for _, d := range v.allowedDomains {
		if matchesDomain(host, d) {
			return true
		}
	}
	return false
}

// matchesDomain reports whether host is domain or one of its subdomains.
func matchesDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func normalizeDomain(d string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
}

// repeatedSegments returns the highest number of times any single path
// segment occurs, a signature of relative-link loops like /a/b/a/b/a/b.
func repeatedSegments(p string) int {
	counts := make(map[string]int)
	most := 0
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			continue
		}
		counts[seg]++
		if counts[seg] > most {
			most = counts[seg]
		}
	}
	return most
}
