// Package urlutil defines URL identity for the crawler: the normalized form
// every component compares, stores and hashes.
package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Normalize lowercases scheme and host, strips default ports and removes the
// fragment. An empty path becomes "/"; otherwise path and query are kept as
// given.
func Normalize(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", rawURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	if (parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80")) ||
		(parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443")) {
		parsed.Host = parsed.Host[:strings.LastIndex(parsed.Host, ":")]
	}

	if parsed.Path == "" && parsed.Opaque == "" {
		parsed.Path = "/"
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""

	return parsed.String(), nil
}

// Hash returns the hex SHA-256 of an already normalized URL.
func Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Key normalizes rawURL and returns the normalized form with its hash.
func Key(rawURL string) (normalized, hash string, err error) {
	normalized, err = Normalize(rawURL)
	if err != nil {
		return "", "", err
	}
	return normalized, Hash(normalized), nil
}

// Hostname returns the lowercased host of rawURL without its port.
func Hostname(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// StripFragment removes the fragment of rawURL, leaving everything else untouched.
func StripFragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
