// Package canon normalizes URLs into a canonical form and derives the
// stable hash key used as the primary identity for caching.
//
// Canonicalization is idempotent: cosmetically distinct spellings of the
// same URL (host case, default port, fragment, query order) collapse to
// one normalized string and therefore one hash.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidURL is returned when the input cannot be parsed as an absolute URL.
var ErrInvalidURL = errors.New("canon: invalid URL")

// ErrUnsupportedScheme is returned for schemes other than http and https.
var ErrUnsupportedScheme = errors.New("canon: only http and https are supported")

// CanonicalURL is the derived identity of a target page. It is never
// persisted on its own; Hash keys everything downstream.
type CanonicalURL struct {
	NormalizedURL string
	DisplayURL    string
	Hash          string // 64-hex-char sha256 of NormalizedURL
}

// Canonicalize parses and normalizes raw:
//
//   - scheme and host lowercased
//   - userinfo and fragment dropped
//   - default ports (80 for http, 443 for https) dropped
//   - query pairs sorted by (key, value), duplicate keys preserved
//   - empty path becomes "/"
func Canonicalize(raw string) (*CanonicalURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https":
	case "":
		return nil, fmt.Errorf("%w: missing scheme", ErrInvalidURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	u.Scheme = scheme
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}

	if u.Path == "" {
		u.Path = "/"
	}

	u.RawQuery = sortQuery(u.RawQuery)

	normalized := u.String()
	sum := sha256.Sum256([]byte(normalized))

	return &CanonicalURL{
		NormalizedURL: normalized,
		DisplayURL:    raw,
		Hash:          hex.EncodeToString(sum[:]),
	}, nil
}

// sortQuery re-encodes a raw query with pairs ordered by (key, value).
// Duplicate keys survive; unparseable queries are passed through unchanged.
func sortQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}

	type pair struct{ k, v string }
	var pairs []pair
	for k, vs := range values {
		for _, v := range vs {
			pairs = append(pairs, pair{k, v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.v))
	}
	return sb.String()
}
