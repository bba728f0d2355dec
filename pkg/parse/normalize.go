package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// CanonicalURL standardizes a document URL for comparison.
// It lowercases the scheme and host, removes default ports (80 for http, 443 for https),
// turns an empty path into "/" and drops the fragment. The query string is kept since
// download endpoints often address files by query.
// Does not modify the input *url.URL
func CanonicalURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" && normalized.Opaque == "" {
		normalized.Path = "/"
	}
	normalized.Fragment = ""
	normalized.RawFragment = ""

	return normalized.String()
}

// ResolveReference resolves ref against base. Absolute http(s) references are returned
// unchanged; relative ones (leading "/", "//", or no scheme) are resolved against base.
// Non-web schemes (mailto:, javascript:, data:) are rejected.
func ResolveReference(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty URL reference", utils.ErrParsing)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL reference '%s': %w", utils.ErrParsing, ref, err)
	}

	if refURL.IsAbs() {
		if !isWebScheme(refURL.Scheme) {
			return "", fmt.Errorf("%w: unsupported URL scheme in '%s'", utils.ErrParsing, ref)
		}
		return ref, nil
	}

	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !baseURL.IsAbs() || !isWebScheme(baseURL.Scheme) {
		return "", fmt.Errorf("%w: cannot resolve '%s' without an absolute base URL (got '%s')", utils.ErrParsing, ref, base)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// DedupeURLs removes URLs whose canonical form was already seen, keeping the first occurrence.
// Unparseable entries are compared verbatim.
func DedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		key := raw
		if u, err := url.Parse(raw); err == nil {
			key = CanonicalURL(u)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, raw)
	}
	return out
}

func isWebScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	return scheme == "http" || scheme == "https"
}
