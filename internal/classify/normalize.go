package classify

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// Normalize returns the canonical form of a URL:
//   - a missing scheme becomes https
//   - scheme and host are lowercased, default ports dropped
//   - the fragment is removed
//   - trailing slashes are stripped except for the root path
//   - the query string is preserved
//
// Normalize is idempotent. It fails with ErrInvalidURL when the result would
// not be an http(s) URL with a host.
func Normalize(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", eris.Wrap(ErrInvalidURL, "empty url")
	}
	if !strings.Contains(s, "://") {
		if scheme, ok := explicitScheme(s); ok {
			return "", eris.Wrapf(ErrInvalidURL, "unsupported scheme %q", strings.ToLower(scheme))
		}
		s = "https://" + strings.TrimPrefix(s, "//")
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", eris.Wrapf(ErrInvalidURL, "parse %q: %v", rawURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", eris.Wrapf(ErrInvalidURL, "unsupported scheme %q", u.Scheme)
	}

	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); port != "" {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = u.Hostname()
		}
	}
	if u.Hostname() == "" {
		return "", eris.Wrapf(ErrInvalidURL, "missing host in %q", rawURL)
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery == "" {
		u.ForceQuery = false
	}

	u.Path = trimTrailingSlash(u.Path)
	u.RawPath = trimTrailingSlash(u.RawPath)
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}

	return u.String(), nil
}

// IsValid reports whether rawURL already has an http(s) scheme and a
// non-empty host. It does not add a missing scheme.
func IsValid(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Hostname() != ""
}

// schemePrefix matches an RFC 3986 scheme and the text after its colon.
var schemePrefix = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*):(.*)$`)

// portPrefix matches the port of a scheme-less "host:port/path".
var portPrefix = regexp.MustCompile(`^[0-9]+(?:[/?#]|$)`)

// explicitScheme reports the scheme of an input written without "://", such
// as "mailto:a@b.example" or "data:text/plain,x". "host:8080/path" has none.
func explicitScheme(s string) (string, bool) {
	m := schemePrefix.FindStringSubmatch(s)
	if m == nil || portPrefix.MatchString(m[2]) {
		return "", false
	}
	return m[1], true
}

func trimTrailingSlash(p string) string {
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}
