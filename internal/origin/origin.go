// Package origin implements browser Origin header normalization and
// allow-list matching for the relay's WebSocket endpoint.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates and normalizes an Origin header value into the
// canonical scheme://host[:port] form. Default ports (80 for http, 443 for
// https) are stripped. The special value "null" (sandboxed documents) is
// returned as-is.
func Normalize(header string) (string, bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", false
	}

	var port uint64
	if raw := u.Port(); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host = host + ":" + strconv.FormatUint(port, 10)
	}
	return scheme + "://" + host, true
}

// Allowed reports whether the given Origin header may open a signaling
// session. An empty allow-list admits every origin, including requests
// without an Origin header (non-browser clients). A non-empty allow-list
// admits only listed origins; each entry must be "*" or a normalized origin
// as produced by Normalize.
func Allowed(header string, allowList []string) bool {
	if len(allowList) == 0 {
		return true
	}

	normalized, ok := Normalize(header)
	if !ok {
		return false
	}

	for _, entry := range allowList {
		if entry == "*" || entry == normalized {
			return true
		}
	}
	return false
}

// NormalizeList normalizes a configured allow-list, dropping entries that do
// not parse. "*" passes through untouched.
func NormalizeList(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e == "*" {
			out = append(out, e)
			continue
		}
		if n, ok := Normalize(e); ok {
			out = append(out, n)
		}
	}
	return out
}
