package storage

import (
	"net/url"
	"strings"
)

// DeriveDomain returns the lower-cased host of rawURL with a single leading
// "www." removed. Inputs that do not parse as URLs fall back to the text
// between the scheme and the first path, query or fragment delimiter.
//
// Only one label is stripped, so "www.www.a.com" becomes "www.a.com", and
// applying DeriveDomain to its own output is stable only for hosts that do
// not start with a repeated "www." label.
func DeriveDomain(rawURL string) string {
	host := ""
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		host = u.Hostname()
	}
	if host == "" {
		host = rawURL
		if i := strings.Index(host, "://"); i >= 0 {
			host = host[i+3:]
		}
		if i := strings.IndexAny(host, "/?#"); i >= 0 {
			host = host[:i]
		}
		if i := strings.LastIndex(host, "@"); i >= 0 {
			host = host[i+1:]
		}
		if i := strings.Index(host, ":"); i >= 0 {
			host = host[:i]
		}
	}
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}
