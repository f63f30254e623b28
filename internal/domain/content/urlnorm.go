package content

import (
	"net/url"
	"strings"
)

// trackingParams are well-known tracking query parameters removed during URL
// normalization. utm_* is matched by prefix.
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
}

// PublicSuffixList answers whether a suffix (e.g. "co.uk") is a registrable
// public suffix. The label list is an input port: callers supply the data,
// the heuristic here never bakes one in.
type PublicSuffixList interface {
	// Contains reports whether the given dot-joined suffix is a public suffix.
	Contains(suffix string) bool
}

// StaticSuffixList is a PublicSuffixList backed by a fixed set of suffixes.
type StaticSuffixList map[string]struct{}

// NewStaticSuffixList builds a StaticSuffixList from dot-joined suffixes
// such as "co.uk" or "com.au".
func NewStaticSuffixList(suffixes ...string) StaticSuffixList {
	l := make(StaticSuffixList, len(suffixes))
	for _, s := range suffixes {
		l[strings.ToLower(s)] = struct{}{}
	}
	return l
}

// Contains implements PublicSuffixList.
func (l StaticSuffixList) Contains(suffix string) bool {
	_, ok := l[strings.ToLower(suffix)]
	return ok
}

// NormalizeURL canonicalizes a URL for policy evaluation: scheme and host are
// lower-cased and well-known tracking parameters (utm_*, fbclid, gclid) are
// removed. Path casing and the remaining query are preserved.
// Invalid URLs are returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.RawQuery != "" {
		kept := make([]string, 0, 4)
		for _, pair := range strings.Split(u.RawQuery, "&") {
			key := pair
			if i := strings.IndexByte(pair, '='); i >= 0 {
				key = pair[:i]
			}
			lk := strings.ToLower(key)
			if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
				continue
			}
			kept = append(kept, pair)
		}
		u.RawQuery = strings.Join(kept, "&")
	}

	return u.String()
}

// ExtractDomain returns the host portion of a URL, lower-cased, or the empty
// string for unparseable input.
func ExtractDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// ETLDPlusOne returns the registrable domain for a host using a last-two-label
// heuristic: "subdomain.test.example.org" yields "example.org". When the
// trailing two labels form a known public suffix (per the supplied list),
// three labels are kept instead, so "shop.example.co.uk" yields
// "example.co.uk". A nil list degrades to the plain two-label heuristic.
func ETLDPlusOne(host string, suffixes PublicSuffixList) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}

	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if suffixes != nil && suffixes.Contains(lastTwo) && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}
