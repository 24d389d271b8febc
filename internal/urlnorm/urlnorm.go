// Package urlnorm canonicalizes URLs into a stable identity string and
// guards every resolved host against SSRF targets, per the normalization
// and safety rules a scrape coordinator must enforce before any fetch.
package urlnorm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/netip"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"

	"harvestd/internal/model"
)

// trackingPrefixes and trackingExact list the query keys stripped during
// normalization.
var trackingPrefixes = []string{"utm_"}
var trackingExact = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
	"ref":    {},
	"ref_src": {},
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Resolver looks up the IP addresses for a hostname. Swappable in tests.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

var defaultResolver Resolver = net.DefaultResolver

// Result is the outcome of normalizing a URL.
type Result struct {
	Canonical string
	URLHash   string
	Addrs     []netip.Addr
}

// Normalize applies the full canonicalization + SSRF ruleset to raw,
// optionally resolved against base for relative URLs. It performs a DNS
// lookup to enforce the SSRF guard; pass a context with a short deadline.
func Normalize(ctx context.Context, raw, base string) (*Result, *model.APIError) {
	return normalizeWithResolver(ctx, raw, base, defaultResolver)
}

func normalizeWithResolver(ctx context.Context, raw, base string, resolver Resolver) (*Result, *model.APIError) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, model.NewAPIError(model.ErrInvalidURL, "could not parse url: "+err.Error())
	}

	if base != "" && !u.IsAbs() {
		b, berr := url.Parse(base)
		if berr != nil {
			return nil, model.NewAPIError(model.ErrInvalidURL, "could not parse base url: "+berr.Error())
		}
		u = b.ResolveReference(u)
	}

	if u.Host == "" {
		return nil, model.NewAPIError(model.ErrInvalidURL, "missing authority")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, model.NewAPIError(model.ErrUnsupportedScheme, "scheme must be http or https, got "+u.Scheme)
	}
	u.Scheme = scheme

	host := strings.ToLower(u.Hostname())
	if encoded, idnaErr := idna.Lookup.ToASCII(host); idnaErr == nil {
		host = encoded
	}

	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}

	u.Path = normalizePath(u.Path)

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if _, exact := trackingExact[lower]; exact {
			q.Del(key)
			continue
		}
		for _, prefix := range trackingPrefixes {
			if strings.HasPrefix(lower, prefix) {
				q.Del(key)
				break
			}
		}
	}
	u.RawQuery = sortedQuery(q)
	u.Fragment = ""
	u.RawFragment = ""

	canonical := u.String()

	if isLocalhostAlias(host) {
		return nil, model.NewAPIError(model.ErrSSRFBlocked, "host is a localhost alias")
	}

	addrs, lookupErr := resolveAddrs(ctx, resolver, host)
	if lookupErr != nil {
		return nil, model.NewAPIError(model.ErrInvalidURL, "could not resolve host: "+lookupErr.Error())
	}
	for _, addr := range addrs {
		if isBlockedAddr(addr) {
			return nil, model.NewAPIError(model.ErrSSRFBlocked, "resolved address "+addr.String()+" is in a blocked range")
		}
	}

	sum := sha256.Sum256([]byte(canonical))
	return &Result{
		Canonical: canonical,
		URLHash:   hex.EncodeToString(sum[:]),
		Addrs:     addrs,
	}, nil
}

// CheckAddr re-validates a single resolved address against the blocked
// ranges without a DNS lookup. The redirect policies do not call it; they
// re-run Normalize on each hop.
func CheckAddr(addr netip.Addr) *model.APIError {
	if isBlockedAddr(addr) {
		return model.NewAPIError(model.ErrSSRFBlocked, "redirect target "+addr.String()+" is in a blocked range")
	}
	return nil
}

func resolveAddrs(ctx context.Context, resolver Resolver, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, nil
	}
	ipAddrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	out := make([]netip.Addr, 0, len(ipAddrs))
	for _, a := range ipAddrs {
		if addr, ok := netip.AddrFromSlice(a.IP); ok {
			out = append(out, addr.Unmap())
		}
	}
	return out, nil
}

var blockedPrefixes = mustParsePrefixes([]string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"224.0.0.0/4",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
	"ff00::/8",
	"fd00:ec2::254/128",
})

func mustParsePrefixes(cidrs []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			panic(err)
		}
		out = append(out, p)
	}
	return out
}

func isBlockedAddr(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() || addr.IsMulticast() {
		return true
	}
	if addr == netip.MustParseAddr("169.254.169.254") {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func isLocalhostAlias(host string) bool {
	switch host {
	case "localhost", "localhost.localdomain", "ip6-localhost", "ip6-loopback":
		return true
	}
	return strings.HasSuffix(host, ".localhost")
}

// normalizePath collapses dot-segments, re-encodes unreserved bytes, and
// drops duplicate slashes, stripping a single trailing slash unless the
// path is root.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := collapseDotSegments(p)
	for strings.Contains(cleaned, "//") {
		cleaned = strings.ReplaceAll(cleaned, "//", "/")
	}
	if len(cleaned) > 1 && strings.HasSuffix(cleaned, "/") {
		cleaned = strings.TrimRight(cleaned, "/")
		if cleaned == "" {
			cleaned = "/"
		}
	}
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return cleaned
}

func collapseDotSegments(p string) string {
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != "" {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/")
}

func sortedQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for j, v := range vals {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// RegistrableDomain returns a best-effort public-suffix-naive registrable
// domain (last two labels, or three for common two-part public suffixes)
// used to classify internal vs. external links per §4.10/§4.6.
func RegistrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	twoPartSuffixes := map[string]struct{}{
		"co.uk": {}, "com.au": {}, "co.jp": {}, "com.br": {}, "co.in": {},
	}
	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if _, ok := twoPartSuffixes[lastTwo]; ok && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}

// SameRegistrableDomain reports whether two hosts share a registrable
// domain.
func SameRegistrableDomain(a, b string) bool {
	return RegistrableDomain(a) == RegistrableDomain(b)
}
