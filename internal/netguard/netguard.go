// Package netguard enforces the "restrict to public URLs" knob (§6):
// when enabled, script sources fetched by URL and request targets must
// resolve to a publicly routable address, not loopback/link-local/
// private/reserved ranges. No pack dependency covers IP-range
// classification, so this is built directly on net/netip — a narrow,
// table-driven leaf with no natural third-party substitute.
package netguard

import (
	"context"
	"net"
	"net/netip"

	"github.com/retrack-dev/engine/internal/retrackerr"
)

// privatePrefixes are the non-public ranges rejected when restriction
// is enabled: loopback, link-local, private (RFC1918 / ULA), and the
// other IANA special-purpose blocks most likely to be mistaken for a
// public address by a naive validator.
var privatePrefixes = mustParsePrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
	"64:ff9b::/96",
)

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			panic("netguard: invalid builtin prefix " + c + ": " + err.Error())
		}
		out = append(out, p)
	}
	return out
}

// isPrivate reports whether addr falls in any non-public range.
func isPrivate(addr netip.Addr) bool {
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolver is the subset of *net.Resolver used, so tests can stub DNS
// without a real network lookup.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// DefaultResolver is net.DefaultResolver, used by IsPublic when no
// resolver is supplied.
var DefaultResolver Resolver = net.DefaultResolver

// IsPublic resolves host and reports whether every resolved address is
// publicly routable. A host that fails to resolve, or that resolves to
// any private/reserved address, is not public — callers reject the
// whole target rather than racing on a partial answer.
func IsPublic(ctx context.Context, host string) (bool, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return !isPrivate(addr.Unmap()), nil
	}

	addrs, err := DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return false, retrackerr.Wrapf(retrackerr.KindValidation, err, "resolve host %q", host)
	}
	if len(addrs) == 0 {
		return false, nil
	}
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			return false, nil
		}
		if isPrivate(addr.Unmap()) {
			return false, nil
		}
	}
	return true, nil
}
