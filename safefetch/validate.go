// Package safefetch performs validated, bounded HTTP fetches of untrusted
// public URLs. Every address — including each redirect hop — is checked
// against private, loopback, link-local, CGNAT and documentation ranges
// before a request is issued, so the service can never be steered at the
// internal network (SSRF).
package safefetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// ErrPrivateAddress is returned when a URL targets a private, loopback,
// link-local or otherwise internal address.
var ErrPrivateAddress = errors.New("safefetch: address is private or internal")

// ErrDNSResolution is returned when the hostname does not resolve.
var ErrDNSResolution = errors.New("safefetch: DNS resolution failed")

// blockedRanges covers every network a public web service must never be
// induced to contact. IPv4-mapped IPv6 addresses are unmapped before the
// check, so ::ffff:10.0.0.1 cannot slip through.
var blockedRanges = func() []netip.Prefix {
	cidrs := []string{
		"0.0.0.0/8",          // "this network"
		"10.0.0.0/8",         // RFC 1918
		"100.64.0.0/10",      // CGNAT
		"127.0.0.0/8",        // loopback
		"169.254.0.0/16",     // link-local (incl. cloud metadata)
		"172.16.0.0/12",      // RFC 1918
		"192.0.2.0/24",       // TEST-NET-1
		"192.168.0.0/16",     // RFC 1918
		"198.18.0.0/15",      // benchmarking
		"198.51.100.0/24",    // TEST-NET-2
		"203.0.113.0/24",     // TEST-NET-3
		"::1/128",            // loopback
		"::/128",             // unspecified
		"fc00::/7",           // ULA
		"fe80::/10",          // link-local
		"2001:db8::/32",      // documentation
	}
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}()

// localSuffixes are hostname patterns that resolve inside the deployment
// regardless of DNS answers.
var localSuffixes = []string{
	".localhost",
	".local",
	".internal",
	".lan",
	".home.arpa",
}

// IsBlockedAddr reports whether addr falls in a blocked range.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// isLocalHostname catches internal names without consulting DNS.
func isLocalHostname(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "localhost" {
		return true
	}
	for _, suffix := range localSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// ValidateHost checks that host (a hostname or literal IP) resolves only to
// public addresses. It is called before every request, including each
// redirect hop, so the check always precedes network contact with the target.
func ValidateHost(ctx context.Context, host string) error {
	if isLocalHostname(host) {
		return fmt.Errorf("%w: %q is a local hostname", ErrPrivateAddress, host)
	}

	// Literal IP: no DNS needed.
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		if IsBlockedAddr(addr) {
			return fmt.Errorf("%w: %s", ErrPrivateAddress, addr)
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%w: %q: %v", ErrDNSResolution, host, err)
	}
	// Every resolved address must be public: a mixed answer is how DNS
	// rebinding smuggles an internal target past a spot check.
	for _, addr := range addrs {
		if IsBlockedAddr(addr) {
			return fmt.Errorf("%w: %q resolves to %s", ErrPrivateAddress, host, addr)
		}
	}
	return nil
}
