package safefetch

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

func TestValidateHost_BlockedLiterals(t *testing.T) {
	// WHAT: Private, loopback, link-local, CGNAT and ULA literals are
	// rejected without any network activity.
	// WHY: These are the classic SSRF pivot targets, including the cloud
	// metadata endpoint.
	blocked := []string{
		"127.0.0.1",
		"10.0.0.1",
		"10.255.255.255",
		"172.16.0.1",
		"192.168.1.1",
		"169.254.169.254",
		"100.64.0.1",
		"192.0.2.10",
		"198.51.100.7",
		"203.0.113.9",
		"::1",
		"fc00::1",
		"fd12:3456::1",
		"fe80::1",
		"::ffff:10.0.0.1",
		"2001:db8::1",
	}
	for _, host := range blocked {
		err := ValidateHost(context.Background(), host)
		if !errors.Is(err, ErrPrivateAddress) {
			t.Errorf("%s: got %v, want ErrPrivateAddress", host, err)
		}
	}
}

func TestValidateHost_PublicLiterals(t *testing.T) {
	// WHAT: Ordinary public addresses pass.
	// WHY: The blocklist must not overreach.
	public := []string{"1.1.1.1", "8.8.8.8", "93.184.216.34", "2606:4700::1111"}
	for _, host := range public {
		if err := ValidateHost(context.Background(), host); err != nil {
			t.Errorf("%s: unexpected rejection: %v", host, err)
		}
	}
}

func TestValidateHost_LocalSuffixes(t *testing.T) {
	// WHAT: Internal hostname suffixes are rejected before DNS.
	// WHY: Split-horizon DNS can resolve these to anything; the name alone
	// marks them internal.
	names := []string{
		"localhost",
		"LOCALHOST",
		"db.local",
		"vault.internal",
		"printer.lan",
		"nas.home.arpa",
		"api.prod.localhost",
		"router.local.",
	}
	for _, host := range names {
		err := ValidateHost(context.Background(), host)
		if !errors.Is(err, ErrPrivateAddress) {
			t.Errorf("%s: got %v, want ErrPrivateAddress", host, err)
		}
	}
}

func TestValidateHost_DNSFailure(t *testing.T) {
	// WHAT: A hostname that cannot resolve yields ErrDNSResolution.
	// WHY: The taxonomy distinguishes resolution failures from blocks.
	err := ValidateHost(context.Background(), "no-such-host.invalid")
	if !errors.Is(err, ErrDNSResolution) {
		t.Errorf("got %v, want ErrDNSResolution", err)
	}
}

func TestIsBlockedAddr_UnmapsV4InV6(t *testing.T) {
	// WHAT: IPv4-mapped IPv6 forms of private addresses are blocked.
	// WHY: ::ffff:192.168.0.1 is the textbook blocklist bypass.
	addr := netip.MustParseAddr("::ffff:192.168.0.1")
	if !IsBlockedAddr(addr) {
		t.Error("mapped private v4 should be blocked")
	}
}
