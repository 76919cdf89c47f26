package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// ErrEgressBlocked marks URLs fetch_webpage refuses to request.
var ErrEgressBlocked = errors.New("outbound request blocked")

const allowPrivateEgressEnv = "CHATLOOP_ALLOW_PRIVATE_EGRESS"

// blockedPrefixes are the loopback, private, link-local, carrier-grade
// NAT, multicast and reserved ranges of both address families.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

var lookupHost = func(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// EnsureOutboundURLAllowed accepts http(s) URLs whose host resolves only to
// public addresses. CHATLOOP_ALLOW_PRIVATE_EGRESS=true lifts the address
// check but not the scheme check.
func EnsureOutboundURLAllowed(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrEgressBlocked, parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("invalid URL: missing host")
	}
	if privateEgressAllowed() {
		return nil
	}

	lowerHost := strings.ToLower(host)
	if lowerHost == "localhost" || strings.HasSuffix(lowerHost, ".localhost") {
		return fmt.Errorf("%w: %s", ErrEgressBlocked, host)
	}

	var addrs []netip.Addr
	if addr, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{addr}
	} else {
		addrs, err = lookupHost(ctx, host)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", host, err)
		}
		if len(addrs) == 0 {
			return fmt.Errorf("resolve %s: no addresses", host)
		}
	}

	for _, addr := range addrs {
		if blockedAddr(addr) {
			return fmt.Errorf("%w: %s resolves to %s", ErrEgressBlocked, host, addr)
		}
	}
	return nil
}

func blockedAddr(addr netip.Addr) bool {
	addr = addr.WithZone("").Unmap()
	if !addr.IsValid() {
		return true
	}
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func privateEgressAllowed() bool {
	allowed, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(allowPrivateEgressEnv)))
	return err == nil && allowed
}
