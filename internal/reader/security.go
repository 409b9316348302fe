package reader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
)

var (
	errInvalidURLScheme = errors.New("unsupported url scheme")
	errBlockedURLHost   = errors.New("blocked url host")
	errBlockedURLPort   = errors.New("blocked url port")
)

// Address ranges that must never be fetched on behalf of a user, beyond
// what netip classifies directly: IPv6 unique-local, IPv4 carrier-grade
// NAT, and the benchmarking range sometimes routed internally.
var forbiddenPrefixes = []netip.Prefix{
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("198.18.0.0/15"),
}

// Hostname suffixes that resolve inside private infrastructure by
// convention and are rejected before any DNS lookup happens.
var forbiddenSuffixes = []string{".localhost", ".local", ".internal"}

// validateFetchURL rejects anything that could reach internal networks:
// non-http(s) schemes, loopback and metadata hostnames, literal private
// addresses, and ports other than 80/443.
func validateFetchURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	if parsed == nil || parsed.Host == "" {
		return nil, errors.New("url host is required")
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return nil, errInvalidURLScheme
	}

	hostname := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if hostname == "" {
		return nil, errors.New("url hostname is required")
	}
	if err := checkHostname(hostname); err != nil {
		return nil, err
	}
	if rawPort := strings.TrimSpace(parsed.Port()); rawPort != "" {
		port, err := strconv.Atoi(rawPort)
		if err != nil || (port != 80 && port != 443) {
			return nil, errBlockedURLPort
		}
	}
	return parsed, nil
}

// checkHostname applies the lookup-free rejections: reserved names and
// literal IP addresses in forbidden ranges.
func checkHostname(hostname string) error {
	if hostname == "localhost" {
		return errBlockedURLHost
	}
	for _, suffix := range forbiddenSuffixes {
		if strings.HasSuffix(hostname, suffix) {
			return errBlockedURLHost
		}
	}
	if ip, err := netip.ParseAddr(hostname); err == nil && isForbiddenAddr(ip) {
		return errBlockedURLHost
	}
	return nil
}

func isForbiddenAddr(ip netip.Addr) bool {
	if !ip.IsValid() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsMulticast() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	unmapped := ip.Unmap()
	for _, prefix := range forbiddenPrefixes {
		if prefix.Contains(unmapped) {
			return true
		}
	}
	return false
}

// secureDialContext wraps a dialer so every connection re-validates the
// resolved addresses. URL-level checks alone are not enough: a public
// hostname can resolve to a private address, and a redirect can point at
// one.
func secureDialContext(base *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	if base == nil {
		base = &net.Dialer{}
	}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			host = address
		}
		host = strings.TrimSpace(host)
		if host == "" {
			return nil, errors.New("empty host")
		}
		if err := checkResolvedHost(ctx, host); err != nil {
			return nil, err
		}
		return base.DialContext(ctx, network, address)
	}
}

func checkResolvedHost(ctx context.Context, host string) error {
	if err := checkHostname(strings.ToLower(host)); err != nil {
		return err
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return err
	}
	if len(ips) == 0 {
		return fmt.Errorf("no ip addresses for host %q", host)
	}
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok || isForbiddenAddr(addr) {
			return errBlockedURLHost
		}
	}
	return nil
}
