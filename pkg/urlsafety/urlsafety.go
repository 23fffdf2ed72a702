// Package urlsafety implements the URL safety validator (spec section
// 4.7): a pure, startup-time check that a configured notifier webhook
// URL cannot be used to reach internal/private network space (SSRF).
//
// Modeled on the teacher's boundary.NetworkConstraints (the shape of a
// network-egress policy object) and config.Load's fail-closed,
// load-time validation discipline — this runs once, synchronously, at
// config load, never per request.
package urlsafety

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// deniedNetworks enumerates the private/link-local/loopback ranges a
// webhook URL's resolved addresses must never fall within.
var deniedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("urlsafety: invalid built-in CIDR %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// Resolver resolves a hostname to its IP addresses. Overridable for
// tests; defaults to net.DefaultResolver.
type Resolver interface {
	LookupIPAddr(host string) ([]net.IPAddr, error)
}

type defaultResolver struct{}

func (defaultResolver) LookupIPAddr(host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(context.Background(), host)
}

// DefaultResolver is the production resolver using the system DNS.
var DefaultResolver Resolver = defaultResolver{}

// ValidateWebhookURL rejects any webhook URL that is not https, has no
// hostname, fails to resolve, or resolves (in whole or in part) to
// private/loopback/link-local address space. All resolved addresses
// are checked — a hostname with one public and one private record is
// rejected.
func ValidateWebhookURL(rawURL string) error {
	return validateWebhookURL(rawURL, DefaultResolver)
}

// ValidateWebhookURLWithResolver is ValidateWebhookURL with an
// injectable resolver, for deterministic testing.
func ValidateWebhookURLWithResolver(rawURL string, resolver Resolver) error {
	return validateWebhookURL(rawURL, resolver)
}

func validateWebhookURL(rawURL string, resolver Resolver) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("urlsafety: invalid URL %q: %w", rawURL, err)
	}

	if u.Scheme != "https" {
		return fmt.Errorf("urlsafety: webhook URL %q must use https, got %q", rawURL, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("urlsafety: webhook URL %q has no hostname", rawURL)
	}

	if resolver == nil {
		resolver = DefaultResolver
	}

	addrs, err := resolver.LookupIPAddr(host)
	if err != nil {
		return fmt.Errorf("urlsafety: webhook hostname %q does not resolve: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("urlsafety: webhook hostname %q resolved to no addresses", host)
	}

	for _, addr := range addrs {
		if ip := addr.IP; isDenied(ip) {
			return fmt.Errorf("urlsafety: webhook hostname %q resolves to disallowed address %s", host, ip)
		}
	}

	return nil
}

func isDenied(ip net.IP) bool {
	for _, n := range deniedNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
