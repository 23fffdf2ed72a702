package urlsafety

import (
	"errors"
	"net"
	"testing"
)

type fakeResolver map[string][]net.IPAddr

func (f fakeResolver) LookupIPAddr(host string) ([]net.IPAddr, error) {
	addrs, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func ipAddr(ip string) net.IPAddr {
	return net.IPAddr{IP: net.ParseIP(ip)}
}

func TestValidateWebhookURLRejectsHTTP(t *testing.T) {
	if err := ValidateWebhookURLWithResolver("http://example.com/h", fakeResolver{
		"example.com": {ipAddr("93.184.216.34")},
	}); err == nil {
		t.Fatal("expected error for non-https scheme")
	}
}

func TestValidateWebhookURLRejectsPrivateLiteral(t *testing.T) {
	if err := ValidateWebhookURLWithResolver("https://10.0.0.1/h", fakeResolver{
		"10.0.0.1": {ipAddr("10.0.0.1")},
	}); err == nil {
		t.Fatal("expected error for private address")
	}
}

func TestValidateWebhookURLAcceptsPublic(t *testing.T) {
	err := ValidateWebhookURLWithResolver("https://example.com/h", fakeResolver{
		"example.com": {ipAddr("93.184.216.34")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateWebhookURLRejectsMixedRecords(t *testing.T) {
	err := ValidateWebhookURLWithResolver("https://mixed.example.com/h", fakeResolver{
		"mixed.example.com": {ipAddr("93.184.216.34"), ipAddr("192.168.1.1")},
	})
	if err == nil {
		t.Fatal("expected error when any resolved address is private")
	}
}

func TestValidateWebhookURLRejectsNoHostname(t *testing.T) {
	if err := ValidateWebhookURLWithResolver("https:///h", fakeResolver{}); err == nil {
		t.Fatal("expected error for missing hostname")
	}
}

func TestValidateWebhookURLRejectsUnresolvable(t *testing.T) {
	if err := ValidateWebhookURLWithResolver("https://nowhere.invalid/h", fakeResolver{}); err == nil {
		t.Fatal("expected error for unresolvable hostname")
	}
}

func TestValidateWebhookURLRejectsLinkLocalAndIPv6Loopback(t *testing.T) {
	cases := map[string]net.IPAddr{
		"link-local.example.com": ipAddr("169.254.1.1"),
		"v6loopback.example.com": ipAddr("::1"),
		"v6linklocal.example.com": ipAddr("fe80::1"),
	}
	for host, addr := range cases {
		err := ValidateWebhookURLWithResolver("https://"+host+"/h", fakeResolver{host: {addr}})
		if err == nil {
			t.Fatalf("expected error for %s", host)
		}
	}
}
