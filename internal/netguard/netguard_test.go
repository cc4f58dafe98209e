package netguard

import (
	"context"
	"net"
	"testing"
)

func TestIsPublicLiteralAddresses(t *testing.T) {
	cases := []struct {
		addr   string
		public bool
	}{
		{"8.8.8.8", true},
		{"127.0.0.1", false},
		{"10.0.0.5", false},
		{"192.168.1.1", false},
		{"169.254.1.1", false},
		{"::1", false},
		{"2001:4860:4860::8888", true},
	}
	for _, tc := range cases {
		got, err := IsPublic(context.Background(), tc.addr)
		if err != nil {
			t.Fatalf("IsPublic(%s): %v", tc.addr, err)
		}
		if got != tc.public {
			t.Errorf("IsPublic(%s) = %v, want %v", tc.addr, got, tc.public)
		}
	}
}

type stubResolver struct {
	addrs []net.IPAddr
	err   error
}

func (s stubResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return s.addrs, s.err
}

func TestIsPublicHostnameResolution(t *testing.T) {
	orig := DefaultResolver
	defer func() { DefaultResolver = orig }()

	DefaultResolver = stubResolver{addrs: []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}}
	got, err := IsPublic(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("IsPublic: %v", err)
	}
	if !got {
		t.Error("expected public hostname to resolve as public")
	}

	DefaultResolver = stubResolver{addrs: []net.IPAddr{{IP: net.ParseIP("10.0.0.1")}}}
	got, err = IsPublic(context.Background(), "internal.corp")
	if err != nil {
		t.Fatalf("IsPublic: %v", err)
	}
	if got {
		t.Error("expected private-resolving hostname to be rejected")
	}
}
