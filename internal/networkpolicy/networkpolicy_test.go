package networkpolicy

import (
	"strings"
	"testing"

	"github.com/oriys/capsule/internal/profile"
)

func TestEnforceNone(t *testing.T) {
	if err := Enforce(profile.NetNone, Target{Host: "example.com"}); err == nil {
		t.Fatal("expected NONE to deny all egress")
	}
}

func TestEnforceAll(t *testing.T) {
	if err := Enforce(profile.NetAll, Target{Host: "example.com", Scheme: "http"}); err != nil {
		t.Fatalf("expected ALL to permit any egress, got %v", err)
	}
}

func TestEnforceHTTPSOnly(t *testing.T) {
	if err := Enforce(profile.NetHTTPSOnly, Target{Host: "example.com", Scheme: "https"}); err != nil {
		t.Fatalf("expected https to be permitted, got %v", err)
	}
	if err := Enforce(profile.NetHTTPSOnly, Target{Host: "example.com", Scheme: "http"}); err == nil {
		t.Fatal("expected plain http to be denied under HTTPS_ONLY")
	}
	if err := Enforce(profile.NetHTTPSOnly, Target{Host: "example.com"}); err != nil {
		t.Fatalf("expected non-HTTP traffic (no scheme) to be permitted, got %v", err)
	}
}

func TestNewHTTPClientDeniesUnderNone(t *testing.T) {
	client := NewHTTPClient(profile.NetNone)
	_, err := client.Get("http://example.com")
	if err == nil {
		t.Fatal("expected dial to be blocked under NONE")
	}
}

// TestNewHTTPClientHTTPSOnlyDeniesPlainHTTP drives a real request through
// the client's transport rather than calling Enforce directly, so it
// exercises whatever mechanism the transport actually uses to learn the
// request's scheme.
func TestNewHTTPClientHTTPSOnlyDeniesPlainHTTP(t *testing.T) {
	client := NewHTTPClient(profile.NetHTTPSOnly)
	_, err := client.Get("http://example.com")
	if err == nil {
		t.Fatal("expected plain http to be denied under HTTPS_ONLY")
	}
}

// TestNewHTTPClientHTTPSOnlyReachesTLSDial confirms an https:// request is
// not rejected by the policy layer itself: the dial reaching (and failing
// at) the network is proof the scheme was recognized as https, since a
// bogus port makes this fail only after Enforce has approved it.
func TestNewHTTPClientHTTPSOnlyReachesTLSDial(t *testing.T) {
	client := NewHTTPClient(profile.NetHTTPSOnly)
	_, err := client.Get("https://127.0.0.1:1/")
	if err == nil {
		t.Fatal("expected connection refused, got success")
	}
	if strings.Contains(err.Error(), "network policy") {
		t.Fatalf("expected a dial failure past policy enforcement, got policy denial: %v", err)
	}
}
