package origin

import "testing"

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantOrigin string
		wantHost   string
		wantOK     bool
	}{
		{name: "empty", in: "", wantOK: false},
		{name: "null", in: "null", wantOrigin: "null", wantHost: "", wantOK: true},
		{name: "simple http", in: "http://example.com", wantOrigin: "http://example.com", wantHost: "example.com", wantOK: true},
		{name: "https with port", in: "https://example.com:8443", wantOrigin: "https://example.com:8443", wantHost: "example.com:8443", wantOK: true},
		{name: "default http port stripped", in: "http://example.com:80", wantOrigin: "http://example.com", wantHost: "example.com", wantOK: true},
		{name: "default https port stripped", in: "https://example.com:443", wantOrigin: "https://example.com", wantHost: "example.com", wantOK: true},
		{name: "uppercase normalized", in: "HTTP://EXAMPLE.COM", wantOrigin: "http://example.com", wantHost: "example.com", wantOK: true},
		{name: "ipv6", in: "http://[::1]:8080", wantOrigin: "http://[::1]:8080", wantHost: "[::1]:8080", wantOK: true},
		{name: "path rejected", in: "http://example.com/path", wantOK: false},
		{name: "query rejected", in: "http://example.com?x=1", wantOK: false},
		{name: "userinfo rejected", in: "http://user@example.com", wantOK: false},
		{name: "ws scheme rejected", in: "ws://example.com", wantOK: false},
		{name: "port zero rejected", in: "http://example.com:0", wantOK: false},
		{name: "garbage", in: "not a url", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOrigin, gotHost, ok := NormalizeHeader(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if gotOrigin != tt.wantOrigin {
				t.Fatalf("origin = %q, want %q", gotOrigin, tt.wantOrigin)
			}
			if gotHost != tt.wantHost {
				t.Fatalf("host = %q, want %q", gotHost, tt.wantHost)
			}
		})
	}
}

func TestIsAllowed_Allowlist(t *testing.T) {
	allowed := []string{"https://app.example.com", "http://localhost:3000"}

	if !IsAllowed("https://app.example.com", "app.example.com", "relay.internal", allowed) {
		t.Fatalf("allowlisted origin should be allowed")
	}
	if !IsAllowed("http://localhost:3000", "localhost:3000", "relay.internal", allowed) {
		t.Fatalf("allowlisted localhost origin should be allowed")
	}
	if IsAllowed("https://evil.example.com", "evil.example.com", "relay.internal", allowed) {
		t.Fatalf("non-allowlisted origin must be rejected")
	}
	if !IsAllowed("https://anything.example", "anything.example", "relay.internal", []string{"*"}) {
		t.Fatalf("wildcard must allow any origin")
	}
}

func TestIsAllowed_SameHostDefault(t *testing.T) {
	if !IsAllowed("https://relay.example.com", "relay.example.com", "relay.example.com", nil) {
		t.Fatalf("same host should be allowed")
	}
	if !IsAllowed("https://relay.example.com", "relay.example.com", "relay.example.com:443", nil) {
		t.Fatalf("default port on request host should match")
	}
	if IsAllowed("https://other.example.com", "other.example.com", "relay.example.com", nil) {
		t.Fatalf("cross-host origin must be rejected by default")
	}
	if IsAllowed("null", "", "relay.example.com", nil) {
		t.Fatalf("null origin must be rejected by default policy")
	}
}
