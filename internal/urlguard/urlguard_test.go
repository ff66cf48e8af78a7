package urlguard

import "testing"

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "public https host", url: "https://hooks.slack.com/services/T000/B000/XXX", want: true},
		{name: "public https with port and path", url: "https://example.com:8443/hook?x=1", want: true},
		{name: "public ipv4 literal", url: "https://8.8.8.8/hook", want: true},
		{name: "172 outside /12", url: "https://172.32.0.1/hook", want: true},
		{name: "uppercase public host", url: "https://EXAMPLE.com/hook", want: true},

		{name: "http scheme", url: "http://example.com/hook", want: false},
		{name: "ftp scheme", url: "ftp://example.com/file", want: false},
		{name: "no scheme", url: "example.com/hook", want: false},
		{name: "empty string", url: "", want: false},
		{name: "garbage", url: "://%%", want: false},
		{name: "missing host", url: "https:///path", want: false},

		{name: "localhost", url: "https://localhost/hook", want: false},
		{name: "localhost uppercase", url: "https://LOCALHOST:8443/hook", want: false},
		{name: "loopback v4", url: "https://127.0.0.1/hook", want: false},
		{name: "unspecified v4", url: "https://0.0.0.0/hook", want: false},
		{name: "loopback v6", url: "https://[::1]/hook", want: false},
		{name: "unspecified v6", url: "https://[::]/hook", want: false},
		{name: "long form loopback v6", url: "https://[0:0:0:0:0:0:0:1]/hook", want: false},
		{name: "mapped loopback v6", url: "https://[::ffff:127.0.0.1]/hook", want: false},

		{name: "10/8", url: "https://10.1.2.3/hook", want: false},
		{name: "172.16/12 low", url: "https://172.16.0.1/hook", want: false},
		{name: "172.16/12 high", url: "https://172.31.255.255/hook", want: false},
		{name: "192.168/16", url: "https://192.168.1.10/hook", want: false},
		{name: "link local", url: "https://169.254.10.10/hook", want: false},
		{name: "leading zero octet", url: "https://010.0.0.1/hook", want: false},

		{name: "aws metadata", url: "https://169.254.169.254/latest/meta-data", want: false},
		{name: "gcp metadata", url: "https://metadata.google.internal/computeMetadata/v1", want: false},
		{name: "gcp short metadata", url: "https://metadata.goog/computeMetadata", want: false},
		{name: "metadata as subdomain", url: "https://x.metadata.goog.evil.example/", want: false},
		{name: "azure metadata", url: "https://metadata.azure.com/", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsAllowed(tt.url)
			if got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestGuard_WithBlockedHosts(t *testing.T) {
	base := Default()
	g := base.WithBlockedHosts(" Internal.Example.com ", "")

	if g.Allowed("https://internal.example.com/hook") {
		t.Error("Allowed() = true for extra blocked host, want false")
	}
	if !base.Allowed("https://internal.example.com/hook") {
		t.Error("WithBlockedHosts() mutated the receiver")
	}
	if len(g.BlockedHosts) != len(base.BlockedHosts)+1 {
		t.Errorf("BlockedHosts len = %d, want %d", len(g.BlockedHosts), len(base.BlockedHosts)+1)
	}
}

func TestParseDottedQuad(t *testing.T) {
	tests := []struct {
		host   string
		wantOK bool
		want   [4]int
	}{
		{host: "10.0.0.1", wantOK: true, want: [4]int{10, 0, 0, 1}},
		{host: "10.999.0.1", wantOK: true, want: [4]int{10, 999, 0, 1}},
		{host: "1.2.3", wantOK: false},
		{host: "example.com", wantOK: false},
		{host: "1.2.3.4.5", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, ok := parseDottedQuad(tt.host)
			if ok != tt.wantOK {
				t.Fatalf("parseDottedQuad(%q) ok = %v, want %v", tt.host, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseDottedQuad(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}
