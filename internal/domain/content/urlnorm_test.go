package content

import "testing"

func TestNormalizeURL_StripsTrackingParams(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://Example.COM/Page?utm_source=x&utm_medium=y&id=7", "https://example.com/Page?id=7"},
		{"https://example.com/a?fbclid=abc", "https://example.com/a"},
		{"https://example.com/a?gclid=abc&keep=1", "https://example.com/a?keep=1"},
		{"HTTPS://EXAMPLE.com/Path", "https://example.com/Path"},
		{"https://example.com/a?x=1", "https://example.com/a?x=1"},
	}
	for _, tc := range cases {
		if got := NormalizeURL(tc.in); got != tc.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeURL_InvalidUnchanged(t *testing.T) {
	for _, raw := range []string{"not a url", "", "::bad::"} {
		if got := NormalizeURL(raw); got != raw {
			t.Errorf("NormalizeURL(%q) = %q, want input unchanged", raw, got)
		}
	}
}

func TestExtractDomain(t *testing.T) {
	if got := ExtractDomain("https://Sub.Example.COM:8080/x"); got != "sub.example.com" {
		t.Errorf("ExtractDomain = %q, want sub.example.com", got)
	}
	if got := ExtractDomain("garbage"); got != "" {
		t.Errorf("ExtractDomain(garbage) = %q, want empty", got)
	}
}

func TestETLDPlusOne(t *testing.T) {
	suffixes := NewStaticSuffixList("co.uk", "com.au")

	cases := []struct {
		host string
		want string
	}{
		{"example.org", "example.org"},
		{"sub.test.example.org", "example.org"},
		{"shop.example.co.uk", "example.co.uk"},
		{"example.co.uk", "example.co.uk"},
		{"a.b.site.com.au", "site.com.au"},
		{"localhost", "localhost"},
	}
	for _, tc := range cases {
		if got := ETLDPlusOne(tc.host, suffixes); got != tc.want {
			t.Errorf("ETLDPlusOne(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestETLDPlusOne_NilSuffixList(t *testing.T) {
	if got := ETLDPlusOne("shop.example.co.uk", nil); got != "co.uk" {
		t.Errorf("ETLDPlusOne with nil list = %q, want co.uk (plain two-label heuristic)", got)
	}
}
