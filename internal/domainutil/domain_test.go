package domainutil

import "testing"

func TestFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "https://shop.example.co.uk/cart", want: "example.co.uk"},
		{url: "https://a.b.tracker.example/pixel.gif?id=1", want: "tracker.example"},
		{url: "https://shop.example/", want: "shop.example"},
		{url: "http://WWW.Example.COM:8080/x", want: "example.com"},
		{url: "http://127.0.0.1:9220/json", want: "127.0.0.1"},
		{url: "http://localhost/", want: "localhost"},
	}

	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			got, err := FromURL(tc.url)
			if err != nil {
				t.Fatalf("FromURL(%q) error = %v", tc.url, err)
			}
			if got != tc.want {
				t.Fatalf("FromURL(%q) = %q; want %q", tc.url, got, tc.want)
			}
		})
	}
}

func TestFromURLRejectsMissingHost(t *testing.T) {
	if _, err := FromURL("not a url"); err == nil {
		t.Fatal("FromURL() = nil error; want error for url without host")
	}
}

func TestFromHostStripsLeadingDot(t *testing.T) {
	if got, want := FromHost(".ads.tracker.example"), "tracker.example"; got != want {
		t.Fatalf("FromHost() = %q; want %q", got, want)
	}
}
