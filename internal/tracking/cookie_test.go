package tracking

import (
	"errors"
	"testing"
)

func TestParseCookieHeaderSplitsOnFirstEquals(t *testing.T) {
	cookies := parseCookieHeader("a=1; b=2=3", "https://shop.example/")
	if len(cookies) != 2 {
		t.Fatalf("parseCookieHeader() returned %d cookies; want 2", len(cookies))
	}
	want := []struct{ key, value string }{{"a", "1"}, {"b", "2=3"}}
	for i, w := range want {
		if cookies[i].Key() != w.key || cookies[i].Value() != w.value {
			t.Fatalf("cookie[%d] = %s=%s; want %s=%s", i, cookies[i].Key(), cookies[i].Value(), w.key, w.value)
		}
	}

	again := parseCookieHeader("a=1; b=2=3", "https://shop.example/")
	for i := range again {
		if again[i].Key() != cookies[i].Key() || again[i].Value() != cookies[i].Value() {
			t.Fatalf("second parse cookie[%d] differs", i)
		}
	}
}

func TestParseSetCookieHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   []string
	}{
		{name: "attributes_discarded", header: "x=y; Max-Age=100; Secure", want: []string{"x=y"}},
		{name: "line_separated", header: "a=1; Path=/\nb=2; HttpOnly", want: []string{"a=1", "b=2"}},
		{name: "crlf_and_blank_lines", header: "a=1\r\n\r\nb=2", want: []string{"a=1", "b=2"}},
		{name: "value_with_equals", header: "tok=ab==; Domain=.example.com", want: []string{"tok=ab=="}},
		{name: "malformed_no_equals", header: "orphan; Secure", want: []string{"orphan="}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cookies := parseSetCookieHeader(tc.header, "https://shop.example/")
			if len(cookies) != len(tc.want) {
				t.Fatalf("parseSetCookieHeader() returned %d cookies; want %d", len(cookies), len(tc.want))
			}
			for i, want := range tc.want {
				if got := cookies[i].Key() + "=" + cookies[i].Value(); got != want {
					t.Fatalf("cookie[%d] = %q; want %q", i, got, want)
				}
			}
		})
	}
}

func TestCookieTransitions(t *testing.T) {
	tests := []struct {
		name        string
		from        CookieCategory
		to          CookieCategory
		wantChanged bool
		wantErr     bool
	}{
		{name: "none_to_safe", from: CookieNone, to: CookieSafe, wantChanged: true},
		{name: "none_to_identifying", from: CookieNone, to: CookieIdentifying, wantChanged: true},
		{name: "identifying_to_safe", from: CookieIdentifying, to: CookieSafe, wantChanged: true},
		{name: "safe_to_identifying", from: CookieSafe, to: CookieIdentifying, wantErr: true},
		{name: "safe_to_none", from: CookieSafe, to: CookieNone, wantErr: true},
		{name: "identifying_to_none", from: CookieIdentifying, to: CookieNone, wantErr: true},
		{name: "safe_to_safe", from: CookieSafe, to: CookieSafe},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCookie("k", "v", "")
			c.category = tc.from
			changed, err := c.transition(tc.to)
			if tc.wantErr {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("transition() error = %v; want ErrIllegalTransition", err)
				}
				if c.Category() != tc.from {
					t.Fatalf("category = %s after rejected transition; want %s", c.Category(), tc.from)
				}
				return
			}
			if err != nil {
				t.Fatalf("transition() error = %v", err)
			}
			if changed != tc.wantChanged {
				t.Fatalf("transition() changed = %v; want %v", changed, tc.wantChanged)
			}
			if c.Category() != tc.to {
				t.Fatalf("category = %s; want %s", c.Category(), tc.to)
			}
		})
	}
}

func TestClassifyCookieSafeIsAbsorbing(t *testing.T) {
	shadow := newDomain("shop.example")
	shadow.intern(NewCookie("sid", "xyz999", ""))

	c := NewCookie("sid", "abc123", "")
	c.category = CookieSafe
	if classifyCookie(c, nil, shadow) {
		t.Fatal("classifyCookie() = true; want false for an already safe cookie")
	}
	if c.Category() != CookieSafe {
		t.Fatalf("category = %s; want SAFE", c.Category())
	}
}

func TestClassifyCookie(t *testing.T) {
	shadow := newDomain("shop.example")
	shadow.intern(NewCookie("sid", "xyz999", ""))
	shadow.intern(NewCookie("lang", "en", ""))
	shadow.intern(NewCookie("ab", "1", ""))
	shadow.intern(NewCookie("ab", "2", ""))

	tests := []struct {
		name       string
		cookie     *Cookie
		safeKeys   map[string]struct{}
		shadow     *Domain
		want       CookieCategory
		wantRecord bool
	}{
		{name: "known_safe_key", cookie: NewCookie("sid", "abc", ""), safeKeys: map[string]struct{}{"sid": {}}, shadow: shadow, want: CookieSafe},
		{name: "different_value", cookie: NewCookie("sid", "abc123", ""), shadow: shadow, want: CookieIdentifying},
		{name: "equal_value", cookie: NewCookie("lang", "en", ""), shadow: shadow, want: CookieSafe, wantRecord: true},
		{name: "any_equal_value_wins", cookie: NewCookie("ab", "2", ""), shadow: shadow, want: CookieSafe, wantRecord: true},
		{name: "no_counterpart", cookie: NewCookie("cart", "3", ""), shadow: shadow, want: CookieNone},
		{name: "no_shadow_domain", cookie: NewCookie("sid", "abc123", ""), want: CookieNone},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			record := classifyCookie(tc.cookie, tc.safeKeys, tc.shadow)
			if record != tc.wantRecord {
				t.Fatalf("classifyCookie() = %v; want %v", record, tc.wantRecord)
			}
			if tc.cookie.Category() != tc.want {
				t.Fatalf("category = %s; want %s", tc.cookie.Category(), tc.want)
			}
		})
	}
}

func TestExchangePromote(t *testing.T) {
	ex := &Exchange{ID: "r1"}
	if _, err := ex.promote(TrackingByTracker); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("promote(TrackingByTracker) from NONE error = %v; want ErrIllegalTransition", err)
	}
	if changed, err := ex.promote(BasicTracking); err != nil || !changed {
		t.Fatalf("promote(BasicTracking) = %v, %v; want true, nil", changed, err)
	}
	if changed, err := ex.promote(TrackingByTracker); err != nil || !changed {
		t.Fatalf("promote(TrackingByTracker) = %v, %v; want true, nil", changed, err)
	}
	if changed, _ := ex.promote(BasicTracking); changed {
		t.Fatal("promote(BasicTracking) lowered a TRACKINGBYTRACKER exchange")
	}
	if ex.Category() != TrackingByTracker {
		t.Fatalf("category = %s; want TRACKINGBYTRACKER", ex.Category())
	}
}

func TestNewExchangeExtractsMetadata(t *testing.T) {
	headers := []Header{
		{Name: "Content-Type", Value: "image/gif"},
		{Name: "referer", Value: "https://www.news.example/story"},
		{Name: "Cookie", Value: "uid=42"},
		{Name: "Set-Cookie", Value: "ignored=1"},
	}
	ex, err := newExchange(DirectionRequest, "7", "r1", "https://px.ads.example.co.uk/p.gif", headers, "news.example", testTime)
	if err != nil {
		t.Fatalf("newExchange() error = %v", err)
	}
	if ex.Domain != "example.co.uk" {
		t.Fatalf("Domain = %q; want %q", ex.Domain, "example.co.uk")
	}
	if !ex.ThirdParty {
		t.Fatal("ThirdParty = false; want true")
	}
	if ex.ContentType != "image/gif" {
		t.Fatalf("ContentType = %q; want image/gif", ex.ContentType)
	}
	if ex.Referer != "news.example" {
		t.Fatalf("Referer = %q; want news.example", ex.Referer)
	}
	if len(ex.Cookies) != 1 || ex.Cookies[0].Key() != "uid" {
		t.Fatalf("Cookies = %v; want only uid (Set-Cookie ignored on requests)", ex.Cookies)
	}
}
