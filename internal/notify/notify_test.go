package notify

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func okResponse() *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
	}
}

func TestSendPostsMessage(t *testing.T) {
	ctx := context.Background()

	var receivedMethod string
	var receivedPath string
	var receivedBody string
	var receivedContentType string

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			receivedMethod = r.Method
			receivedPath = r.URL.Path
			receivedContentType = r.Header.Get("Content-Type")
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return okResponse(), nil
		}),
	}

	if err := Send(ctx, client, "http://example.com/trackers", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got, want := receivedMethod, http.MethodPost; got != want {
		t.Fatalf("method = %q; want %q", got, want)
	}
	if got, want := receivedPath, "/trackers"; got != want {
		t.Fatalf("path = %q; want %q", got, want)
	}
	if got, want := receivedContentType, "text/plain"; got != want {
		t.Fatalf("content-type = %q; want %q", got, want)
	}
	if got, want := receivedBody, "hello"; got != want {
		t.Fatalf("body = %q; want %q", got, want)
	}
}

func TestSendReturnsErrorForServerError(t *testing.T) {
	ctx := context.Background()

	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader("server failure")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	err := Send(ctx, client, "http://example.com/trackers", "hello")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ntfy notification failed") {
		t.Fatalf("error = %q; want to contain %q", err, "ntfy notification failed")
	}
}

func TestSendDisallowsMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	err := Send(ctx, http.DefaultClient, "", "hello")
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestAnalysisCompleteFiltersPasses(t *testing.T) {
	calls := 0
	var title string
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			title = r.Header.Get("Title")
			return okResponse(), nil
		}),
	}
	n := New(client, "http://example.com/trackers", 2)
	summary := tracking.SessionSummary{URL: "https://news.example/", Domain: "news.example", Trackers: []string{"shop.example"}}

	tests := []struct {
		name string
		ac   tracking.AnalysisComplete
	}{
		{"first pass", tracking.AnalysisComplete{Pass: 1, Summary: summary}},
		{"no trackers", tracking.AnalysisComplete{Pass: 2, Summary: tracking.SessionSummary{Domain: "news.example"}}},
	}
	for _, tt := range tests {
		if err := n.AnalysisComplete(context.Background(), tt.ac); err != nil {
			t.Fatalf("%s: AnalysisComplete() error = %v", tt.name, err)
		}
	}
	if calls != 0 {
		t.Fatalf("calls = %d; want 0", calls)
	}

	if err := n.AnalysisComplete(context.Background(), tracking.AnalysisComplete{Pass: 2, Summary: summary}); err != nil {
		t.Fatalf("AnalysisComplete() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
	if got, want := title, "1 tracker(s) on news.example"; got != want {
		t.Fatalf("title = %q; want %q", got, want)
	}
}

func TestMessageCapsTrackerList(t *testing.T) {
	trackers := make([]string, 12)
	for i := range trackers {
		trackers[i] = "t" + string(rune('a'+i)) + ".example"
	}
	msg := Message(tracking.SessionSummary{URL: "https://news.example/", Trackers: trackers, BasicTracking: 3})

	if !strings.Contains(msg, "(+2 more)") {
		t.Fatalf("Message() = %q; want overflow marker", msg)
	}
	if !strings.Contains(msg, "basic tracking: 3") {
		t.Fatalf("Message() = %q; want counts", msg)
	}
	if strings.Contains(msg, "tl.example") {
		t.Fatalf("Message() = %q; lists more than the cap", msg)
	}
}
