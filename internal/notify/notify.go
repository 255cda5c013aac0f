package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

// maxListed caps the tracker names included in one push.
const maxListed = 10

// Notifier pushes a summary to an ntfy topic when an analysis pass finds
// trackers.
type Notifier struct {
	client   *http.Client
	endpoint string
	pass     int
}

// New returns a Notifier posting to endpoint after the given analysis pass.
func New(client *http.Client, endpoint string, pass int) *Notifier {
	if pass <= 0 {
		pass = 2
	}
	return &Notifier{client: client, endpoint: endpoint, pass: pass}
}

// AnalysisComplete sends a push for ac when it is the configured pass and
// found at least one tracker.
func (n *Notifier) AnalysisComplete(ctx context.Context, ac tracking.AnalysisComplete) error {
	if ac.Pass != n.pass || len(ac.Summary.Trackers) == 0 {
		return nil
	}
	title := fmt.Sprintf("%d tracker(s) on %s", len(ac.Summary.Trackers), ac.Summary.Domain)
	return send(ctx, n.client, n.endpoint, title, Message(ac.Summary))
}

// Message renders a plain-text summary of a session.
func Message(s tracking.SessionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", s.URL)
	fmt.Fprintf(&b, "basic tracking: %d, tracking by tracker: %d, cookie syncs: %d\n",
		s.BasicTracking, s.TrackingByTracker, s.CookieSyncs)
	listed := s.Trackers
	if len(listed) > maxListed {
		listed = listed[:maxListed]
	}
	b.WriteString("trackers: ")
	b.WriteString(strings.Join(listed, ", "))
	if extra := len(s.Trackers) - len(listed); extra > 0 {
		fmt.Fprintf(&b, " (+%d more)", extra)
	}
	return b.String()
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	return send(ctx, client, endpoint, "", message)
}

func send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	if endpoint == "" {
		return errors.New("ntfy endpoint not configured")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
		req.Header.Set("Tags", "cookie")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
