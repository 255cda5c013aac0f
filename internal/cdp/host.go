package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/shadowtrack/internal/capture"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

var (
	ErrNotConnected = errors.New("cdp: not connected")
	ErrUnknownTab   = errors.New("cdp: tab not attached")
)

// Options configure a Host.
type Options struct {
	CDPURL string
	// TabURLFilter limits which already-open tabs are attached at startup.
	// Tabs opened later are always attached.
	TabURLFilter string
	PairWindow   time.Duration
}

// Host connects to Chromium over CDP. It turns page and network events of
// every attached tab into tracking events, and serves isolated contexts and
// cookie jars to the monitor.
type Host struct {
	opts        Options
	submit      func(tracking.Event)
	httpCapture *capture.HTTPCapture
	wsCapture   *capture.WebSocketCapture
	tabs        *TabRegistry
	now         func() time.Time

	allocCtx       context.Context
	allocCancel    context.CancelFunc
	browserCtx     context.Context
	browserCancel  context.CancelFunc
	controlID      target.ID
	defaultContext cdp.BrowserContextID
}

func NewHost(opts Options, submit func(tracking.Event)) *Host {
	return &Host{
		opts:        opts,
		submit:      submit,
		httpCapture: capture.NewHTTPCapture(submit, opts.PairWindow),
		wsCapture:   capture.NewWebSocketCapture(submit),
		tabs:        NewTabRegistry(),
		now:         time.Now,
	}
}

// Connect attaches to the browser and to every matching page target, then
// follows targets created and destroyed afterwards.
func (h *Host) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("Connecting to Chromium", "url", h.opts.CDPURL)

	h.allocCtx, h.allocCancel = chromedp.NewRemoteAllocator(context.Background(), h.opts.CDPURL)
	h.browserCtx, h.browserCancel = chromedp.NewContext(h.allocCtx)

	if err := chromedp.Run(h.browserCtx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	c := chromedp.FromContext(h.browserCtx)
	h.controlID = c.Target.TargetID

	targets, err := chromedp.Targets(h.browserCtx)
	if err != nil {
		return fmt.Errorf("failed to enumerate targets: %w", err)
	}
	for _, t := range targets {
		if t.TargetID == h.controlID {
			h.defaultContext = t.BrowserContextID
		}
	}
	slog.Info("Found browser targets", "count", len(targets))

	chromedp.ListenBrowser(h.browserCtx, h.onBrowserEvent)
	if err := target.SetDiscoverTargets(true).Do(cdp.WithExecutor(h.browserCtx, c.Browser)); err != nil {
		slog.Warn("Target discovery unavailable, new tabs will not be attached", "error", err)
	}

	attachedCount := 0
	for _, t := range targets {
		if !h.attachable(t) {
			continue
		}
		if !h.matchesTabURL(t.URL) {
			slog.Debug("Skipping tab (url filter)", "url", t.URL)
			continue
		}
		if err := h.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", t.URL, "error", err)
			continue
		}
		attachedCount++
	}

	slog.Info("Attached to tabs", "count", attachedCount, "tab_url_filter", h.opts.TabURLFilter)
	return nil
}

// attachable reports whether t is a user page in the default browser
// context. Shadow tabs live in their own contexts and are attached by Create.
func (h *Host) attachable(t *target.Info) bool {
	if t == nil || t.Type != "page" || t.TargetID == h.controlID {
		return false
	}
	if h.defaultContext != "" && t.BrowserContextID != h.defaultContext {
		return false
	}
	_, attached := h.tabs.Get(t.TargetID)
	return !attached
}

func (h *Host) attachToTab(targetID target.ID, url string) error {
	// Cancelling a chromedp tab context closes the target, so user tabs are
	// kept out of the browser context's cancellation.
	tabCtx, tabCancel := chromedp.NewContext(context.WithoutCancel(h.browserCtx), chromedp.WithTargetID(targetID))
	tab := &TabContext{ID: targetID, URL: url, ctx: tabCtx, cancel: tabCancel}
	if !h.tabs.Register(tab) {
		tabCancel()
		return nil
	}
	h.submit(tracking.TabCreated{TabID: string(targetID)})

	if err := chromedp.Run(tabCtx, network.Enable(), network.SetCacheDisabled(true), page.Enable()); err != nil {
		h.tabs.Remove(targetID)
		h.submit(tracking.TabClosed{TabID: string(targetID)})
		return fmt.Errorf("failed to enable network/page domains: %w", err)
	}

	chromedp.ListenTarget(tabCtx, h.createEventHandler(string(targetID), false))
	slog.Info("Attached to tab", "target_id", targetID, "url", truncateURL(url))
	return nil
}

// onBrowserEvent runs on chromedp's event loop and must not block.
func (h *Host) onBrowserEvent(ev any) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if !h.attachable(e.TargetInfo) {
			return
		}
		info := e.TargetInfo
		go func() {
			if err := h.attachToTab(info.TargetID, info.URL); err != nil {
				slog.Warn("Failed to attach to new tab", "target_id", info.TargetID, "error", err)
				return
			}
			h.submit(tracking.TabActivated{TabID: string(info.TargetID)})
		}()
	case *target.EventTargetDestroyed:
		go h.detach(e.TargetID, "destroyed")
	case *target.EventTargetCrashed:
		go h.detach(e.TargetID, "crashed")
	}
}

func (h *Host) detach(targetID target.ID, reason string) {
	tab, ok := h.tabs.Remove(targetID)
	if !ok {
		return
	}
	h.dropTab(string(targetID))
	tab.cancel()
	slog.Info("Tab detached", "target_id", targetID, "shadow", tab.Shadow, "reason", reason)
	h.submit(tracking.TabClosed{TabID: string(targetID)})
}

func (h *Host) dropTab(tabID string) {
	h.httpCapture.DropTab(tabID)
	h.wsCapture.DropTab(tabID)
}

func (h *Host) createEventHandler(tabID string, shadow bool) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				h.tabs.SetURL(target.ID(tabID), e.Frame.URL)
				slog.Debug("Tab navigated", "tab_id", tabID, "shadow", shadow, "url", truncateURL(e.Frame.URL))
			}
		case *network.EventRequestWillBeSent:
			if !shadow && isMainDocument(tabID, e) {
				h.submit(tracking.NavigationStarted{TabID: tabID, URL: e.Request.URL, Timestamp: h.now()})
			}
			h.httpCapture.OnRequestWillBeSent(tabID, e)
		case *network.EventRequestWillBeSentExtraInfo:
			h.httpCapture.OnRequestWillBeSentExtraInfo(tabID, e)
		case *network.EventResponseReceived:
			h.httpCapture.OnResponseReceived(tabID, e)
		case *network.EventResponseReceivedExtraInfo:
			h.httpCapture.OnResponseReceivedExtraInfo(tabID, e)
		case *network.EventLoadingFinished:
			h.httpCapture.OnLoadingFinished(tabID, e)
		case *network.EventLoadingFailed:
			h.httpCapture.OnLoadingFailed(tabID, e)
		case *network.EventWebSocketCreated:
			h.wsCapture.OnWebSocketCreated(tabID, e)
		case *network.EventWebSocketWillSendHandshakeRequest:
			h.wsCapture.OnWillSendHandshakeRequest(tabID, e)
		case *network.EventWebSocketHandshakeResponseReceived:
			h.wsCapture.OnHandshakeResponseReceived(tabID, e)
		case *network.EventWebSocketClosed:
			h.wsCapture.OnWebSocketClosed(tabID, e)
		}
	}
}

// isMainDocument matches the first request of a top-level navigation. A
// page target's main frame shares the target id, and the navigation
// request id equals its loader id.
func isMainDocument(tabID string, e *network.EventRequestWillBeSent) bool {
	return e.Request != nil &&
		e.RedirectResponse == nil &&
		e.Type == network.ResourceTypeDocument &&
		string(e.FrameID) == tabID &&
		string(e.LoaderID) == string(e.RequestID)
}

// Create opens a blank tab in a fresh browser context. The context shares
// nothing with the default profile, so the shadow page loads cookie-free.
func (h *Host) Create(ctx context.Context, originTabID string) (string, tracking.ContextHandle, error) {
	if h.browserCtx == nil {
		return "", "", ErrNotConnected
	}
	shadowCtx, cancel := chromedp.NewContext(h.browserCtx, chromedp.WithNewBrowserContext())
	// The first Run allocates the target and must not carry a deadline.
	if err := chromedp.Run(shadowCtx); err != nil {
		cancel()
		return "", "", fmt.Errorf("cdp: create isolated context: %w", err)
	}
	c := chromedp.FromContext(shadowCtx)
	tab := &TabContext{
		ID:      c.Target.TargetID,
		URL:     "about:blank",
		Shadow:  true,
		Context: tracking.ContextHandle(c.BrowserContextID),
		ctx:     shadowCtx,
		cancel:  cancel,
	}
	h.tabs.Register(tab)

	if err := run(ctx, shadowCtx, network.Enable(), network.SetCacheDisabled(true), page.Enable()); err != nil {
		h.tabs.Remove(tab.ID)
		cancel()
		return "", tab.Context, fmt.Errorf("cdp: enable shadow tab: %w", err)
	}
	chromedp.ListenTarget(shadowCtx, h.createEventHandler(string(tab.ID), true))

	slog.Info("Shadow context created", "origin_tab_id", originTabID, "shadow_tab_id", tab.ID, "context", tab.Context)
	return string(tab.ID), tab.Context, nil
}

// Load navigates the shadow tab and waits for its load event.
func (h *Host) Load(ctx context.Context, shadowTabID, url string) error {
	tab, ok := h.tabs.GetByStringID(shadowTabID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTab, shadowTabID)
	}
	if err := run(ctx, tab.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("cdp: navigate shadow tab: %w", err)
	}
	return nil
}

// Destroy closes the shadow tab and disposes its browser context.
func (h *Host) Destroy(ctx context.Context, handle tracking.ContextHandle) error {
	tab, ok := h.tabs.Shadow(handle)
	if !ok {
		slog.Debug("Shadow context already gone", "context", handle)
		return nil
	}
	h.tabs.Remove(tab.ID)
	h.dropTab(string(tab.ID))

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(tab.ctx) }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("cdp: dispose context %s: %w", handle, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cookies reads the tab's cookie jar for urls.
func (h *Host) Cookies(ctx context.Context, tabID string, urls []string) ([]tracking.JarCookie, error) {
	tab, ok := h.tabs.GetByStringID(tabID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTab, tabID)
	}
	var cookies []*network.Cookie
	err := run(ctx, tab.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs(urls).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("cdp: get cookies: %w", err)
	}
	return jarCookies(cookies), nil
}

func jarCookies(cookies []*network.Cookie) []tracking.JarCookie {
	out := make([]tracking.JarCookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		out = append(out, tracking.JarCookie{Domain: c.Domain, Name: c.Name, Value: c.Value, Path: c.Path})
	}
	return out
}

// run executes actions on an already allocated tab, bounded by ctx.
func run(ctx, tabCtx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close disposes shadow contexts and disconnects. User tabs stay open.
func (h *Host) Close() error {
	h.httpCapture.Close()
	for _, tab := range h.tabs.Drain() {
		if tab.Shadow {
			if err := chromedp.Cancel(tab.ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("Failed to dispose shadow context", "context", tab.Context, "error", err)
			}
		}
	}
	if h.browserCancel != nil {
		h.browserCancel()
	}
	if h.allocCancel != nil {
		h.allocCancel()
	}
	slog.Info("CDP host closed")
	return nil
}

// TabCount returns attached origin and shadow tab counts.
func (h *Host) TabCount() (origins, shadows int) {
	return h.tabs.Count()
}

func (h *Host) matchesTabURL(url string) bool {
	if h.opts.TabURLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(h.opts.TabURLFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
