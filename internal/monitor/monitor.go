package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

var (
	ErrStopped    = errors.New("monitor stopped")
	ErrNoContexts = errors.New("isolated contexts unavailable")
)

const (
	defaultQueueSize   = 4096
	defaultCallTimeout = 30 * time.Second
)

// IsolatedContexts creates and tears down cookie-free browsing contexts.
type IsolatedContexts interface {
	// Create opens a fresh context with one blank tab and returns its tab id.
	Create(ctx context.Context, originTabID string) (shadowTabID string, handle tracking.ContextHandle, err error)
	// Load navigates the shadow tab and returns once the page has loaded.
	Load(ctx context.Context, shadowTabID, url string) error
	Destroy(ctx context.Context, handle tracking.ContextHandle) error
}

// CookieJar reads the live cookie jar of a tab for the given URLs.
type CookieJar interface {
	Cookies(ctx context.Context, tabID string, urls []string) ([]tracking.JarCookie, error)
}

type SafeCookieWriter interface {
	RecordSafe(ctx context.Context, domain, key, value string) error
}

type SnapshotSaver interface {
	Save(key int64, snap tracking.SessionSnapshot) error
}

type ExchangeLog interface {
	Append(site, stream, name string, record any) error
	Release(name string)
}

type Publisher interface {
	Publish(typ, tabID string, data any) error
}

type Notifier interface {
	AnalysisComplete(ctx context.Context, ac tracking.AnalysisComplete) error
}

// Options wires collaborators. Any collaborator may be nil; its effects are
// then skipped.
type Options struct {
	Registry    *tracking.Registry
	Contexts    IsolatedContexts
	Jar         CookieJar
	SafeCookies SafeCookieWriter
	Snapshots   SnapshotSaver
	Log         ExchangeLog
	Publisher   Publisher
	Notifier    Notifier
	QueueSize   int
	CallTimeout time.Duration
}

// Stats are loop counters for health reporting.
type Stats struct {
	Events  int64 `json:"events"`
	Effects int64 `json:"effects"`
	Queued  int   `json:"queued"`
	Pending int64 `json:"pending_calls"`
}

// Monitor serializes every registry mutation on one goroutine. Host
// callbacks and finished asynchronous calls enter through Submit.
type Monitor struct {
	reg         *tracking.Registry
	contexts    IsolatedContexts
	jar         CookieJar
	safe        SafeCookieWriter
	snapshots   SnapshotSaver
	log         ExchangeLog
	pub         Publisher
	notifier    Notifier
	callTimeout time.Duration

	events   chan tracking.Event
	inspect  chan inspectReq
	persist  chan tracking.PersistSnapshot
	done     chan struct{}
	stopOnce sync.Once

	// Loop goroutine only.
	logNames map[string]string

	calls   sync.WaitGroup
	timerMu sync.Mutex
	timers  map[*time.Timer]struct{}

	handled  atomic.Int64
	executed atomic.Int64
	pending  atomic.Int64
}

type inspectReq struct {
	fn   func(*tracking.Registry)
	done chan struct{}
}

func New(opts Options) *Monitor {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	reg := opts.Registry
	if reg == nil {
		reg = tracking.NewRegistry(tracking.Options{})
	}
	return &Monitor{
		reg:         reg,
		contexts:    opts.Contexts,
		jar:         opts.Jar,
		safe:        opts.SafeCookies,
		snapshots:   opts.Snapshots,
		log:         opts.Log,
		pub:         opts.Publisher,
		notifier:    opts.Notifier,
		callTimeout: opts.CallTimeout,
		events:      make(chan tracking.Event, opts.QueueSize),
		inspect:     make(chan inspectReq),
		persist:     make(chan tracking.PersistSnapshot, 64),
		done:        make(chan struct{}),
		timers:      make(map[*time.Timer]struct{}),
		logNames:    make(map[string]string),
	}
}

// Submit queues an event for the loop. It blocks while the queue is full
// and drops the event once the monitor has stopped.
func (m *Monitor) Submit(ev tracking.Event) {
	select {
	case m.events <- ev:
	case <-m.done:
		slog.Debug("event dropped after stop", "event", tracking.EventName(ev))
	}
}

// Inspect runs fn on the loop goroutine, where reading the registry is safe.
// fn must not retain registry pointers past its return.
func (m *Monitor) Inspect(ctx context.Context, fn func(*tracking.Registry)) error {
	req := inspectReq{fn: fn, done: make(chan struct{})}
	select {
	case m.inspect <- req:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) Stats() Stats {
	return Stats{
		Events:  m.handled.Load(),
		Effects: m.executed.Load(),
		Queued:  len(m.events),
		Pending: m.pending.Load(),
	}
}

// Run processes events until ctx is cancelled. In-flight calls are given
// the cancelled context and awaited before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	persisted := make(chan struct{})
	go func() {
		defer close(persisted)
		m.persistLoop()
	}()

	slog.Info("monitor started")
	defer func() {
		m.stop()
		m.calls.Wait()
		close(m.persist)
		<-persisted
		slog.Info("monitor stopped", "events", m.handled.Load(), "effects", m.executed.Load())
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.events:
			m.handled.Add(1)
			m.execute(ctx, m.reg.Handle(ev))
		case req := <-m.inspect:
			req.fn(m.reg)
			close(req.done)
		}
	}
}

func (m *Monitor) stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.timerMu.Lock()
		for t := range m.timers {
			t.Stop()
		}
		m.timers = nil
		m.timerMu.Unlock()
	})
}

// async runs fn off the loop with a bounded context.
func (m *Monitor) async(ctx context.Context, fn func(ctx context.Context)) {
	m.calls.Add(1)
	m.pending.Add(1)
	go func() {
		defer m.calls.Done()
		defer m.pending.Add(-1)
		callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		defer cancel()
		fn(callCtx)
	}()
}

// post submits ev from a separate goroutine; the loop must never block on
// its own queue.
func (m *Monitor) post(ev tracking.Event) {
	m.calls.Add(1)
	go func() {
		defer m.calls.Done()
		m.Submit(ev)
	}()
}

func (m *Monitor) after(d time.Duration, ev tracking.Event) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timers == nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.timerMu.Lock()
		if m.timers != nil {
			delete(m.timers, t)
		}
		m.timerMu.Unlock()
		m.Submit(ev)
	})
	m.timers[t] = struct{}{}
}

func (m *Monitor) persistLoop() {
	for p := range m.persist {
		if m.snapshots == nil {
			continue
		}
		if err := m.snapshots.Save(p.Key, p.Snapshot); err != nil {
			slog.Error("snapshot save failed", "key", p.Key, "error", err)
			continue
		}
		slog.Debug("snapshot saved", "key", p.Key, "url", p.Snapshot.URL, "passes", p.Snapshot.Passes)
	}
}
