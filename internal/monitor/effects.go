package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgnsrekt/shadowtrack/internal/relay"
	"github.com/dgnsrekt/shadowtrack/internal/storage"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

// ExchangeRecord is one line of the exchange log.
type ExchangeRecord struct {
	Time       time.Time                 `json:"time"`
	SessionID  string                    `json:"session_id"`
	SessionURL string                    `json:"session_url"`
	Kind       tracking.SessionKind      `json:"kind"`
	Resource   string                    `json:"resource"`
	Exchange   tracking.ExchangeSnapshot `json:"exchange"`
}

// ReloadNotice is the payload of a reload notification.
type ReloadNotice struct {
	URL        string `json:"url"`
	Generation uint64 `json:"generation"`
}

// AnalysisNotice is the payload of an analysis-complete notification.
type AnalysisNotice struct {
	Pass    int                     `json:"pass"`
	Summary tracking.SessionSummary `json:"summary"`
}

func (m *Monitor) execute(ctx context.Context, effects []tracking.Effect) {
	for _, eff := range effects {
		m.executed.Add(1)
		switch e := eff.(type) {
		case tracking.NewExchange:
			m.publish(relay.TypeNewExchange, e.TabID, e.Exchange)
		case tracking.ExchangeArchived:
			m.archive(e)
		case tracking.Reload:
			m.publish(relay.TypeReload, e.TabID, ReloadNotice{URL: e.URL, Generation: e.Generation})
		case tracking.AnalysisComplete:
			m.publish(relay.TypeAnalysisComplete, e.TabID, AnalysisNotice{Pass: e.Pass, Summary: e.Summary})
			m.notify(ctx, e)
		case tracking.PersistSnapshot:
			m.queueSnapshot(e)
		case tracking.RecordSafeCookie:
			m.recordSafe(ctx, e)
		case tracking.CreateShadow:
			m.createShadow(ctx, e)
		case tracking.LoadShadow:
			m.loadShadow(ctx, e)
		case tracking.DestroyShadow:
			m.destroyShadow(ctx, e)
		case tracking.QueryCookieJars:
			m.queryJars(ctx, e)
		case tracking.ScheduleEvaluation:
			m.after(e.Delay, tracking.EvaluationDue{OriginTabID: e.OriginTabID, Generation: e.Generation})
		default:
			slog.Warn("unhandled effect", "effect", tracking.EffectName(eff))
		}
	}
}

func (m *Monitor) publish(typ, tabID string, data any) {
	if m.pub == nil {
		return
	}
	if err := m.pub.Publish(typ, tabID, data); err != nil {
		slog.Warn("notification publish failed", "type", typ, "tab_id", tabID, "error", err)
	}
}

func (m *Monitor) archive(e tracking.ExchangeArchived) {
	if m.log == nil {
		return
	}
	rec := ExchangeRecord{
		Time:       e.Exchange.ObservedAt,
		SessionID:  e.SessionID,
		SessionURL: e.SessionURL,
		Kind:       e.Kind,
		Resource:   storage.ResourceClass(e.Exchange.ContentType),
		Exchange:   e.Exchange,
	}
	name := storage.ShortID(e.SessionID)
	if prev, ok := m.logNames[e.Exchange.TabID]; ok && prev != name {
		m.log.Release(prev)
	}
	m.logNames[e.Exchange.TabID] = name
	err := m.log.Append(storage.SiteSegment(e.SessionURL), e.Kind.String(), name, rec)
	if err != nil && !errors.Is(err, storage.ErrBufferFull) {
		slog.Debug("exchange log append failed", "session_id", e.SessionID, "error", err)
	}
}

func (m *Monitor) notify(ctx context.Context, e tracking.AnalysisComplete) {
	if m.notifier == nil {
		return
	}
	m.async(ctx, func(ctx context.Context) {
		if err := m.notifier.AnalysisComplete(ctx, e); err != nil {
			slog.Warn("analysis notification failed", "tab_id", e.TabID, "error", err)
		}
	})
}

func (m *Monitor) queueSnapshot(e tracking.PersistSnapshot) {
	select {
	case m.persist <- e:
	default:
		slog.Warn("snapshot queue full, dropping snapshot", "key", e.Key)
	}
}

// recordSafe runs on the loop so later lookups see the key immediately.
func (m *Monitor) recordSafe(ctx context.Context, e tracking.RecordSafeCookie) {
	if m.safe == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	if err := m.safe.RecordSafe(callCtx, e.Domain, e.Key, e.Value); err != nil {
		slog.Warn("safe cookie not persisted", "domain", e.Domain, "key", e.Key, "error", err)
		return
	}
	slog.Debug("safe cookie recorded", "domain", e.Domain, "key", e.Key)
}

func (m *Monitor) createShadow(ctx context.Context, e tracking.CreateShadow) {
	if m.contexts == nil {
		m.post(tracking.ShadowFailed{OriginTabID: e.OriginTabID, Generation: e.Generation, Err: ErrNoContexts})
		return
	}
	m.async(ctx, func(ctx context.Context) {
		shadowTabID, handle, err := m.contexts.Create(ctx, e.OriginTabID)
		if err != nil {
			m.Submit(tracking.ShadowFailed{OriginTabID: e.OriginTabID, Generation: e.Generation, Context: handle, Err: err})
			return
		}
		m.Submit(tracking.ShadowReady{
			OriginTabID: e.OriginTabID,
			ShadowTabID: shadowTabID,
			Generation:  e.Generation,
			Context:     handle,
		})
	})
}

// loadShadow reports ShadowLoaded even when navigation fails, so the
// comparison runs on whatever the shadow saw.
func (m *Monitor) loadShadow(ctx context.Context, e tracking.LoadShadow) {
	if m.contexts == nil {
		return
	}
	m.async(ctx, func(ctx context.Context) {
		if err := m.contexts.Load(ctx, e.ShadowTabID, e.URL); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			slog.Warn("shadow navigation failed", "origin_tab_id", e.OriginTabID, "shadow_tab_id", e.ShadowTabID, "error", err)
		}
		m.Submit(tracking.ShadowLoaded{ShadowTabID: e.ShadowTabID})
	})
}

func (m *Monitor) destroyShadow(ctx context.Context, e tracking.DestroyShadow) {
	if name, ok := m.logNames[e.ShadowTabID]; ok && m.log != nil {
		m.log.Release(name)
		delete(m.logNames, e.ShadowTabID)
	}
	if m.contexts == nil || e.Context == "" {
		return
	}
	// Teardown must outlive a cancelled loop context.
	m.async(context.WithoutCancel(ctx), func(ctx context.Context) {
		if err := m.contexts.Destroy(ctx, e.Context); err != nil {
			slog.Warn("shadow context teardown failed", "origin_tab_id", e.OriginTabID, "context", e.Context, "error", err)
			return
		}
		slog.Debug("shadow context destroyed", "origin_tab_id", e.OriginTabID, "context", e.Context)
	})
}

func (m *Monitor) queryJars(ctx context.Context, e tracking.QueryCookieJars) {
	result := tracking.CookieJarsResult{OriginTabID: e.OriginTabID, Generation: e.Generation}
	if m.jar == nil {
		m.post(result)
		return
	}
	m.async(ctx, func(ctx context.Context) {
		var errs []error
		origin, err := m.jar.Cookies(ctx, e.OriginTabID, e.OriginURLs)
		if err != nil {
			errs = append(errs, err)
		}
		result.Origin = origin
		if e.ShadowTabID != "" {
			shadow, err := m.jar.Cookies(ctx, e.ShadowTabID, e.ShadowURLs)
			if err != nil {
				errs = append(errs, err)
			}
			result.Shadow = shadow
		}
		result.Err = errors.Join(errs...)
		m.Submit(result)
	})
}
